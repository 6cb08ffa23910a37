package types

import "time"

// Stage is one discrete processing step in the call pipeline.
type Stage string

const (
	StagePending            Stage = "pending"
	StageTranscribing       Stage = "transcribing"
	StageAnalyzingSentiment Stage = "analyzing_sentiment"
	StageDetectingMoments   Stage = "detecting_moments"
	StageSummarizing        Stage = "summarizing"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

// NextStage returns the stage that follows s in the pipeline, or StageFailed
// if s has no successor.
func NextStage(s Stage) Stage {
	switch s {
	case StagePending:
		return StageTranscribing
	case StageTranscribing:
		return StageAnalyzingSentiment
	case StageAnalyzingSentiment:
		return StageDetectingMoments
	case StageDetectingMoments:
		return StageSummarizing
	case StageSummarizing:
		return StageCompleted
	}
	return StageFailed
}

// Status is the overall lifecycle state of a call record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StageEvent is one append-only entry in a call's stage history.
type StageEvent struct {
	Stage     Stage     `json:"stage"`
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Outcome   string    `json:"outcome"` // "succeeded" or "failed"
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// CallRecord is the root entity for one recorded sales call. It is mutated
// exclusively by the orchestrator; stage history is append-only and status is
// written atomically with the stage that produced it.
type CallRecord struct {
	CallID      string       `json:"call_id"`
	AgentID     string       `json:"agent_id"`
	CustomerID  string       `json:"customer_id"`
	AudioRef    string       `json:"audio_ref"`
	Stage       Stage        `json:"stage"`
	Status      Status       `json:"status"`
	History     []StageEvent `json:"history"`
	ErrorDetail string       `json:"error_detail,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Utterance is a diarized, timestamped slice of the transcript. Offsets are
// seconds from the start of the recording.
type Utterance struct {
	Speaker    string  `json:"speaker"` // "agent", "customer", "speaker_1", ...
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // [0,1]
}

// Transcript is the ordered utterance list for one call.
type Transcript struct {
	Utterances []Utterance `json:"utterances"`
}

// Duration returns the end offset of the last utterance.
func (t Transcript) Duration() float64 {
	if len(t.Utterances) == 0 {
		return 0
	}
	return t.Utterances[len(t.Utterances)-1].End
}

// FullText joins all utterance texts in order, space separated.
func (t Transcript) FullText() string {
	out := ""
	for i, u := range t.Utterances {
		if i > 0 {
			out += " "
		}
		out += u.Text
	}
	return out
}

// SentimentLabel classifies an offset range of the call.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// SentimentSpan scores one offset range. Magnitude is the strength of the
// label in [0,1]; a neutral span has magnitude 0.
type SentimentSpan struct {
	Start     float64        `json:"start"`
	End       float64        `json:"end"`
	Label     SentimentLabel `json:"label"`
	Magnitude float64        `json:"magnitude"`
}

// SentimentTrace is aligned one-to-one or coarser with transcript ranges.
type SentimentTrace struct {
	Spans []SentimentSpan `json:"spans"`
}

// MomentCategory is the kind of coaching opportunity a moment represents.
type MomentCategory string

const (
	CategoryPriceObjection  MomentCategory = "price-objection"
	CategoryFeatureInterest MomentCategory = "feature-interest"
	CategoryTrialClose      MomentCategory = "trial-close"
	CategoryTimeline        MomentCategory = "timeline"
	CategorySecurity        MomentCategory = "security"
	CategoryOther           MomentCategory = "other"
)

// CoachableMoment is a time-bounded, evidence-backed segment of a call
// flagged as a coaching opportunity. IDs are dense from 1 in the final
// deterministic detection order.
type CoachableMoment struct {
	ID           int            `json:"id"`
	Category     MomentCategory `json:"category"`
	Start        float64        `json:"start"`
	End          float64        `json:"end"`
	Confidence   float64        `json:"confidence"` // [0,1], >= detection threshold
	Evidence     string         `json:"evidence"`   // verbatim excerpt
	CoachingNote string         `json:"coaching_note"`
}

// ExecutiveSummary is derived wholesale from transcript + moments and never
// edited in place.
type ExecutiveSummary struct {
	Outcome           string   `json:"outcome"` // "advanced", "in-progress", "stalled"
	ObjectionsHandled int      `json:"objections_handled"`
	BuyingSignals     int      `json:"buying_signals"`
	SentimentTrend    string   `json:"sentiment_trend"`
	ActionItems       []string `json:"action_items"`
	Narrative         string   `json:"narrative"`
}

// AnalysisResult is the immutable aggregate compiled when a call completes.
// All owned entities share the call record's lifecycle.
type AnalysisResult struct {
	CallID       string                 `json:"call_id"`
	Transcript   Transcript             `json:"transcript"`
	Sentiment    SentimentTrace         `json:"sentiment"`
	Moments      []CoachableMoment      `json:"moments"`
	MomentCounts map[MomentCategory]int `json:"moment_counts"`
	Summary      ExecutiveSummary       `json:"summary"`
	CompletedAt  time.Time              `json:"completed_at"`
}
