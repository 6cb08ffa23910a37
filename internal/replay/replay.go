// Package replay maps a coachable moment reference onto a playable segment
// of the recorded call, optionally with coaching narration for speech
// synthesis.
package replay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/engines"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/store"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

// Segment describes the playable slice of audio for one moment. The range is
// the moment's own range widened by the configured context and clamped to
// the transcript bounds.
type Segment struct {
	CallID       string               `json:"call_id"`
	MomentID     int                  `json:"moment_id"`
	Category     types.MomentCategory `json:"category"`
	AudioRef     string               `json:"audio_ref"`
	Start        float64              `json:"start"`
	End          float64              `json:"end"`
	Excerpt      string               `json:"excerpt"`
	CoachingNote string               `json:"coaching_note"`
}

// Recommendation adds narration text suitable for TTS synthesis.
type Recommendation struct {
	Segment
	Narration string `json:"narration"`
}

// Resolver reads persisted analysis artifacts; it never recomputes them.
type Resolver struct {
	log            *logrus.Entry
	store          store.Store
	tts            engines.Synthesizer
	language       string
	contextSeconds float64
}

func New(log *logrus.Entry, st store.Store, tts engines.Synthesizer, language string, contextSeconds float64) *Resolver {
	return &Resolver{log: log, store: st, tts: tts, language: language, contextSeconds: contextSeconds}
}

// Resolve returns the playable segment for a moment. It fails with a
// not-found error when the call or moment is unknown, or when the call has
// not reached completed.
func (r *Resolver) Resolve(ctx context.Context, callID string, momentID int) (Segment, error) {
	rec, err := r.store.Get(ctx, callID)
	if err != nil {
		return Segment{}, err
	}
	if rec.Status != types.StatusCompleted {
		return Segment{}, pipeline.NotFoundf("call %s has no completed analysis (status %s)", callID, rec.Status)
	}

	var transcript types.Transcript
	if err := r.loadArtifact(ctx, callID, types.StageTranscribing, &transcript); err != nil {
		return Segment{}, err
	}
	var moments []types.CoachableMoment
	if err := r.loadArtifact(ctx, callID, types.StageDetectingMoments, &moments); err != nil {
		return Segment{}, err
	}

	for _, m := range moments {
		if m.ID != momentID {
			continue
		}
		start := m.Start - r.contextSeconds
		if start < 0 {
			start = 0
		}
		end := m.End + r.contextSeconds
		if d := transcript.Duration(); end > d {
			end = d
		}
		return Segment{
			CallID:       callID,
			MomentID:     m.ID,
			Category:     m.Category,
			AudioRef:     rec.AudioRef,
			Start:        start,
			End:          end,
			Excerpt:      m.Evidence,
			CoachingNote: m.CoachingNote,
		}, nil
	}
	return Segment{}, pipeline.NotFoundf("moment %d not found in call %s", momentID, callID)
}

// ResolveWithRecommendation builds coaching narration from the moment's
// category template and note. Synthesis itself is delegated to the TTS
// collaborator via Narrate.
func (r *Resolver) ResolveWithRecommendation(ctx context.Context, callID string, momentID int) (Recommendation, error) {
	seg, err := r.Resolve(ctx, callID, momentID)
	if err != nil {
		return Recommendation{}, err
	}
	narration := fmt.Sprintf(
		"Coaching replay for a %s moment at %.0f seconds. In the call: %q. %s",
		seg.Category, seg.Start, seg.Excerpt, seg.CoachingNote,
	)
	return Recommendation{Segment: seg, Narration: narration}, nil
}

// Narrate synthesizes the recommendation narration into audio bytes.
func (r *Resolver) Narrate(ctx context.Context, callID string, momentID int) (Recommendation, []byte, error) {
	rec, err := r.ResolveWithRecommendation(ctx, callID, momentID)
	if err != nil {
		return Recommendation{}, nil, err
	}
	audio, err := r.tts.Synthesize(ctx, rec.Narration, r.language)
	if err != nil {
		r.log.WithError(err).WithField("call_id", callID).Warn("tts synthesis failed")
		return Recommendation{}, nil, err
	}
	return rec, audio, nil
}

func (r *Resolver) loadArtifact(ctx context.Context, callID string, stage types.Stage, out any) error {
	payload, ok, err := r.store.StagePayload(ctx, callID, stage)
	if err != nil {
		return err
	}
	if !ok {
		return pipeline.NotFoundf("call %s has no %s artifact", callID, stage)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return pipeline.Permanent("decode stage artifact", err)
	}
	return nil
}
