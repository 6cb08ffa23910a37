package orchestrator

import (
	"context"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

// StatusView is what status queries return: the current state plus which
// partial artifacts already exist. Error detail is populated only for
// failed calls.
type StatusView struct {
	CallID      string             `json:"call_id"`
	AgentID     string             `json:"agent_id"`
	CustomerID  string             `json:"customer_id"`
	Stage       types.Stage        `json:"stage"`
	Status      types.Status       `json:"status"`
	History     []types.StageEvent `json:"history"`
	Artifacts   []types.Stage      `json:"artifacts"`
	ErrorDetail string             `json:"error_detail,omitempty"`
}

// MomentFilter narrows GetMoments results. Zero values mean no filtering.
type MomentFilter struct {
	Category      types.MomentCategory
	MinConfidence float64
}

// GetStatus reports current status and which artifacts are queryable, even
// for failed calls whose later stages never ran.
func (o *Orchestrator) GetStatus(ctx context.Context, callID string) (StatusView, error) {
	rec, err := o.store.Get(ctx, callID)
	if err != nil {
		return StatusView{}, err
	}

	view := StatusView{
		CallID:     rec.CallID,
		AgentID:    rec.AgentID,
		CustomerID: rec.CustomerID,
		Stage:      rec.Stage,
		Status:     rec.Status,
		History:    rec.History,
	}
	if rec.Status == types.StatusFailed {
		view.ErrorDetail = rec.ErrorDetail
	}
	for _, stage := range []types.Stage{
		types.StageTranscribing,
		types.StageAnalyzingSentiment,
		types.StageDetectingMoments,
		types.StageSummarizing,
	} {
		_, ok, err := o.store.StagePayload(ctx, callID, stage)
		if err != nil {
			return StatusView{}, err
		}
		if ok {
			view.Artifacts = append(view.Artifacts, stage)
		}
	}
	return view, nil
}

// GetTranscript returns the persisted transcript once transcription has
// committed, regardless of whether later stages failed.
func (o *Orchestrator) GetTranscript(ctx context.Context, callID string) (types.Transcript, error) {
	if _, err := o.store.Get(ctx, callID); err != nil {
		return types.Transcript{}, err
	}
	var t types.Transcript
	if err := o.requireArtifact(ctx, callID, types.StageTranscribing, &t); err != nil {
		return types.Transcript{}, err
	}
	return t, nil
}

// GetSentiment returns the persisted sentiment trace.
func (o *Orchestrator) GetSentiment(ctx context.Context, callID string) (types.SentimentTrace, error) {
	if _, err := o.store.Get(ctx, callID); err != nil {
		return types.SentimentTrace{}, err
	}
	var trace types.SentimentTrace
	if err := o.requireArtifact(ctx, callID, types.StageAnalyzingSentiment, &trace); err != nil {
		return types.SentimentTrace{}, err
	}
	return trace, nil
}

// GetMoments returns detected moments, optionally filtered by category and
// minimum confidence. Filtering never reorders: the detector's deterministic
// order is preserved.
func (o *Orchestrator) GetMoments(ctx context.Context, callID string, filter MomentFilter) ([]types.CoachableMoment, error) {
	if _, err := o.store.Get(ctx, callID); err != nil {
		return nil, err
	}
	var moments []types.CoachableMoment
	if err := o.requireArtifact(ctx, callID, types.StageDetectingMoments, &moments); err != nil {
		return nil, err
	}

	out := make([]types.CoachableMoment, 0, len(moments))
	for _, m := range moments {
		if filter.Category != "" && m.Category != filter.Category {
			continue
		}
		if m.Confidence < filter.MinConfidence {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// GetSummary returns the executive summary of a call.
func (o *Orchestrator) GetSummary(ctx context.Context, callID string) (types.ExecutiveSummary, error) {
	if _, err := o.store.Get(ctx, callID); err != nil {
		return types.ExecutiveSummary{}, err
	}
	var sum types.ExecutiveSummary
	if err := o.requireArtifact(ctx, callID, types.StageSummarizing, &sum); err != nil {
		return types.ExecutiveSummary{}, err
	}
	return sum, nil
}

// GetFullAnalysis returns the immutable aggregate for a completed call.
func (o *Orchestrator) GetFullAnalysis(ctx context.Context, callID string) (types.AnalysisResult, error) {
	rec, err := o.store.Get(ctx, callID)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	if rec.Status != types.StatusCompleted {
		return types.AnalysisResult{}, pipeline.NotFoundf("call %s has no completed analysis (status %s)", callID, rec.Status)
	}
	var result types.AnalysisResult
	if err := o.requireArtifact(ctx, callID, types.StageCompleted, &result); err != nil {
		return types.AnalysisResult{}, err
	}
	return result, nil
}

// requireArtifact is the query-path artifact load: a stage that has not
// committed yet surfaces as not-found rather than a pipeline error.
func (o *Orchestrator) requireArtifact(ctx context.Context, callID string, stage types.Stage, out any) error {
	if _, ok, err := o.store.StagePayload(ctx, callID, stage); err != nil {
		return err
	} else if !ok {
		return pipeline.NotFoundf("call %s has no %s artifact yet", callID, stage)
	}
	return o.loadArtifact(ctx, callID, stage, out)
}
