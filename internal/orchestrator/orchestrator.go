// Package orchestrator owns the call processing state machine: it sequences
// the analysis stages over a call's lifecycle, applies the retry policy
// around every engine invocation, and enforces single-flight execution per
// call through store leases.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/config"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/detector"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/engines"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/metrics"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/queue"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/store"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/summary"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

// Orchestrator coordinates stage execution for all calls. It is stateless
// across invocations: the store is the single source of truth for progress.
type Orchestrator struct {
	log      *logrus.Entry
	cfg      config.Config
	store    store.Store
	trigger  queue.Trigger
	registry *engines.Registry
	policy   pipeline.Policy
}

func New(log *logrus.Entry, cfg config.Config, st store.Store, trigger queue.Trigger, reg *engines.Registry) *Orchestrator {
	return &Orchestrator{
		log:      log,
		cfg:      cfg,
		store:    st,
		trigger:  trigger,
		registry: reg,
		policy: pipeline.Policy{
			MaxAttempts:     cfg.MaxAttempts,
			StageTimeout:    cfg.StageTimeout,
			InitialInterval: cfg.RetryInitial,
			MaxInterval:     cfg.RetryMax,
		},
	}
}

// Submit enqueues a new call in pending. A reused call ID is a conflict; a
// malformed submission is rejected before any state is created.
func (o *Orchestrator) Submit(ctx context.Context, callID, agentID, customerID, audioRef string) error {
	if err := validateCallID(callID); err != nil {
		return err
	}
	if audioRef == "" {
		return pipeline.Validationf("audio_ref is required")
	}
	if agentID == "" || customerID == "" {
		return pipeline.Validationf("agent_id and customer_id are required")
	}

	now := time.Now().UTC()
	rec := types.CallRecord{
		CallID:     callID,
		AgentID:    agentID,
		CustomerID: customerID,
		AudioRef:   audioRef,
		Stage:      types.StagePending,
		Status:     types.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.store.Create(ctx, rec); err != nil {
		return err
	}
	metrics.CallSubmitted()
	o.log.WithFields(logrus.Fields{"call_id": callID, "agent_id": agentID}).Info("call submitted")

	if err := o.trigger.Publish(ctx, queue.Task{CallID: callID, ExpectedStage: types.StagePending}); err != nil {
		// The record exists; a scheduler sweep or manual re-trigger picks it
		// up, so submission itself still succeeds.
		o.log.WithError(err).WithField("call_id", callID).Warn("failed to publish pipeline task")
	}
	return nil
}

func validateCallID(callID string) error {
	if callID == "" {
		return pipeline.Validationf("call_id is required")
	}
	if len(callID) > 128 {
		return pipeline.Validationf("call_id exceeds 128 characters")
	}
	if strings.ContainsAny(callID, " \t\n/") {
		return pipeline.Validationf("call_id contains invalid characters")
	}
	return nil
}

// Advance runs the next stage for a call. It is idempotent per (callID,
// stage): redelivered triggers for work already done are absorbed as no-ops.
// At most one Advance executes per call at a time, enforced by the lease.
func (o *Orchestrator) Advance(ctx context.Context, callID string) error {
	lease, err := o.store.Acquire(ctx, callID, o.cfg.LeaseTTL)
	if err != nil {
		if pipeline.IsConflict(err) {
			metrics.LeaseContended()
		}
		return err
	}
	defer func() { _ = o.store.Release(context.WithoutCancel(ctx), lease) }()

	// Re-read under the lease; never trust a stage cached by the caller.
	rec, err := o.store.Get(ctx, callID)
	if err != nil {
		return err
	}
	if rec.Status == types.StatusCompleted || rec.Status == types.StatusFailed {
		return nil // terminal, duplicate trigger
	}

	stage := types.NextStage(rec.Stage)
	if stage == types.StageFailed || stage == types.StageCompleted {
		return nil
	}

	log := o.log.WithFields(logrus.Fields{"call_id": callID, "stage": stage})
	started := time.Now()

	payloads, stageErr := o.runStage(ctx, &rec, stage, log)
	if stageErr != nil {
		metrics.StageFailed(string(stage), time.Since(started))
		return o.commitFailure(ctx, lease, rec, stage, stageErr, log)
	}
	metrics.StageSucceeded(string(stage), time.Since(started))

	rec.Stage = stage
	rec.Status = types.StatusProcessing
	rec.UpdatedAt = time.Now().UTC()
	final := types.NextStage(stage) == types.StageCompleted
	if final {
		rec.Stage = types.StageCompleted
		rec.Status = types.StatusCompleted
	}

	if err := o.store.CommitStage(ctx, lease, rec, payloads); err != nil {
		// Lease lost or expired mid-flight: another worker owns the call
		// now. Abort without committing anything.
		log.WithError(err).Warn("stage commit rejected")
		return err
	}
	log.Info("stage committed")

	if !final {
		if err := o.trigger.Publish(ctx, queue.Task{CallID: callID, ExpectedStage: rec.Stage}); err != nil {
			log.WithError(err).Warn("failed to publish next pipeline task")
		}
	}
	return nil
}

// runStage executes one stage under the retry policy and returns the
// artifact payloads to commit. Attempt history is appended to the record.
func (o *Orchestrator) runStage(ctx context.Context, rec *types.CallRecord, stage types.Stage, log *logrus.Entry) (map[types.Stage][]byte, error) {
	var payloads map[types.Stage][]byte

	op := func(actx context.Context) error {
		var err error
		payloads, err = o.invokeStage(actx, *rec, stage)
		return err
	}

	observe := func(a pipeline.Attempt) {
		ev := types.StageEvent{
			Stage:     stage,
			Attempt:   a.Number,
			StartedAt: a.StartedAt.UTC(),
			EndedAt:   a.EndedAt.UTC(),
			Outcome:   "succeeded",
		}
		if a.Err != nil {
			ev.Outcome = "failed"
			ev.ErrorKind = string(pipeline.KindOf(a.Err))
			ev.Error = a.Err.Error()
			log.WithError(a.Err).WithField("attempt", a.Number).Warn("stage attempt failed")
		}
		rec.History = append(rec.History, ev)
	}

	if err := o.policy.Run(ctx, op, observe); err != nil {
		return nil, err
	}
	return payloads, nil
}

// invokeStage dispatches to the engine or pure computation backing a stage.
// Only engine-backed stages can block; detection and summarization are
// synchronous over persisted artifacts.
func (o *Orchestrator) invokeStage(ctx context.Context, rec types.CallRecord, stage types.Stage) (map[types.Stage][]byte, error) {
	switch stage {
	case types.StageTranscribing:
		eng, err := o.registry.Transcriber(o.cfg.TranscriptionEngine)
		if err != nil {
			return nil, err
		}
		transcript, err := eng.Transcribe(ctx, rec.AudioRef)
		if err != nil {
			return nil, err
		}
		return marshalPayloads(map[types.Stage]any{types.StageTranscribing: transcript})

	case types.StageAnalyzingSentiment:
		var transcript types.Transcript
		if err := o.loadArtifact(ctx, rec.CallID, types.StageTranscribing, &transcript); err != nil {
			return nil, err
		}
		eng, err := o.registry.Scorer(o.cfg.SentimentEngine)
		if err != nil {
			return nil, err
		}
		trace, err := eng.Score(ctx, transcript)
		if err != nil {
			return nil, err
		}
		return marshalPayloads(map[types.Stage]any{types.StageAnalyzingSentiment: trace})

	case types.StageDetectingMoments:
		var transcript types.Transcript
		if err := o.loadArtifact(ctx, rec.CallID, types.StageTranscribing, &transcript); err != nil {
			return nil, err
		}
		var trace types.SentimentTrace
		if err := o.loadArtifact(ctx, rec.CallID, types.StageAnalyzingSentiment, &trace); err != nil {
			return nil, err
		}
		moments := detector.Detect(transcript, trace, detector.Config{
			Threshold:        o.cfg.MomentThreshold,
			WindowUtterances: o.cfg.WindowUtterances,
		})
		for _, m := range moments {
			metrics.MomentDetected(string(m.Category))
		}
		return marshalPayloads(map[types.Stage]any{types.StageDetectingMoments: moments})

	case types.StageSummarizing:
		var transcript types.Transcript
		if err := o.loadArtifact(ctx, rec.CallID, types.StageTranscribing, &transcript); err != nil {
			return nil, err
		}
		var trace types.SentimentTrace
		if err := o.loadArtifact(ctx, rec.CallID, types.StageAnalyzingSentiment, &trace); err != nil {
			return nil, err
		}
		var moments []types.CoachableMoment
		if err := o.loadArtifact(ctx, rec.CallID, types.StageDetectingMoments, &moments); err != nil {
			return nil, err
		}
		sum := summary.Compile(transcript, moments, summary.Config{AdvanceThreshold: o.cfg.AdvanceThreshold})
		result := types.AnalysisResult{
			CallID:       rec.CallID,
			Transcript:   transcript,
			Sentiment:    trace,
			Moments:      moments,
			MomentCounts: countByCategory(moments),
			Summary:      sum,
			CompletedAt:  time.Now().UTC(),
		}
		return marshalPayloads(map[types.Stage]any{
			types.StageSummarizing: sum,
			types.StageCompleted:   result,
		})
	}
	return nil, pipeline.Permanentf("no work defined for stage %s", stage)
}

// commitFailure records the terminal error. Earlier durable artifacts are
// left untouched so partial results stay queryable.
func (o *Orchestrator) commitFailure(ctx context.Context, lease store.Lease, rec types.CallRecord, stage types.Stage, stageErr error, log *logrus.Entry) error {
	rec.Status = types.StatusFailed
	rec.ErrorDetail = stageErr.Error()
	rec.UpdatedAt = time.Now().UTC()
	if err := o.store.CommitStage(ctx, lease, rec, nil); err != nil {
		log.WithError(err).Warn("failure commit rejected")
		return err
	}
	log.WithError(stageErr).WithField("error_kind", pipeline.KindOf(stageErr)).Error("call failed")
	return stageErr
}

// Resubmit puts a failed call back onto the queue for manual retry. The
// pipeline resumes from the last durably persisted stage.
func (o *Orchestrator) Resubmit(ctx context.Context, callID string) error {
	lease, err := o.store.Acquire(ctx, callID, o.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	defer func() { _ = o.store.Release(context.WithoutCancel(ctx), lease) }()

	rec, err := o.store.Get(ctx, callID)
	if err != nil {
		return err
	}
	if rec.Status != types.StatusFailed {
		return pipeline.Conflictf("call %s is %s, only failed calls can be resubmitted", callID, rec.Status)
	}
	rec.Status = types.StatusProcessing
	rec.ErrorDetail = ""
	rec.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, lease, rec); err != nil {
		return err
	}
	o.log.WithField("call_id", callID).Info("failed call resubmitted")
	return o.trigger.Publish(ctx, queue.Task{CallID: callID, ExpectedStage: rec.Stage})
}

// Reanalyze deterministically rebuilds moments and summary for a completed
// call from its persisted transcript and sentiment trace. The summary is
// regenerated wholesale, never edited in place.
func (o *Orchestrator) Reanalyze(ctx context.Context, callID string) error {
	lease, err := o.store.Acquire(ctx, callID, o.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	defer func() { _ = o.store.Release(context.WithoutCancel(ctx), lease) }()

	rec, err := o.store.Get(ctx, callID)
	if err != nil {
		return err
	}
	if rec.Status != types.StatusCompleted {
		return pipeline.Conflictf("call %s is %s, only completed calls can be reanalyzed", callID, rec.Status)
	}

	var transcript types.Transcript
	if err := o.loadArtifact(ctx, callID, types.StageTranscribing, &transcript); err != nil {
		return err
	}
	var trace types.SentimentTrace
	if err := o.loadArtifact(ctx, callID, types.StageAnalyzingSentiment, &trace); err != nil {
		return err
	}

	moments := detector.Detect(transcript, trace, detector.Config{
		Threshold:        o.cfg.MomentThreshold,
		WindowUtterances: o.cfg.WindowUtterances,
	})
	sum := summary.Compile(transcript, moments, summary.Config{AdvanceThreshold: o.cfg.AdvanceThreshold})
	result := types.AnalysisResult{
		CallID:       callID,
		Transcript:   transcript,
		Sentiment:    trace,
		Moments:      moments,
		MomentCounts: countByCategory(moments),
		Summary:      sum,
		CompletedAt:  time.Now().UTC(),
	}

	payloads, err := marshalPayloads(map[types.Stage]any{
		types.StageDetectingMoments: moments,
		types.StageSummarizing:      sum,
		types.StageCompleted:        result,
	})
	if err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := o.store.CommitStage(ctx, lease, rec, payloads); err != nil {
		return err
	}
	o.log.WithField("call_id", callID).Info("call reanalyzed")
	return nil
}

func (o *Orchestrator) loadArtifact(ctx context.Context, callID string, stage types.Stage, out any) error {
	payload, ok, err := o.store.StagePayload(ctx, callID, stage)
	if err != nil {
		return err
	}
	if !ok {
		return pipeline.Permanentf("call %s is missing its %s artifact", callID, stage)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return pipeline.Permanent("decode stage artifact", err)
	}
	return nil
}

func marshalPayloads(values map[types.Stage]any) (map[types.Stage][]byte, error) {
	out := make(map[types.Stage][]byte, len(values))
	for stage, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, pipeline.Permanent("encode stage artifact", err)
		}
		out[stage] = b
	}
	return out, nil
}

func countByCategory(moments []types.CoachableMoment) map[types.MomentCategory]int {
	counts := make(map[types.MomentCategory]int)
	for _, m := range moments {
		counts[m.Category]++
	}
	return counts
}
