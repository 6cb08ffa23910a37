package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/config"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/engines"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/logger"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/queue"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/store"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

func testConfig() config.Config {
	return config.Config{
		MaxAttempts:          3,
		StageTimeout:         500 * time.Millisecond,
		RetryInitial:         time.Millisecond,
		RetryMax:             5 * time.Millisecond,
		LeaseTTL:             time.Minute,
		Workers:              2,
		MomentThreshold:      0.7,
		AdvanceThreshold:     0.85,
		WindowUtterances:     2,
		TranscriptionEngine:  "mock",
		SentimentEngine:      "lexicon",
		TTSEngine:            "mock",
		ReplayContextSeconds: 5,
	}
}

// scriptedTranscriber fails a configured number of times before succeeding,
// and counts every invocation.
type scriptedTranscriber struct {
	calls         int
	failTransient int
	err           error
	transcript    types.Transcript
}

func (s *scriptedTranscriber) Name() string { return "mock" }

func (s *scriptedTranscriber) Transcribe(context.Context, string) (types.Transcript, error) {
	s.calls++
	if s.err != nil {
		return types.Transcript{}, s.err
	}
	if s.calls <= s.failTransient {
		return types.Transcript{}, pipeline.Transientf("engine warming up")
	}
	return s.transcript, nil
}

type scriptedScorer struct {
	calls    int
	failOnce error
}

func (s *scriptedScorer) Name() string { return "lexicon" }

func (s *scriptedScorer) Score(ctx context.Context, t types.Transcript) (types.SentimentTrace, error) {
	s.calls++
	if s.calls == 1 && s.failOnce != nil {
		return types.SentimentTrace{}, s.failOnce
	}
	return engines.LexiconSentimentScorer{}.Score(ctx, t)
}

func sampleTranscript() types.Transcript {
	t, err := engines.MockTranscriber{}.Transcribe(context.Background(), "calls/demo.wav")
	if err != nil {
		panic(err)
	}
	return t
}

type fixture struct {
	orc     *Orchestrator
	store   *store.Memory
	trigger *queue.MemoryTrigger
}

func newFixture(t *testing.T, tr engines.Transcriber, sc engines.SentimentScorer) fixture {
	t.Helper()
	log := logger.Component("orchestrator-test")
	st := store.NewMemory()
	trig := queue.NewMemoryTrigger(64)
	t.Cleanup(func() { _ = trig.Close() })

	reg := engines.NewRegistry(log)
	if tr == nil {
		tr = engines.MockTranscriber{}
	}
	if sc == nil {
		sc = engines.LexiconSentimentScorer{}
	}
	reg.RegisterTranscriber(tr)
	reg.RegisterScorer(sc)
	reg.RegisterSynthesizer(engines.MockSynthesizer{})

	return fixture{orc: New(log, testConfig(), st, trig, reg), store: st, trigger: trig}
}

func submit(t *testing.T, f fixture, callID string) {
	t.Helper()
	require.NoError(t, f.orc.Submit(context.Background(), callID, "agent-1", "cust-1", "calls/demo.wav"))
}

// advanceToTerminal drives the pipeline by hand instead of through workers so
// failures surface in the test.
func advanceToTerminal(t *testing.T, f fixture, callID string) error {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if err := f.orc.Advance(ctx, callID); err != nil {
			return err
		}
		rec, err := f.store.Get(ctx, callID)
		require.NoError(t, err)
		if rec.Status == types.StatusCompleted || rec.Status == types.StatusFailed {
			return nil
		}
	}
	t.Fatal("pipeline did not reach a terminal status")
	return nil
}

func TestPipelineRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	submit(t, f, "call-1")

	require.NoError(t, advanceToTerminal(t, f, "call-1"))

	view, err := f.orc.GetStatus(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, view.Status)
	assert.Equal(t, types.StageCompleted, view.Stage)
	assert.Empty(t, view.ErrorDetail)
	assert.Equal(t, []types.Stage{
		types.StageTranscribing,
		types.StageAnalyzingSentiment,
		types.StageDetectingMoments,
		types.StageSummarizing,
	}, view.Artifacts)
	for _, ev := range view.History {
		assert.Equal(t, "succeeded", ev.Outcome)
	}

	result, err := f.orc.GetFullAnalysis(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "call-1", result.CallID)
	assert.NotEmpty(t, result.Transcript.Utterances)
	assert.NotEmpty(t, result.Moments)
	assert.NotEmpty(t, result.Summary.Outcome)
	assert.Equal(t, len(result.Moments), totalCount(result.MomentCounts))
}

func totalCount(counts map[types.MomentCategory]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	for name, submitFn := range map[string]func() error{
		"empty call id":   func() error { return f.orc.Submit(ctx, "", "a", "c", "x.wav") },
		"id with spaces":  func() error { return f.orc.Submit(ctx, "call 1", "a", "c", "x.wav") },
		"id with slash":   func() error { return f.orc.Submit(ctx, "call/1", "a", "c", "x.wav") },
		"missing audio":   func() error { return f.orc.Submit(ctx, "call-1", "a", "c", "") },
		"missing parties": func() error { return f.orc.Submit(ctx, "call-1", "", "", "x.wav") },
	} {
		err := submitFn()
		require.Error(t, err, name)
		assert.True(t, pipeline.IsValidation(err), name)
	}

	// Nothing was created by the rejected submissions.
	_, err := f.store.Get(ctx, "call-1")
	assert.True(t, pipeline.IsNotFound(err))
}

func TestSubmitRejectsDuplicateCallID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	submit(t, f, "call-1")

	err := f.orc.Submit(ctx, "call-1", "agent-2", "cust-2", "other.wav")
	require.Error(t, err)
	assert.True(t, pipeline.IsConflict(err))
}

func TestAdvanceDoesNotReinvokeCompletedStages(t *testing.T) {
	ctx := context.Background()
	tr := &scriptedTranscriber{transcript: sampleTranscript()}
	f := newFixture(t, tr, nil)
	submit(t, f, "call-1")

	require.NoError(t, f.orc.Advance(ctx, "call-1"))
	require.Equal(t, 1, tr.calls)

	// The next advance runs sentiment, not transcription again.
	require.NoError(t, f.orc.Advance(ctx, "call-1"))
	assert.Equal(t, 1, tr.calls)

	before, err := f.orc.GetTranscript(ctx, "call-1")
	require.NoError(t, err)

	require.NoError(t, advanceToTerminal(t, f, "call-1"))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.orc.Advance(ctx, "call-1"), "advancing a completed call is a no-op")
	}
	assert.Equal(t, 1, tr.calls)

	after, err := f.orc.GetTranscript(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "recorded output must not change on redelivery")
}

func TestTransientFailuresRetryWithinBudget(t *testing.T) {
	ctx := context.Background()
	tr := &scriptedTranscriber{failTransient: 2, transcript: sampleTranscript()}
	f := newFixture(t, tr, nil)
	submit(t, f, "call-1")

	require.NoError(t, f.orc.Advance(ctx, "call-1"))
	assert.Equal(t, 3, tr.calls)

	view, err := f.orc.GetStatus(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, types.StageTranscribing, view.Stage)
	assert.Equal(t, types.StatusProcessing, view.Status)

	require.Len(t, view.History, 3)
	assert.Equal(t, "failed", view.History[0].Outcome)
	assert.Equal(t, string(pipeline.KindTransient), view.History[0].ErrorKind)
	assert.Equal(t, "failed", view.History[1].Outcome)
	assert.Equal(t, "succeeded", view.History[2].Outcome)
	for i, ev := range view.History {
		assert.Equal(t, types.StageTranscribing, ev.Stage)
		assert.Equal(t, i+1, ev.Attempt)
	}
}

func TestBudgetExhaustionFailsTheCall(t *testing.T) {
	ctx := context.Background()
	tr := &scriptedTranscriber{failTransient: 10}
	f := newFixture(t, tr, nil)
	submit(t, f, "call-1")

	err := f.orc.Advance(ctx, "call-1")
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err))
	assert.Equal(t, 3, tr.calls, "attempt budget caps retries")

	view, verr := f.orc.GetStatus(ctx, "call-1")
	require.NoError(t, verr)
	assert.Equal(t, types.StatusFailed, view.Status)
	assert.Equal(t, types.StagePending, view.Stage, "the failed stage never became durable")
	assert.NotEmpty(t, view.ErrorDetail)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	tr := &scriptedTranscriber{err: pipeline.Permanentf("unsupported audio format")}
	f := newFixture(t, tr, nil)
	submit(t, f, "call-1")

	err := f.orc.Advance(ctx, "call-1")
	require.Error(t, err)
	assert.True(t, pipeline.IsPermanent(err))
	assert.Equal(t, 1, tr.calls)

	view, verr := f.orc.GetStatus(ctx, "call-1")
	require.NoError(t, verr)
	assert.Equal(t, types.StatusFailed, view.Status)
	assert.Contains(t, view.ErrorDetail, "unsupported audio format")

	_, err = f.orc.GetTranscript(ctx, "call-1")
	assert.True(t, pipeline.IsNotFound(err))
}

func TestPartialResultsSurviveLaterStageFailure(t *testing.T) {
	ctx := context.Background()
	sc := &scriptedScorer{failOnce: pipeline.Permanentf("model rejected transcript")}
	f := newFixture(t, nil, sc)
	submit(t, f, "call-1")

	require.NoError(t, f.orc.Advance(ctx, "call-1"))

	err := f.orc.Advance(ctx, "call-1")
	require.Error(t, err)

	view, verr := f.orc.GetStatus(ctx, "call-1")
	require.NoError(t, verr)
	assert.Equal(t, types.StatusFailed, view.Status)
	assert.Equal(t, []types.Stage{types.StageTranscribing}, view.Artifacts)

	transcript, terr := f.orc.GetTranscript(ctx, "call-1")
	require.NoError(t, terr, "earlier durable artifacts stay queryable after failure")
	assert.NotEmpty(t, transcript.Utterances)

	_, err = f.orc.GetSentiment(ctx, "call-1")
	assert.True(t, pipeline.IsNotFound(err))
	_, err = f.orc.GetFullAnalysis(ctx, "call-1")
	assert.True(t, pipeline.IsNotFound(err))
}

func TestResubmitResumesFromLastDurableStage(t *testing.T) {
	ctx := context.Background()
	sc := &scriptedScorer{failOnce: pipeline.Permanentf("model rejected transcript")}
	tr := &scriptedTranscriber{transcript: sampleTranscript()}
	f := newFixture(t, tr, sc)
	submit(t, f, "call-1")

	require.NoError(t, f.orc.Advance(ctx, "call-1"))
	require.Error(t, f.orc.Advance(ctx, "call-1"))

	// Resubmit is only valid for failed calls.
	require.NoError(t, f.orc.Resubmit(ctx, "call-1"))
	err := f.orc.Resubmit(ctx, "call-1")
	require.Error(t, err)
	assert.True(t, pipeline.IsConflict(err))

	require.NoError(t, advanceToTerminal(t, f, "call-1"))

	view, err := f.orc.GetStatus(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, view.Status)
	assert.Equal(t, 1, tr.calls, "resubmission resumes after transcription, not from scratch")
}

func TestAdvanceWhileLeasedIsAConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	submit(t, f, "call-1")

	lease, err := f.store.Acquire(ctx, "call-1", time.Minute)
	require.NoError(t, err)
	defer func() { _ = f.store.Release(ctx, lease) }()

	err = f.orc.Advance(ctx, "call-1")
	require.Error(t, err)
	assert.True(t, pipeline.IsConflict(err), "a held lease blocks concurrent advancement")
}

func TestAdvanceUnknownCall(t *testing.T) {
	f := newFixture(t, nil, nil)
	err := f.orc.Advance(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, pipeline.IsNotFound(err))
}

func TestReanalyzeRebuildsDeterministically(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	submit(t, f, "call-1")
	require.NoError(t, advanceToTerminal(t, f, "call-1"))

	before, err := f.orc.GetMoments(ctx, "call-1", MomentFilter{})
	require.NoError(t, err)

	require.NoError(t, f.orc.Reanalyze(ctx, "call-1"))

	after, err := f.orc.GetMoments(ctx, "call-1", MomentFilter{})
	require.NoError(t, err)
	assert.Equal(t, before, after, "reanalysis over identical inputs is deterministic")

	sum, err := f.orc.GetSummary(ctx, "call-1")
	require.NoError(t, err)
	assert.NotEmpty(t, sum.Outcome)
}

func TestReanalyzeRequiresCompletedCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	submit(t, f, "call-1")

	err := f.orc.Reanalyze(ctx, "call-1")
	require.Error(t, err)
	assert.True(t, pipeline.IsConflict(err))
}

// faultyArtifactStore fails artifact reads while leaving record reads intact.
type faultyArtifactStore struct {
	store.Store
}

func (f faultyArtifactStore) StagePayload(context.Context, string, types.Stage) ([]byte, bool, error) {
	return nil, false, pipeline.Transientf("artifact backend unavailable")
}

func TestGetStatusPropagatesArtifactReadErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	submit(t, f, "call-1")

	broken := New(logger.Component("orchestrator-test"), testConfig(), faultyArtifactStore{Store: f.store}, f.trigger, engines.NewRegistry(logger.Component("engines-test")))

	_, err := broken.GetStatus(ctx, "call-1")
	require.Error(t, err, "a failed artifact read must not masquerade as a missing artifact")
	assert.True(t, pipeline.IsTransient(err))
}

func TestGetMomentsFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	submit(t, f, "call-1")
	require.NoError(t, advanceToTerminal(t, f, "call-1"))

	all, err := f.orc.GetMoments(ctx, "call-1", MomentFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, all)

	price, err := f.orc.GetMoments(ctx, "call-1", MomentFilter{Category: types.CategoryPriceObjection})
	require.NoError(t, err)
	for _, m := range price {
		assert.Equal(t, types.CategoryPriceObjection, m.Category)
	}

	confident, err := f.orc.GetMoments(ctx, "call-1", MomentFilter{MinConfidence: 0.99})
	require.NoError(t, err)
	for _, m := range confident {
		assert.GreaterOrEqual(t, m.Confidence, 0.99)
	}

	// Filtering preserves the detector's order.
	for i := 1; i < len(price); i++ {
		assert.LessOrEqual(t, price[i-1].Start, price[i].Start)
	}
}

func TestHandleAcksDeliveryOnlyAfterAdvance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	submit(t, f, "call-1")

	acked := false
	task := queue.Task{
		CallID:        "call-1",
		ExpectedStage: types.StagePending,
		Ack: func() {
			// By ack time the stage must already be durable.
			rec, err := f.store.Get(ctx, "call-1")
			require.NoError(t, err)
			assert.Equal(t, types.StageTranscribing, rec.Stage)
			acked = true
		},
	}
	f.orc.handle(ctx, task, f.orc.log)
	assert.True(t, acked, "processed deliveries must be confirmed")
}

func TestHandleAcksPoisonTasks(t *testing.T) {
	f := newFixture(t, nil, nil)

	acked := false
	task := queue.Task{CallID: "ghost", Ack: func() { acked = true }}
	f.orc.handle(context.Background(), task, f.orc.log)
	assert.True(t, acked, "tasks for unknown calls must not be redelivered forever")
}

func TestWorkersDrivePipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, nil, nil)
	go f.orc.RunWorkers(ctx, 2)

	submit(t, f, "call-1")
	submit(t, f, "call-2")

	for _, callID := range []string{"call-1", "call-2"} {
		callID := callID
		require.Eventually(t, func() bool {
			view, err := f.orc.GetStatus(ctx, callID)
			return err == nil && view.Status == types.StatusCompleted
		}, 5*time.Second, 10*time.Millisecond, "workers must complete %s", callID)
	}
}
