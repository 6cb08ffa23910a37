package engines

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

func TestHTTPTranscriberRoundTrip(t *testing.T) {
	want := types.Transcript{Utterances: []types.Utterance{
		{Speaker: "agent", Start: 0, End: 3, Text: "Hello there.", Confidence: 0.95},
	}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transcribe", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "calls/demo.wav", req["audio_ref"])

		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	got, err := (&HTTPTranscriber{URL: srv.URL}).Transcribe(context.Background(), "calls/demo.wav")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHTTPEngineErrorClassification(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	tr := &HTTPTranscriber{URL: srv.URL}

	_, err := tr.Transcribe(context.Background(), "calls/demo.wav")
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err), "5xx means the engine is unavailable")

	status = http.StatusUnprocessableEntity
	_, err = tr.Transcribe(context.Background(), "calls/demo.wav")
	require.Error(t, err)
	assert.True(t, pipeline.IsPermanent(err), "4xx means the input itself is bad")

	srv.Close()
	_, err = tr.Transcribe(context.Background(), "calls/demo.wav")
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err), "transport failures are retryable")
}

func TestHTTPSentimentScorerBadResponseIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := (&HTTPSentimentScorer{URL: srv.URL}).Score(context.Background(), types.Transcript{})
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err))
}

func TestHTTPEnginesRequireURL(t *testing.T) {
	_, err := (&HTTPTranscriber{}).Transcribe(context.Background(), "x.wav")
	assert.True(t, pipeline.IsValidation(err))

	_, err = (&HTTPSentimentScorer{}).Score(context.Background(), types.Transcript{})
	assert.True(t, pipeline.IsValidation(err))
}
