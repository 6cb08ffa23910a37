package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

var httpClient = &http.Client{
	Timeout: 25 * time.Second,
}

// HTTPTranscriber fronts a remote ASR service. Retry is the orchestrator's
// job; this adapter only classifies outcomes.
type HTTPTranscriber struct {
	URL string
}

func (h *HTTPTranscriber) Name() string { return "http" }

func (h *HTTPTranscriber) Transcribe(ctx context.Context, audioRef string) (types.Transcript, error) {
	if h.URL == "" {
		return types.Transcript{}, pipeline.Validationf("TRANSCRIBE_URL not set")
	}

	payload, _ := json.Marshal(map[string]string{"audio_ref": audioRef})
	var out types.Transcript
	if err := postJSON(ctx, h.URL+"/transcribe", payload, &out); err != nil {
		return types.Transcript{}, err
	}
	return out, nil
}

// HTTPSentimentScorer fronts a remote sentiment model service.
type HTTPSentimentScorer struct {
	URL string
}

func (h *HTTPSentimentScorer) Name() string { return "http" }

func (h *HTTPSentimentScorer) Score(ctx context.Context, t types.Transcript) (types.SentimentTrace, error) {
	if h.URL == "" {
		return types.SentimentTrace{}, pipeline.Validationf("SENTIMENT_URL not set")
	}

	payload, _ := json.Marshal(t)
	var out types.SentimentTrace
	if err := postJSON(ctx, h.URL+"/score", payload, &out); err != nil {
		return types.SentimentTrace{}, err
	}
	return out, nil
}

// postJSON issues one request and maps the outcome onto the error taxonomy:
// 4xx means the input itself is bad (permanent), 5xx and transport errors
// mean the engine is unavailable (transient).
func postJSON(ctx context.Context, url string, payload []byte, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return pipeline.Permanent("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return pipeline.Transient("engine timed out", err)
		}
		return pipeline.Transient("engine unreachable", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode >= 500:
		return pipeline.Transientf("engine unavailable: http %d: %s", resp.StatusCode, body)
	case resp.StatusCode >= 400:
		return pipeline.Permanentf("engine rejected input: http %d: %s", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return pipeline.Transient(fmt.Sprintf("bad engine response %q", truncate(body, 120)), err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
