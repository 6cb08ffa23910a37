package engines

import (
	"context"
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

// supportedFormats mirrors what the upstream decoder accepts.
var supportedFormats = map[string]bool{".wav": true, ".mp3": true, ".m4a": true}

// MockTranscriber is the local engine used when no ASR service is configured.
// Output is deterministic per audio reference so repeated runs produce
// identical analyses.
type MockTranscriber struct{}

func (MockTranscriber) Name() string { return "mock" }

func (MockTranscriber) Transcribe(_ context.Context, audioRef string) (types.Transcript, error) {
	ext := strings.ToLower(path.Ext(audioRef))
	if ext != "" && !supportedFormats[ext] {
		return types.Transcript{}, pipeline.Permanentf("unsupported audio format %q", ext)
	}

	return types.Transcript{Utterances: []types.Utterance{
		{Speaker: "agent", Start: 0, End: 6.5, Text: "Thanks for joining, I wanted to walk you through the platform today.", Confidence: 0.94},
		{Speaker: "customer", Start: 6.5, End: 12.0, Text: "Sure. Honestly the pricing looked too expensive for our budget.", Confidence: 0.91},
		{Speaker: "agent", Start: 12.0, End: 19.0, Text: "Understood. Shall we set up a two week pilot so your team can try it?", Confidence: 0.93},
	}}, nil
}

// LexiconSentimentScorer is a deterministic keyword-based scorer used locally
// and in tests in place of a hosted sentiment model.
type LexiconSentimentScorer struct{}

func (LexiconSentimentScorer) Name() string { return "lexicon" }

var (
	positiveWords = []string{"great", "love", "perfect", "excited", "interested", "helpful", "yes", "definitely", "sounds good"}
	negativeWords = []string{"expensive", "concerned", "worried", "problem", "no", "frustrated", "difficult", "not interested", "too much"}
)

func (LexiconSentimentScorer) Score(_ context.Context, t types.Transcript) (types.SentimentTrace, error) {
	spans := make([]types.SentimentSpan, 0, len(t.Utterances))
	for _, u := range t.Utterances {
		pos := lexiconHits(u.Text, positiveWords)
		neg := lexiconHits(u.Text, negativeWords)

		span := types.SentimentSpan{Start: u.Start, End: u.End, Label: types.SentimentNeutral}
		switch {
		case pos > neg:
			span.Label = types.SentimentPositive
			span.Magnitude = clamp01(0.4 + 0.2*float64(pos))
		case neg > pos:
			span.Label = types.SentimentNegative
			span.Magnitude = clamp01(0.4 + 0.2*float64(neg))
		}
		spans = append(spans, span)
	}
	return types.SentimentTrace{Spans: spans}, nil
}

// lexiconHits counts matches, whole-token for single words so "no" does not
// fire inside "numbers", substring for multi-word phrases.
func lexiconHits(text string, words []string) int {
	text = strings.ToLower(text)
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		tokens[tok] = true
	}

	n := 0
	for _, w := range words {
		if strings.Contains(w, " ") {
			if strings.Contains(text, w) {
				n++
			}
			continue
		}
		if tokens[w] {
			n++
		}
	}
	return n
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// MockSynthesizer stands in for a hosted TTS engine. It produces a stable
// placeholder payload so replay flows are exercisable end to end.
type MockSynthesizer struct {
	Languages []string
}

func (MockSynthesizer) Name() string { return "mock" }

func (m MockSynthesizer) Synthesize(_ context.Context, text, language string) ([]byte, error) {
	langs := m.Languages
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	ok := false
	for _, l := range langs {
		if l == language {
			ok = true
			break
		}
	}
	if !ok {
		return nil, pipeline.Permanentf("unsupported language %q", language)
	}
	if strings.TrimSpace(text) == "" {
		return nil, pipeline.Validationf("empty narration text")
	}
	return []byte(fmt.Sprintf("TTS[%s]:%s", language, text)), nil
}
