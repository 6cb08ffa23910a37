package engines

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

// Transcriber converts an audio reference to a diarized, timestamped
// transcript. Failures are classified via the pipeline error kinds:
// unsupported/corrupt input is permanent, engine unavailability is transient.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audioRef string) (types.Transcript, error)
}

// SentimentScorer scores transcript ranges for sentiment.
type SentimentScorer interface {
	Name() string
	Score(ctx context.Context, t types.Transcript) (types.SentimentTrace, error)
}

// Synthesizer turns coaching narration into audio bytes.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// Registry holds the configured engine implementations. Engines are selected
// by name from configuration, never by runtime type inspection.
type Registry struct {
	log          *logrus.Entry
	transcribers map[string]Transcriber
	scorers      map[string]SentimentScorer
	synthesizers map[string]Synthesizer
}

func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{
		log:          log,
		transcribers: make(map[string]Transcriber),
		scorers:      make(map[string]SentimentScorer),
		synthesizers: make(map[string]Synthesizer),
	}
}

func (r *Registry) RegisterTranscriber(t Transcriber) {
	r.transcribers[t.Name()] = t
	r.log.WithField("engine", t.Name()).Info("registered transcription engine")
}

func (r *Registry) RegisterScorer(s SentimentScorer) {
	r.scorers[s.Name()] = s
	r.log.WithField("engine", s.Name()).Info("registered sentiment engine")
}

func (r *Registry) RegisterSynthesizer(s Synthesizer) {
	r.synthesizers[s.Name()] = s
	r.log.WithField("engine", s.Name()).Info("registered tts engine")
}

func (r *Registry) Transcriber(name string) (Transcriber, error) {
	t, ok := r.transcribers[name]
	if !ok {
		return nil, pipeline.Validationf("unknown transcription engine %q", name)
	}
	return t, nil
}

func (r *Registry) Scorer(name string) (SentimentScorer, error) {
	s, ok := r.scorers[name]
	if !ok {
		return nil, pipeline.Validationf("unknown sentiment engine %q", name)
	}
	return s, nil
}

func (r *Registry) Synthesizer(name string) (Synthesizer, error) {
	s, ok := r.synthesizers[name]
	if !ok {
		return nil, pipeline.Validationf("unknown tts engine %q", name)
	}
	return s, nil
}
