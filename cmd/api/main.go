package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/api"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/config"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/engines"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/logger"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/orchestrator"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/queue"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/replay"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/store"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "sales-call-analysis").Info("starting service")

	cfg := config.FromEnv()

	// Task trigger: AMQP when a broker is configured, in-process otherwise.
	var trigger queue.Trigger
	if cfg.AMQPURL != "" {
		t, err := queue.NewAMQPTrigger(logger.Component("trigger"), cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			log.WithError(err).Fatal("failed to connect task trigger")
		}
		trigger = t
	} else {
		log.Warn("AMQP_URL not set, using in-process task trigger")
		trigger = queue.NewMemoryTrigger(256)
	}
	defer trigger.Close()

	registry := engines.NewRegistry(logger.Component("engines"))
	registry.RegisterTranscriber(engines.MockTranscriber{})
	registry.RegisterScorer(engines.LexiconSentimentScorer{})
	registry.RegisterSynthesizer(engines.MockSynthesizer{Languages: []string{"en"}})
	if cfg.TranscriptionURL != "" {
		registry.RegisterTranscriber(&engines.HTTPTranscriber{URL: cfg.TranscriptionURL})
	}
	if cfg.SentimentURL != "" {
		registry.RegisterScorer(&engines.HTTPSentimentScorer{URL: cfg.SentimentURL})
	}

	st := store.NewMemory()
	orc := orchestrator.New(logger.Component("orchestrator"), cfg, st, trigger, registry)

	tts, err := registry.Synthesizer(cfg.TTSEngine)
	if err != nil {
		log.WithError(err).Fatal("tts engine not configured")
	}
	resolver := replay.New(logger.Component("replay"), st, tts, cfg.TTSLanguage, cfg.ReplayContextSeconds)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go orc.RunWorkers(ctx, cfg.Workers)
	log.WithField("workers", cfg.Workers).Info("pipeline workers started")

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      api.NewServer(orc, resolver, cfg.ReportPath).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server terminated")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
		os.Exit(1)
	}
}
