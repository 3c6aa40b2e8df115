package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/koji0701/peter-video-agent/internal/config"
	"github.com/koji0701/peter-video-agent/internal/handlers"
	"github.com/koji0701/peter-video-agent/internal/llm"
	"github.com/koji0701/peter-video-agent/internal/script"
	"github.com/koji0701/peter-video-agent/internal/services"
	"github.com/koji0701/peter-video-agent/internal/session"
	"github.com/koji0701/peter-video-agent/internal/tts"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("Starting Dialogue Studio API")

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Gemini client")
	}

	synthesizer := tts.NewSynthesizer(cfg)
	parser := script.NewParser(cfg.SpeakerOneLabel, cfg.SpeakerTwoLabel)

	store := session.NewStore(cfg.SessionTTL)
	store.Start(context.Background())
	defer store.Stop()

	studio := services.NewStudioService(store, llmClient, synthesizer, parser, cfg)
	h := handlers.NewHandler(studio)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Health).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/script", h.GenerateScript).Methods("POST")
	api.HandleFunc("/sessions/{id}/script.txt", h.DownloadScript).Methods("GET")
	api.HandleFunc("/sessions/{id}/script/lines/{index}", h.UpdateLine).Methods("PUT")
	api.HandleFunc("/sessions/{id}/audio", h.GenerateAudio).Methods("POST")
	api.HandleFunc("/sessions/{id}/audio", h.AudioContent).Methods("GET")
	api.HandleFunc("/sessions/{id}/events", h.Events).Methods("GET")

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Generation runs inside the request, so writes stay open for the
		// full run.
		WriteTimeout: cfg.HTTPTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down API...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("API exited")
}
