// Package server boots the HTTP server hosting the chat API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/ziQzav/khoj/internal/profile"
	"github.com/ziQzav/khoj/plugin/conversation"
	"github.com/ziQzav/khoj/plugin/conversation/openai"
	apiv1 "github.com/ziQzav/khoj/server/router/api/v1"
	"github.com/ziQzav/khoj/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	apiService *apiv1.APIV1Service
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	if err := store.Migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	tokenizers := conversation.NewTokenizerResolver()
	prompts := conversation.NewPromptBuilder(tokenizers)
	chat := openai.NewClient(profile.OpenAIAPIKey, profile.OpenAIBaseURL, prompts)

	apiService := apiv1.NewAPIV1Service(profile, store, chat)
	apiService.Register(e)

	return &Server{
		Profile:    profile,
		Store:      store,
		echoServer: e,
		apiService: apiService,
	}, nil
}

func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server started", "address", address, "version", s.Profile.Version)
	return s.echoServer.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shutdown complete")
}
