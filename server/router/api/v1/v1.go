// Package v1 exposes the chat HTTP API.
package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/ziQzav/khoj/internal/profile"
	"github.com/ziQzav/khoj/plugin/conversation"
	"github.com/ziQzav/khoj/plugin/conversation/openai"
	"github.com/ziQzav/khoj/server/middleware"
	"github.com/ziQzav/khoj/store"
)

// ChatService produces streamed responses and inferred search queries.
// *openai.Client satisfies it; tests substitute fakes.
type ChatService interface {
	Converse(ctx context.Context, req *openai.ConverseRequest) *conversation.StreamRelay
	ExtractQuestions(ctx context.Context, req *openai.ExtractRequest) []string
}

// Retriever searches the user's notes for snippets relevant to the
// inferred queries. A nil retriever disables notes grounding.
type Retriever interface {
	SearchNotes(ctx context.Context, userID int32, queries []string) ([]conversation.ContextSnippet, error)
}

// OnlineSearcher fetches online results for the inferred queries. A nil
// searcher disables online grounding.
type OnlineSearcher interface {
	Search(ctx context.Context, queries []string) (map[string]any, error)
}

type APIV1Service struct {
	Profile  *profile.Profile
	Store    *store.Store
	Chat     ChatService
	Recorder *conversation.TurnRecorder

	Retriever      Retriever
	OnlineSearcher OnlineSearcher

	rateLimiter *middleware.RateLimiter

	// streamSemaphore bounds concurrent chat streams; each holds an
	// upstream model connection open for its full duration.
	streamSemaphore *semaphore.Weighted
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, chat ChatService) *APIV1Service {
	return &APIV1Service{
		Profile:         profile,
		Store:           store,
		Chat:            chat,
		Recorder:        conversation.NewTurnRecorder(store),
		rateLimiter:     middleware.NewRateLimiter(),
		streamSemaphore: semaphore.NewWeighted(8),
	}
}

// Register mounts the chat API routes on the given Echo instance.
func (s *APIV1Service) Register(e *echo.Echo) {
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echomw.CORS())

	apiGroup.POST("/chat", s.StreamChat)
	apiGroup.GET("/chat/history", s.GetChatHistory)
	apiGroup.DELETE("/chat/history", s.DeleteChatHistory)
	apiGroup.GET("/chat/sessions", s.ListChatSessions)
	apiGroup.POST("/chat/sessions", s.CreateChatSession)
	apiGroup.PATCH("/chat/title", s.UpdateChatTitle)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
}
