package v1

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ziQzav/khoj/plugin/conversation"
	"github.com/ziQzav/khoj/plugin/conversation/openai"
	apierrors "github.com/ziQzav/khoj/server/internal/errors"
	"github.com/ziQzav/khoj/server/internal/observability"
	"github.com/ziQzav/khoj/store"
)

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID int32  `json:"conversation_id"`
	Client         string `json:"client"`
	Agent          string `json:"agent"`
	Location       string `json:"location"`
}

// ChatSession is the session metadata returned by the session endpoints.
type ChatSession struct {
	ID        int32  `json:"id"`
	UID       string `json:"uid"`
	Slug      string `json:"slug"`
	Agent     string `json:"agent"`
	CreatedTs int64  `json:"created_ts"`
	UpdatedTs int64  `json:"updated_ts"`
}

// StreamChat answers a user message as a server-sent event stream. The
// full response is persisted as one turn when the stream completes, even
// if the client disconnects mid-stream.
func (s *APIV1Service) StreamChat(c echo.Context) error {
	ctx := c.Request().Context()
	userID := s.resolveUserID(c)

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return chatHTTPError(apierrors.Wrap(apierrors.ErrCodeInvalidArgument, "malformed request body", err))
	}
	if strings.TrimSpace(req.Message) == "" {
		return chatHTTPError(apierrors.New(apierrors.ErrCodeInvalidArgument, "message is required"))
	}

	if !s.rateLimiter.Allow(rateKey(userID)) {
		return chatHTTPError(apierrors.New(apierrors.ErrCodeRateLimitExceeded, "chat rate limit exceeded"))
	}
	if !s.streamSemaphore.TryAcquire(1) {
		return chatHTTPError(apierrors.New(apierrors.ErrCodeRateLimitExceeded, "too many concurrent chat streams"))
	}
	defer s.streamSemaphore.Release(1)

	reqCtx := observability.NewRequestContext(slog.Default(), req.Client, userID)
	commands, query := parseQuery(req.Message)
	reqCtx.Info("chat request received",
		slog.Int(observability.LogFieldQueryLen, len(query)),
		slog.Int64(observability.LogFieldConversationID, int64(req.ConversationID)))

	conversationID, log, err := s.Store.GetOrCreateConversationLog(ctx, userID, req.Client, req.ConversationID)
	if err != nil {
		reqCtx.Error("failed to load conversation", err)
		return chatHTTPError(apierrors.Wrap(apierrors.ErrCodeConversationNotFound, "conversation not found", err))
	}

	inferredQueries, references, onlineResults := s.gatherContext(ctx, reqCtx, userID, query, log, commands)

	relay := s.Chat.Converse(ctx, &openai.ConverseRequest{
		UserQuery:     query,
		References:    references,
		OnlineResults: onlineResults,
		Log:           log,
		Commands:      commands,
		Model:         s.Profile.ChatModel,
		MaxPromptSize: s.Profile.MaxPromptSize,
		TokenizerName: s.Profile.TokenizerName,
		AgentName:     req.Agent,
		Location:      req.Location,
		OnComplete: func(fullResponse string) {
			// Persistence runs detached so a dropped client still gets
			// its turn recorded.
			record := &conversation.TurnRecord{
				ConversationID:  conversationID,
				CreatorID:       userID,
				Client:          req.Client,
				UserQuery:       query,
				AssistantText:   fullResponse,
				References:      references,
				OnlineResults:   onlineResults,
				InferredQueries: inferredQueries,
			}
			if err := s.Recorder.Record(context.WithoutCancel(ctx), record); err != nil {
				reqCtx.Error("failed to record turn", err)
			}
		},
	})

	return s.streamRelay(c, reqCtx, relay)
}

// gatherContext infers search queries and collects notes and online
// results according to the active commands. Failures degrade to an
// unassisted response rather than aborting the chat.
func (s *APIV1Service) gatherContext(ctx context.Context, reqCtx *observability.RequestContext, userID int32, query string, log conversation.Log, commands []conversation.Command) ([]string, []conversation.ContextSnippet, map[string]any) {
	if conversation.OnlyCommand(commands, conversation.CommandGeneral) {
		return nil, nil, nil
	}

	inferredQueries := s.Chat.ExtractQuestions(ctx, &openai.ExtractRequest{
		Text:  query,
		Log:   log,
		Model: s.Profile.ChatModel,
	})

	var references []conversation.ContextSnippet
	if s.Retriever != nil && !conversation.OnlyCommand(commands, conversation.CommandOnline) {
		found, err := s.Retriever.SearchNotes(ctx, userID, inferredQueries)
		if err != nil {
			reqCtx.Warn("notes retrieval failed", slog.String("error", err.Error()))
		} else {
			references = found
		}
	}

	var onlineResults map[string]any
	needsOnline := conversation.HasCommand(commands, conversation.CommandOnline) ||
		conversation.HasCommand(commands, conversation.CommandWebpage)
	if s.OnlineSearcher != nil && needsOnline {
		found, err := s.OnlineSearcher.Search(ctx, inferredQueries)
		if err != nil {
			reqCtx.Warn("online search failed", slog.String("error", err.Error()))
		} else {
			onlineResults = found
		}
	}

	return inferredQueries, references, onlineResults
}

// streamRelay copies relay chunks to the client as server-sent events.
// A write failure abandons the relay; the producer keeps accumulating so
// the completion callback still receives the full response.
func (s *APIV1Service) streamRelay(c echo.Context, reqCtx *observability.RequestContext, relay *conversation.StreamRelay) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	for chunk := range relay.Chunks() {
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", encodeSSEData(chunk)); err != nil {
			relay.Abandon()
			reqCtx.Warn("client disconnected mid-stream",
				slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
			return nil
		}
		resp.Flush()
	}

	reqCtx.Info("chat stream finished",
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return nil
}

// encodeSSEData keeps multi-line chunks inside a single SSE data field.
func encodeSSEData(chunk string) string {
	return strings.ReplaceAll(chunk, "\n", "\ndata: ")
}

// GetChatHistory returns the full turn history of a conversation.
func (s *APIV1Service) GetChatHistory(c echo.Context) error {
	ctx := c.Request().Context()
	userID := s.resolveUserID(c)

	conversationID, err := queryParamID(c, "conversation_id")
	if err != nil {
		return chatHTTPError(apierrors.New(apierrors.ErrCodeInvalidArgument, "conversation_id is required"))
	}

	conv, err := s.Store.GetConversation(ctx, &store.FindConversation{ID: &conversationID, CreatorID: &userID})
	if err != nil {
		return chatHTTPError(apierrors.Wrap(apierrors.ErrCodeInternal, "failed to load conversation", err))
	}
	if conv == nil {
		return chatHTTPError(apierrors.New(apierrors.ErrCodeConversationNotFound, "conversation not found"))
	}

	return c.JSON(http.StatusOK, conv.Log)
}

// DeleteChatHistory deletes a conversation and its history.
func (s *APIV1Service) DeleteChatHistory(c echo.Context) error {
	ctx := c.Request().Context()
	userID := s.resolveUserID(c)

	conversationID, err := queryParamID(c, "conversation_id")
	if err != nil {
		return chatHTTPError(apierrors.New(apierrors.ErrCodeInvalidArgument, "conversation_id is required"))
	}

	if err := s.Store.DeleteConversation(ctx, &store.DeleteConversation{ID: &conversationID, CreatorID: &userID}); err != nil {
		return chatHTTPError(apierrors.Wrap(apierrors.ErrCodeInternal, "failed to delete conversation", err))
	}
	return c.NoContent(http.StatusNoContent)
}

// ListChatSessions lists the caller's conversations without their logs.
func (s *APIV1Service) ListChatSessions(c echo.Context) error {
	ctx := c.Request().Context()
	userID := s.resolveUserID(c)

	list, err := s.Store.ListConversations(ctx, &store.FindConversation{CreatorID: &userID, ExcludeLog: true})
	if err != nil {
		return chatHTTPError(apierrors.Wrap(apierrors.ErrCodeInternal, "failed to list conversations", err))
	}

	sessions := make([]*ChatSession, 0, len(list))
	for _, conv := range list {
		sessions = append(sessions, &ChatSession{
			ID:        conv.ID,
			UID:       conv.UID,
			Slug:      conv.Slug,
			Agent:     conv.Agent,
			CreatedTs: conv.CreatedTs,
			UpdatedTs: conv.UpdatedTs,
		})
	}
	return c.JSON(http.StatusOK, sessions)
}

// CreateChatSession starts a fresh conversation.
func (s *APIV1Service) CreateChatSession(c echo.Context) error {
	ctx := c.Request().Context()
	userID := s.resolveUserID(c)

	var req struct {
		Client string `json:"client"`
		Agent  string `json:"agent"`
	}
	if err := c.Bind(&req); err != nil {
		return chatHTTPError(apierrors.Wrap(apierrors.ErrCodeInvalidArgument, "malformed request body", err))
	}

	created, err := s.Store.CreateConversation(ctx, &store.Conversation{
		CreatorID: userID,
		Client:    req.Client,
		Agent:     req.Agent,
	})
	if err != nil {
		return chatHTTPError(apierrors.Wrap(apierrors.ErrCodeInternal, "failed to create conversation", err))
	}

	return c.JSON(http.StatusCreated, &ChatSession{
		ID:        created.ID,
		UID:       created.UID,
		Agent:     created.Agent,
		CreatedTs: created.CreatedTs,
		UpdatedTs: created.UpdatedTs,
	})
}

// UpdateChatTitle renames a conversation.
func (s *APIV1Service) UpdateChatTitle(c echo.Context) error {
	ctx := c.Request().Context()
	userID := s.resolveUserID(c)

	var req struct {
		ConversationID int32  `json:"conversation_id"`
		Title          string `json:"title"`
	}
	if err := c.Bind(&req); err != nil {
		return chatHTTPError(apierrors.Wrap(apierrors.ErrCodeInvalidArgument, "malformed request body", err))
	}
	if req.ConversationID == 0 || strings.TrimSpace(req.Title) == "" {
		return chatHTTPError(apierrors.New(apierrors.ErrCodeInvalidArgument, "conversation_id and title are required"))
	}

	conv, err := s.Store.GetConversation(ctx, &store.FindConversation{ID: &req.ConversationID, CreatorID: &userID, ExcludeLog: true})
	if err != nil {
		return chatHTTPError(apierrors.Wrap(apierrors.ErrCodeInternal, "failed to load conversation", err))
	}
	if conv == nil {
		return chatHTTPError(apierrors.New(apierrors.ErrCodeConversationNotFound, "conversation not found"))
	}

	title := strings.TrimSpace(req.Title)
	if _, err := s.Store.UpdateConversation(ctx, &store.UpdateConversation{ID: req.ConversationID, Slug: &title}); err != nil {
		return chatHTTPError(apierrors.Wrap(apierrors.ErrCodeInternal, "failed to update conversation", err))
	}
	return c.NoContent(http.StatusNoContent)
}

// resolveUserID reads the caller's user ID from the X-User-ID header,
// defaulting to the single-user owner account.
func (s *APIV1Service) resolveUserID(c echo.Context) int32 {
	if raw := c.Request().Header.Get("X-User-ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 32); err == nil && id > 0 {
			return int32(id)
		}
	}
	return 1
}

// parseQuery splits leading slash commands off the user message.
// "/notes what did I eat" yields the notes command and the bare query.
func parseQuery(message string) ([]conversation.Command, string) {
	known := map[string]conversation.Command{
		"/default": conversation.CommandDefault,
		"/general": conversation.CommandGeneral,
		"/notes":   conversation.CommandNotes,
		"/online":  conversation.CommandOnline,
		"/webpage": conversation.CommandWebpage,
	}

	var commands []conversation.Command
	rest := strings.TrimSpace(message)
	for {
		token, remainder, _ := strings.Cut(rest, " ")
		cmd, ok := known[token]
		if !ok {
			break
		}
		commands = append(commands, cmd)
		rest = strings.TrimSpace(remainder)
	}

	if len(commands) == 0 {
		commands = []conversation.Command{conversation.CommandDefault}
	}
	return commands, rest
}

// chatHTTPError converts a structured chat error into the HTTP error
// echo renders, keeping the original as the internal cause.
func chatHTTPError(err *apierrors.ChatError) *echo.HTTPError {
	status := http.StatusInternalServerError
	switch err.Code {
	case apierrors.ErrCodeInvalidArgument:
		status = http.StatusBadRequest
	case apierrors.ErrCodeRateLimitExceeded:
		status = http.StatusTooManyRequests
	case apierrors.ErrCodeConversationNotFound:
		status = http.StatusNotFound
	}
	return echo.NewHTTPError(status, err.Error()).SetInternal(err)
}

func rateKey(userID int32) string {
	return fmt.Sprintf("chat:%d", userID)
}

func queryParamID(c echo.Context, name string) (int32, error) {
	raw := c.QueryParam(name)
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return int32(id), nil
}
