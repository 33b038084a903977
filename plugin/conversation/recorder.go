package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// ConversationStore is the narrow persistence surface the recorder needs.
// The store treats the log as an opaque append target; the recorder never
// sees the storage engine.
type ConversationStore interface {
	// GetOrCreateConversationLog returns the log of the conversation
	// identified by conversationID, or of the caller's most recent (or a
	// freshly created) conversation when conversationID is zero.
	GetOrCreateConversationLog(ctx context.Context, creatorID int32, client string, conversationID int32) (int32, Log, error)
	// SaveConversationLog rewrites the conversation's log in full and
	// updates its slug.
	SaveConversationLog(ctx context.Context, conversationID int32, slug string, log Log) error
}

// TurnRecord is everything needed to persist one completed exchange.
type TurnRecord struct {
	ConversationID int32
	CreatorID      int32
	Client         string

	UserQuery     string
	UserTime      time.Time
	AssistantText string

	References      []ContextSnippet
	OnlineResults   map[string]any
	InferredQueries []string
	Intent          IntentType
	AutomationID    string
}

// TurnRecorder appends finished turns to conversation logs. Callers
// guarantee single invocation per completed stream, which StreamRelay's
// single-callback contract enforces.
type TurnRecorder struct {
	store ConversationStore
}

// NewTurnRecorder creates a recorder persisting through the given store.
func NewTurnRecorder(store ConversationStore) *TurnRecorder {
	return &TurnRecorder{store: store}
}

// Record appends one turn to the target conversation log and persists the
// log as a whole. A turn is only ever written complete: the caller hands
// in the full assistant text, or the canned short-circuit response.
func (r *TurnRecorder) Record(ctx context.Context, record *TurnRecord) error {
	conversationID, log, err := r.store.GetOrCreateConversationLog(ctx, record.CreatorID, record.Client, record.ConversationID)
	if err != nil {
		return err
	}

	userTime := record.UserTime
	if userTime.IsZero() {
		userTime = time.Now()
	}
	intent := record.Intent
	if intent == "" {
		intent = IntentRemember
	}

	updated := log.Append(Turn{
		UserText:        record.UserQuery,
		UserTime:        userTime,
		AssistantText:   record.AssistantText,
		AssistantTime:   time.Now(),
		Context:         record.References,
		OnlineContext:   record.OnlineResults,
		InferredQueries: record.InferredQueries,
		Intent:          intent,
		AutomationID:    record.AutomationID,
	})

	if err := r.store.SaveConversationLog(ctx, conversationID, slugFrom(record.UserQuery), updated); err != nil {
		return err
	}

	slog.Info("saved conversation turn",
		"conversation_id", conversationID,
		"intent", string(intent),
		"query_length", len(record.UserQuery),
		"response_length", len(record.AssistantText))
	return nil
}

// slugFrom derives the conversation slug from the latest user message.
func slugFrom(userQuery string) string {
	slug := strings.TrimSpace(userQuery)
	if runes := []rune(slug); len(runes) > 200 {
		slug = string(runes[:200])
	}
	return slug
}
