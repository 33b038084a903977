// Package conversation assembles bounded chat prompts from conversation
// history and streams model responses back to callers while recording
// each completed turn exactly once.
package conversation

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single role-tagged message in a model prompt.
// Messages are immutable once constructed; their ordering within a slice
// is meaningful (chronological or reverse-chronological depending on the
// pipeline stage).
type ChatMessage struct {
	Role    Role
	Content string
}

// ContextSnippet is one retrieved document snippet attached to a turn.
// Retrieval collaborators hand these in pre-formatted; this package never
// ranks or fetches them.
type ContextSnippet struct {
	Compiled string `json:"compiled"`
	File     string `json:"file,omitempty"`
}

// IntentType classifies what the user asked the assistant to do.
type IntentType string

const (
	IntentRemember    IntentType = "remember"
	IntentSearch      IntentType = "search"
	IntentTextToImage IntentType = "text-to-image"
)

// Turn is one completed user/assistant exchange as persisted in a
// conversation log.
type Turn struct {
	UserText        string           `json:"user_message"`
	UserTime        time.Time        `json:"user_message_time"`
	AssistantText   string           `json:"assistant_message"`
	AssistantTime   time.Time        `json:"assistant_message_time"`
	Context         []ContextSnippet `json:"context,omitempty"`
	OnlineContext   map[string]any   `json:"online_context,omitempty"`
	InferredQueries []string         `json:"inferred_queries,omitempty"`
	Intent          IntentType       `json:"intent_type,omitempty"`
	AutomationID    string           `json:"automation_id,omitempty"`
}

// Completed reports whether the turn has its paired assistant message.
// In-flight turns are excluded from history encoding.
func (t *Turn) Completed() bool {
	return t.AssistantText != ""
}

// Log is the append-only sequence of turns owned by one conversation.
// Insertion order is chronological; turns are never reordered or deleted
// except by full-conversation deletion.
type Log struct {
	Turns []Turn `json:"chat"`
}

// Append returns a copy of the log with one more turn. The receiver is
// left untouched so a failed save never leaves a partially updated log.
func (l Log) Append(turn Turn) Log {
	turns := make([]Turn, 0, len(l.Turns)+1)
	turns = append(turns, l.Turns...)
	turns = append(turns, turn)
	return Log{Turns: turns}
}
