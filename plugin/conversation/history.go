package conversation

import "strings"

// EncodeHistory converts the conversation log into role-tagged chat
// messages in reverse-chronological order, bounded by lookbackTurns
// completed pairs. Within each pair the user message precedes its
// assistant message, so the flattened list reads
//
//	[newest user, newest assistant, older user, older assistant, ...]
//
// and the truncator can evict from the tail to drop the oldest context
// first. Turns without a paired assistant message (in-flight turns) are
// skipped.
func EncodeHistory(log Log, lookbackTurns int) []ChatMessage {
	if lookbackTurns <= 0 {
		return nil
	}

	messages := make([]ChatMessage, 0, 2*lookbackTurns)
	for i := len(log.Turns) - 1; i >= 0 && len(messages) < 2*lookbackTurns; i-- {
		turn := log.Turns[i]
		if !turn.Completed() {
			continue
		}
		messages = append(messages,
			ChatMessage{Role: RoleUser, Content: turn.UserText},
			ChatMessage{Role: RoleAssistant, Content: renderAssistant(turn)},
		)
	}
	return messages
}

// renderAssistant renders a past assistant message with its retrieval
// context appended as a Notes block. Turns without context render as the
// bare response text.
func renderAssistant(turn Turn) string {
	if len(turn.Context) == 0 {
		return turn.AssistantText
	}
	compiled := make([]string, 0, len(turn.Context))
	for _, snippet := range turn.Context {
		compiled = append(compiled, snippet.Compiled)
	}
	return turn.AssistantText + "\n\n Notes:\n" + strings.Join(compiled, "\n\n")
}

// PromptOptions selects the model-specific parameters for prompt
// assembly.
type PromptOptions struct {
	ModelName     string
	TokenizerName string
	// MaxPromptSize overrides the model's derived token budget when
	// positive.
	MaxPromptSize int
	// LocalModel is an already-loaded in-process model, if any. Its
	// native tokenizer and context window take precedence.
	LocalModel LocalModel
}

// PromptBuilder assembles bounded model prompts from conversation
// history.
type PromptBuilder struct {
	tokenizers *TokenizerResolver
}

// NewPromptBuilder creates a prompt builder sharing the given tokenizer
// resolver and its cache.
func NewPromptBuilder(tokenizers *TokenizerResolver) *PromptBuilder {
	return &PromptBuilder{tokenizers: tokenizers}
}

// Build produces the final ordered prompt for a model call: the system
// message first, then surviving history and the user query in
// chronological order, truncated to the model's token budget.
func (b *PromptBuilder) Build(log Log, userQuery, systemText string, opts PromptOptions) []ChatMessage {
	maxTokens := MaxPromptTokens(opts.ModelName, opts.MaxPromptSize, opts.LocalModel)
	lookback := LookbackTurns(maxTokens)

	// Reverse-chronological working order: newest user message first,
	// history pairs behind it, system message extracted by the truncator.
	messages := make([]ChatMessage, 0, 2+2*lookback)
	if userQuery != "" {
		messages = append(messages, ChatMessage{Role: RoleUser, Content: userQuery})
	}
	messages = append(messages, EncodeHistory(log, lookback)...)
	if systemText != "" {
		messages = append(messages, ChatMessage{Role: RoleSystem, Content: systemText})
	}

	tokenizer := b.tokenizers.Resolve(opts.ModelName, opts.TokenizerName, opts.LocalModel)
	messages = TruncateMessages(messages, maxTokens, tokenizer)

	return toWireOrder(messages)
}

// toWireOrder moves the sentinel system message from the tail to the
// front, which is where chat completion APIs expect it.
func toWireOrder(messages []ChatMessage) []ChatMessage {
	if len(messages) == 0 {
		return messages
	}
	last := messages[len(messages)-1]
	if last.Role != RoleSystem {
		return messages
	}
	ordered := make([]ChatMessage, 0, len(messages))
	ordered = append(ordered, last)
	ordered = append(ordered, messages[:len(messages)-1]...)
	return ordered
}
