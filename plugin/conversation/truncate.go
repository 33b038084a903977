package conversation

import (
	"log/slog"
	"strings"
)

// TruncateMessages removes and trims messages until the prompt fits
// within maxTokens. The input is reverse-chronological (newest first);
// eviction starts at the tail, so the oldest context goes first and the
// most recent context survives longest.
//
// The system message, if present, is counted against the budget but is
// never itself truncated or evicted. When even the system message alone
// exceeds maxTokens the result is returned over budget; availability is
// preferred over strict compliance there.
//
// The returned slice is in chronological order (oldest survivor first)
// with the system message re-attached at the tail as a sentinel; callers
// reorder for the model's wire format.
func TruncateMessages(messages []ChatMessage, maxTokens int, tokenizer Tokenizer) []ChatMessage {
	var system *ChatMessage
	rest := make([]ChatMessage, 0, len(messages))
	for _, message := range messages {
		if message.Role == RoleSystem && system == nil {
			m := message
			system = &m
			continue
		}
		rest = append(rest, message)
	}

	systemTokens := 0
	if system != nil {
		systemTokens = CountTokens(tokenizer, system.Content)
	}

	total := sumTokens(rest, tokenizer)
	for total+systemTokens > maxTokens && len(rest) > 1 {
		rest = rest[:len(rest)-1]
		total = sumTokens(rest, tokenizer)
	}

	if total+systemTokens > maxTokens && len(rest) == 1 {
		rest[0] = truncateNewest(rest[0], maxTokens-systemTokens, tokenizer)
		slog.Debug("truncated current message to fit prompt budget",
			"max_tokens", maxTokens, "system_tokens", systemTokens)
	}

	out := make([]ChatMessage, 0, len(rest)+1)
	for i := len(rest) - 1; i >= 0; i-- {
		out = append(out, rest[i])
	}
	if system != nil {
		out = append(out, *system)
	}
	return out
}

func sumTokens(messages []ChatMessage, tokenizer Tokenizer) int {
	total := 0
	for _, message := range messages {
		total += CountTokens(tokenizer, message.Content)
	}
	return total
}

// truncateNewest shrinks the sole surviving message to the remaining
// budget. The final line is treated as the user's literal question and is
// preserved verbatim whenever it fits; only the preceding lines are
// token-truncated. If the final line alone exceeds the budget it is
// token-truncated itself.
func truncateNewest(message ChatMessage, budget int, tokenizer Tokenizer) ChatMessage {
	if budget < 0 {
		budget = 0
	}

	lines := strings.Split(message.Content, "\n")
	body := strings.Join(lines[:len(lines)-1], "\n")
	tail := "\n" + lines[len(lines)-1]

	tailTokens := CountTokens(tokenizer, tail)
	if budget > tailTokens {
		remaining := budget - tailTokens
		ids := tokenizer.Encode(body)
		if len(ids) > remaining {
			ids = ids[:remaining]
		}
		truncated := strings.TrimSpace(tokenizer.Decode(ids))
		return ChatMessage{Role: message.Role, Content: truncated + tail}
	}

	ids := tokenizer.Encode(tail)
	if len(ids) > budget {
		ids = ids[:budget]
	}
	return ChatMessage{Role: message.Role, Content: strings.TrimSpace(tokenizer.Decode(ids))}
}
