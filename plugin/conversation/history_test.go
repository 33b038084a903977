package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func turnAt(user, assistant string, context ...ContextSnippet) Turn {
	return Turn{
		UserText:      user,
		UserTime:      time.Now(),
		AssistantText: assistant,
		AssistantTime: time.Now(),
		Context:       context,
	}
}

func TestEncodeHistory(t *testing.T) {
	t.Run("Pairs are reverse-chronological, user before assistant", func(t *testing.T) {
		log := Log{Turns: []Turn{
			turnAt("first question", "first answer"),
			turnAt("second question", "second answer"),
			turnAt("third question", "third answer"),
		}}

		messages := EncodeHistory(log, 10)

		require.Len(t, messages, 6)
		assert.Equal(t, RoleUser, messages[0].Role)
		assert.Equal(t, "third question", messages[0].Content)
		assert.Equal(t, RoleAssistant, messages[1].Role)
		assert.Equal(t, "third answer", messages[1].Content)
		assert.Equal(t, "first question", messages[4].Content)
		assert.Equal(t, "first answer", messages[5].Content)
	})

	t.Run("Bounded by lookback turns", func(t *testing.T) {
		log := Log{Turns: []Turn{
			turnAt("one", "1"),
			turnAt("two", "2"),
			turnAt("three", "3"),
		}}

		messages := EncodeHistory(log, 2)

		require.Len(t, messages, 4)
		assert.Equal(t, "three", messages[0].Content)
		assert.Equal(t, "two", messages[2].Content)
	})

	t.Run("Zero lookback means no history", func(t *testing.T) {
		log := Log{Turns: []Turn{turnAt("one", "1")}}
		assert.Empty(t, EncodeHistory(log, 0))
	})

	t.Run("In-flight turns are excluded", func(t *testing.T) {
		log := Log{Turns: []Turn{
			turnAt("answered", "yes"),
			{UserText: "still generating", UserTime: time.Now()},
		}}

		messages := EncodeHistory(log, 10)

		require.Len(t, messages, 2)
		assert.Equal(t, "answered", messages[0].Content)
	})

	t.Run("Retrieval context renders as a Notes block", func(t *testing.T) {
		log := Log{Turns: []Turn{
			turnAt("what did I plant?", "You planted tomatoes.",
				ContextSnippet{Compiled: "Garden journal: planted tomatoes in April"}),
		}}

		messages := EncodeHistory(log, 1)

		require.Len(t, messages, 2)
		assert.Contains(t, messages[1].Content, "You planted tomatoes.")
		assert.Contains(t, messages[1].Content, "Notes:\nGarden journal: planted tomatoes in April")
	})

	t.Run("Absent context renders no Notes block", func(t *testing.T) {
		log := Log{Turns: []Turn{turnAt("hi", "hello")}}

		messages := EncodeHistory(log, 1)

		assert.Equal(t, "hello", messages[1].Content)
	})
}

func TestPromptBuilder(t *testing.T) {
	resolver := newStubResolver(runeTokenizer{})
	builder := NewPromptBuilder(resolver)

	t.Run("Wire order is system first then chronological", func(t *testing.T) {
		log := Log{Turns: []Turn{
			turnAt("older question", "older answer"),
		}}

		messages := builder.Build(log, "new question", "system prompt", PromptOptions{
			ModelName:     "gpt-3.5-turbo",
			MaxPromptSize: 4000,
		})

		require.Len(t, messages, 4)
		assert.Equal(t, RoleSystem, messages[0].Role)
		assert.Equal(t, "older question", messages[1].Content)
		assert.Equal(t, "older answer", messages[2].Content)
		assert.Equal(t, "new question", messages[3].Content)
	})

	t.Run("Long history shrinks to budget", func(t *testing.T) {
		turns := make([]Turn, 0, 50)
		for i := 0; i < 50; i++ {
			turns = append(turns, turnAt(strings.Repeat("q", 400), strings.Repeat("a", 400)))
		}
		log := Log{Turns: turns}

		messages := builder.Build(log, "latest question", "system", PromptOptions{
			ModelName:     "gpt-3.5-turbo",
			MaxPromptSize: 3000,
		})

		total := 0
		for _, m := range messages {
			if m.Role != RoleSystem {
				total += len([]rune(m.Content))
			}
		}
		assert.LessOrEqual(t, total, 3000)
		// The newest user message always survives.
		assert.Equal(t, "latest question", messages[len(messages)-1].Content)
	})
}
