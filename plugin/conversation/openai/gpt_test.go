package openai

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ziQzav/khoj/plugin/conversation"
)

func TestParseInferredQueries(t *testing.T) {
	t.Run("ValidResponse", func(t *testing.T) {
		queries := parseInferredQueries(`{"queries": ["first query", "second query"]}`, "original")
		assert.Equal(t, []string{"first query", "second query"}, queries)
	})

	t.Run("MalformedJSONFallsBackToRawMessage", func(t *testing.T) {
		queries := parseInferredQueries(`["not", "an", "object"`, "what did I eat last week?")
		assert.Equal(t, []string{"what did I eat last week?"}, queries)
	})

	t.Run("EmptyQueriesFallsBackToRawMessage", func(t *testing.T) {
		queries := parseInferredQueries(`{"queries": []}`, "original")
		assert.Equal(t, []string{"original"}, queries)
	})

	t.Run("BlankQueriesAreDropped", func(t *testing.T) {
		queries := parseInferredQueries(`{"queries": ["  ", "real query "]}`, "original")
		assert.Equal(t, []string{"real query"}, queries)
	})

	t.Run("SurroundingWhitespaceTolerated", func(t *testing.T) {
		queries := parseInferredQueries("\n  {\"queries\": [\"q\"]}\n", "original")
		assert.Equal(t, []string{"q"}, queries)
	})
}

func TestExtractionHistory(t *testing.T) {
	now := time.Now()
	turn := func(user, assistant string, intent conversation.IntentType) conversation.Turn {
		return conversation.Turn{
			UserText:      user,
			UserTime:      now,
			AssistantText: assistant,
			AssistantTime: now,
			Intent:        intent,
		}
	}

	t.Run("RendersQueryAnswerPairs", func(t *testing.T) {
		log := conversation.Log{Turns: []conversation.Turn{
			turn("what is my passport number?", "Your passport number is X123.", conversation.IntentRemember),
		}}
		history := extractionHistory(log)
		assert.Contains(t, history, "Q: what is my passport number?")
		assert.Contains(t, history, `{"queries": ["what is my passport number?"]}`)
		assert.Contains(t, history, "A: Your passport number is X123.")
	})

	t.Run("PrefersRecordedInferredQueries", func(t *testing.T) {
		tr := turn("and my visa?", "Visa ends in 99.", conversation.IntentRemember)
		tr.InferredQueries = []string{"visa number", "passport visa"}
		history := extractionHistory(conversation.Log{Turns: []conversation.Turn{tr}})
		assert.Contains(t, history, `{"queries": ["visa number","passport visa"]}`)
	})

	t.Run("SkipsImageAndIncompleteTurns", func(t *testing.T) {
		log := conversation.Log{Turns: []conversation.Turn{
			turn("paint a sunset", "![sunset](img.png)", conversation.IntentTextToImage),
			turn("in flight", "", conversation.IntentRemember),
		}}
		assert.Empty(t, extractionHistory(log))
	})

	t.Run("BoundedToRecentTurns", func(t *testing.T) {
		var turns []conversation.Turn
		for i := 0; i < 10; i++ {
			turns = append(turns, turn("question", "answer", conversation.IntentRemember))
		}
		turns = append(turns, turn("newest question", "newest answer", conversation.IntentRemember))
		history := extractionHistory(conversation.Log{Turns: turns})
		assert.Contains(t, history, "newest question")
		assert.Equal(t, 4, strings.Count(history, "Q: "))
	})
}

func TestConverseShortCircuits(t *testing.T) {
	client := &Client{prompts: conversation.NewPromptBuilder(conversation.NewTokenizerResolver())}

	t.Run("NotesOnlyWithoutReferences", func(t *testing.T) {
		done := make(chan string, 1)
		relay := client.Converse(context.Background(), &ConverseRequest{
			UserQuery:  "what did I write about gardening?",
			Commands:   []conversation.Command{conversation.CommandNotes},
			OnComplete: func(full string) { done <- full },
		})

		var chunks []string
		for chunk := range relay.Chunks() {
			chunks = append(chunks, chunk)
		}
		assert.Equal(t, []string{conversation.NoNotesFound}, chunks)
		assert.Equal(t, conversation.NoNotesFound, <-done)
	})

	t.Run("OnlineOnlyWithoutResults", func(t *testing.T) {
		done := make(chan string, 1)
		relay := client.Converse(context.Background(), &ConverseRequest{
			UserQuery:  "latest news",
			Commands:   []conversation.Command{conversation.CommandOnline},
			OnComplete: func(full string) { done <- full },
		})

		for range relay.Chunks() {
		}
		assert.Equal(t, conversation.NoOnlineResultsFound, <-done)
	})
}
