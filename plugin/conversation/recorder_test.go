package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversationStore struct {
	conversationID int32
	log            Log

	saves     int
	savedSlug string
	savedLog  Log

	getErr  error
	saveErr error
}

func (s *fakeConversationStore) GetOrCreateConversationLog(ctx context.Context, creatorID int32, client string, conversationID int32) (int32, Log, error) {
	if s.getErr != nil {
		return 0, Log{}, s.getErr
	}
	return s.conversationID, s.log, nil
}

func (s *fakeConversationStore) SaveConversationLog(ctx context.Context, conversationID int32, slug string, log Log) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.savedSlug = slug
	s.savedLog = log
	return nil
}

func TestTurnRecorder(t *testing.T) {
	ctx := context.Background()

	t.Run("Appends one complete turn and saves once", func(t *testing.T) {
		store := &fakeConversationStore{
			conversationID: 7,
			log:            Log{Turns: []Turn{turnAt("earlier", "reply")}},
		}
		recorder := NewTurnRecorder(store)

		err := recorder.Record(ctx, &TurnRecord{
			ConversationID:  7,
			CreatorID:       1,
			UserQuery:       "what's on my calendar?",
			AssistantText:   "You have a dentist appointment at 3pm.",
			InferredQueries: []string{"calendar today"},
			Intent:          IntentSearch,
		})

		require.NoError(t, err)
		assert.Equal(t, 1, store.saves)
		require.Len(t, store.savedLog.Turns, 2)

		turn := store.savedLog.Turns[1]
		assert.Equal(t, "what's on my calendar?", turn.UserText)
		assert.Equal(t, "You have a dentist appointment at 3pm.", turn.AssistantText)
		assert.Equal(t, IntentSearch, turn.Intent)
		assert.False(t, turn.AssistantTime.IsZero())
		assert.Equal(t, "what's on my calendar?", store.savedSlug)
	})

	t.Run("Earlier turns are preserved untouched", func(t *testing.T) {
		store := &fakeConversationStore{
			log: Log{Turns: []Turn{turnAt("first", "one"), turnAt("second", "two")}},
		}
		recorder := NewTurnRecorder(store)

		err := recorder.Record(ctx, &TurnRecord{UserQuery: "third", AssistantText: "three"})

		require.NoError(t, err)
		require.Len(t, store.savedLog.Turns, 3)
		assert.Equal(t, "first", store.savedLog.Turns[0].UserText)
		assert.Equal(t, "second", store.savedLog.Turns[1].UserText)
	})

	t.Run("Intent defaults to remember and user time to now", func(t *testing.T) {
		store := &fakeConversationStore{}
		recorder := NewTurnRecorder(store)

		before := time.Now()
		err := recorder.Record(ctx, &TurnRecord{UserQuery: "hi", AssistantText: "hello"})

		require.NoError(t, err)
		turn := store.savedLog.Turns[0]
		assert.Equal(t, IntentRemember, turn.Intent)
		assert.False(t, turn.UserTime.Before(before))
	})

	t.Run("Slug is bounded to 200 characters", func(t *testing.T) {
		store := &fakeConversationStore{}
		recorder := NewTurnRecorder(store)

		err := recorder.Record(ctx, &TurnRecord{
			UserQuery:     strings.Repeat("長", 300),
			AssistantText: "ok",
		})

		require.NoError(t, err)
		assert.Equal(t, 200, len([]rune(store.savedSlug)))
	})

	t.Run("Lookup failures surface without a partial write", func(t *testing.T) {
		store := &fakeConversationStore{getErr: errors.New("conversation store down")}
		recorder := NewTurnRecorder(store)

		err := recorder.Record(ctx, &TurnRecord{UserQuery: "q", AssistantText: "a"})

		assert.Error(t, err)
		assert.Equal(t, 0, store.saves)
	})
}
