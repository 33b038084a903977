package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/ziQzav/khoj/internal/profile"
	"github.com/ziQzav/khoj/plugin/conversation"
	"github.com/ziQzav/khoj/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Cache settings
	cacheConfig cache.Config

	// Caches
	conversationCache *cache.Cache // cache for conversations keyed by id
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
	}

	return &Store{
		driver:            driver,
		profile:           profile,
		cacheConfig:       cacheConfig,
		conversationCache: cache.New(cacheConfig),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	s.conversationCache.Close()
	return s.driver.Close()
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = now
	}

	created, err := s.driver.CreateConversation(ctx, create)
	if err != nil {
		return nil, err
	}
	s.conversationCache.Set(ctx, conversationCacheKey(created.ID), created)
	return created, nil
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

func (s *Store) GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error) {
	if find.ID != nil && !find.ExcludeLog {
		if cached, ok := s.conversationCache.Get(ctx, conversationCacheKey(*find.ID)); ok {
			// The cache is keyed by ID alone, so the cached object must
			// still pass every filter the caller set. Ownership checks
			// ride on CreatorID here.
			if c, ok := cached.(*Conversation); ok && c.Matches(find) {
				return c, nil
			}
		}
	}

	list, err := s.driver.ListConversations(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}

	c := list[0]
	if !find.ExcludeLog {
		s.conversationCache.Set(ctx, conversationCacheKey(c.ID), c)
	}
	return c, nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	updated, err := s.driver.UpdateConversation(ctx, update)
	if err != nil {
		return nil, err
	}
	s.conversationCache.Set(ctx, conversationCacheKey(updated.ID), updated)
	return updated, nil
}

func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	if err := s.driver.DeleteConversation(ctx, delete); err != nil {
		return err
	}
	if delete.ID != nil {
		s.conversationCache.Delete(ctx, conversationCacheKey(*delete.ID))
	}
	return nil
}

// GetOrCreateConversationLog returns the log to append the next turn to.
// A zero conversationID targets the user's most recent session, creating
// one when none exists yet.
func (s *Store) GetOrCreateConversationLog(ctx context.Context, creatorID int32, client string, conversationID int32) (int32, conversation.Log, error) {
	if conversationID != 0 {
		c, err := s.GetConversation(ctx, &FindConversation{ID: &conversationID, CreatorID: &creatorID})
		if err != nil {
			return 0, conversation.Log{}, errors.Wrap(err, "failed to get conversation")
		}
		if c == nil {
			return 0, conversation.Log{}, errors.Errorf("conversation %d not found", conversationID)
		}
		return c.ID, c.Log, nil
	}

	list, err := s.driver.ListConversations(ctx, &FindConversation{CreatorID: &creatorID})
	if err != nil {
		return 0, conversation.Log{}, errors.Wrap(err, "failed to list conversations")
	}
	if len(list) > 0 {
		return list[0].ID, list[0].Log, nil
	}

	created, err := s.CreateConversation(ctx, &Conversation{CreatorID: creatorID, Client: client})
	if err != nil {
		return 0, conversation.Log{}, errors.Wrap(err, "failed to create conversation")
	}
	return created.ID, created.Log, nil
}

// SaveConversationLog rewrites the conversation's full log and refreshes
// its slug.
func (s *Store) SaveConversationLog(ctx context.Context, conversationID int32, slug string, log conversation.Log) error {
	now := time.Now().Unix()
	if _, err := s.UpdateConversation(ctx, &UpdateConversation{
		ID:        conversationID,
		Slug:      &slug,
		Log:       &log,
		UpdatedTs: &now,
	}); err != nil {
		return errors.Wrap(err, "failed to save conversation log")
	}
	return nil
}

func conversationCacheKey(id int32) string {
	return fmt.Sprintf("conversation:%d", id)
}
