package store

import (
	"github.com/ziQzav/khoj/plugin/conversation"
)

// Conversation is one persisted chat session. The full turn history is
// kept as a JSON document in the log column and rewritten whole on every
// save.
type Conversation struct {
	ID        int32
	UID       string
	CreatorID int32
	Client    string
	Slug      string
	Agent     string
	Log       conversation.Log
	CreatedTs int64
	UpdatedTs int64
}

type FindConversation struct {
	ID        *int32
	UID       *string
	CreatorID *int32
	Client    *string

	// ExcludeLog skips loading the log column for listing endpoints
	// that only need session metadata.
	ExcludeLog bool
}

// Matches reports whether the conversation satisfies every set filter
// field, mirroring the WHERE clauses the drivers build.
func (c *Conversation) Matches(find *FindConversation) bool {
	if find.ID != nil && c.ID != *find.ID {
		return false
	}
	if find.UID != nil && c.UID != *find.UID {
		return false
	}
	if find.CreatorID != nil && c.CreatorID != *find.CreatorID {
		return false
	}
	if find.Client != nil && c.Client != *find.Client {
		return false
	}
	return true
}

type UpdateConversation struct {
	ID        int32
	Slug      *string
	Agent     *string
	Log       *conversation.Log
	UpdatedTs *int64
}

type DeleteConversation struct {
	ID        *int32
	CreatorID *int32
}
