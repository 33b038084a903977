package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ziQzav/khoj/store"
)

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	logJSON, err := json.Marshal(create.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation log: %w", err)
	}

	fields := []string{"uid", "creator_id", "client", "slug", "agent", "log", "created_ts", "updated_ts"}
	args := []any{create.UID, create.CreatorID, create.Client, create.Slug, create.Agent, string(logJSON), create.CreatedTs, create.UpdatedTs}

	stmt := `INSERT INTO conversation (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return create, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.CreatorID != nil {
		where, args = append(where, "creator_id = ?"), append(args, *find.CreatorID)
	}
	if find.Client != nil {
		where, args = append(where, "client = ?"), append(args, *find.Client)
	}

	logField := "log"
	if find.ExcludeLog {
		logField = "'{\"chat\":[]}' AS log"
	}

	query := `SELECT id, uid, creator_id, client, slug, agent, ` + logField + `, created_ts, updated_ts FROM conversation WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_ts DESC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Conversation, 0)
	for rows.Next() {
		c := &store.Conversation{}
		var logJSON string
		if err := rows.Scan(&c.ID, &c.UID, &c.CreatorID, &c.Client, &c.Slug, &c.Agent, &logJSON, &c.CreatedTs, &c.UpdatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if err := json.Unmarshal([]byte(logJSON), &c.Log); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation log: %w", err)
		}
		list = append(list, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	set, args := []string{}, []any{}

	if update.Slug != nil {
		set, args = append(set, "slug = ?"), append(args, *update.Slug)
	}
	if update.Agent != nil {
		set, args = append(set, "agent = ?"), append(args, *update.Agent)
	}
	if update.Log != nil {
		logJSON, err := json.Marshal(*update.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conversation log: %w", err)
		}
		set, args = append(set, "log = ?"), append(args, string(logJSON))
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE conversation SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("conversation not found")
	}

	list, err := d.ListConversations(ctx, &store.FindConversation{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("conversation not found")
	}
	return list[0], nil
}

func (d *DB) DeleteConversation(ctx context.Context, delete *store.DeleteConversation) error {
	where, args := []string{}, []any{}

	if delete.ID != nil {
		where, args = append(where, "id = ?"), append(args, *delete.ID)
	}
	if delete.CreatorID != nil {
		where, args = append(where, "creator_id = ?"), append(args, *delete.CreatorID)
	}

	if len(where) == 0 {
		return fmt.Errorf("no condition to delete")
	}

	stmt := `DELETE FROM conversation WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	return nil
}
