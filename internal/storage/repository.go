package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// DefaultListLimit caps ListByPage when no limit is given.
const DefaultListLimit = 100

// StoredEvent is one row of engagement_events.
type StoredEvent struct {
	ID        int64          `db:"id"         json:"id"`
	Name      string         `db:"name"       json:"event"`
	VisitorID string         `db:"visitor_id" json:"visitor_id"`
	PageID    string         `db:"page_id"    json:"page_id"`
	Params    types.JSONText `db:"params"     json:"params"`
	EmittedAt time.Time      `db:"emitted_at" json:"emitted_at"`
}

// EventRepository reads persisted events.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a repository over db.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// ListByPage returns a page's events oldest first.
func (r *EventRepository) ListByPage(ctx context.Context, pageID string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	events := []StoredEvent{}
	query := `
		SELECT id, name, visitor_id, page_id, params, emitted_at
		FROM engagement_events
		WHERE page_id = $1
		ORDER BY emitted_at ASC, id ASC
		LIMIT $2
	`

	if err := r.db.SelectContext(ctx, &events, query, pageID, limit); err != nil {
		return nil, fmt.Errorf("list events for page %s: %w", pageID, err)
	}

	return events, nil
}
