package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rithvik1122/Anubuddhi-sub001/internal/knowledge"
)

// SaveEntry archives a knowledge entry relationally. Implements
// knowledge.Archive.
func (s *Store) SaveEntry(ctx context.Context, e *knowledge.Entry) error {
	content, err := json.Marshal(e.Content)
	if err != nil {
		return fmt.Errorf("marshal entry %s content: %w", e.ID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO knowledge_entries (id, entry_type, content, tags, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Type, content, strings.Join(e.Tags, ","), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save entry %s: %w", e.ID, err)
	}
	return nil
}
