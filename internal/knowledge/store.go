// Package knowledge persists opaque knowledge records: experiment designs,
// analysis summaries and workflow failure records. Entries are embedded and
// upserted into a Qdrant collection for later similarity search, and
// optionally archived relationally.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rithvik1122/Anubuddhi-sub001/internal/embedding"
)

// Entry is one stored knowledge record.
type Entry struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Content   map[string]any `json:"content"`
	Tags      []string       `json:"tags,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Archive is an optional relational sink for entries, alongside the vector
// index.
type Archive interface {
	SaveEntry(ctx context.Context, e *Entry) error
}

const collection = "anubuddhi_knowledge"

// VectorStore embeds entries and writes them to Qdrant. Implementations of
// the orchestrator's knowledge interface never read back through it; reads
// happen through Search in external tooling.
type VectorStore struct {
	qdrant   *QdrantClient
	embedder embedding.Provider
	archive  Archive
	logger   *zap.Logger
}

// NewVectorStore ensures the collection exists and returns the store.
func NewVectorStore(ctx context.Context, qc *QdrantClient, embedder embedding.Provider, logger *zap.Logger) (*VectorStore, error) {
	if err := qc.EnsureCollection(ctx, collection, uint64(embedder.Dimension())); err != nil {
		return nil, err
	}
	return &VectorStore{qdrant: qc, embedder: embedder, logger: logger}, nil
}

// SetArchive attaches a relational sink; entries are archived best-effort.
func (s *VectorStore) SetArchive(a Archive) { s.archive = a }

// Store embeds and persists one entry, returning its ID.
func (s *VectorStore) Store(ctx context.Context, entryType string, content map[string]any, tags []string) (string, error) {
	e := &Entry{
		ID:        uuid.New().String(),
		Type:      entryType,
		Content:   content,
		Tags:      tags,
		CreatedAt: time.Now(),
	}

	text := entryText(e)
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("embed entry: %w", err)
	}
	if len(vecs) == 0 {
		return "", fmt.Errorf("embedder returned no vector")
	}

	contentJSON, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}
	payload := map[string]string{
		"type":       entryType,
		"tags":       strings.Join(tags, ","),
		"content":    string(contentJSON),
		"created_at": e.CreatedAt.Format(time.RFC3339),
	}
	if err := s.qdrant.Upsert(ctx, collection, e.ID, vecs[0], payload); err != nil {
		return "", fmt.Errorf("upsert entry: %w", err)
	}

	if s.archive != nil {
		if err := s.archive.SaveEntry(ctx, e); err != nil {
			s.logger.Warn("entry not archived", zap.String("entry", e.ID), zap.Error(err))
		}
	}

	s.logger.Info("knowledge entry stored",
		zap.String("entry", e.ID),
		zap.String("type", entryType))
	return e.ID, nil
}

// Search returns the nearest entries to the query text.
func (s *VectorStore) Search(ctx context.Context, query string, topK uint64) ([]*SearchResult, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder returned no vector")
	}
	return s.qdrant.Search(ctx, collection, vecs[0], topK)
}

// entryText flattens an entry into embeddable text.
func entryText(e *Entry) string {
	var b strings.Builder
	b.WriteString(e.Type)
	for _, t := range e.Tags {
		b.WriteString(" ")
		b.WriteString(t)
	}
	for k, v := range e.Content {
		fmt.Fprintf(&b, " %s: %v", k, v)
	}
	return b.String()
}
