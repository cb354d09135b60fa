// Package search is the search-index collaborator, backed by Redis. Bulk
// indexing reports success and failure per document, which the persist
// pipeline relies on to compensate only the items that actually failed.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

// Document is one indexable record.
type Document struct {
	ID   string
	Data map[string]any
}

// ItemResult is the per-document outcome of a bulk index call.
type ItemResult struct {
	ID  string
	Err error
}

// BulkResult reports the outcome of a bulk index call per item. A transport
// failure of the whole call is returned as an error instead.
type BulkResult struct {
	Items []ItemResult
}

// Failed returns the ids of the documents that were not indexed.
func (r *BulkResult) Failed() map[string]bool {
	failed := map[string]bool{}
	for _, item := range r.Items {
		if item.Err != nil {
			failed[item.ID] = true
		}
	}
	return failed
}

// Config holds search index configuration
type Config struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// Index wraps the Redis-backed document index
type Index struct {
	client *redis.Client
	prefix string
	logger ectologger.Logger
}

// NewIndex creates a new search index client and verifies connectivity.
func NewIndex(cfg Config, logger ectologger.Logger) (*Index, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to search index at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "specimen-index"
	}

	return &Index{client: rdb, prefix: prefix, logger: logger}, nil
}

// Close closes the underlying connection.
func (i *Index) Close() error {
	return i.client.Close()
}

// Ping reports index reachability. Used by health checks.
func (i *Index) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return i.client.Ping(ctx).Err()
}

// BulkIndex writes all documents in one pipeline round trip. The returned
// BulkResult carries one entry per document in input order. When the whole
// pipeline fails at the transport level, no per-item results exist and the
// error is returned instead.
func (i *Index) BulkIndex(ctx context.Context, docs []Document) (*BulkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "search.Index.BulkIndex")
	defer span.End()

	if len(docs) == 0 {
		return &BulkResult{}, nil
	}

	pipe := i.client.Pipeline()
	cmds := make([]*redis.StatusCmd, len(docs))
	for n, doc := range docs {
		payload, err := json.Marshal(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal document %s: %w", doc.ID, err)
		}
		cmds[n] = pipe.Set(ctx, i.key(doc.ID), payload, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		// Distinguish a dead transport from per-command failures: when not a
		// single command got a reply, the call as a whole failed.
		anyReply := false
		for _, cmd := range cmds {
			if cmd.Err() == nil {
				anyReply = true
				break
			}
		}
		if !anyReply {
			i.logger.WithContext(ctx).WithError(err).Error("Bulk index call failed")
			return nil, fmt.Errorf("bulk index failed: %w", err)
		}
	}

	result := &BulkResult{Items: make([]ItemResult, len(docs))}
	for n, doc := range docs {
		result.Items[n] = ItemResult{ID: doc.ID, Err: cmds[n].Err()}
	}
	return result, nil
}

// Delete removes one document from the index. Deleting an id that is not
// indexed is not an error, which keeps compensation idempotent.
func (i *Index) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "search.Index.Delete")
	defer span.End()

	if err := i.client.Del(ctx, i.key(id)).Err(); err != nil {
		i.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to delete index document")
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// Reindex rewrites a single document, used to restore the previous version
// during rollback of an update.
func (i *Index) Reindex(ctx context.Context, doc Document) error {
	ctx, span := tracing.StartSpan(ctx, "search.Index.Reindex")
	defer span.End()

	payload, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", doc.ID, err)
	}
	if err := i.client.Set(ctx, i.key(doc.ID), payload, 0).Err(); err != nil {
		i.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": doc.ID}).Error("Failed to reindex document")
		return fmt.Errorf("failed to reindex document %s: %w", doc.ID, err)
	}
	return nil
}

func (i *Index) key(id string) string {
	return i.prefix + ":" + id
}
