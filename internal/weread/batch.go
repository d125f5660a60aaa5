package weread

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/drallgood/weread-shelf-sync/internal/logger"
)

const (
	DefaultBatchSize  = 250
	DefaultBatchDelay = 200 * time.Millisecond

	syncTimeout  = 30 * time.Second
	sourceSynced = "syncBook_api"
)

// BatchOutcome describes one syncBook request.
type BatchOutcome struct {
	Size  int
	Books int
	// Err is nil when the batch succeeded.
	Err error
}

// SyncResult accumulates every successful batch.
type SyncResult struct {
	Books    []RawBook
	Progress []BookProgress
	Batches  []BatchOutcome
}

// Failed returns the number of batches that were skipped.
func (r SyncResult) Failed() int {
	n := 0
	for _, b := range r.Batches {
		if b.Err != nil {
			n++
		}
	}
	return n
}

// SyncConfig configures a Synchronizer.
type SyncConfig struct {
	// URL is the syncBook endpoint.
	URL        string
	Headers    map[string]string
	BatchSize  int
	BatchDelay time.Duration
}

// Synchronizer fetches full records for identifier-only books in fixed size
// batches.
type Synchronizer struct {
	transport Transport
	cfg       SyncConfig
	log       *logger.Logger
}

// NewSynchronizer applies defaults to cfg.
func NewSynchronizer(transport Transport, cfg SyncConfig, log *logger.Logger) *Synchronizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if log == nil {
		log = logger.Get()
	}
	return &Synchronizer{transport: transport, cfg: cfg, log: log}
}

type syncResponse struct {
	Books        []json.RawMessage `json:"books"`
	BookProgress []json.RawMessage `json:"bookProgress"`
}

// Sync never fails. Batches that fail are recorded in the result and
// skipped; cancellation stops after the current batch.
func (s *Synchronizer) Sync(ctx context.Context, ids []string) SyncResult {
	var result SyncResult
	if len(ids) == 0 {
		return result
	}

	total := (len(ids) + s.cfg.BatchSize - 1) / s.cfg.BatchSize
	s.log.Info("Syncing identifier-only books", map[string]interface{}{
		"ids":     len(ids),
		"batches": total,
	})

	for start := 0; start < len(ids); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		books, progress, err := s.syncBatch(ctx, batch)
		result.Batches = append(result.Batches, BatchOutcome{Size: len(batch), Books: len(books), Err: err})
		if err != nil {
			s.log.Warn("Skipping failed sync batch", map[string]interface{}{
				"batch_start": start,
				"batch_size":  len(batch),
				"error":       err.Error(),
			})
		} else {
			result.Books = append(result.Books, books...)
			result.Progress = append(result.Progress, progress...)
		}

		if end < len(ids) {
			select {
			case <-ctx.Done():
				s.log.Warn("Sync cancelled between batches", map[string]interface{}{
					"completed": len(result.Batches),
					"total":     total,
				})
				return result
			case <-time.After(s.cfg.BatchDelay):
			}
		}
	}

	s.log.Info("Sync complete", map[string]interface{}{
		"books":  len(result.Books),
		"failed": result.Failed(),
	})
	return result
}

func (s *Synchronizer) syncBatch(ctx context.Context, ids []string) ([]RawBook, []BookProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	res, err := s.transport.Send(ctx, &Request{
		Method:  http.MethodPost,
		URL:     s.cfg.URL,
		Headers: s.cfg.Headers,
		Body:    map[string][]string{"bookIds": ids},
		Timeout: syncTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, nil, &AuthError{Endpoint: "syncBook", Status: res.StatusCode}
	default:
		return nil, nil, &StatusError{Endpoint: "syncBook", Status: res.StatusCode}
	}

	if !isJSONObject(res.Body) {
		return nil, nil, &ParseError{Endpoint: "syncBook", Err: errors.New("response is not a JSON object")}
	}
	var payload syncResponse
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return nil, nil, &ParseError{Endpoint: "syncBook", Err: err}
	}

	books := make([]RawBook, 0, len(payload.Books))
	for _, item := range payload.Books {
		book, ok := ParseRawBook(item)
		if !ok || book.Identifier() == "" {
			continue
		}
		if book.Source == "" {
			book.Source = sourceSynced
		}
		books = append(books, book)
	}
	progress := make([]BookProgress, 0, len(payload.BookProgress))
	for _, item := range payload.BookProgress {
		var p BookProgress
		if json.Unmarshal(item, &p) == nil && p.BookID != "" {
			progress = append(progress, p)
		}
	}
	return books, progress, nil
}

func isJSONObject(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '{' && json.Valid(data)
}
