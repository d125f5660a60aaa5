package weread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drallgood/weread-shelf-sync/internal/logger"
)

const (
	shelfTimeout        = 15 * time.Second
	minimalShelfTimeout = 10 * time.Second
	noDataPreviewLimit  = 1000

	sourceEnhanced = "html_rawBooks_plus_syncBook_enhanced"
)

// ErrNoCredentials is returned when the store has nothing for the user.
var ErrNoCredentials = errors.New("no stored credentials for user")

// Config is the immutable configuration of a Reconciler.
type Config struct {
	WebURL     string
	BaseURL    string
	UserAgent  string
	BatchSize  int
	BatchDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.WebURL == "" {
		c.WebURL = DefaultWebURL
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.WebURL = strings.TrimRight(c.WebURL, "/")
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	return c
}

// Reconciler assembles a bookshelf snapshot from whichever shelf source
// answers, enriching identifier-only entries through syncBook. It holds no
// per-call state and is safe for concurrent use.
type Reconciler struct {
	cfg         Config
	transport   Transport
	credentials CredentialStore
	executor    *Executor
	log         *logger.Logger
}

// NewReconciler wires a Reconciler.
func NewReconciler(cfg Config, transport Transport, credentials CredentialStore, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Get()
	}
	return &Reconciler{
		cfg:         cfg.withDefaults(),
		transport:   transport,
		credentials: credentials,
		executor:    NewExecutor(transport, log),
		log:         log,
	}
}

// ShelfCandidates lists the shelf sources in the order they are tried.
func (r *Reconciler) ShelfCandidates(b CredentialBundle) []CandidateOperation {
	web := BrowserHeaders(b, r.cfg.UserAgent)
	api := APIHeaders(b)
	vid := b.Vid
	return []CandidateOperation{
		{Name: "web_shelf_new", URL: r.cfg.WebURL + "/web/shelf", Headers: web, Timeout: shelfTimeout},
		{Name: "web_bookshelf", URL: r.cfg.WebURL + "/web/bookshelf", Headers: web, Timeout: shelfTimeout},
		{Name: "shelf_sync_old", URL: fmt.Sprintf("%s/shelf/sync?userVid=%s&synckey=0&lectureSynckey=0", r.cfg.BaseURL, vid), Headers: api, Timeout: shelfTimeout},
		{Name: "user_bookshelf", URL: fmt.Sprintf("%s/user/bookshelf?userVid=%s", r.cfg.BaseURL, vid), Headers: api, Timeout: shelfTimeout},
		{Name: "web_shelf_minimal", URL: r.cfg.WebURL + "/web/shelf?minimal=1", Headers: web, Timeout: minimalShelfTimeout},
	}
}

// stageOne is the shelf as the winning source reported it.
type stageOne struct {
	books      []RawBook
	progress   []BookProgress
	source     string
	preview    string
	hasMore    bool
	totalCount int
}

// Reconcile fetches the stored credentials for userVid and builds a fresh
// snapshot. It fails only on invalid credentials or when every shelf source
// failed.
func (r *Reconciler) Reconcile(ctx context.Context, userVid string) (*BookshelfSnapshot, error) {
	bundle, err := r.credentials.GetCredentials(ctx, userVid)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if bundle == nil {
		return nil, ErrNoCredentials
	}
	return r.ReconcileWith(ctx, *bundle)
}

// ReconcileWith builds a snapshot for an explicit bundle.
func (r *Reconciler) ReconcileWith(ctx context.Context, bundle CredentialBundle) (*BookshelfSnapshot, error) {
	if err := ValidateFormat(bundle); err != nil {
		return nil, err
	}
	log := r.log.With(map[string]interface{}{"user_vid": bundle.Vid})

	result, err := r.executor.Execute(ctx, r.ShelfCandidates(bundle))
	if err != nil {
		log.Error("Every shelf source failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	first := interpret(result)

	var full []RawBook
	var need []string
	for _, b := range first.books {
		id := b.Identifier()
		if id == "" {
			continue
		}
		if b.NeedsDetailFetch {
			need = append(need, id)
		} else {
			full = append(full, b)
		}
	}

	snapshot := &BookshelfSnapshot{
		UserVid:    bundle.Vid,
		Source:     first.source,
		Preview:    first.preview,
		HasMore:    first.hasMore,
		TotalCount: first.totalCount,
		Progress:   first.progress,
		FetchedAt:  time.Now().UTC(),
	}

	var synced []RawBook
	if len(need) > 0 {
		syncer := NewSynchronizer(r.transport, SyncConfig{
			URL:        r.cfg.WebURL + "/web/shelf/syncBook",
			Headers:    JSONHeaders(bundle, r.cfg.UserAgent),
			BatchSize:  r.cfg.BatchSize,
			BatchDelay: r.cfg.BatchDelay,
		}, log)
		sr := syncer.Sync(ctx, need)
		synced = sr.Books
		snapshot.Progress = append(snapshot.Progress, sr.Progress...)
		snapshot.Source = sourceEnhanced
	}

	seen := make(map[string]bool, len(full)+len(synced))
	for _, group := range [][]RawBook{full, synced} {
		for _, raw := range group {
			book := Normalize(raw)
			if book.BookID == "" || seen[book.BookID] {
				continue
			}
			seen[book.BookID] = true
			snapshot.Books = append(snapshot.Books, book)
		}
	}

	snapshot.Counts = SnapshotCounts{
		HTMLBooks: len(first.books),
		FullInfo:  len(full),
		NeedSync:  len(need),
		Synced:    len(synced),
		Total:     len(snapshot.Books),
	}

	log.Info("Bookshelf reconciled", map[string]interface{}{
		"source":    snapshot.Source,
		"candidate": result.Candidate,
		"total":     snapshot.Counts.Total,
		"full_info": snapshot.Counts.FullInfo,
		"need_sync": snapshot.Counts.NeedSync,
		"synced":    snapshot.Counts.Synced,
	})
	return snapshot, nil
}

func interpret(result *Result) stageOne {
	name := result.Candidate
	switch result.Kind {
	case ResultDocument:
		ex := ExtractBookshelf(result.Document)
		if len(ex.Books) == 0 {
			return stageOne{
				source:  name + "_html_no_data",
				preview: truncate(result.Document, noDataPreviewLimit),
			}
		}
		return stageOne{
			books:      ex.Books,
			source:     name + "_html_parsed",
			hasMore:    ex.HasMore,
			totalCount: ex.TotalCount,
		}
	case ResultJSON:
		return decodeJSONShelf(name, result.JSON)
	default:
		return stageOne{source: name + "_non_json", preview: result.Raw}
	}
}

type jsonShelf struct {
	Books        []json.RawMessage `json:"books"`
	BookProgress []json.RawMessage `json:"bookProgress"`
	HasMore      FlexBool          `json:"hasMore"`
	TotalCount   FlexInt           `json:"totalCount"`
}

func decodeJSONShelf(name string, data json.RawMessage) stageOne {
	out := stageOne{source: name + "_json"}
	var shelf jsonShelf
	if json.Unmarshal(data, &shelf) != nil {
		return out
	}
	out.hasMore = bool(shelf.HasMore)
	out.totalCount = int(shelf.TotalCount)
	for _, item := range shelf.Books {
		book, ok := ParseRawBook(item)
		if !ok {
			continue
		}
		if book.Source == "" {
			book.Source = FlexString(out.source)
		}
		out.books = append(out.books, book)
	}
	for _, item := range shelf.BookProgress {
		var p BookProgress
		if json.Unmarshal(item, &p) == nil && p.BookID != "" {
			out.progress = append(out.progress, p)
		}
	}
	return out
}
