// Package library serves a user's mirrored bookshelf, book details and notes.
package library

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/drallgood/weread-shelf-sync/internal/auth"
	"github.com/drallgood/weread-shelf-sync/internal/cache"
	"github.com/drallgood/weread-shelf-sync/internal/database"
	"github.com/drallgood/weread-shelf-sync/internal/logger"
	"github.com/drallgood/weread-shelf-sync/internal/notes"
	"github.com/drallgood/weread-shelf-sync/internal/search"
	"github.com/drallgood/weread-shelf-sync/internal/weread"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 50

	defaultBookTTL = 24 * time.Hour
)

// Store persists users, credentials and cached platform data.
type Store interface {
	weread.CacheStore
	UpsertUser(ctx context.Context, bundle weread.CredentialBundle) (*database.User, error)
	Bundle(user *database.User) (weread.CredentialBundle, error)
}

// Platform is the subset of weread.Client the service uses.
type Platform interface {
	CheckLiveness(ctx context.Context, b weread.CredentialBundle) (weread.LivenessResult, error)
	Reconcile(ctx context.Context, userVid string) (*weread.BookshelfSnapshot, error)
	BookInfo(ctx context.Context, b weread.CredentialBundle, bookID string) weread.CanonicalBook
	Bookmarks(ctx context.Context, b weread.CredentialBundle, bookID string) weread.BookmarkList
	Chapters(ctx context.Context, b weread.CredentialBundle, bookID string) ([]weread.Chapter, error)
}

// Options configure a Service.
type Options struct {
	BookTTL         time.Duration
	AllowUnverified bool
}

// RefreshStatus is the state of a user's most recent refresh.
type RefreshStatus struct {
	UserID    string     `json:"user_id"`
	Status    string     `json:"status"` // idle, refreshing, completed, error
	LastSync  *time.Time `json:"last_sync,omitempty"`
	Error     string     `json:"error,omitempty"`
	BookCount int        `json:"book_count,omitempty"`
}

// Service implements the API's operations for authenticated users.
type Service struct {
	store    Store
	platform Platform
	tokens   *auth.TokenService
	books    cache.Cache[string, weread.CanonicalBook]
	notes    *notes.Renderer
	opts     Options
	logger   *logger.Logger

	statusMu sync.Mutex
	statuses map[string]*RefreshStatus
}

func NewService(store Store, platform Platform, tokens *auth.TokenService, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Get()
	}
	if opts.BookTTL <= 0 {
		opts.BookTTL = defaultBookTTL
	}
	return &Service{
		store:    store,
		platform: platform,
		tokens:   tokens,
		books:    cache.WithTTL(cache.NewMemoryCache[string, weread.CanonicalBook]("book_detail", log), opts.BookTTL),
		notes:    notes.NewRenderer(),
		opts:     opts,
		logger:   log,
		statuses: make(map[string]*RefreshStatus),
	}
}

// UserView is the public profile of a user.
type UserView struct {
	ID        string    `json:"id"`
	WrVid     string    `json:"wr_vid"`
	WrName    string    `json:"wr_name"`
	WrAvatar  string    `json:"wr_avatar"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ViewOf renders user for API output, decoding the cookie-encoded profile.
func ViewOf(user *database.User) UserView {
	name := weread.SafeUnquote(user.WrName)
	if name == "" {
		name = "未获取"
	}
	return UserView{
		ID:        user.ID,
		WrVid:     user.WrVid,
		WrName:    name,
		WrAvatar:  weread.SafeUnquote(user.WrAvatar),
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt,
	}
}

// LoginResult is returned by Login.
type LoginResult struct {
	AccessToken       string    `json:"access_token"`
	TokenType         string    `json:"token_type"`
	ExpiresAt         time.Time `json:"expires_at"`
	User              UserView  `json:"user"`
	LoginMode         string    `json:"login_mode"`
	Verified          bool      `json:"weread_verified"`
	CachedBooksCount  int       `json:"cached_books_count"`
	CacheSuccess      bool      `json:"cache_success"`
	ValidationMessage string    `json:"validation_message"`
}

// Login checks the bundle, binds it to a local user and issues a token. A
// bundle the platform rejects is only accepted when unverified logins are
// enabled, and is marked as a dev login.
func (s *Service) Login(ctx context.Context, bundle weread.CredentialBundle) (*LoginResult, error) {
	if err := weread.ValidateFormat(bundle); err != nil {
		return nil, err
	}
	if bundle.Pf == "" {
		bundle.Pf = "0"
	}

	live, liveErr := s.platform.CheckLiveness(ctx, bundle)
	mode := auth.LoginModeVerified
	if !live.OK {
		if !s.opts.AllowUnverified {
			return nil, &LoginRejectedError{Message: live.Message, Err: liveErr}
		}
		mode = auth.LoginModeDev
		s.logger.Warn("Accepting unverified login", map[string]interface{}{
			"wr_vid": bundle.Vid,
			"reason": live.Message,
		})
	}

	user, err := s.store.UpsertUser(ctx, bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	result := &LoginResult{
		TokenType:         "bearer",
		User:              ViewOf(user),
		LoginMode:         mode,
		Verified:          mode == auth.LoginModeVerified,
		ValidationMessage: "验证通过",
	}
	if !result.Verified {
		result.ValidationMessage = live.Message
	}

	if result.Verified {
		snap, err := s.Refresh(ctx, user)
		if err != nil {
			s.logger.Warn("Initial bookshelf cache failed", map[string]interface{}{
				"user_id": user.ID,
				"error":   err.Error(),
			})
		} else {
			result.CacheSuccess = true
			result.CachedBooksCount = len(snap.Books)
		}
	}

	token, exp, err := s.tokens.Sign(auth.Subject{UserID: user.ID, WrVid: user.WrVid, LoginMode: mode})
	if err != nil {
		return nil, err
	}
	result.AccessToken = token
	result.ExpiresAt = exp

	s.logger.Info("User logged in", map[string]interface{}{
		"user_id":    user.ID,
		"login_mode": mode,
		"books":      result.CachedBooksCount,
	})
	return result, nil
}

// Shelf returns the cached snapshot, reconciling when there is none.
func (s *Service) Shelf(ctx context.Context, user *database.User) (*weread.BookshelfSnapshot, error) {
	snap, err := s.store.LoadSnapshot(ctx, user.WrVid)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return snap, nil
	}
	return s.Refresh(ctx, user)
}

// Refresh reconciles the shelf and replaces the cached snapshot. Only one
// refresh per user runs at a time.
func (s *Service) Refresh(ctx context.Context, user *database.User) (*weread.BookshelfSnapshot, error) {
	if !s.beginRefresh(user.ID) {
		return nil, ErrRefreshInProgress
	}

	snap, err := s.refresh(ctx, user)
	s.endRefresh(user.ID, snap, err)
	return snap, err
}

func (s *Service) refresh(ctx context.Context, user *database.User) (*weread.BookshelfSnapshot, error) {
	snap, err := s.platform.Reconcile(ctx, user.WrVid)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSnapshot(ctx, user.WrVid, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Service) beginRefresh(userID string) bool {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	st, ok := s.statuses[userID]
	if ok && st.Status == "refreshing" {
		return false
	}
	if !ok {
		st = &RefreshStatus{UserID: userID}
		s.statuses[userID] = st
	}
	st.Status = "refreshing"
	st.Error = ""
	return true
}

func (s *Service) endRefresh(userID string, snap *weread.BookshelfSnapshot, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	st := s.statuses[userID]
	now := time.Now()
	st.LastSync = &now
	if err != nil {
		st.Status = "error"
		st.Error = err.Error()
		return
	}
	st.Status = "completed"
	st.BookCount = len(snap.Books)
}

// Status returns a copy of the user's refresh status.
func (s *Service) Status(userID string) RefreshStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if st, ok := s.statuses[userID]; ok {
		return *st
	}
	return RefreshStatus{UserID: userID, Status: "idle"}
}

// BookSummary is one row of the paginated shelf.
type BookSummary struct {
	BookID         string `json:"bookId"`
	Title          string `json:"title"`
	Author         string `json:"author"`
	Cover          string `json:"cover"`
	FinishReading  int    `json:"finishReading"`
	Category       string `json:"category"`
	Rating         string `json:"newRatingDetail"`
	ReadUpdateTime int64  `json:"readUpdateTime"`
}

// BookPage is one page of the shelf.
type BookPage struct {
	Books      []BookSummary `json:"books"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
	Source     string        `json:"source,omitempty"`
}

// ValidatePage checks page >= 1 and 1 <= pageSize <= MaxPageSize.
func ValidatePage(page, pageSize int) error {
	if page < 1 {
		return &ValidationError{Field: "page", Msg: "must be at least 1"}
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return &ValidationError{Field: "page_size", Msg: fmt.Sprintf("must be between 1 and %d", MaxPageSize)}
	}
	return nil
}

// Books returns one page of the shelf, most recently read first. Rows are
// filled from book details when those are available.
func (s *Service) Books(ctx context.Context, user *database.User, page, pageSize int) (*BookPage, error) {
	if err := ValidatePage(page, pageSize); err != nil {
		return nil, err
	}
	snap, err := s.Shelf(ctx, user)
	if err != nil {
		return nil, err
	}

	books := make([]weread.CanonicalBook, len(snap.Books))
	copy(books, snap.Books)
	sort.SliceStable(books, func(i, j int) bool { return books[i].ReadUpdateTime > books[j].ReadUpdateTime })

	total := len(books)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	out := &BookPage{
		Books:      make([]BookSummary, 0, end-start),
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
		Source:     snap.Source,
	}
	for _, b := range books[start:end] {
		if detail, ok := s.cachedDetail(ctx, b.BookID); ok {
			b = mergeDetail(b, detail)
		}
		out.Books = append(out.Books, summarize(b))
	}
	return out, nil
}

func summarize(b weread.CanonicalBook) BookSummary {
	return BookSummary{
		BookID:         b.BookID,
		Title:          b.Title,
		Author:         b.Author,
		Cover:          weread.LargeCover(b.Cover),
		FinishReading:  b.FinishReading,
		Category:       b.Category,
		Rating:         b.Rating,
		ReadUpdateTime: b.ReadUpdateTime,
	}
}

// mergeDetail overlays detail on a shelf row, keeping the shelf's reading
// state.
func mergeDetail(row, detail weread.CanonicalBook) weread.CanonicalBook {
	merged := detail
	merged.ReadUpdateTime = row.ReadUpdateTime
	merged.FinishReading = row.FinishReading
	if merged.Cover == "" {
		merged.Cover = row.Cover
	}
	if merged.Category == "" {
		merged.Category = row.Category
	}
	return merged
}

// cachedDetail looks a book up in memory, then in the database. It never
// calls the platform.
func (s *Service) cachedDetail(ctx context.Context, bookID string) (weread.CanonicalBook, bool) {
	if b, ok := s.books.Get(bookID); ok {
		return b, true
	}
	stored, err := s.store.LoadBook(ctx, bookID)
	if err != nil {
		s.logger.Warn("Failed to load cached book", map[string]interface{}{
			"book_id": bookID,
			"error":   err.Error(),
		})
		return weread.CanonicalBook{}, false
	}
	if stored == nil {
		return weread.CanonicalBook{}, false
	}
	s.books.Set(bookID, *stored, 0)
	return *stored, true
}

// Book returns book details from the memory cache, then the database, then
// the platform. Placeholder answers are returned but never cached.
func (s *Service) Book(ctx context.Context, user *database.User, bookID string) (weread.CanonicalBook, error) {
	if bookID == "" {
		return weread.CanonicalBook{}, &ValidationError{Field: "book_id", Msg: "must not be empty"}
	}
	if b, ok := s.cachedDetail(ctx, bookID); ok {
		return withLargeCover(b), nil
	}

	bundle, err := s.store.Bundle(user)
	if err != nil {
		return weread.CanonicalBook{}, err
	}
	book := s.platform.BookInfo(ctx, bundle, bookID)
	if book.Source == weread.SourceAuthError {
		return book, &weread.AuthError{Endpoint: "book_info", Status: http.StatusUnauthorized}
	}
	if !weread.IsPlaceholder(book) {
		s.books.Set(bookID, book, 0)
		if err := s.store.SaveBook(ctx, book); err != nil {
			s.logger.Warn("Failed to cache book", map[string]interface{}{
				"book_id": bookID,
				"error":   err.Error(),
			})
		}
	}
	return withLargeCover(book), nil
}

func withLargeCover(b weread.CanonicalBook) weread.CanonicalBook {
	b.Cover = weread.LargeCover(b.Cover)
	return b
}

// Chapters returns the book's table of contents.
func (s *Service) Chapters(ctx context.Context, user *database.User, bookID string) ([]weread.Chapter, error) {
	bundle, err := s.store.Bundle(user)
	if err != nil {
		return nil, err
	}
	chapters, err := s.platform.Chapters(ctx, bundle, bookID)
	if err != nil {
		return nil, err
	}
	if chapters == nil {
		chapters = []weread.Chapter{}
	}
	return chapters, nil
}

// Notes renders the book's highlights. A book without highlights yields an
// empty document, not an error.
func (s *Service) Notes(ctx context.Context, user *database.User, bookID string, opt notes.Option) (*notes.Document, error) {
	book, err := s.Book(ctx, user, bookID)
	if err != nil {
		return nil, err
	}
	bundle, err := s.store.Bundle(user)
	if err != nil {
		return nil, err
	}

	marks := s.platform.Bookmarks(ctx, bundle, bookID)
	chapters := marks.Chapters
	if len(chapters) == 0 {
		toc, err := s.platform.Chapters(ctx, bundle, bookID)
		switch {
		case weread.IsAuthError(err):
			return nil, err
		case err != nil:
			s.logger.Warn("Rendering notes without chapters", map[string]interface{}{
				"book_id": bookID,
				"error":   err.Error(),
			})
		default:
			chapters = toc
		}
	}
	return s.notes.Render(bookID, book.Title, chapters, marks.Updated, opt)
}

// Export renders the notes as a downloadable file.
func (s *Service) Export(ctx context.Context, user *database.User, bookID string, opt notes.Option, format notes.Format) (*notes.Export, error) {
	doc, err := s.Notes(ctx, user, bookID, opt)
	if err != nil {
		return nil, err
	}
	if doc.Empty() {
		return nil, ErrNoNotes
	}
	export := s.notes.Export(doc, format)
	return &export, nil
}

// Search ranks the user's shelf against q.
func (s *Service) Search(ctx context.Context, user *database.User, q string, page, pageSize int) (*search.Page, error) {
	if q == "" {
		return nil, &ValidationError{Field: "q", Msg: "must not be empty"}
	}
	if err := ValidatePage(page, pageSize); err != nil {
		return nil, err
	}
	snap, err := s.Shelf(ctx, user)
	if err != nil {
		return nil, err
	}
	result := search.Search(snap.Books, q, page, pageSize)
	return &result, nil
}

// Suggestions matches q against the cached shelf only; a user without a
// cached shelf gets none.
func (s *Service) Suggestions(ctx context.Context, user *database.User, q string, limit int) ([]search.Suggestion, error) {
	if q == "" {
		return nil, &ValidationError{Field: "q", Msg: "must not be empty"}
	}
	if limit < 1 || limit > search.MaxSuggestionLimit {
		return nil, &ValidationError{Field: "limit", Msg: fmt.Sprintf("must be between 1 and %d", search.MaxSuggestionLimit)}
	}
	snap, err := s.store.LoadSnapshot(ctx, user.WrVid)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return []search.Suggestion{}, nil
	}
	return search.Suggest(snap.Books, q, limit), nil
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
