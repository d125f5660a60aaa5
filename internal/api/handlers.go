// Package api exposes the library service over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/drallgood/weread-shelf-sync/internal/auth"
	"github.com/drallgood/weread-shelf-sync/internal/database"
	"github.com/drallgood/weread-shelf-sync/internal/library"
	"github.com/drallgood/weread-shelf-sync/internal/notes"
	"github.com/drallgood/weread-shelf-sync/internal/search"
	"github.com/drallgood/weread-shelf-sync/internal/weread"
)

const maxLoginBody = 64 << 10

// Service is implemented by *library.Service.
type Service interface {
	Login(ctx context.Context, bundle weread.CredentialBundle) (*library.LoginResult, error)
	Books(ctx context.Context, user *database.User, page, pageSize int) (*library.BookPage, error)
	Book(ctx context.Context, user *database.User, bookID string) (weread.CanonicalBook, error)
	Refresh(ctx context.Context, user *database.User) (*weread.BookshelfSnapshot, error)
	Status(userID string) library.RefreshStatus
	Notes(ctx context.Context, user *database.User, bookID string, opt notes.Option) (*notes.Document, error)
	Export(ctx context.Context, user *database.User, bookID string, opt notes.Option, format notes.Format) (*notes.Export, error)
	Chapters(ctx context.Context, user *database.User, bookID string) ([]weread.Chapter, error)
	Search(ctx context.Context, user *database.User, q string, page, pageSize int) (*search.Page, error)
	Suggestions(ctx context.Context, user *database.User, q string, limit int) ([]search.Suggestion, error)
}

// Handler provides the HTTP handlers of the public API.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register mounts all routes on mux. Everything except login is wrapped
// with requireAuth.
func (h *Handler) Register(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	protect := func(fn userHandler) http.Handler { return requireAuth(withUser(fn)) }

	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.Handle("GET /api/auth/me", protect(h.Me))
	mux.Handle("POST /api/auth/logout", protect(h.Logout))

	mux.Handle("GET /api/books", protect(h.ListBooks))
	mux.Handle("POST /api/books/refresh", protect(h.RefreshBooks))
	mux.Handle("GET /api/books/status", protect(h.RefreshStatus))
	mux.Handle("GET /api/books/{id}", protect(h.GetBook))

	mux.Handle("GET /api/notes/{id}", protect(h.GetNotes))
	mux.Handle("GET /api/notes/{id}/chapters", protect(h.GetChapters))
	mux.Handle("GET /api/notes/{id}/export", protect(h.ExportNotes))

	mux.Handle("GET /api/search", protect(h.Search))
	mux.Handle("GET /api/search/suggestions", protect(h.Suggestions))
}

// LoginRequest accepts the wr_* fields directly or a raw cookie string.
type LoginRequest struct {
	weread.CredentialBundle
	Cookie string `json:"cookie,omitempty"`
}

func (req LoginRequest) bundle() weread.CredentialBundle {
	b := req.CredentialBundle
	if req.Cookie == "" {
		return b
	}
	parsed := weread.ParseCookieString(req.Cookie)
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&b.Gid, parsed.Gid)
	fill(&b.Vid, parsed.Vid)
	fill(&b.Skey, parsed.Skey)
	fill(&b.Rt, parsed.Rt)
	fill(&b.LocalVid, parsed.LocalVid)
	fill(&b.Name, parsed.Name)
	fill(&b.Avatar, parsed.Avatar)
	fill(&b.Gender, parsed.Gender)
	fill(&b.Pf, parsed.Pf)
	return b
}

var loginMessages = map[string]string{
	auth.LoginModeVerified: "登录成功，微信读书验证通过",
	auth.LoginModeDev:      "登录成功（开发模式）",
}

// Login handles POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req LoginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxLoginBody)).Decode(&req); err != nil {
		writeErrorResponse(ctx, w, &library.ValidationError{Field: "body", Msg: "invalid JSON"})
		return
	}

	res, err := h.service.Login(ctx, req.bundle())
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}
	setSessionCookie(w, r, res)
	writeSuccessResponse(ctx, w, loginMessages[res.LoginMode], res)
}

// setSessionCookie mirrors the access token into the session cookie so
// browsers can authenticate without a header.
func setSessionCookie(w http.ResponseWriter, r *http.Request, res *library.LoginResult) {
	cookie := &http.Cookie{
		Name:     auth.CookieName,
		Value:    res.AccessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
	if !res.ExpiresAt.IsZero() {
		cookie.Expires = res.ExpiresAt
		cookie.MaxAge = int(time.Until(res.ExpiresAt).Seconds())
	}
	http.SetCookie(w, cookie)
}

// MeResponse is the current user plus how the session was established.
type MeResponse struct {
	library.UserView
	LoginMode string `json:"login_mode,omitempty"`
}

// Me handles GET /api/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request, user *database.User) {
	resp := MeResponse{UserView: library.ViewOf(user)}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		resp.LoginMode = claims.LoginMode
	}
	writeSuccessResponse(r.Context(), w, "User information retrieved", resp)
}

// Logout handles POST /api/auth/logout. Tokens are stateless; the client
// discards its copy.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request, _ *database.User) {
	http.SetCookie(w, &http.Cookie{Name: auth.CookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	writeSuccessResponse(r.Context(), w, "Logged out successfully", nil)
}

// ListBooks handles GET /api/books
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request, user *database.User) {
	ctx := r.Context()
	page, pageSize, err := pagination(r.URL.Query())
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}
	result, err := h.service.Books(ctx, user, page, pageSize)
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}
	writeSuccessResponse(ctx, w, "Books retrieved successfully", result)
}

// RefreshBooks handles POST /api/books/refresh
func (h *Handler) RefreshBooks(w http.ResponseWriter, r *http.Request, user *database.User) {
	ctx := r.Context()
	snap, err := h.service.Refresh(ctx, user)
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}
	writeSuccessResponse(ctx, w, "Books refreshed successfully", map[string]interface{}{
		"total":      len(snap.Books),
		"source":     snap.Source,
		"counts":     snap.Counts,
		"fetched_at": snap.FetchedAt,
	})
}

// RefreshStatus handles GET /api/books/status
func (h *Handler) RefreshStatus(w http.ResponseWriter, r *http.Request, user *database.User) {
	writeSuccessResponse(r.Context(), w, "Refresh status retrieved", h.service.Status(user.ID))
}

// GetBook handles GET /api/books/{id}
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request, user *database.User) {
	ctx := r.Context()
	book, err := h.service.Book(ctx, user, r.PathValue("id"))
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}
	writeSuccessResponse(ctx, w, "Book detail retrieved successfully", book)
}

// GetNotes handles GET /api/notes/{id}
func (h *Handler) GetNotes(w http.ResponseWriter, r *http.Request, user *database.User) {
	ctx := r.Context()
	opt := notes.ParseOption(r.URL.Query().Get("option"))
	doc, err := h.service.Notes(ctx, user, r.PathValue("id"), opt)
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}
	if doc.Empty() {
		writeJSONResponse(ctx, w, http.StatusOK, APIResponse{Success: false, Message: "No notes found for this book"})
		return
	}
	writeSuccessResponse(ctx, w, "Notes retrieved successfully", doc)
}

// GetChapters handles GET /api/notes/{id}/chapters
func (h *Handler) GetChapters(w http.ResponseWriter, r *http.Request, user *database.User) {
	ctx := r.Context()
	chapters, err := h.service.Chapters(ctx, user, r.PathValue("id"))
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}
	writeSuccessResponse(ctx, w, "Chapters retrieved successfully", map[string]interface{}{"chapters": chapters})
}

// ExportNotes handles GET /api/notes/{id}/export. With download=1 the file
// itself is returned instead of the JSON envelope.
func (h *Handler) ExportNotes(w http.ResponseWriter, r *http.Request, user *database.User) {
	ctx := r.Context()
	q := r.URL.Query()
	format, err := notes.ParseFormat(q.Get("format"))
	if err != nil {
		writeErrorResponse(ctx, w, &library.ValidationError{Field: "format", Msg: err.Error()})
		return
	}

	export, err := h.service.Export(ctx, user, r.PathValue("id"), notes.ParseOption(q.Get("option")), format)
	if errors.Is(err, library.ErrNoNotes) {
		writeJSONResponse(ctx, w, http.StatusOK, APIResponse{Success: false, Message: "No notes found for this book"})
		return
	}
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}

	if download, _ := strconv.ParseBool(q.Get("download")); download {
		contentType := "text/markdown; charset=utf-8"
		if export.Format == notes.FormatHTML {
			contentType = "text/html; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(export.Filename)))
		_, _ = io.WriteString(w, export.Content)
		return
	}
	writeSuccessResponse(ctx, w, "Notes exported as "+string(export.Format), export)
}

// Search handles GET /api/search
func (h *Handler) Search(w http.ResponseWriter, r *http.Request, user *database.User) {
	ctx := r.Context()
	q := r.URL.Query()
	page, pageSize, err := pagination(q)
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}
	query := strings.TrimSpace(q.Get("q"))
	result, err := h.service.Search(ctx, user, query, page, pageSize)
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}
	writeSuccessResponse(ctx, w, fmt.Sprintf("Found %d books matching '%s'", result.Total, query), result)
}

// Suggestions handles GET /api/search/suggestions
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request, user *database.User) {
	ctx := r.Context()
	q := r.URL.Query()
	limit, err := intParam(q, "limit", search.DefaultSuggestionLimit)
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}
	suggestions, err := h.service.Suggestions(ctx, user, strings.TrimSpace(q.Get("q")), limit)
	if err != nil {
		writeErrorResponse(ctx, w, err)
		return
	}
	writeSuccessResponse(ctx, w, "Suggestions retrieved", map[string]interface{}{"suggestions": suggestions})
}

func pagination(q url.Values) (int, int, error) {
	page, err := intParam(q, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	pageSize, err := intParam(q, "page_size", library.DefaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	return page, pageSize, library.ValidatePage(page, pageSize)
}

func intParam(q url.Values, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &library.ValidationError{Field: name, Msg: "must be an integer"}
	}
	return n, nil
}

type userHandler func(w http.ResponseWriter, r *http.Request, user *database.User)

// withUser passes the user stored by auth.Middleware to fn.
func withUser(fn userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeErrorResponse(r.Context(), w, &weread.AuthError{Endpoint: "api", Status: http.StatusUnauthorized})
			return
		}
		fn(w, r, user)
	}
}
