package weread

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultWebURL  = "https://weread.qq.com"
	DefaultBaseURL = "https://i.weread.qq.com"
)

// CredentialBundle is the set of wr_* cookies that authenticate one platform
// session. Gid, Vid, Skey and Rt are mandatory.
type CredentialBundle struct {
	Gid      string `json:"wr_gid"`
	Vid      string `json:"wr_vid"`
	Skey     string `json:"wr_skey"`
	Rt       string `json:"wr_rt"`
	LocalVid string `json:"wr_localvid,omitempty"`
	Name     string `json:"wr_name,omitempty"`
	Avatar   string `json:"wr_avatar,omitempty"`
	Gender   string `json:"wr_gender,omitempty"`
	Pf       string `json:"wr_pf,omitempty"`
}

// CandidateOperation is one attempt in a fallback sequence.
type CandidateOperation struct {
	Name    string
	URL     string
	Method  string
	Headers map[string]string
	Body    interface{}
	Timeout time.Duration
}

// Request is what the executor hands to a Transport.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	// Body is JSON encoded when non-nil.
	Body    interface{}
	Timeout time.Duration
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// MediaType returns the lower-cased media type of the response, without
// parameters.
func (r *Response) MediaType() string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	return mt
}

// Transport performs a single HTTP exchange. Implementations must report
// timeouts and connection failures as *TransportError.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// RawBook is a book as returned by any platform source. Alias fields are kept
// side by side and resolved once by Normalize.
type RawBook struct {
	BookID FlexString `json:"bookId"`
	ID     FlexString `json:"id"`

	Title      FlexString `json:"title"`
	Name       FlexString `json:"name"`
	Author     FlexString `json:"author"`
	Authors    FlexString `json:"authors"`
	Translator FlexString `json:"translator"`

	Cover    FlexString `json:"cover"`
	CoverURL FlexString `json:"coverUrl"`

	Category     FlexString `json:"category"`
	CategoryName FlexString `json:"categoryName"`
	Categories   Categories `json:"categories"`

	TotalWords    FlexInt `json:"totalWords"`
	FinishReading FlexInt `json:"finishReading"`
	IsFinished    FlexInt `json:"isFinished"`

	NewRating       FlexInt      `json:"newRating"`
	NewRatingDetail RatingDetail `json:"newRatingDetail"`
	NewRatingCount  FlexInt      `json:"newRatingCount"`

	ReadUpdateTime FlexInt `json:"readUpdateTime"`
	UpdateTime     FlexInt `json:"updateTime"`

	Format      FlexString `json:"format"`
	Price       FlexFloat  `json:"price"`
	PublishTime FlexString `json:"publishTime"`
	Secret      FlexInt    `json:"secret"`
	Intro       FlexString `json:"intro"`
	Publisher   FlexString `json:"publisher"`
	ISBN        FlexString `json:"isbn"`
	Language    FlexString `json:"language"`
	Lang        FlexString `json:"lang"`

	Source           FlexString `json:"source"`
	NeedsDetailFetch FlexBool   `json:"needsDetailFetch"`
}

// ParseRawBook decodes one record. It fails only when data is not a JSON
// object.
func ParseRawBook(data []byte) (RawBook, bool) {
	var book RawBook
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return book, false
	}
	if err := json.Unmarshal(data, &book); err != nil {
		return RawBook{}, false
	}
	return book, true
}

// Identifier returns bookId, falling back to the legacy id field.
func (b RawBook) Identifier() string {
	if id := b.BookID.String(); id != "" {
		return id
	}
	return b.ID.String()
}

// CanonicalBook is the single schema every source is normalized into.
type CanonicalBook struct {
	BookID         string `json:"bookId"`
	Title          string `json:"title"`
	Author         string `json:"author"`
	Cover          string `json:"cover"`
	Category       string `json:"category"`
	TotalWords     int64  `json:"totalWords"`
	FinishReading  int    `json:"finishReading"`
	Rating         string `json:"newRatingDetail"`
	NewRating      int64  `json:"newRating"`
	NewRatingCount int64  `json:"newRatingCount"`
	ReadUpdateTime int64  `json:"readUpdateTime"`

	Format      string  `json:"format,omitempty"`
	Price       float64 `json:"price,omitempty"`
	PublishTime string  `json:"publishTime,omitempty"`
	Secret      int64   `json:"secret,omitempty"`
	Intro       string  `json:"intro,omitempty"`
	Publisher   string  `json:"publisher,omitempty"`
	ISBN        string  `json:"isbn,omitempty"`
	Language    string  `json:"lang,omitempty"`

	Source           string `json:"source"`
	NeedsDetailFetch bool   `json:"needsDetailFetch,omitempty"`
}

// BookProgress is one entry of the syncBook bookProgress list.
type BookProgress struct {
	BookID     FlexString `json:"bookId"`
	Progress   FlexInt    `json:"progress"`
	ChapterUID FlexInt    `json:"chapterUid"`
	UpdateTime FlexInt    `json:"updateTime"`
}

// SnapshotCounts summarises how a snapshot was assembled.
type SnapshotCounts struct {
	HTMLBooks int `json:"html_book_count"`
	FullInfo  int `json:"rawbooks_count"`
	NeedSync  int `json:"need_sync_count"`
	Synced    int `json:"synced_book_count"`
	Total     int `json:"total_count"`
}

// BookshelfSnapshot is the result of one reconciliation.
type BookshelfSnapshot struct {
	UserVid    string          `json:"user_vid"`
	Books      []CanonicalBook `json:"books"`
	Progress   []BookProgress  `json:"bookProgress,omitempty"`
	Source     string          `json:"source"`
	Counts     SnapshotCounts  `json:"counts"`
	HasMore    bool            `json:"has_more,omitempty"`
	TotalCount int             `json:"total_count_hint,omitempty"`
	Preview    string          `json:"preview,omitempty"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// CredentialStore persists credential bundles per local user key.
type CredentialStore interface {
	GetCredentials(ctx context.Context, userKey string) (*CredentialBundle, error)
	PutCredentials(ctx context.Context, userKey string, bundle CredentialBundle) error
}

// CacheStore persists normalized books and the latest snapshot per user.
// Load methods return (nil, nil) when nothing is stored.
type CacheStore interface {
	LoadBook(ctx context.Context, bookID string) (*CanonicalBook, error)
	SaveBook(ctx context.Context, book CanonicalBook) error
	LoadSnapshot(ctx context.Context, userKey string) (*BookshelfSnapshot, error)
	SaveSnapshot(ctx context.Context, userKey string, snapshot *BookshelfSnapshot) error
}
