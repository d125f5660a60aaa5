package weread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/drallgood/weread-shelf-sync/internal/logger"
)

const (
	bookInfoTimeout  = 10 * time.Second
	bookmarksTimeout = 15 * time.Second
	chaptersTimeout  = 15 * time.Second

	unknownPlaceholderAuthor = "未知"

	// errCodeSessionExpired is what the API host answers, with status 200,
	// when wr_skey has timed out.
	errCodeSessionExpired = -2012
)

// Chapter is one entry of a book's table of contents.
type Chapter struct {
	ChapterUID int64  `json:"chapterUid"`
	Level      int    `json:"level"`
	Title      string `json:"title"`
}

// Bookmark is a highlight. Range is "start-end" in chapter offsets.
type Bookmark struct {
	BookmarkID string `json:"bookmarkId,omitempty"`
	ChapterUID int64  `json:"chapterUid"`
	MarkText   string `json:"markText"`
	Range      string `json:"range"`
	Style      int    `json:"style"`
	CreateTime int64  `json:"createTime,omitempty"`
}

// Start returns the offset before the dash in Range, or 0.
func (b Bookmark) Start() int {
	head, _, _ := strings.Cut(b.Range, "-")
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0
	}
	return n
}

// BookmarkList is always usable; Reason explains an empty list.
type BookmarkList struct {
	BookID   string     `json:"bookId"`
	Updated  []Bookmark `json:"updated"`
	Chapters []Chapter  `json:"chapters,omitempty"`
	Source   string     `json:"source,omitempty"`
	Reason   string     `json:"error,omitempty"`
}

type rawBookmark struct {
	BookmarkID FlexString `json:"bookmarkId"`
	ChapterUID FlexInt    `json:"chapterUid"`
	MarkText   FlexString `json:"markText"`
	Range      FlexString `json:"range"`
	Style      FlexInt    `json:"style"`
	CreateTime FlexInt    `json:"createTime"`
}

type rawChapter struct {
	ChapterUID FlexInt    `json:"chapterUid"`
	Level      FlexInt    `json:"level"`
	Title      FlexString `json:"title"`
}

func (c rawChapter) chapter() Chapter {
	level := int(c.Level)
	if level <= 0 {
		level = 1
	}
	return Chapter{ChapterUID: int64(c.ChapterUID), Level: level, Title: c.Title.String()}
}

// Sources of placeholder results that stand in for a failed lookup.
const (
	SourceNotFound     = "not_found"
	SourceAuthError    = "auth_error"
	SourceAPIError     = "api_error"
	SourceHTMLResponse = "html_response"
)

// IsPlaceholder reports whether b stands in for a failed lookup.
func IsPlaceholder(b CanonicalBook) bool {
	switch b.Source {
	case SourceNotFound, SourceAuthError, SourceAPIError, SourceHTMLResponse:
		return true
	}
	return false
}

// DetailFetcher reads per-book data from the API host.
type DetailFetcher struct {
	transport Transport
	baseURL   string
	log       *logger.Logger
}

// NewDetailFetcher returns a fetcher for baseURL.
func NewDetailFetcher(transport Transport, baseURL string, log *logger.Logger) *DetailFetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = logger.Get()
	}
	return &DetailFetcher{transport: transport, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

func (f *DetailFetcher) variants(id string, paths ...string) []string {
	q := url.QueryEscape(id)
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = fmt.Sprintf("%s%s?bookId=%s", f.baseURL, p, q)
	}
	return out
}

func unavailableBook(id, title, intro, source string) CanonicalBook {
	return Normalize(RawBook{
		BookID: FlexString(id),
		Title:  FlexString(title),
		Author: unknownPlaceholderAuthor,
		Intro:  FlexString(intro),
		Source: FlexString(source),
	})
}

// BookInfo returns the normalized metadata of one book. It never fails; when
// no variant answers usefully a placeholder record is returned.
func (f *DetailFetcher) BookInfo(ctx context.Context, b CredentialBundle, bookID string) CanonicalBook {
	headers := APIHeaders(b)
	var last error
	for _, endpoint := range f.variants(bookID, "/book/info", "/web/book/info", "/book/detail") {
		res, err := f.transport.Send(ctx, &Request{Method: http.MethodGet, URL: endpoint, Headers: headers, Timeout: bookInfoTimeout})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			last = err
			continue
		}

		switch res.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			return unavailableBook(bookID, "书籍信息不可用", "该书籍信息暂时无法获取", SourceNotFound)
		case http.StatusUnauthorized:
			f.log.Warn("Book info rejected, credentials expired", map[string]interface{}{"book_id": bookID})
			return unavailableBook(bookID, "需要重新登录获取", "请重新登录以获取完整书籍信息", SourceAuthError)
		default:
			last = &StatusError{Endpoint: endpoint, Status: res.StatusCode}
			continue
		}

		if code := platformErrCode(res.Body); code != 0 {
			if code == errCodeSessionExpired {
				return unavailableBook(bookID, "需要重新登录获取", "请重新登录以获取完整书籍信息", SourceAuthError)
			}
			last = &StatusError{Endpoint: endpoint, Status: int(code)}
			continue
		}
		if raw, ok := ParseRawBook(res.Body); ok {
			if raw.Identifier() == "" {
				raw.BookID = FlexString(bookID)
			}
			if raw.Source == "" {
				raw.Source = "book_info_api"
			}
			return Normalize(raw)
		}
		if isHTML(res) || looksLikeHTML(res.Body) {
			return unavailableBook(bookID, "书籍信息不可用", "该书籍信息暂时无法获取", SourceHTMLResponse)
		}
		last = &ParseError{Endpoint: endpoint, Err: errors.New("body is not a JSON object")}
	}

	fields := map[string]interface{}{"book_id": bookID}
	if last != nil {
		fields["error"] = last.Error()
	}
	f.log.Warn("Book info unavailable from every endpoint", fields)
	return unavailableBook(bookID, "书籍信息暂时不可用", "该书籍信息暂时无法获取，请稍后重试", SourceAPIError)
}

// Bookmarks returns the highlights of one book. It never fails.
func (f *DetailFetcher) Bookmarks(ctx context.Context, b CredentialBundle, bookID string) BookmarkList {
	headers := APIHeaders(b)
	empty := func(reason, source string) BookmarkList {
		return BookmarkList{BookID: bookID, Updated: []Bookmark{}, Reason: reason, Source: source}
	}

	var last error
	for _, endpoint := range f.variants(bookID, "/book/bookmarklist", "/web/book/bookmarklist", "/bookmarks/list") {
		res, err := f.transport.Send(ctx, &Request{Method: http.MethodGet, URL: endpoint, Headers: headers, Timeout: bookmarksTimeout})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			last = err
			continue
		}
		switch res.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			return empty("书籍不存在或无书签", "")
		default:
			last = &StatusError{Endpoint: endpoint, Status: res.StatusCode}
			continue
		}

		if list, ok := decodeBookmarks(bookID, res.Body); ok {
			return list
		}
		if isHTML(res) || looksLikeHTML(res.Body) {
			return empty("书签功能暂时不可用，返回HTML页面", SourceHTMLResponse)
		}
		last = &ParseError{Endpoint: endpoint, Err: errors.New("unexpected bookmark payload")}
	}

	reason := "无法获取书签: 未知错误"
	if last != nil {
		reason = "无法获取书签: " + last.Error()
	}
	f.log.Warn("Bookmarks unavailable", map[string]interface{}{"book_id": bookID, "error": reason})
	return empty(reason, "")
}

// decodeBookmarks accepts an object carrying updated, bookmarks or data.
func decodeBookmarks(bookID string, body []byte) (BookmarkList, bool) {
	var obj map[string]json.RawMessage
	if !isJSONObject(body) || json.Unmarshal(body, &obj) != nil {
		return BookmarkList{}, false
	}
	var items json.RawMessage
	found := false
	for _, key := range []string{"updated", "bookmarks", "data"} {
		if v, ok := obj[key]; ok {
			items, found = v, true
			break
		}
	}
	if !found {
		return BookmarkList{}, false
	}

	list := BookmarkList{BookID: bookID, Updated: []Bookmark{}}
	var raws []rawBookmark
	_ = json.Unmarshal(items, &raws)
	for _, r := range raws {
		if r.MarkText.String() == "" {
			continue
		}
		list.Updated = append(list.Updated, Bookmark{
			BookmarkID: r.BookmarkID.String(),
			ChapterUID: int64(r.ChapterUID),
			MarkText:   string(r.MarkText),
			Range:      r.Range.String(),
			Style:      int(r.Style),
			CreateTime: int64(r.CreateTime),
		})
	}
	var chapters []rawChapter
	if v, ok := obj["chapters"]; ok && json.Unmarshal(v, &chapters) == nil {
		for _, c := range chapters {
			list.Chapters = append(list.Chapters, c.chapter())
		}
	}
	return list, true
}

// platformErrCode returns the errcode of an error envelope, or 0.
func platformErrCode(body []byte) int64 {
	var env struct {
		ErrCode  FlexInt `json:"errcode"`
		ErrCode2 FlexInt `json:"errCode"`
	}
	if !isJSONObject(body) || json.Unmarshal(body, &env) != nil {
		return 0
	}
	if env.ErrCode != 0 {
		return int64(env.ErrCode)
	}
	return int64(env.ErrCode2)
}

// IsArticle reports whether bookID names a subscription article rather than
// a book. Articles have no chapters.
func IsArticle(bookID string) bool {
	return strings.Contains(bookID, "_")
}

// Chapters returns the table of contents in platform order.
func (f *DetailFetcher) Chapters(ctx context.Context, b CredentialBundle, bookID string) ([]Chapter, error) {
	if IsArticle(bookID) {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/book/chapterInfos?bookIds=%s&synckeys=0", f.baseURL, url.QueryEscape(bookID))
	res, err := f.transport.Send(ctx, &Request{Method: http.MethodGet, URL: endpoint, Headers: APIHeaders(b), Timeout: chaptersTimeout})
	if err != nil {
		return nil, err
	}
	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthError{Endpoint: endpoint, Status: res.StatusCode}
	case http.StatusNotFound:
		return nil, &UnavailableError{Endpoint: endpoint}
	default:
		return nil, &StatusError{Endpoint: endpoint, Status: res.StatusCode}
	}

	if code := platformErrCode(res.Body); code == errCodeSessionExpired {
		return nil, &AuthError{Endpoint: endpoint, Status: http.StatusUnauthorized}
	}

	var payload struct {
		Data []struct {
			Updated []rawChapter `json:"updated"`
		} `json:"data"`
	}
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return nil, &ParseError{Endpoint: endpoint, Err: err}
	}
	if len(payload.Data) == 0 {
		return nil, nil
	}
	chapters := make([]Chapter, 0, len(payload.Data[0].Updated))
	for _, c := range payload.Data[0].Updated {
		chapters = append(chapters, c.chapter())
	}
	return chapters, nil
}
