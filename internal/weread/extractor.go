package weread

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"
)

const (
	initialStateMarker = "__INITIAL_STATE__"
	idOnlyAuthor       = "需要获取详情"
	sourceRawBooks     = "html_parsed_rawBooks"
	sourceRawIndexes   = "rawIndexes_id_only"
	sourceArchiveBooks = "html_parsed_booksAndArchives"
)

var (
	initialStateStart = regexp.MustCompile(`window\.__INITIAL_STATE__\s*=\s*`)
	// initialStateLazy is the last resort when the balanced scan fails.
	initialStateLazy = regexp.MustCompile(`(?s)window\.__INITIAL_STATE__\s*=\s*(\{.*?\});`)
)

// Extraction is what the shelf page yielded. Books holds fully known records
// first, then identifier-only placeholders flagged NeedsDetailFetch.
type Extraction struct {
	Books []RawBook
	// Found is false when no initial state could be located or parsed.
	Found      bool
	FullInfo   int
	IDOnly     int
	Legacy     bool
	HasMore    bool
	TotalCount int
}

type shelfState struct {
	RawBooks         []json.RawMessage `json:"rawBooks"`
	RawIndexes       []json.RawMessage `json:"rawIndexes"`
	BooksAndArchives []json.RawMessage `json:"booksAndArchives"`
	HasMore          FlexBool          `json:"hasMore"`
	TotalCount       FlexInt           `json:"totalCount"`
}

type initialState struct {
	Shelf *shelfState `json:"shelf"`
}

type shelfIndex struct {
	BookID FlexString `json:"bookId"`
	Role   FlexString `json:"role"`
}

// ExtractBookshelf reads the embedded initial state of a shelf page. Every
// discovered identifier yields exactly one record.
func ExtractBookshelf(html string) Extraction {
	shelf, ok := locateShelf(html)
	if !ok {
		return Extraction{}
	}
	ex := Extraction{
		Found:      true,
		HasMore:    bool(shelf.HasMore),
		TotalCount: int(shelf.TotalCount),
	}
	now := time.Now().UnixMilli()

	full := make(map[string]RawBook)
	var order []string
	seen := make(map[string]bool)
	for _, item := range shelf.RawBooks {
		book, ok := ParseRawBook(item)
		if !ok {
			continue
		}
		id := book.Identifier()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)
		if book.Source == "" {
			book.Source = sourceRawBooks
		}
		full[id] = book
	}
	for _, item := range shelf.RawIndexes {
		var idx shelfIndex
		if json.Unmarshal(item, &idx) != nil {
			continue
		}
		id := idx.BookID.String()
		if id == "" || idx.Role.String() != "book" || seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)
	}

	var placeholders []RawBook
	for _, id := range order {
		if book, ok := full[id]; ok {
			ex.Books = append(ex.Books, book)
			continue
		}
		placeholders = append(placeholders, placeholder(id, "书籍_"+id, "", sourceRawIndexes, now))
	}
	ex.FullInfo = len(ex.Books)
	ex.IDOnly = len(placeholders)
	ex.Books = append(ex.Books, placeholders...)
	if len(ex.Books) > 0 {
		return ex
	}

	ex.Legacy = true
	ex.Books = extractArchives(shelf.BooksAndArchives, now)
	for _, b := range ex.Books {
		if b.NeedsDetailFetch {
			ex.IDOnly++
		} else {
			ex.FullInfo++
		}
	}
	return ex
}

// isArchiveBook tells books from folders; folders carry allBookIds.
func isArchiveBook(keys map[string]json.RawMessage) bool {
	if _, ok := keys["bookId"]; ok {
		return true
	}
	_, hasID := keys["id"]
	_, isFolder := keys["allBookIds"]
	return hasID && !isFolder
}

// extractArchives reads the older mixed list of books and folders.
func extractArchives(items []json.RawMessage, now int64) []RawBook {
	var books []RawBook
	seen := make(map[string]bool)
	for i, item := range items {
		var keys map[string]json.RawMessage
		if json.Unmarshal(item, &keys) != nil {
			continue
		}
		if isArchiveBook(keys) {
			book, ok := ParseRawBook(item)
			id := book.Identifier()
			if !ok || id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if book.Source == "" {
				book.Source = sourceArchiveBooks
			}
			books = append(books, book)
			continue
		}

		_, hasName := keys["name"]
		rawIDs, hasIDs := keys["allBookIds"]
		if !hasName || !hasIDs {
			continue
		}
		var name FlexString
		_ = json.Unmarshal(keys["name"], &name)
		folder := name.String()
		if folder == "" {
			folder = fmt.Sprintf("文件夹%d", i)
		}
		var ids []FlexString
		_ = json.Unmarshal(rawIDs, &ids)
		for _, raw := range ids {
			id := raw.String()
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			books = append(books, placeholder(id, "Archive书籍_"+id, "来自文件夹: "+folder, "archive_"+folder+"_id_only", now))
		}
	}
	return books
}

func placeholder(id, title, category, source string, now int64) RawBook {
	return RawBook{
		BookID:           FlexString(id),
		Title:            FlexString(title),
		Author:           idOnlyAuthor,
		Category:         FlexString(category),
		ReadUpdateTime:   FlexInt(now),
		Source:           FlexString(source),
		NeedsDetailFetch: true,
	}
}

// locateShelf finds and decodes the shelf branch of the initial state.
func locateShelf(html string) (*shelfState, bool) {
	for _, literal := range initialStateLiterals(html) {
		var state initialState
		if !decodeLiteral(literal, &state) {
			continue
		}
		if state.Shelf == nil {
			return nil, false
		}
		return state.Shelf, true
	}
	return nil, false
}

// initialStateLiterals returns candidate object literals, best first: script
// elements, then the raw document, then a lazy regexp match.
func initialStateLiterals(html string) []string {
	var out []string
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := s.Text()
			if !strings.Contains(text, initialStateMarker) {
				return true
			}
			if literal, ok := balancedLiteral(text); ok {
				out = append(out, literal)
				return false
			}
			return true
		})
	}
	if literal, ok := balancedLiteral(html); ok {
		out = append(out, literal)
	}
	if m := initialStateLazy.FindStringSubmatch(html); m != nil {
		out = append(out, m[1])
	}
	return out
}

// balancedLiteral returns the object literal assigned to the initial state,
// matching braces outside string literals.
func balancedLiteral(text string) (string, bool) {
	loc := initialStateStart.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	start := loc[1]
	if start >= len(text) || text[start] != '{' {
		return "", false
	}

	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// decodeLiteral parses strict JSON first and falls back to json5 for JS
// object literals (unquoted keys, single quotes, trailing commas).
func decodeLiteral(literal string, v interface{}) bool {
	if json.Unmarshal([]byte(literal), v) == nil {
		return true
	}
	var loose interface{}
	if err := json5.Unmarshal([]byte(literal), &loose); err != nil {
		return false
	}
	normalized, err := json.Marshal(loose)
	if err != nil {
		return false
	}
	return json.Unmarshal(normalized, v) == nil
}
