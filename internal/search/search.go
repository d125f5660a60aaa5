// Package search ranks a cached bookshelf against a free-text query.
package search

import (
	"math"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/drallgood/weread-shelf-sync/internal/weread"
)

const (
	// MinRatio is exclusive: a title must score above it to match.
	MinRatio = 60

	DefaultPageSize        = 10
	MaxPageSize            = 50
	DefaultSuggestionLimit = 5
	MaxSuggestionLimit     = 10
)

// Result is one ranked match.
type Result struct {
	BookID string `json:"bookId"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Cover  string `json:"cover"`
	Ratio  int    `json:"ratio"`

	authorScore float64
}

// Page is one page of results.
type Page struct {
	Results    []Result `json:"results"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
	Query      string   `json:"query"`
}

// Suggestion is a lightweight title/author hit.
type Suggestion struct {
	BookID string `json:"bookId"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

// PartialRatio scores how well the shorter string matches its best aligned
// window in the longer one, 0..100. Case is ignored.
func PartialRatio(a, b string) int {
	short := []rune(strings.ToLower(strings.TrimSpace(a)))
	long := []rune(strings.ToLower(strings.TrimSpace(b)))
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}

	needle := string(short)
	best := 0
	for i := 0; i+len(short) <= len(long); i++ {
		d := matchr.Levenshtein(needle, string(long[i:i+len(short)]))
		score := int(math.Round(100 * float64(len(short)-d) / float64(len(short))))
		if score > best {
			best = score
			if best == 100 {
				break
			}
		}
	}
	return best
}

// Rank returns the books whose title scores above MinRatio, best first.
// Equal scores are ordered by author similarity, then shelf order.
func Rank(books []weread.CanonicalBook, query string) []Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Result{}
	}

	results := []Result{}
	for _, b := range books {
		ratio := PartialRatio(b.Title, query)
		if ratio <= MinRatio {
			continue
		}
		results = append(results, Result{
			BookID:      b.BookID,
			Title:       b.Title,
			Author:      b.Author,
			Cover:       weread.LargeCover(b.Cover),
			Ratio:       ratio,
			authorScore: matchr.JaroWinkler(strings.ToLower(b.Author), strings.ToLower(query), false),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Ratio != results[j].Ratio {
			return results[i].Ratio > results[j].Ratio
		}
		return results[i].authorScore > results[j].authorScore
	})
	return results
}

// Paginate slices results. page starts at 1; TotalPages is at least 1.
func Paginate(results []Result, query string, page, pageSize int) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	total := len(results)
	totalPages := 1
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return Page{
		Results:    results[start:end],
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		Query:      query,
	}
}

// Search ranks and paginates in one step.
func Search(books []weread.CanonicalBook, query string, page, pageSize int) Page {
	return Paginate(Rank(books, query), query, page, pageSize)
}

// Suggest returns up to limit books whose title or author contains query,
// in shelf order.
func Suggest(books []weread.CanonicalBook, query string, limit int) []Suggestion {
	if limit < 1 {
		limit = DefaultSuggestionLimit
	}
	if limit > MaxSuggestionLimit {
		limit = MaxSuggestionLimit
	}
	q := strings.ToLower(strings.TrimSpace(query))

	out := []Suggestion{}
	if q == "" {
		return out
	}
	for _, b := range books {
		if strings.Contains(strings.ToLower(b.Title), q) || strings.Contains(strings.ToLower(b.Author), q) {
			out = append(out, Suggestion{BookID: b.BookID, Title: b.Title, Author: b.Author})
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}
