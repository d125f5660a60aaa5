package weread

import (
	"fmt"
	"strings"
)

const (
	defaultTitle  = "未知书籍"
	defaultAuthor = "未知作者"
	defaultSource = "html_parsed_unknown"

	escapedSlash   = `\u002F`
	escapedSlashes = escapedSlash + escapedSlash
)

// ratingTitles is the closed set of descriptive rating titles the platform
// shows. Anything else is dropped.
var ratingTitles = map[string]struct{}{
	"神作":   {},
	"好评如潮": {},
	"脍炙人口": {},
	"值得一读": {},
	"褒贬不一": {},
	"不值一读": {},
}

// IsRatingTitle reports whether title belongs to the recognised set.
func IsRatingTitle(title string) bool {
	_, ok := ratingTitles[title]
	return ok
}

// Normalize maps a raw record into the canonical schema. It never fails:
// missing or malformed fields fall back to fixed defaults.
func Normalize(raw RawBook) CanonicalBook {
	book := CanonicalBook{
		BookID:         raw.Identifier(),
		Title:          firstNonEmpty(raw.Title.String(), raw.Name.String(), defaultTitle),
		Author:         formatAuthor(firstNonEmpty(raw.Author.String(), raw.Authors.String(), defaultAuthor), raw.Translator.String()),
		Cover:          NormalizeCover(firstNonEmpty(raw.Cover.String(), raw.CoverURL.String())),
		Category:       normalizeCategory(raw),
		TotalWords:     clampNonNegative(int64(raw.TotalWords)),
		FinishReading:  finishFlag(raw),
		Rating:         FormatRating(int64(raw.NewRating), raw.NewRatingDetail.Title),
		NewRating:      clampNonNegative(int64(raw.NewRating)),
		NewRatingCount: clampNonNegative(int64(raw.NewRatingCount)),
		ReadUpdateTime: int64(raw.ReadUpdateTime),
		Format:         raw.Format.String(),
		Price:          float64(raw.Price),
		PublishTime:    raw.PublishTime.String(),
		Secret:         int64(raw.Secret),
		Intro:          raw.Intro.String(),
		Publisher:      raw.Publisher.String(),
		ISBN:           raw.ISBN.String(),
		Language:       firstNonEmpty(raw.Language.String(), raw.Lang.String()),
		Source:         firstNonEmpty(raw.Source.String(), defaultSource),

		NeedsDetailFetch: bool(raw.NeedsDetailFetch),
	}
	if book.ReadUpdateTime == 0 {
		book.ReadUpdateTime = int64(raw.UpdateTime)
	}
	return book
}

// NormalizeCover makes a cover URL absolute with an https scheme.
func NormalizeCover(cover string) string {
	cover = strings.TrimSpace(cover)
	if cover == "" {
		return ""
	}
	if strings.HasPrefix(cover, escapedSlashes) {
		cover = strings.ReplaceAll(cover, escapedSlash, "/")
	}
	switch {
	case strings.HasPrefix(cover, "//"):
		return "https:" + cover
	case !strings.HasPrefix(cover, "http"):
		return "https:" + cover
	}
	return cover
}

// LargeCover swaps the small thumbnail (s_ file prefix) for the t7_ size.
func LargeCover(cover string) string {
	i := strings.LastIndexByte(cover, '/') + 1
	if strings.HasPrefix(cover[i:], "s_") {
		return cover[:i] + "t7_" + cover[i+2:]
	}
	return cover
}

// FormatRating renders the rating summary from the per-mille score and the
// descriptive title.
func FormatRating(score int64, title string) string {
	title = strings.TrimSpace(title)
	if isRenderedRating(title) {
		return title
	}
	if !IsRatingTitle(title) {
		title = ""
	}
	switch {
	case score > 0 && title != "":
		return fmt.Sprintf("%s (%d/1000)", title, score)
	case title != "":
		return title
	case score > 0:
		return fmt.Sprintf("评分: %d/1000", score)
	}
	return ""
}

// isRenderedRating recognises a value FormatRating already produced, which
// is what cached canonical books carry in newRatingDetail.
func isRenderedRating(s string) bool {
	if rest, ok := strings.CutPrefix(s, "评分: "); ok {
		return isPerMille(rest)
	}
	open := strings.LastIndex(s, " (")
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return false
	}
	return IsRatingTitle(s[:open]) && isPerMille(s[open+2:len(s)-1])
}

func isPerMille(s string) bool {
	digits, ok := strings.CutSuffix(s, "/1000")
	if !ok || digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func formatAuthor(author, translator string) string {
	if translator != "" && translator != author {
		return fmt.Sprintf("%s (译: %s)", author, translator)
	}
	return author
}

func normalizeCategory(raw RawBook) string {
	if c := firstNonEmpty(raw.Category.String(), raw.CategoryName.String()); c != "" {
		return c
	}
	if len(raw.Categories) > 0 {
		return raw.Categories[0].Title.String()
	}
	return ""
}

func finishFlag(raw RawBook) int {
	v := raw.FinishReading
	if v == 0 {
		v = raw.IsFinished
	}
	if v != 0 {
		return 1
	}
	return 0
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
