// Package notes renders a book's highlights as Markdown and HTML.
package notes

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"

	"github.com/drallgood/weread-shelf-sync/internal/weread"
)

// Option selects which chapters appear in the output.
type Option int

const (
	AllChapters     Option = 1
	HighlightedOnly Option = 2
)

// ParseOption maps the "option" query value; anything but "2" is AllChapters.
func ParseOption(s string) Option {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && Option(n) == HighlightedOnly {
		return HighlightedOnly
	}
	return AllChapters
}

// Format is an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

const otherChapterTitle = "其他笔记"

// Document is the rendered notes of one book. Markdown carries no title
// header; Export adds one.
type Document struct {
	BookID     string `json:"book_id"`
	Title      string `json:"book_title"`
	Markdown   string `json:"markdown_content"`
	HTML       string `json:"html_content"`
	Highlights int    `json:"highlight_count"`
}

// Empty reports whether the book has no highlights to show.
func (d *Document) Empty() bool {
	return d.Highlights == 0
}

// Export is a downloadable rendition of a Document.
type Export struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Format   Format `json:"format"`
}

type Renderer struct {
	md goldmark.Markdown
}

func NewRenderer() *Renderer {
	return &Renderer{md: goldmark.New()}
}

// Render groups marks under their chapters, in table-of-contents order, and
// orders each chapter's marks by position. Marks whose chapter is unknown are
// collected in a trailing section.
func (r *Renderer) Render(bookID, title string, chapters []weread.Chapter, marks []weread.Bookmark, opt Option) (*Document, error) {
	byChapter := make(map[int64][]weread.Bookmark)
	for _, m := range marks {
		byChapter[m.ChapterUID] = append(byChapter[m.ChapterUID], m)
	}
	for uid := range byChapter {
		group := byChapter[uid]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Start() < group[j].Start() })
	}

	var b strings.Builder
	known := make(map[int64]bool, len(chapters))
	for _, c := range chapters {
		known[c.ChapterUID] = true
		group := byChapter[c.ChapterUID]
		if opt == HighlightedOnly && len(group) == 0 {
			continue
		}
		writeSection(&b, c.Level, c.Title, group)
	}

	var orphans []weread.Bookmark
	var orphanOrder []int64
	for _, m := range marks {
		if !known[m.ChapterUID] && !containsUID(orphanOrder, m.ChapterUID) {
			orphanOrder = append(orphanOrder, m.ChapterUID)
		}
	}
	for _, uid := range orphanOrder {
		orphans = append(orphans, byChapter[uid]...)
	}
	if len(orphans) > 0 {
		writeSection(&b, 1, otherChapterTitle, orphans)
	}

	doc := &Document{
		BookID:     bookID,
		Title:      title,
		Markdown:   b.String(),
		Highlights: len(marks),
	}
	body, err := r.toHTML(doc.Markdown)
	if err != nil {
		return nil, err
	}
	doc.HTML = body
	return doc, nil
}

func containsUID(uids []int64, uid int64) bool {
	for _, u := range uids {
		if u == uid {
			return true
		}
	}
	return false
}

func writeSection(b *strings.Builder, level int, title string, marks []weread.Bookmark) {
	b.WriteString(HeadingPrefix(level))
	b.WriteString(title)
	b.WriteString("\n\n")
	for _, m := range marks {
		b.WriteString(StyleText(m.Style, m.MarkText))
		b.WriteString("\n\n")
	}
}

// HeadingPrefix maps a chapter level to a Markdown heading. Unknown levels
// render as top-level chapters.
func HeadingPrefix(level int) string {
	switch level {
	case 2:
		return "### "
	case 3:
		return "#### "
	}
	return "## "
}

// StyleText renders one highlight. Style 1 (background fill) is bold;
// underline and wavy styles stay plain.
func StyleText(style int, text string) string {
	text = strings.TrimSpace(text)
	if style == 1 {
		return "**" + text + "**"
	}
	return text
}

func (r *Renderer) toHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render notes: %w", err)
	}
	return buf.String(), nil
}

// Heading is the document title used by both export formats.
func Heading(title string) string {
	return "《" + title + "》笔记"
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>%[1]s</title>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
        .markdown-body { box-sizing: border-box; min-width: 200px; max-width: 980px; margin: 0 auto; padding: 45px; }
        @media (max-width: 767px) { .markdown-body { padding: 15px; } }
    </style>
</head>
<body class="markdown-body">
    <h1>%[1]s</h1>
%[2]s
</body>
</html>
`

// Export renders doc as a standalone file.
func (r *Renderer) Export(doc *Document, format Format) Export {
	base := safeFilename(doc.Title) + "_notes"
	if format == FormatHTML {
		return Export{
			Content:  fmt.Sprintf(htmlTemplate, html.EscapeString(Heading(doc.Title)), doc.HTML),
			Filename: base + ".html",
			Format:   FormatHTML,
		}
	}
	return Export{
		Content:  "# " + Heading(doc.Title) + "\n\n" + doc.Markdown,
		Filename: base + ".md",
		Format:   FormatMarkdown,
	}
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

func safeFilename(title string) string {
	name := strings.TrimSpace(filenameReplacer.Replace(title))
	if name == "" {
		return "book"
	}
	return name
}
