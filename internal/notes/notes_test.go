package notes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/weread-shelf-sync/internal/weread"
)

var testChapters = []weread.Chapter{
	{ChapterUID: 1, Level: 1, Title: "第一章"},
	{ChapterUID: 2, Level: 2, Title: "第一节"},
	{ChapterUID: 3, Level: 3, Title: "小节"},
	{ChapterUID: 4, Level: 1, Title: "第二章"},
}

var testMarks = []weread.Bookmark{
	{ChapterUID: 2, MarkText: "later", Range: "300-310", Style: 0},
	{ChapterUID: 2, MarkText: " bold ", Range: "12-20", Style: 1},
	{ChapterUID: 4, MarkText: "wavy", Range: "5-9", Style: 2},
}

func TestRender_AllChapters(t *testing.T) {
	doc, err := NewRenderer().Render("b1", "三体", testChapters, testMarks, AllChapters)
	require.NoError(t, err)

	want := "## 第一章\n\n" +
		"### 第一节\n\n**bold**\n\nlater\n\n" +
		"#### 小节\n\n" +
		"## 第二章\n\nwavy\n\n"
	assert.Equal(t, want, doc.Markdown)
	assert.Equal(t, 3, doc.Highlights)
	assert.False(t, doc.Empty())
	assert.Contains(t, doc.HTML, "<h3>第一节</h3>")
	assert.Contains(t, doc.HTML, "<strong>bold</strong>")
}

func TestRender_HighlightedOnly(t *testing.T) {
	doc, err := NewRenderer().Render("b1", "三体", testChapters, testMarks, HighlightedOnly)
	require.NoError(t, err)

	assert.Equal(t, "### 第一节\n\n**bold**\n\nlater\n\n## 第二章\n\nwavy\n\n", doc.Markdown)
}

func TestRender_UnknownChapter(t *testing.T) {
	marks := []weread.Bookmark{{ChapterUID: 99, MarkText: "orphan", Range: "1-2"}}
	doc, err := NewRenderer().Render("b1", "t", nil, marks, AllChapters)
	require.NoError(t, err)
	assert.Equal(t, "## 其他笔记\n\norphan\n\n", doc.Markdown)
}

func TestRender_Empty(t *testing.T) {
	doc, err := NewRenderer().Render("b1", "t", testChapters, nil, HighlightedOnly)
	require.NoError(t, err)
	assert.True(t, doc.Empty())
	assert.Empty(t, doc.Markdown)
}

func TestRender_EscapesText(t *testing.T) {
	marks := []weread.Bookmark{{ChapterUID: 1, MarkText: "a < b & <script>alert(1)</script>"}}
	doc, err := NewRenderer().Render("b1", "t", testChapters[:1], marks, AllChapters)
	require.NoError(t, err)
	assert.NotContains(t, doc.HTML, "<script>")
	assert.Contains(t, doc.HTML, "a &lt; b &amp;")
}

func TestHeadingPrefix(t *testing.T) {
	assert.Equal(t, "## ", HeadingPrefix(1))
	assert.Equal(t, "### ", HeadingPrefix(2))
	assert.Equal(t, "#### ", HeadingPrefix(3))
	assert.Equal(t, "## ", HeadingPrefix(7))
}

func TestStyleText(t *testing.T) {
	assert.Equal(t, "plain", StyleText(0, " plain "))
	assert.Equal(t, "**bold**", StyleText(1, "bold\n"))
	assert.Equal(t, "wavy", StyleText(2, "wavy"))
	assert.Equal(t, "other", StyleText(5, "other"))
}

func TestExport(t *testing.T) {
	r := NewRenderer()
	doc, err := r.Render("b1", "A/B <测试>", testChapters, testMarks, AllChapters)
	require.NoError(t, err)

	md := r.Export(doc, FormatMarkdown)
	assert.Equal(t, FormatMarkdown, md.Format)
	assert.Equal(t, "A_B _测试__notes.md", md.Filename)
	assert.True(t, strings.HasPrefix(md.Content, "# 《A/B <测试>》笔记\n\n## 第一章"))

	page := r.Export(doc, FormatHTML)
	assert.Equal(t, "A_B _测试__notes.html", page.Filename)
	assert.Contains(t, page.Content, "<title>《A/B &lt;测试&gt;》笔记</title>")
	assert.Contains(t, page.Content, "<strong>bold</strong>")
}

func TestParse(t *testing.T) {
	assert.Equal(t, HighlightedOnly, ParseOption("2"))
	assert.Equal(t, AllChapters, ParseOption("1"))
	assert.Equal(t, AllChapters, ParseOption("x"))

	f, err := ParseFormat("HTML")
	require.NoError(t, err)
	assert.Equal(t, FormatHTML, f)
	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)
	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}
