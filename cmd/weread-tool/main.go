// weread-tool talks to WeRead directly with a cookie, without the server or
// a database. It is mostly useful for checking a cookie and debugging shelf
// parsing.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/drallgood/weread-shelf-sync/internal/logger"
	"github.com/drallgood/weread-shelf-sync/internal/notes"
	"github.com/drallgood/weread-shelf-sync/internal/search"
	"github.com/drallgood/weread-shelf-sync/internal/util"
	"github.com/drallgood/weread-shelf-sync/internal/weread"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "weread-tool",
		Usage:   "Inspect a WeRead account from the command line",
		Version: fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "cookie",
				Usage:    "WeRead cookie string (wr_gid=...; wr_vid=...; wr_skey=...; wr_rt=...)",
				EnvVars:  []string{"WEREAD_COOKIE"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "web-url",
				Usage:   "WeRead web base URL",
				EnvVars: []string{"WEREAD_WEB_URL"},
				Value:   weread.DefaultWebURL,
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "WeRead API base URL",
				EnvVars: []string{"WEREAD_BASE_URL"},
				Value:   weread.DefaultBaseURL,
			},
			&cli.Float64Flag{
				Name:  "rps",
				Usage: "Maximum requests per second",
				Value: 5,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			level := "warn"
			if c.Bool("debug") {
				level = "debug"
			}
			logger.Setup(logger.Config{
				Level:      level,
				Format:     logger.FormatConsole,
				Output:     os.Stderr,
				TimeFormat: time.Kitchen,
			})
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "validate",
				Usage:  "Check the cookie format and whether WeRead still accepts it",
				Action: validateCookie,
			},
			{
				Name:   "shelf",
				Usage:  "Fetch and print the bookshelf",
				Action: showShelf,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Only print the first N books (0 for all)"},
				},
			},
			{
				Name:      "notes",
				Usage:     "Render the highlights of a book",
				ArgsUsage: "BOOK_ID",
				Action:    exportNotes,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Usage: "markdown or html", Value: "markdown"},
					&cli.BoolFlag{Name: "highlighted-only", Usage: "Skip chapters without highlights"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to `FILE` instead of stdout"},
				},
			},
			{
				Name:      "search",
				Usage:     "Fuzzy search the bookshelf by title",
				ArgsUsage: "QUERY",
				Action:    searchShelf,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "page-size", Value: search.DefaultPageSize},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Get().Error("Error running application", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

// session holds what every command needs.
type session struct {
	bundle weread.CredentialBundle
	client *weread.Client
}

func newSession(c *cli.Context) (*session, error) {
	bundle := weread.ParseCookieString(c.String("cookie"))
	if err := weread.ValidateFormat(bundle); err != nil {
		return nil, err
	}
	store := weread.NewMemoryCredentialStore()
	if err := store.PutCredentials(c.Context, bundle.Vid, bundle); err != nil {
		return nil, err
	}
	log := logger.Get()
	transport := weread.NewRestyTransport(weread.TransportOptions{
		Limiter: util.NewRateLimiter(util.PerSecond(c.Float64("rps")), 1),
		Logger:  log,
	})
	client := weread.NewClient(weread.Config{
		WebURL:  c.String("web-url"),
		BaseURL: c.String("base-url"),
	}, transport, store, log)
	return &session{bundle: bundle, client: client}, nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func validateCookie(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	res, err := s.client.CheckLiveness(c.Context, s.bundle)
	if err != nil {
		return err
	}

	t := newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"valid", res.OK},
		{"message", res.Message},
		{"vid", s.bundle.Vid},
		{"name", weread.SafeUnquote(firstNonEmpty(res.Profile.Name, s.bundle.Name))},
	})
	t.Render()

	if !res.OK {
		return cli.Exit("cookie rejected by WeRead", 2)
	}
	return nil
}

func showShelf(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	snap, err := s.client.Reconcile(c.Context, s.bundle.Vid)
	if err != nil {
		return err
	}

	books := snap.Books
	if limit := c.Int("limit"); limit > 0 && limit < len(books) {
		books = books[:limit]
	}

	t := newTable()
	t.AppendHeader(table.Row{"#", "Book ID", "Title", "Author", "Finished", "Rating"})
	for i, b := range books {
		finished := ""
		if b.FinishReading == 1 {
			finished = "yes"
		}
		t.AppendRow(table.Row{i + 1, b.BookID, b.Title, b.Author, finished, b.Rating})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d books", len(snap.Books)), snap.Source})
	t.Render()
	return nil
}

func exportNotes(c *cli.Context) error {
	bookID := strings.TrimSpace(c.Args().First())
	if bookID == "" {
		return cli.Exit("BOOK_ID is required", 1)
	}
	format, err := notes.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}

	doc, err := renderNotes(c.Context, s, bookID, c.Bool("highlighted-only"))
	if err != nil {
		return err
	}
	if doc.Empty() {
		return cli.Exit("no notes found for this book", 1)
	}

	export := notes.NewRenderer().Export(doc, format)
	out := c.String("output")
	if out == "" {
		_, err = fmt.Fprintln(os.Stdout, export.Content)
		return err
	}
	if err := os.WriteFile(out, []byte(export.Content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d highlights to %s\n", doc.Highlights, out)
	return nil
}

func renderNotes(ctx context.Context, s *session, bookID string, highlightedOnly bool) (*notes.Document, error) {
	book := s.client.BookInfo(ctx, s.bundle, bookID)
	if book.Source == weread.SourceAuthError {
		return nil, &weread.AuthError{Endpoint: "book_info", Status: 401}
	}

	marks := s.client.Bookmarks(ctx, s.bundle, bookID)
	chapters := marks.Chapters
	if len(chapters) == 0 {
		toc, err := s.client.Chapters(ctx, s.bundle, bookID)
		if err != nil {
			return nil, err
		}
		chapters = toc
	}

	opt := notes.AllChapters
	if highlightedOnly {
		opt = notes.HighlightedOnly
	}
	return notes.NewRenderer().Render(bookID, book.Title, chapters, marks.Updated, opt)
}

func searchShelf(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return cli.Exit("QUERY is required", 1)
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}
	snap, err := s.client.Reconcile(c.Context, s.bundle.Vid)
	if err != nil {
		return err
	}

	page := search.Search(snap.Books, query, c.Int("page"), c.Int("page-size"))
	t := newTable()
	t.AppendHeader(table.Row{"Score", "Book ID", "Title", "Author"})
	for _, r := range page.Results {
		t.AppendRow(table.Row{r.Ratio, r.BookID, r.Title, r.Author})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("page %d/%d", page.Page, page.TotalPages), fmt.Sprintf("%d matches", page.Total)})
	t.Render()
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
