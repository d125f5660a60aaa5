package weread

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"github.com/drallgood/weread-shelf-sync/internal/logger"
)

// ResultKind tells the caller how a successful candidate answered.
type ResultKind int

const (
	ResultJSON ResultKind = iota
	ResultDocument
	ResultRaw
)

func (k ResultKind) String() string {
	switch k {
	case ResultJSON:
		return "json"
	case ResultDocument:
		return "document"
	case ResultRaw:
		return "raw"
	}
	return "unknown"
}

const rawPreviewLimit = 200

// Attempt records what happened to one candidate.
type Attempt struct {
	Candidate string
	Status    int
	Err       error
}

// Result is the outcome of the first candidate that answered 200.
type Result struct {
	Candidate string
	Kind      ResultKind
	JSON      json.RawMessage
	Document  string
	Raw       string
	Attempts  []Attempt
}

// Executor tries candidate operations strictly in order until one succeeds.
type Executor struct {
	transport Transport
	log       *logger.Logger
}

// NewExecutor returns an Executor sending through transport.
func NewExecutor(transport Transport, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Get()
	}
	return &Executor{transport: transport, log: log}
}

// Execute runs the candidates. It returns *AggregateFailure when none of them
// answered 200 and ctx.Err() when ctx ends first.
func (e *Executor) Execute(ctx context.Context, candidates []CandidateOperation) (*Result, error) {
	var (
		attempts []Attempt
		last     error
	)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		method := c.Method
		if method == "" {
			method = http.MethodGet
		}
		res, err := e.transport.Send(ctx, &Request{
			Method:  method,
			URL:     c.URL,
			Headers: c.Headers,
			Body:    c.Body,
			Timeout: c.Timeout,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			last = err
			attempts = append(attempts, Attempt{Candidate: c.Name, Err: err})
			e.log.Warn("Candidate request failed", map[string]interface{}{
				"candidate": c.Name,
				"error":     err.Error(),
			})
			continue
		}

		if res.StatusCode != http.StatusOK {
			reason := classifyStatus(c.Name, res.StatusCode)
			last = reason
			attempts = append(attempts, Attempt{Candidate: c.Name, Status: res.StatusCode, Err: reason})
			e.log.Info("Candidate rejected", map[string]interface{}{
				"candidate": c.Name,
				"status":    res.StatusCode,
			})
			continue
		}

		attempts = append(attempts, Attempt{Candidate: c.Name, Status: res.StatusCode})
		result := classifyBody(res)
		result.Candidate = c.Name
		result.Attempts = attempts

		e.log.Info("Candidate succeeded", map[string]interface{}{
			"candidate": c.Name,
			"kind":      result.Kind.String(),
			"attempts":  len(attempts),
		})
		return result, nil
	}

	return nil, &AggregateFailure{Attempts: len(attempts), Last: last}
}

func classifyStatus(name string, status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Endpoint: name, Status: status}
	case http.StatusNotFound:
		return &UnavailableError{Endpoint: name}
	default:
		return &StatusError{Endpoint: name, Status: status}
	}
}

// classifyBody dispatches a 200 on its declared media type first and its
// shape second, since the platform mislabels both directions.
func classifyBody(res *Response) *Result {
	mt := res.MediaType()
	if mt == "text/html" {
		return &Result{Kind: ResultDocument, Document: string(res.Body)}
	}

	trimmed := bytes.TrimSpace(res.Body)
	if json.Valid(trimmed) && len(trimmed) > 0 {
		return &Result{Kind: ResultJSON, JSON: json.RawMessage(trimmed)}
	}
	if looksLikeHTML(trimmed) {
		return &Result{Kind: ResultDocument, Document: string(res.Body)}
	}
	return &Result{Kind: ResultRaw, Raw: truncate(string(res.Body), rawPreviewLimit)}
}

func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToLower(head)
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.Contains(head, []byte("<html"))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
