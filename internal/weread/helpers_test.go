package weread

import (
	"context"
	"net/http"
	"sync"
)

// stubTransport answers requests through handler and records them.
type stubTransport struct {
	mu      sync.Mutex
	calls   []*Request
	handler func(req *Request) (*Response, error)
}

func (s *stubTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.handler(req)
}

func (s *stubTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubTransport) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.URL
	}
	return out
}

func respond(status int, contentType, body string) *Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &Response{StatusCode: status, Header: h, Body: []byte(body)}
}

func jsonResp(status int, body string) *Response {
	return respond(status, "application/json", body)
}

func htmlResp(status int, body string) *Response {
	return respond(status, "text/html; charset=utf-8", body)
}

func testBundle() CredentialBundle {
	return CredentialBundle{
		Gid:  "gid-1",
		Vid:  "1234567",
		Skey: "skey-1",
		Rt:   "rt-1",
		Name: "%E5%BC%A0%E4%B8%89",
	}
}
