package weread

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWeb  = "https://web.test"
	testBase = "https://api.test"
)

func newTestReconciler(t *testing.T, handler func(*Request) (*Response, error)) (*Reconciler, *stubTransport) {
	t.Helper()
	stub := &stubTransport{handler: handler}
	store := NewMemoryCredentialStore()
	require.NoError(t, store.PutCredentials(context.Background(), "1234567", testBundle()))
	r := NewReconciler(Config{WebURL: testWeb + "/", BaseURL: testBase, BatchDelay: time.Millisecond}, stub, store, nil)
	return r, stub
}

func TestReconcileEnrichesIdentifierOnlyBooks(t *testing.T) {
	page := shelfPage(`{"shelf":{
		"rawBooks":[{"bookId":"A","title":"Alpha","author":"X","readUpdateTime":10}],
		"rawIndexes":[{"bookId":"A","role":"book"},{"bookId":"C","role":"book"},{"bookId":"D","role":"book"}]
	}}`)

	r, stub := newTestReconciler(t, func(req *Request) (*Response, error) {
		switch {
		case req.URL == testWeb+"/web/shelf":
			return htmlResp(200, page), nil
		case req.URL == testWeb+"/web/shelf/syncBook":
			return jsonResp(200, `{"books":[{"bookId":"C","title":"Gamma","cover":"//c/s_1.jpg"},{"bookId":"A","title":"dup"}],"bookProgress":[{"bookId":"C","progress":12}]}`), nil
		}
		return jsonResp(500, ""), nil
	})

	snap, err := r.Reconcile(context.Background(), "1234567")
	require.NoError(t, err)

	require.Len(t, snap.Books, 2)
	assert.Equal(t, "A", snap.Books[0].BookID)
	assert.Equal(t, "Alpha", snap.Books[0].Title)
	assert.Equal(t, sourceRawBooks, snap.Books[0].Source)
	assert.Equal(t, "Gamma", snap.Books[1].Title)
	assert.Equal(t, "https://c/s_1.jpg", snap.Books[1].Cover)
	assert.Equal(t, sourceSynced, snap.Books[1].Source)

	assert.Equal(t, sourceEnhanced, snap.Source)
	assert.Equal(t, SnapshotCounts{HTMLBooks: 3, FullInfo: 1, NeedSync: 2, Synced: 2, Total: 2}, snap.Counts)
	require.Len(t, snap.Progress, 1)
	assert.Equal(t, "1234567", snap.UserVid)

	require.Len(t, stub.calls, 2)
	sync := stub.calls[1]
	assert.Equal(t, http.MethodPost, sync.Method)
	assert.Equal(t, []string{"C", "D"}, sync.Body.(map[string][]string)["bookIds"])
	assert.Equal(t, "application/json;charset=UTF-8", sync.Headers["Content-Type"])
}

func TestReconcileWithoutSync(t *testing.T) {
	page := shelfPage(`{"shelf":{"rawBooks":[{"bookId":"A","title":"Alpha"}]}}`)
	r, stub := newTestReconciler(t, func(req *Request) (*Response, error) {
		return htmlResp(200, page), nil
	})

	snap, err := r.Reconcile(context.Background(), "1234567")
	require.NoError(t, err)
	assert.Equal(t, "web_shelf_new_html_parsed", snap.Source)
	assert.Equal(t, 1, snap.Counts.Total)
	assert.Equal(t, 1, stub.callCount())
}

func TestReconcileFallsThroughCandidates(t *testing.T) {
	r, stub := newTestReconciler(t, func(req *Request) (*Response, error) {
		if strings.HasPrefix(req.URL, testBase+"/shelf/sync") {
			return jsonResp(200, `{"books":[{"bookId":"L1","title":"Legacy","newRating":900}],"bookProgress":[{"bookId":"L1","progress":3}]}`), nil
		}
		return jsonResp(404, ""), nil
	})

	snap, err := r.Reconcile(context.Background(), "1234567")
	require.NoError(t, err)

	assert.Equal(t, []string{
		testWeb + "/web/shelf",
		testWeb + "/web/bookshelf",
		testBase + "/shelf/sync?userVid=1234567&synckey=0&lectureSynckey=0",
	}, stub.urls())
	assert.Equal(t, "shelf_sync_old_json", snap.Source)
	require.Len(t, snap.Books, 1)
	assert.Equal(t, "评分: 900/1000", snap.Books[0].Rating)
	assert.Len(t, snap.Progress, 1)

	apiCall := stub.calls[2]
	assert.NotEqual(t, BrowserUserAgent, apiCall.Headers["User-Agent"])
}

func TestReconcileDegradedSources(t *testing.T) {
	tests := []struct {
		name    string
		res     *Response
		source  string
		preview string
	}{
		{
			name:    "page without data",
			res:     htmlResp(200, "<html><body>请扫码登录</body></html>"),
			source:  "web_shelf_new_html_no_data",
			preview: "<html><body>请扫码登录</body></html>",
		},
		{
			name:    "plain text",
			res:     respond(200, "text/plain", "maintenance"),
			source:  "web_shelf_new_non_json",
			preview: "maintenance",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestReconciler(t, func(*Request) (*Response, error) { return tt.res, nil })
			snap, err := r.Reconcile(context.Background(), "1234567")
			require.NoError(t, err)
			assert.Equal(t, tt.source, snap.Source)
			assert.Equal(t, tt.preview, snap.Preview)
			assert.Empty(t, snap.Books)
			assert.Zero(t, snap.Counts.Total)
		})
	}
}

func TestReconcileFailures(t *testing.T) {
	r, stub := newTestReconciler(t, func(*Request) (*Response, error) { return jsonResp(500, ""), nil })

	snap, err := r.Reconcile(context.Background(), "1234567")
	assert.Nil(t, snap)
	var agg *AggregateFailure
	require.True(t, errors.As(err, &agg))
	assert.Equal(t, 5, agg.Attempts)
	assert.Equal(t, 5, stub.callCount())

	_, err = r.Reconcile(context.Background(), "999")
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = r.ReconcileWith(context.Background(), CredentialBundle{Vid: "1"})
	assert.True(t, IsFormatError(err))
	assert.Equal(t, 5, stub.callCount(), "format errors never reach the network")
}

func TestShelfCandidates(t *testing.T) {
	r, _ := newTestReconciler(t, nil)
	cands := r.ShelfCandidates(testBundle())

	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"web_shelf_new", "web_bookshelf", "shelf_sync_old", "user_bookshelf", "web_shelf_minimal"}, names)
	assert.Equal(t, testBase+"/user/bookshelf?userVid=1234567", cands[3].URL)
	assert.Equal(t, testWeb+"/web/shelf?minimal=1", cands[4].URL)
	assert.Equal(t, 15*time.Second, cands[0].Timeout)
	assert.Equal(t, 10*time.Second, cands[4].Timeout)
}
