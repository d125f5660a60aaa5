package weread

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/drallgood/weread-shelf-sync/internal/logger"
	"github.com/drallgood/weread-shelf-sync/internal/util"
)

// RestyTransport sends platform requests through a shared resty client.
type RestyTransport struct {
	client  *resty.Client
	limiter *util.RateLimiter
	log     *logger.Logger
}

// TransportOptions configures NewRestyTransport.
type TransportOptions struct {
	// Limiter paces outbound requests; nil disables pacing.
	Limiter *util.RateLimiter
	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// NewRestyTransport returns a transport without a cookie jar. The transport
// is shared by every user, so cookies the platform sets must never be
// replayed: each request carries its own Cookie header.
func NewRestyTransport(opts TransportOptions) *RestyTransport {
	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetCookieJar(nil)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	return &RestyTransport{client: client, limiter: opts.Limiter, log: log}
}

// Send implements Transport.
func (t *RestyTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	r := t.client.R().SetContext(ctx).SetHeaders(req.Headers)
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	res, err := r.Execute(req.Method, req.URL)
	if err != nil {
		if parentErr := canceledErr(ctx); parentErr != nil {
			return nil, parentErr
		}
		return nil, &TransportError{Endpoint: req.URL, Timeout: isTimeout(err), Err: err}
	}

	if t.limiter != nil {
		if res.StatusCode() == http.StatusTooManyRequests {
			t.limiter.OnRateLimit(0)
		}
	}

	t.log.Debug("Platform request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL,
		"status":   res.StatusCode(),
		"bytes":    len(res.Body()),
		"duration": res.Time().String(),
	})

	return &Response{
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
	}, nil
}

// canceledErr returns context.Canceled when the caller cancelled. A deadline
// that fired because of the per-request timeout is reported as a transport
// timeout instead.
func canceledErr(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
