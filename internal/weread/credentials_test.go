package weread

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name    string
		bundle  CredentialBundle
		missing []string
		reason  string
	}{
		{name: "complete", bundle: testBundle()},
		{
			name:    "all missing",
			bundle:  CredentialBundle{},
			missing: []string{"wr_gid", "wr_vid", "wr_skey", "wr_rt"},
		},
		{
			name:    "blank skey and rt",
			bundle:  CredentialBundle{Gid: "g", Vid: "1", Skey: "  ", Rt: ""},
			missing: []string{"wr_skey", "wr_rt"},
		},
		{
			name:   "non numeric vid",
			bundle: CredentialBundle{Gid: "g", Vid: "12a", Skey: "s", Rt: "r"},
			reason: "wr_vid must be numeric",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormat(tt.bundle)
			if tt.missing == nil && tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var fe *FormatError
			require.True(t, errors.As(err, &fe), "expected FormatError, got %v", err)
			assert.Equal(t, tt.missing, fe.Missing)
			assert.Equal(t, tt.reason, fe.Reason)
			assert.True(t, IsFormatError(err))
		})
	}
}

func TestParseCookieString(t *testing.T) {
	b := ParseCookieString(" wr_gid=1; wr_vid=42 ;wr_skey=abc=; wr_rt=rt; other=x; skey=override; broken; wr_name=%E5%BC%A0 ")
	assert.Equal(t, "1", b.Gid)
	assert.Equal(t, "42", b.Vid)
	assert.Equal(t, "override", b.Skey, "later aliases win")
	assert.Equal(t, "rt", b.Rt)
	assert.Equal(t, "%E5%BC%A0", b.Name)
}

func TestCookieHeader(t *testing.T) {
	b := CredentialBundle{Gid: "g", Vid: "1", Skey: "s", Rt: "r", Name: "张三", Gender: "1"}
	assert.Equal(t,
		"wr_gid=g; wr_vid=1; wr_skey=s; wr_pf=0; wr_rt=r; wr_localvid=; wr_name=%E5%BC%A0%E4%B8%89; wr_avatar=; wr_gender=1",
		b.CookieHeader())

	b.Pf = "2"
	assert.Contains(t, b.CookieHeader(), "wr_pf=2")

	// ASCII values are forwarded verbatim, including reserved characters.
	b.Avatar = "https://x/a.png?x=1"
	assert.Contains(t, b.CookieHeader(), "wr_avatar=https://x/a.png?x=1")
}

func TestSafeUnquote(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "reader", "reader"},
		{"utf8", "%E5%BC%A0%E4%B8%89", "张三"},
		{"gbk", "%D5%C5%C8%FD", "张三"},
		{"malformed escape", "100%zz", "100%zz"},
		{"trailing percent", "abc%", "abc%"},
		{"mixed", "a%20b", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeUnquote(tt.in))
		})
	}
}

func TestCheckLiveness(t *testing.T) {
	tests := []struct {
		name     string
		res      *Response
		err      error
		wantOK   bool
		wantMsg  string
		wantAuth bool
	}{
		{
			name:    "shelf page",
			res:     htmlResp(200, `<html><script>var wr_vid = 1;</script></html>`),
			wantOK:  true,
			wantMsg: "Cookie验证成功",
		},
		{
			name:    "login page",
			res:     htmlResp(200, `<html><body>扫码登录</body></html>`),
			wantMsg: "Cookie无效或需要重新登录",
		},
		{
			name:    "json object",
			res:     jsonResp(200, `{"vid": 1}`),
			wantOK:  true,
			wantMsg: "Cookie验证成功",
		},
		{
			name:     "expired",
			res:      jsonResp(401, `{}`),
			wantMsg:  "Cookie已过期或无效",
			wantAuth: true,
		},
		{
			name:     "denied",
			res:      jsonResp(403, `{}`),
			wantMsg:  "访问被拒绝，可能需要重新登录",
			wantAuth: true,
		},
		{
			name:    "other status",
			res:     jsonResp(502, `{}`),
			wantMsg: "API返回异常状态码: 502",
		},
		{
			name:    "timeout",
			err:     &TransportError{Endpoint: "x", Timeout: true},
			wantMsg: "请求超时，请检查网络连接",
		},
		{
			name:    "connection",
			err:     &TransportError{Endpoint: "x", Err: errors.New("refused")},
			wantMsg: "无法连接到微信读书服务器",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubTransport{handler: func(*Request) (*Response, error) { return tt.res, tt.err }}
			v := NewValidator(stub, "https://web.test/", "", nil)

			result, err := v.CheckLiveness(context.Background(), testBundle())
			assert.Equal(t, tt.wantOK, result.OK)
			assert.Equal(t, tt.wantMsg, result.Message)
			assert.Equal(t, tt.wantAuth, IsAuthError(err))
			if tt.err != nil {
				assert.Error(t, err)
			}
			if tt.wantOK {
				assert.Equal(t, "张三", result.Profile.Name)
				assert.Equal(t, "1234567", result.Profile.Vid)
			}

			require.Equal(t, 1, stub.callCount())
			req := stub.calls[0]
			assert.Equal(t, "https://web.test/web/shelf", req.URL)
			assert.Equal(t, http.MethodGet, req.Method)
			assert.Equal(t, livenessTimeout, req.Timeout)
			assert.True(t, strings.HasPrefix(req.Headers["Cookie"], "wr_gid=gid-1; wr_vid=1234567"))
			assert.Equal(t, BrowserUserAgent, req.Headers["User-Agent"])
		})
	}
}
