package weread

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/drallgood/weread-shelf-sync/internal/logger"
)

const (
	// BrowserUserAgent is sent to the web host, which serves a login page to
	// unknown clients.
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"
	apiUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:106.0) Gecko/20100101 Firefox/106.0"

	livenessTimeout = 15 * time.Second
)

var requiredCookies = []string{"wr_gid", "wr_vid", "wr_skey", "wr_rt"}

// ValidateFormat checks a bundle locally. It never performs I/O.
func ValidateFormat(b CredentialBundle) error {
	values := map[string]string{
		"wr_gid":  b.Gid,
		"wr_vid":  b.Vid,
		"wr_skey": b.Skey,
		"wr_rt":   b.Rt,
	}
	var missing []string
	for _, key := range requiredCookies {
		if strings.TrimSpace(values[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &FormatError{Missing: missing}
	}
	for _, r := range b.Vid {
		if r < '0' || r > '9' {
			return &FormatError{Reason: "wr_vid must be numeric"}
		}
	}
	return nil
}

// ParseCookieString reads a browser cookie header. Only wr_* cookies and the
// bare vid, skey and gid aliases are kept.
func ParseCookieString(s string) CredentialBundle {
	var b CredentialBundle
	for _, item := range strings.Split(strings.TrimSpace(s), ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "wr_gid", "gid":
			b.Gid = value
		case "wr_vid", "vid":
			b.Vid = value
		case "wr_skey", "skey":
			b.Skey = value
		case "wr_rt":
			b.Rt = value
		case "wr_localvid":
			b.LocalVid = value
		case "wr_name":
			b.Name = value
		case "wr_avatar":
			b.Avatar = value
		case "wr_gender":
			b.Gender = value
		case "wr_pf":
			b.Pf = value
		}
	}
	return b
}

// CookieHeader renders the bundle in the order the platform's own web client
// sends it.
func (b CredentialBundle) CookieHeader() string {
	pf := b.Pf
	if pf == "" {
		pf = "0"
	}
	pairs := [][2]string{
		{"wr_gid", b.Gid},
		{"wr_vid", b.Vid},
		{"wr_skey", b.Skey},
		{"wr_pf", pf},
		{"wr_rt", b.Rt},
		{"wr_localvid", b.LocalVid},
		{"wr_name", b.Name},
		{"wr_avatar", b.Avatar},
		{"wr_gender", b.Gender},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p[0]+"="+headerSafe(p[1]))
	}
	return strings.Join(parts, "; ")
}

// headerSafe percent-encodes the whole value when it contains non-ASCII
// bytes; pure ASCII values are sent untouched.
func headerSafe(v string) string {
	ascii := true
	for i := 0; i < len(v); i++ {
		if v[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return v
	}
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		if isUnreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&0x0f])
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// SafeUnquote percent-decodes a cookie value. Bytes that are not valid UTF-8
// are read as GBK, which older web clients used for wr_name. Malformed escapes
// are kept literally and nothing ever fails.
func SafeUnquote(v string) string {
	if v == "" || !strings.Contains(v, "%") {
		return v
	}
	raw := percentDecode(v)
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw)
	if err != nil {
		return v
	}
	return string(decoded)
}

func percentDecode(v string) []byte {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '%' && i+2 < len(v) {
			hi, okHi := unhex(v[i+1])
			lo, okLo := unhex(v[i+2])
			if okHi && okLo {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		out = append(out, v[i])
	}
	return out
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// BrowserHeaders are sent to the web host.
func BrowserHeaders(b CredentialBundle, userAgent string) map[string]string {
	if userAgent == "" {
		userAgent = BrowserUserAgent
	}
	return map[string]string{
		"User-Agent":         userAgent,
		"Accept":             "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
		"Accept-Language":    "zh-CN,zh;q=0.9",
		"Sec-Ch-Ua":          `"Chromium";v="140", "Not=A?Brand";v="24", "Google Chrome";v="140"`,
		"Sec-Ch-Ua-Mobile":   "?0",
		"Sec-Ch-Ua-Platform": `"Windows"`,
		"Sec-Fetch-Dest":     "document",
		"Sec-Fetch-Mode":     "navigate",
		"Sec-Fetch-Site":     "same-origin",
		"Sec-Fetch-User":     "?1",
		"Referer":            "https://weread.qq.com/",
		"Cookie":             b.CookieHeader(),
	}
}

// APIHeaders are sent to the legacy API host.
func APIHeaders(b CredentialBundle) map[string]string {
	return map[string]string{
		"User-Agent":      apiUserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": "zh-CN,zh;q=0.8,zh-TW;q=0.7,zh-HK;q=0.5,en-US;q=0.3,en;q=0.2",
		"Cookie":          b.CookieHeader(),
	}
}

// JSONHeaders are sent with POST requests to the web host.
func JSONHeaders(b CredentialBundle, userAgent string) map[string]string {
	if userAgent == "" {
		userAgent = BrowserUserAgent
	}
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		"Content-Type":    "application/json;charset=UTF-8",
		"Origin":          "https://weread.qq.com",
		"Sec-Fetch-Site":  "same-origin",
		"Sec-Fetch-Mode":  "cors",
		"Sec-Fetch-Dest":  "empty",
		"Cookie":          b.CookieHeader(),
	}
}

// Profile is the account information recovered during a liveness check.
type Profile struct {
	Vid      string `json:"vid"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Gender   string `json:"gender"`
	LocalVid string `json:"localvid"`
	Gid      string `json:"gid"`
}

// LivenessResult is always populated, including when an error is returned.
type LivenessResult struct {
	OK      bool
	Message string
	Profile Profile
}

// Validator asks the platform whether a bundle is still accepted.
type Validator struct {
	transport Transport
	webURL    string
	userAgent string
	log       *logger.Logger
}

// NewValidator returns a Validator probing webURL.
func NewValidator(transport Transport, webURL, userAgent string, log *logger.Logger) *Validator {
	if webURL == "" {
		webURL = DefaultWebURL
	}
	if log == nil {
		log = logger.Get()
	}
	return &Validator{
		transport: transport,
		webURL:    strings.TrimRight(webURL, "/"),
		userAgent: userAgent,
		log:       log,
	}
}

// CheckLiveness fetches the shelf page once. A 200 carrying the shelf page or
// a JSON object means the session is alive. 401 and 403 come back as
// *AuthError, network failures as *TransportError; any other outcome is a
// non-OK result without an error.
func (v *Validator) CheckLiveness(ctx context.Context, b CredentialBundle) (LivenessResult, error) {
	endpoint := v.webURL + "/web/shelf"
	res, err := v.transport.Send(ctx, &Request{
		Method:  http.MethodGet,
		URL:     endpoint,
		Headers: BrowserHeaders(b, v.userAgent),
		Timeout: livenessTimeout,
	})
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			msg := "无法连接到微信读书服务器"
			if te.Timeout {
				msg = "请求超时，请检查网络连接"
			}
			return LivenessResult{Message: msg}, err
		}
		return LivenessResult{Message: "验证过程出错: " + err.Error()}, err
	}

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return LivenessResult{Message: "Cookie已过期或无效"}, &AuthError{Endpoint: endpoint, Status: res.StatusCode}
	case http.StatusForbidden:
		return LivenessResult{Message: "访问被拒绝，可能需要重新登录"}, &AuthError{Endpoint: endpoint, Status: res.StatusCode}
	default:
		return LivenessResult{Message: "API返回异常状态码: " + strconv.Itoa(res.StatusCode)}, nil
	}

	body := string(res.Body)
	if isHTML(res) {
		if strings.Contains(body, "wr_vid") || strings.Contains(body, "bookshelf") {
			v.log.Debug("Credentials accepted by shelf page", map[string]interface{}{"vid": b.Vid})
			return LivenessResult{OK: true, Message: "Cookie验证成功", Profile: profileFromBundle(b)}, nil
		}
		return LivenessResult{Message: "Cookie无效或需要重新登录"}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(res.Body, &obj); err == nil && len(obj) > 0 {
		return LivenessResult{OK: true, Message: "Cookie验证成功", Profile: profileFromBundle(b)}, nil
	}
	return LivenessResult{Message: "Cookie有效但无法获取用户信息"}, nil
}

func profileFromBundle(b CredentialBundle) Profile {
	return Profile{
		Vid:      b.Vid,
		Name:     SafeUnquote(b.Name),
		Avatar:   SafeUnquote(b.Avatar),
		Gender:   b.Gender,
		LocalVid: b.LocalVid,
		Gid:      b.Gid,
	}
}

func isHTML(res *Response) bool {
	return res.MediaType() == "text/html"
}

// MemoryCredentialStore keeps bundles in process memory. It backs one-off
// tools that have no database.
type MemoryCredentialStore struct {
	mu      sync.Mutex
	bundles map[string]CredentialBundle
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{bundles: make(map[string]CredentialBundle)}
}

// GetCredentials implements CredentialStore.
func (m *MemoryCredentialStore) GetCredentials(_ context.Context, userKey string) (*CredentialBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[userKey]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// PutCredentials implements CredentialStore.
func (m *MemoryCredentialStore) PutCredentials(_ context.Context, userKey string, bundle CredentialBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[userKey] = bundle
	return nil
}
