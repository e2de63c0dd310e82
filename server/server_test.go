package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/chai-tokenizer/engine"
	"github.com/sweetpotato0/chai-tokenizer/pkg/logging"
	"github.com/sweetpotato0/chai-tokenizer/pkg/metrics"
	"github.com/sweetpotato0/chai-tokenizer/session"
	"github.com/sweetpotato0/chai-tokenizer/tokenizer"
)

// byteTokenizer maps every byte to its value.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for i := 0; i < len(text); i++ {
		ids = append(ids, int(text[i]))
	}
	return ids, nil
}

func (byteTokenizer) Decode(ids []int) (string, error) {
	b := make([]byte, 0, len(ids))
	for _, id := range ids {
		b = append(b, byte(id))
	}
	return string(b), nil
}

func (byteTokenizer) Precise() bool { return true }

func newTestServer(t *testing.T) (*Server, http.Handler, *metrics.Collector) {
	t.Helper()
	reg := tokenizer.NewRegistry(
		tokenizer.WithFamily("gpt", func(string) (tokenizer.Tokenizer, error) { return byteTokenizer{}, nil }),
		tokenizer.WithRegistryLogger(logging.Discard()),
	)
	m := metrics.NewCollector("test")
	s := New(reg, WithMetrics(m), WithLogger(logging.Discard()))
	t.Cleanup(s.Sessions().CloseAll)
	return s, s.Handler(), m
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body=%s", rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	_, h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListModels(t *testing.T) {
	_, h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Default string      `json:"default"`
		Data    []ModelInfo `json:"data"`
	}](t, rec)
	assert.Equal(t, "gpt-3.5-turbo", body.Default)
	require.Len(t, body.Data, 5)

	precise := map[string]bool{}
	for _, m := range body.Data {
		precise[m.Value] = m.Precise
	}
	assert.True(t, precise["gpt-4"])
	assert.False(t, precise["claude-3"])
	assert.False(t, precise["mistral-7b"])
}

func TestTokenizeEncode(t *testing.T) {
	_, h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/v1/tokenize", `{"model":"gpt-4","input":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[TokenizeResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.ID, "tok_"))
	assert.Equal(t, engine.Encode, resp.Mode)
	assert.False(t, resp.Degraded)
	assert.Equal(t, []tokenizer.Token{{Text: "H", ID: 72}, {Text: "i", ID: 105}}, resp.Tokens)
	assert.Equal(t, []int{72, 105}, resp.IDs)
	assert.Equal(t, 2, resp.TokenCount)
	assert.Equal(t, 2, resp.UniqueCount)
	assert.Equal(t, "72\n105", resp.Export)
	assert.Equal(t, "H → 72\ni → 105", resp.Annotated)
}

func TestTokenizeDecode(t *testing.T) {
	_, h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/v1/tokenize", `{"mode":"decode","input":"72, 105"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[TokenizeResponse](t, rec)
	assert.Equal(t, "gpt-3.5-turbo", resp.Model)
	assert.Equal(t, "Hi", resp.Decoded)
	assert.Equal(t, "Hi", resp.Export)
	assert.Equal(t, 2, resp.TokenCount)
}

func TestTokenizeDegradedModel(t *testing.T) {
	_, h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/v1/tokenize", `{"model":"llama-2","input":"hello big world"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[TokenizeResponse](t, rec)
	assert.True(t, resp.Degraded)
	assert.Equal(t, []int{0, 1, 2}, resp.IDs)
	assert.Equal(t, "hello", resp.Tokens[0].Text)
}

func TestTokenizeEmptyInput(t *testing.T) {
	_, h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/v1/tokenize", `{"input":"   "}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[TokenizeResponse](t, rec)
	assert.Empty(t, resp.Tokens)
	assert.Zero(t, resp.TokenCount)
	assert.Empty(t, resp.Export)
}

func TestTokenizeRejectsBadModes(t *testing.T) {
	_, h, _ := newTestServer(t)
	for _, body := range []string{
		`{"mode":"reverse","input":"x"}`,
		`{"display":"grid","input":"x"}`,
		`{"input":`,
	} {
		rec := doJSON(t, h, http.MethodPost, "/v1/tokenize", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/sessions", `{"model":"gpt-4"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snap := decode[session.Snapshot](t, rec)
	require.NotEmpty(t, snap.ID)
	assert.Equal(t, 1, s.Sessions().Count())
	base := "/v1/sessions/" + snap.ID

	rec = doJSON(t, h, http.MethodPut, base+"/input", `{"input":"ab","flush":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap = decode[session.Snapshot](t, rec)
	assert.Equal(t, "ab", snap.State.SettledInput)
	assert.Equal(t, 2, snap.Result.Count())
	assert.True(t, snap.CanCopy)

	rec = doJSON(t, h, http.MethodPost, base+"/copy", "")
	require.Equal(t, http.StatusOK, rec.Code)
	copied := decode[CopyResponse](t, rec)
	assert.True(t, copied.Copied)
	assert.Equal(t, "97\n98", copied.Export)

	rec = doJSON(t, h, http.MethodPut, base+"/mode", `{"mode":"decode"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decode[session.Snapshot](t, rec)
	assert.True(t, snap.Result.Empty(), "letters hold no ids")

	rec = doJSON(t, h, http.MethodPut, base+"/display", `{"display":"numbered"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.Numbered, decode[session.Snapshot](t, rec).State.Display)

	rec = doJSON(t, h, http.MethodPut, base+"/mode", `{"mode":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, s.Sessions().Count())
}

func TestRequestMetrics(t *testing.T) {
	_, h, m := newTestServer(t)
	doJSON(t, h, http.MethodGet, "/healthz", "")
	doJSON(t, h, http.MethodGet, "/v1/sessions/missing", "")
	doJSON(t, h, http.MethodPost, "/v1/tokenize", `{"input":"a"}`)

	n, err := testutil.GatherAndCount(m.Registry(), "test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rec := doJSON(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_http_requests_total{method="GET",path="/v1/sessions/:id",status="404"} 1`)
	assert.Contains(t, rec.Body.String(), "test_recomputes_total")
}

func TestRequestMetricsBoundedForUnknownPaths(t *testing.T) {
	_, h, m := newTestServer(t)
	for i := 0; i < 20; i++ {
		doJSON(t, h, http.MethodGet, "/v1/sessions/abc/junk-"+strconv.Itoa(i), "")
	}

	n, err := testutil.GatherAndCount(m.Registry(), "test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/v1/tokenize":          "/v1/tokenize",
		"/v1/sessions":          "/v1/sessions",
		"/v1/sessions/abc":      "/v1/sessions/:id",
		"/v1/sessions/abc/copy": "/v1/sessions/:id/copy",
		"/v1/sessions/abc/mode": "/v1/sessions/:id/mode",
		"/v1/sessions/abc/x/y":  "other",
		"/v1/sessions/abc/zz-1": "other",
		"/v1/sessions/abc/":     "other",
		"/v1/sessions/":         "other",
		"/v1/sessions//copy":    "other",
		"/favicon.ico":          "other",
	}
	for path, want := range tests {
		assert.Equal(t, want, routeLabel(path), path)
	}
}

func TestRateLimit(t *testing.T) {
	reg := tokenizer.NewRegistry(tokenizer.WithRegistryLogger(logging.Discard()))
	s := New(reg, WithLogger(logging.Discard()), WithRateLimit(1, 2))
	t.Cleanup(s.Sessions().CloseAll)
	h := s.Handler()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, doJSON(t, h, http.MethodGet, "/v1/models", "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// health checks are never limited
	assert.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestRateLimiterPrunesIdleVisitors(t *testing.T) {
	l := newRateLimiter(1, 1)
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }

	require.True(t, l.allow("10.0.0.1"))
	require.False(t, l.allow("10.0.0.1"))

	now = now.Add(10 * time.Minute)
	require.True(t, l.allow("10.0.0.2"))
	l.mu.Lock()
	_, stale := l.visitors["10.0.0.1"]
	l.mu.Unlock()
	assert.False(t, stale, "idle visitor should be pruned")
}
