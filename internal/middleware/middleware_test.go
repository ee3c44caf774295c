package myMiddleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidehustle-chat/internal/metrics"
)

type stubValidator map[string]string

func (s stubValidator) ValidateToken(token string) (string, string, error) {
	id, ok := s[token]
	if !ok {
		return "", "", errors.New("invalid token")
	}
	return id, "name-" + id, nil
}

func TestAuthMiddleware(t *testing.T) {
	am := NewAuthMiddleware(stubValidator{"good": "u1"})

	var gotID string
	var gotName any
	h := am.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = UserIDFrom(r.Context())
		gotName = r.Context().Value(UsernameKey)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{"bearer header", "Bearer good", "", http.StatusNoContent, ""},
		{"lowercase scheme", "bearer good", "", http.StatusNoContent, ""},
		{"query param for websockets", "", "?token=good", http.StatusNoContent, ""},
		{"missing", "", "", http.StatusUnauthorized, `{"error":"missing authentication token"}`},
		{"wrong scheme", "Basic good", "", http.StatusUnauthorized, `{"error":"missing authentication token"}`},
		{"unknown token", "Bearer nope", "", http.StatusUnauthorized, `{"error":"invalid token"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotName = "", nil
			req := httptest.NewRequest(http.MethodGet, "/api/unread"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, "u1", gotID)
				assert.Equal(t, "name-u1", gotName)
			} else {
				assert.Empty(t, gotID)
				assert.JSONEq(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestUserIDFrom(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := UserIDFrom(req.Context())
	assert.False(t, ok)

	_, ok = UserIDFrom(WithUser(req.Context(), "", "anon"))
	assert.False(t, ok)

	id, ok := UserIDFrom(WithUser(req.Context(), "u1", "alice"))
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	h := middleware.RequestID(Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusBadGateway)
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/unread", nil))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"request_id"`)
	assert.Contains(t, string(lines[0]), "inside handler")
	assert.Contains(t, string(lines[1]), `"level":"error"`)
	assert.Contains(t, string(lines[1]), `"status":502`)
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/api/conversations":              "/api/conversations",
		"/api/conversations/":             "/api/conversations/",
		"/api/conversations/abc":          "/api/conversations/:id",
		"/api/conversations/abc/messages": "/api/conversations/:id/messages",
		"/api/conversations/abc/read":     "/api/conversations/:id/read",
		"/api/conversations/abc/archive":  "/api/conversations/:id/archive",
		"/api/conversations/abc/unread":   "/api/conversations/:id/unread",
		"/api/messages/01HZXYZ":           "/api/messages/:id",
		"/api/unread":                     "/api/unread",
		"/ws":                             "/ws",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestMetrics(t *testing.T) {
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodDelete, "/api/messages/:id", "204")
	before := testutil.ToFloat64(counter)

	h := Metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for _, id := range []string{"a", "b"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/messages/"+id, nil))
	}

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}
