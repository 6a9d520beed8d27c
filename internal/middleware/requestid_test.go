package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureRequestID(t *testing.T, headerID string) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if headerID != "" {
		req.Header.Set("X-Request-ID", headerID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return captured, rec
}

func TestRequestID_GeneratesNewID(t *testing.T) {
	id, rec := captureRequestID(t, "")
	require.NotEmpty(t, id)
	assert.Equal(t, id, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_PreservesValidID(t *testing.T) {
	id, rec := captureRequestID(t, "custom-id-123")
	assert.Equal(t, "custom-id-123", id)
	assert.Equal(t, "custom-id-123", rec.Header().Get("X-Request-ID"))
}

func TestRequestID_ReplacesInvalidIDs(t *testing.T) {
	tests := []struct {
		name     string
		headerID string
		wantNew  bool
	}{
		{name: "alphanumeric with hyphens and underscores", headerID: "abc-123_DEF", wantNew: false},
		{name: "newline forges log lines", headerID: "fake-id\nINJECTED: malicious", wantNew: true},
		{name: "carriage return forges log lines", headerID: "fake-id\rINJECTED: malicious", wantNew: true},
		{name: "spaces", headerID: "id with spaces", wantNew: true},
		{name: "markup", headerID: "id<script>alert(1)</script>", wantNew: true},
		{name: "over max length", headerID: strings.Repeat("a", 129), wantNew: true},
		{name: "at max length", headerID: strings.Repeat("a", 128), wantNew: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, _ := captureRequestID(t, tt.headerID)
			require.NotEmpty(t, id)
			if tt.wantNew {
				assert.NotEqual(t, tt.headerID, id)
			} else {
				assert.Equal(t, tt.headerID, id)
			}
		})
	}
}

func TestRequestIDFromContext_EmptyWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFromContext(req.Context()))
}
