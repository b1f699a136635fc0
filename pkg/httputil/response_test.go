package httputil

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, 200, map[string]string{"name": "fiction"}))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "fiction", body["name"])
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, 500, errors.New("database unavailable"))

	assert.Equal(t, 500, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "database unavailable", body["error"])
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(rec *httptest.ResponseRecorder)
		status int
	}{
		{"bad request", func(rec *httptest.ResponseRecorder) { WriteBadRequest(rec, "nope") }, 400},
		{"unauthorized", func(rec *httptest.ResponseRecorder) { WriteUnauthorized(rec, "nope") }, 401},
		{"forbidden", func(rec *httptest.ResponseRecorder) { WriteForbidden(rec, "nope") }, 403},
		{"not found", func(rec *httptest.ResponseRecorder) { WriteNotFoundError(rec, "nope") }, 404},
		{"conflict", func(rec *httptest.ResponseRecorder) { WriteConflict(rec, "nope") }, 409},
		{"unavailable", func(rec *httptest.ResponseRecorder) { WriteServiceUnavailable(rec, "nope") }, 503},
		{"no content", func(rec *httptest.ResponseRecorder) { WriteNoContent(rec) }, 204},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
