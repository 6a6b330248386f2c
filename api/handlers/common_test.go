package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/types"
)

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, http.StatusAccepted, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{types.NewError(types.ErrInvalidRequest, "bad"), http.StatusBadRequest, "INVALID_REQUEST"},
		{types.NewNonRetryable("bad input"), http.StatusBadRequest, "INVALID_INPUT"},
		{types.NewError(types.ErrUnauthorized, "no token"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{types.NewError(types.ErrNotFound, "missing"), http.StatusNotFound, "NOT_FOUND"},
		{types.NewError(types.ErrConflict, "done"), http.StatusConflict, "CONFLICT"},
		{types.NewError(types.ErrRateLimited, "slow down"), http.StatusTooManyRequests, "RATE_LIMITED"},
		{types.NewTransient("redis down"), http.StatusServiceUnavailable, "TRANSIENT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestWriteError_HidesInternalCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("dsn=postgres://secret"), nil)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestDecodeJSONBody(t *testing.T) {
	type body struct {
		Approved bool `json:"approved"`
	}

	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"approved":true}`))
		var dst body
		require.NoError(t, DecodeJSONBody(httptest.NewRecorder(), r, &dst))
		assert.True(t, dst.Approved)
	})

	t.Run("unknown field", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"approved":true,"extra":1}`))
		var dst body
		err := DecodeJSONBody(httptest.NewRecorder(), r, &dst)
		assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	})

	t.Run("empty", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		var dst body
		err := DecodeJSONBody(httptest.NewRecorder(), r, &dst)
		assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	})

	t.Run("too large", func(t *testing.T) {
		payload := `{"feedback":"` + strings.Repeat("x", maxBodyBytes) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		var dst map[string]string
		err := DecodeJSONBody(httptest.NewRecorder(), r, &dst)
		require.Error(t, err)
		e, ok := types.AsError(err)
		require.True(t, ok)
		assert.Equal(t, "request body too large", e.Message)
	})
}

func TestResponseWriter_CapturesFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	_, err := rw.Write([]byte("x"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, rw.StatusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Same(t, rec, rw.Unwrap())
}
