package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &GoChatApp{
		log: slog.New(slog.NewTextHandler(buf, nil)),
	}

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &GoChatApp{}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_noStore(t *testing.T) {
	rr := httptest.NewRecorder()
	noStore(func(w http.ResponseWriter, r *http.Request) {})(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
}

func Test_errorHandler_AbortHandler(t *testing.T) {
	app := &GoChatApp{log: slog.New(slog.DiscardHandler)}
	handler := app.errorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func Test_jsonBody(t *testing.T) {
	app := &GoChatApp{log: slog.New(slog.DiscardHandler)}
	handler := app.jsonBody(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := app.readJson(w, r, &v); err != nil {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	tcases := []struct {
		name        string
		contentType string
		body        string
		statusCode  int
	}{
		{
			name:        "json body",
			contentType: "application/json",
			body:        `{"a":1}`,
			statusCode:  http.StatusNoContent,
		},
		{
			name:        "json with charset",
			contentType: "application/json; charset=utf-8",
			body:        `{"a":1}`,
			statusCode:  http.StatusNoContent,
		},
		{
			name:        "missing content type",
			body:        `{"a":1}`,
			statusCode:  http.StatusBadRequest,
		},
		{
			name:        "form body",
			contentType: "application/x-www-form-urlencoded",
			body:        "a=1",
			statusCode:  http.StatusBadRequest,
		},
		{
			name:        "oversized body",
			contentType: "application/json",
			body:        `{"a":"` + strings.Repeat("x", maxRequestBody) + `"}`,
			statusCode:  http.StatusRequestEntityTooLarge,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			rr := httptest.NewRecorder()
			handler(rr, req)

			require.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode != http.StatusNoContent {
				assert.Equal(t, "VALIDATION_ERROR", decodeApiError(t, rr).Code)
			}
		})
	}
}
