package utils

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := NewBackoff(time.Millisecond, 3).Do(context.Background(), func(i int) error {
		calls++
		if i < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoffStopsOnPermanent(t *testing.T) {
	calls := 0
	boom := errors.New("bad request")
	err := NewBackoff(time.Millisecond, 5).Do(context.Background(), func(int) error {
		calls++
		return Permanent(boom)
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestBackoffGivesUp(t *testing.T) {
	calls := 0
	err := NewBackoff(time.Millisecond, 2).Do(context.Background(), func(int) error {
		calls++
		return errors.New("down")
	})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 3, calls)
}

func TestBackoffHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewBackoff(time.Hour, 3).Do(ctx, func(int) error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(Logger(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", id)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, id, seen)
}
