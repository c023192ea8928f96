package shortener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShorten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"short_url":"https://s.example/ab12"}`))
	}))
	defer srv.Close()

	s := NewClient(srv.URL, time.Second, nil)
	assert.Equal(t, "https://s.example/ab12", s.Shorten(context.Background(), "https://portal.example/approval/1"))
}

func TestShortenFallsBackToOriginal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	long := "https://portal.example/approval/1?action=approve"
	s := NewClient(srv.URL, time.Second, nil)
	assert.Equal(t, long, s.Shorten(context.Background(), long))

	assert.Equal(t, long, NewClient("", 0, nil).Shorten(context.Background(), long))
}

func TestShortenSkipsServiceAfterRepeatedFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewClient(srv.URL, time.Second, nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, "https://portal.example/x", s.Shorten(context.Background(), "https://portal.example/x"))
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
