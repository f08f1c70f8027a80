package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-law-bot/internal/resilience"
	"traffic-law-bot/pkg/logger"
)

func TestRedisDeduplicator(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	d := NewRedisDeduplicator(rdb, time.Minute)
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "mid.1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.FirstSeen(ctx, "mid.1")
	require.NoError(t, err)
	assert.False(t, first)

	mr.FastForward(2 * time.Minute)
	first, err = d.FirstSeen(ctx, "mid.1")
	require.NoError(t, err)
	assert.True(t, first, "expired mids are accepted again")
}

func TestRedisDeduplicatorError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	_, err := NewRedisDeduplicator(rdb, time.Minute).FirstSeen(context.Background(), "mid")
	assert.Error(t, err)
}

func TestMemoryDeduplicator(t *testing.T) {
	d := NewMemoryDeduplicator(10, time.Hour)
	ctx := context.Background()

	first, _ := d.FirstSeen(ctx, "a")
	assert.True(t, first)
	first, _ = d.FirstSeen(ctx, "a")
	assert.False(t, first)
	first, _ = d.FirstSeen(ctx, "b")
	assert.True(t, first)
}

func testPolicy() *resilience.Policy {
	return resilience.New(resilience.Config{
		Name:            "messenger-test",
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		BreakerFailures: 10,
		BreakerTimeout:  time.Minute,
	}, logger.Discard())
}

func TestSenderPostsMessage(t *testing.T) {
	var got sendRequest
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v18.0/me/messages", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		token = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"recipient_id":"psid-1","message_id":"m_1"}`))
	}))
	defer srv.Close()

	s := NewSender(srv.URL+"/v18.0/", "page&token", time.Second, testPolicy(), nil, logger.Discard())
	require.NoError(t, s.Send(context.Background(), "psid-1", "Xin chào"))

	assert.Equal(t, "Bearer page&token", token)
	assert.Equal(t, "psid-1", got.Recipient.ID)
	assert.Equal(t, "RESPONSE", got.MessagingType)
	assert.Equal(t, "Xin chào", got.Message.Text)
}

func TestSenderRetries(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{name: "server error retried", status: http.StatusBadGateway, wantCalls: 3},
		{name: "throttled retried", status: http.StatusTooManyRequests, wantCalls: 3},
		{name: "bad request not retried", status: http.StatusBadRequest, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer srv.Close()

			s := NewSender(srv.URL, "t", time.Second, testPolicy(), nil, logger.Discard())
			err := s.Send(context.Background(), "psid", "hi")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "send api status")
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestSenderTransportErrorHidesToken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var logs bytes.Buffer
	log := logger.NewWithWriter(logger.Config{Level: slog.LevelDebug}, &logs)
	policy := resilience.New(resilience.Config{
		Name:            "messenger-test",
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		BreakerFailures: 10,
		BreakerTimeout:  time.Minute,
	}, log)

	const secret = "EAAB-page-secret"
	s := NewSender("http://"+addr+"/v18.0", secret, time.Second, policy, nil, log)
	err = s.Send(context.Background(), "psid", "hi")
	require.Error(t, err)

	assert.NotContains(t, err.Error(), secret)
	assert.NotContains(t, logs.String(), secret)
	assert.Contains(t, logs.String(), "准备重试", "dial failures are retried")
}

func TestSenderDoesNotRetryAfterTimeout(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "t", 50*time.Millisecond, testPolicy(), nil, logger.Discard())
	err := s.Send(context.Background(), "psid", "hi")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a request that may have landed is not resent")
}
