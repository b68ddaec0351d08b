package ratelimit

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIPPrecedence(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"real ip wins", map[string]string{"X-Real-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, "9.9.9.9:1234", "1.1.1.1"},
		{"first forwarded", map[string]string{"X-Forwarded-For": " 2.2.2.2 , 3.3.3.3", "CF-Connecting-IP": "4.4.4.4"}, "9.9.9.9:1234", "2.2.2.2"},
		{"cloudflare", map[string]string{"CF-Connecting-IP": "4.4.4.4"}, "9.9.9.9:1234", "4.4.4.4"},
		{"remote addr", nil, "9.9.9.9:1234", "9.9.9.9"},
		{"remote without port", nil, "9.9.9.9", "9.9.9.9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/generate", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, ClientIP(r))
		})
	}
}

func TestMemoryLimiterPerKey(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter(5, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, _ := l.Allow(ctx, "a")
	assert.False(t, ok, "sixth request inside the window")

	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok, "keys are independent")

	now = now.Add(59 * time.Second)
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok, "window has not passed yet")

	now = now.Add(2 * time.Second)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok, "oldest requests left the window")
}

func TestMemoryLimiterSlidingWindowOverOneMinute(t *testing.T) {
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)
	now := start
	l := NewMemoryLimiter(5, time.Minute)
	l.now = func() time.Time { return now }

	var allowed []time.Duration
	for sec := 0; sec < 180; sec++ {
		now = start.Add(time.Duration(sec) * time.Second)
		ok, err := l.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		if ok {
			allowed = append(allowed, now.Sub(start))
		}
	}

	for i := range allowed {
		inWindow := 0
		for _, at := range allowed[i:] {
			if at-allowed[i] < time.Minute {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, 5, "window starting at %s", allowed[i])
	}
	assert.Equal(t, []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second},
		allowed[:5])
	assert.Len(t, allowed, 15, "five requests per minute over three minutes")
}

func TestMemoryLimiterEvictsIdleKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	_, _ = l.Allow(ctx, "a")
	_, _ = l.Allow(ctx, "b")
	assert.Equal(t, 2, l.Len())

	now = now.Add(2 * time.Minute)
	_, _ = l.Allow(ctx, "c")
	assert.Equal(t, 1, l.Len())
}

func TestRedisLimiterSlidingWindow(t *testing.T) {
	addr := os.Getenv("QPK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("QPK_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	l, err := NewRedisLimiter(ctx, RedisConfig{Address: addr, Prefix: "qpk-test-" + uuid.NewString()}, 2, time.Second)
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "ip")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(1100 * time.Millisecond)
	ok, err = l.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, ok)
}
