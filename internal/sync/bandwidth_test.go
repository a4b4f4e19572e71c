package sync

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBandwidthLimiter_Unlimited(t *testing.T) {
	bl, err := NewBandwidthLimiter("0", testLogger(t))
	require.NoError(t, err)
	assert.Nil(t, bl)

	// A nil limiter passes streams through untouched.
	r := strings.NewReader("data")
	assert.Equal(t, r, bl.WrapReader(context.Background(), r))

	var buf bytes.Buffer
	assert.Equal(t, &buf, bl.WrapWriter(context.Background(), &buf))
}

func TestNewBandwidthLimiter_Invalid(t *testing.T) {
	for _, bad := range []string{"garbage", "-1MB/s", "fast/s"} {
		_, err := NewBandwidthLimiter(bad, testLogger(t))
		assert.Error(t, err, bad)
	}
}

func TestRateLimitedWriter_Throttles(t *testing.T) {
	// 1 KB/s with a 2 KB burst: 4 KB must take well over half a second.
	bl, err := NewBandwidthLimiter("1KB/s", testLogger(t))
	require.NoError(t, err)
	require.NotNil(t, bl)

	var buf bytes.Buffer

	writer := bl.WrapWriter(context.Background(), &buf)
	chunk := make([]byte, 1024)
	start := time.Now()

	for range 4 {
		n, werr := writer.Write(chunk)
		require.NoError(t, werr)
		assert.Equal(t, len(chunk), n)
	}

	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 4096, buf.Len())
}

func TestRateLimitedReader_ContextCancel(t *testing.T) {
	bl, err := NewBandwidthLimiter("1KB/s", testLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reader := bl.WrapReader(ctx, strings.NewReader(strings.Repeat("x", 100000)))

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	buf := make([]byte, 512)

	var readErr error

	for readErr == nil {
		_, readErr = reader.Read(buf)
	}

	assert.ErrorIs(t, readErr, context.Canceled)
}

func TestRateLimitedReader_PassesData(t *testing.T) {
	bl, err := NewBandwidthLimiter("100MB/s", testLogger(t))
	require.NoError(t, err)

	data, err := io.ReadAll(bl.WrapReader(context.Background(), strings.NewReader("attachment body")))
	require.NoError(t, err)
	assert.Equal(t, "attachment body", string(data))
}
