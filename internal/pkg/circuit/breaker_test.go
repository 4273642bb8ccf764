package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		b.Do(func() error { return errBoom })
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)
	assert.Equal(t, StateClosed, b.State())

	failN(b, 2)
	assert.Equal(t, StateClosed, b.State())

	failN(b, 1)
	assert.Equal(t, StateOpen, b.State())

	// 打开期间直接拒绝，不执行 fn。
	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker("test", 2, time.Minute)
	now := time.Now()
	b.nowFn = func() time.Time { return now }

	failN(b, 2)
	require.Equal(t, StateOpen, b.State())

	// 冷却期过后允许一次探测，成功即闭合。
	now = now.Add(2 * time.Minute)
	err := b.Do(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", 2, time.Minute)
	now := time.Now()
	b.nowFn = func() time.Time { return now }

	failN(b, 2)
	require.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Minute)
	err := b.Do(func() error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)
	failN(b, 2)
	require.NoError(t, b.Do(func() error { return nil }))
	failN(b, 2)
	assert.Equal(t, StateClosed, b.State())
}
