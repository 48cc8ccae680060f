package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRingRejectsNonPowerOfTwo(t *testing.T) {
	_, err := NewRing(3)
	assert.Error(t, err)
}

func TestRingEnqueueDequeueFIFO(t *testing.T) {
	r, err := NewRing(8)
	require.NoError(t, err)

	a := &StagingBuffer{}
	b := &StagingBuffer{}
	require.True(t, r.TryEnqueue(a))
	require.True(t, r.TryEnqueue(b))
	assert.Equal(t, 2, r.Len())

	assert.Same(t, a, r.TryDequeue())
	assert.Same(t, b, r.TryDequeue())
	assert.Nil(t, r.TryDequeue())
}

func TestRingFullReturnsFalse(t *testing.T) {
	r, err := NewRing(2)
	require.NoError(t, err)

	require.True(t, r.TryEnqueue(&StagingBuffer{}))
	require.True(t, r.TryEnqueue(&StagingBuffer{}))
	assert.False(t, r.TryEnqueue(&StagingBuffer{}))
}

func TestDequeueBatchDrainsUpToPoolSize(t *testing.T) {
	r, err := NewRing(8)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.True(t, r.TryEnqueue(&StagingBuffer{Packets: i}))
	}

	out := make([]*StagingBuffer, 4)
	n := r.DequeueBatch(out)
	assert.Equal(t, 4, n)
	for i := 0; i < 4; i++ {
		assert.Equal(t, i, out[i].Packets)
	}
}

// TestConcurrentSPSC exercises the ring under genuine single-producer/
// single-consumer concurrency to catch ordering or visibility bugs the
// sequential tests above can't.
func TestConcurrentSPSC(t *testing.T) {
	r, err := NewRing(16)
	require.NoError(t, err)

	const n = 10000
	var g errgroup.Group

	g.Go(func() error {
		for i := 0; i < n; i++ {
			buf := &StagingBuffer{Packets: i}
			for !r.TryEnqueue(buf) {
			}
		}
		return nil
	})

	received := make([]int, 0, n)
	g.Go(func() error {
		for len(received) < n {
			if buf := r.TryDequeue(); buf != nil {
				received = append(received, buf.Packets)
			}
		}
		return nil
	})

	require.NoError(t, g.Wait())
	require.Len(t, received, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, received[i])
	}
}
