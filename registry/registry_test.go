package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (f *fakeHandle) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHandle) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func TestAddLookupRemove(t *testing.T) {
	r := New()
	h1 := &fakeHandle{}

	assert.False(t, r.IsOnline(1))
	assert.Nil(t, r.Add(1, h1))
	assert.True(t, r.IsOnline(1))
	assert.Equal(t, 1, r.Len())

	// Re-adding the same handle is not a replacement.
	assert.Nil(t, r.Add(1, h1))

	h2 := &fakeHandle{}
	assert.Same(t, h1, r.Add(1, h2))
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, h2, got)
	assert.Equal(t, 1, r.Len())

	r.Remove(1)
	r.Remove(1)
	assert.False(t, r.IsOnline(1))
	assert.Zero(t, r.Len())
}

func TestRemoveHandleIsCompareAndDelete(t *testing.T) {
	r := New()
	old, cur := &fakeHandle{}, &fakeHandle{}
	r.Add(7, old)
	r.Add(7, cur)

	assert.False(t, r.RemoveHandle(7, old))
	assert.True(t, r.IsOnline(7))
	assert.True(t, r.RemoveHandle(7, cur))
	assert.False(t, r.IsOnline(7))
}

func TestSendTo(t *testing.T) {
	r := New()
	h := &fakeHandle{}
	r.Add(1, h)

	assert.True(t, r.SendTo(1, []byte("hello")))
	assert.Equal(t, [][]byte{[]byte("hello")}, h.received())

	assert.False(t, r.SendTo(2, []byte("nobody")))
}

func TestSendToEvictsBrokenHandle(t *testing.T) {
	r := New()
	h := &fakeHandle{fail: true}
	r.Add(1, h)

	assert.False(t, r.SendTo(1, []byte("lost")))
	assert.False(t, r.IsOnline(1))
}

func TestBroadcast(t *testing.T) {
	r := New()
	a, b, removed := &fakeHandle{}, &fakeHandle{}, &fakeHandle{}
	r.Add(1, a)
	r.Add(2, b)
	r.Add(3, removed)
	r.Remove(3)

	assert.Equal(t, 2, r.Broadcast([]byte("all")))

	assert.Equal(t, [][]byte{[]byte("all")}, a.received())
	assert.Equal(t, [][]byte{[]byte("all")}, b.received())
	assert.Empty(t, removed.received())
}

func TestBroadcastPartialFailure(t *testing.T) {
	r := New()
	healthy := make([]*fakeHandle, 10)
	for i := range healthy {
		healthy[i] = &fakeHandle{}
		r.Add(int64(i+1), healthy[i])
	}
	broken := &fakeHandle{fail: true}
	r.Add(100, broken)

	assert.Equal(t, len(healthy), r.Broadcast([]byte("news")))
	for i, h := range healthy {
		assert.Len(t, h.received(), 1, "handle %d", i)
	}
	assert.False(t, r.IsOnline(100))
	assert.Equal(t, len(healthy), r.Len())
}

func TestConcurrentMutations(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			h := &fakeHandle{}
			for j := 0; j < 100; j++ {
				r.Add(id, h)
				r.SendTo(id, []byte(fmt.Sprint(j)))
				r.IsOnline(id)
				r.Broadcast([]byte("x"))
				r.RemoveHandle(id, h)
			}
			r.Add(id, h)
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}
