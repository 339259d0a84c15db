package librealtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleListener(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	var results []int

	emitter.On("event", func(data int) {
		results = append(results, data)
	})

	emitter.Emit("event", 42)

	assert.Equal(t, []int{42}, results)
}

func TestMultipleListeners(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	var results []int

	emitter.On("event", func(data int) {
		results = append(results, data)
	})
	emitter.On("event", func(data int) {
		results = append(results, data*2)
	})

	emitter.Emit("event", 10)

	// Listeners run in registration order.
	assert.Equal(t, []int{10, 20}, results)
}

func TestNoListeners(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	assert.NotPanics(t, func() { emitter.Emit("nonexistentEvent", 100) })
}

func TestMultipleEvents(t *testing.T) {
	emitter := NewEventEmitter[SocketEvent, error]()
	var got []SocketEvent

	emitter.On(SocketConnected, func(error) { got = append(got, SocketConnected) })
	emitter.On(SocketDisconnected, func(error) { got = append(got, SocketDisconnected) })

	emitter.Emit(SocketDisconnected, ErrConnectionClosed)
	emitter.Emit(SocketConnected, nil)
	emitter.Emit(SocketReconnected, nil)

	assert.Equal(t, []SocketEvent{SocketDisconnected, SocketConnected}, got)
}

func TestOffRemovesOnlyThatListener(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	var a, b int

	offA := emitter.On("event", func(data int) { a += data })
	emitter.On("event", func(data int) { b += data })

	emitter.Emit("event", 1)
	offA()
	offA()
	emitter.Emit("event", 1)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestListenerMayRemoveItself(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	calls := 0

	var off func()
	off = emitter.On("event", func(int) {
		calls++
		off()
	})

	emitter.Emit("event", 1)
	emitter.Emit("event", 1)

	assert.Equal(t, 1, calls)
}

func TestCloseDropsListeners(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	calls := 0

	emitter.On("event", func(int) { calls++ })
	emitter.Close()
	emitter.On("event", func(int) { calls++ })()

	emitter.Emit("event", 1)

	assert.Zero(t, calls)
}

func TestConcurrent(t *testing.T) {
	emitter := NewEventEmitter[string, int]()
	var mu sync.Mutex
	var results []int
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			emitter.On("event", func(data int) {
				mu.Lock()
				results = append(results, data+i)
				mu.Unlock()
			})
		}(i)
	}
	wg.Wait()

	for j := 0; j < 10; j++ {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			emitter.Emit("event", j)
		}(j)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 100)
}
