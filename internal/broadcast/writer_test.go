package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientWriter_DeliversInOrder(t *testing.T) {
	server, client := newTestConnPair(t)

	cw := newClientWriter(server, clockwork.NewRealClock())
	t.Cleanup(func() { cw.stop() })

	require.True(t, cw.send([]byte("first")))
	require.True(t, cw.send([]byte("second")))

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "first", string(msg))

	_, msg, err = client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "second", string(msg))
}

func TestClientWriter_SendFailsWhenBufferFull(t *testing.T) {
	server, client := newTestConnPair(t)
	t.Cleanup(func() { client.Close() })

	cw := newClientWriter(server, clockwork.NewRealClock())
	// Stop the drain goroutine so the buffer actually fills
	cw.stop()

	delivered := 0
	for range messageBufferSize + 1 {
		if cw.send([]byte("msg")) {
			delivered++
		}
	}
	assert.LessOrEqual(t, delivered, messageBufferSize)

	assert.False(t, cw.send([]byte("overflow")), "send must not block on a full buffer")
}

func TestClientWriter_StopIdempotent(t *testing.T) {
	server, client := newTestConnPair(t)
	t.Cleanup(func() { client.Close() })

	cw := newClientWriter(server, clockwork.NewRealClock())

	cw.stop()
	cw.stop()
	cw.stop()
}

func TestClientWriter_ConcurrentStop(t *testing.T) {
	server, client := newTestConnPair(t)
	t.Cleanup(func() { client.Close() })

	cw := newClientWriter(server, clockwork.NewRealClock())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.stop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent stop calls deadlocked")
	}
}

func TestClientWriter_GracefulStopAfterStopIsNoop(t *testing.T) {
	server, client := newTestConnPair(t)
	t.Cleanup(func() { client.Close() })

	cw := newClientWriter(server, clockwork.NewRealClock())

	cw.stop()
	cw.stopGraceful("Server shutting down")
}
