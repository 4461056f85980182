package corun

import (
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Mirrors concurrent_task_test.py's test_thread/test_corun pair: N
// flows that each sleep then increment a shared counter, checked
// against an equivalent goroutine+time.Sleep baseline to confirm both
// converge on the same final count. The wall-clock ratio between the
// two is a benchmark concern, not something asserted here.
func TestIOVsThreadCounterConvergence(t *testing.T) {
	const n = 200
	const delay = 5 * time.Millisecond

	var threadCount atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			time.Sleep(delay)
			threadCount.Add(1)
		}()
	}
	wg.Wait()
	require.EqualValues(t, n, threadCount.Load())

	s := newTestScheduler(t)
	ids := make([]int64, n)
	var flowCount atomic.Int64
	for i := 0; i < n; i++ {
		id, err := s.Spawn("sleeper", func(ctx *Ctx) error {
			ctx.Sleep(delay)
			flowCount.Add(1)
			return nil
		})
		require.NoError(t, err)
		ids[i] = id
	}
	s.JoinAll(ids)
	require.EqualValues(t, n, flowCount.Load())
}

// Mirrors corun_server.py's server_client/server_task pattern of
// re-issuing ReadReady across successive suspensions on the same fd —
// the "same flow registered twice on one fd over its lifetime" case.
func TestPersistentReadLoopOnSameFD(t *testing.T) {
	s := newTestScheduler(t)
	serverFD, clientFD := socketpair(t)

	const messages = 5
	received := make(chan string, messages)
	_, err := s.Spawn("echo-reader", func(ctx *Ctx) error {
		for i := 0; i < messages; i++ {
			if ok := ctx.ReadReady(serverFD); !ok {
				return nil
			}
			buf := make([]byte, 32)
			n, err := syscall.Read(serverFD, buf)
			if err != nil {
				return err
			}
			received <- string(buf[:n])
		}
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < messages; i++ {
		_, err := syscall.Write(clientFD, []byte{byte('a' + i)})
		require.NoError(t, err)
		select {
		case msg := <-received:
			require.Equal(t, string(rune('a'+i)), msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}
