/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFakeClosed = errors.New("fake connection closed")

// fakeConn stands in for a websocket connection. Messages pushed onto
// inbound are read by the hub; everything the hub writes is recorded.
type fakeConn struct {
	inbound chan []byte
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written [][]byte
	pings   int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.done:
		return 0, nil, errFakeClosed
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	if f.isClosed() {
		return errFakeClosed
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	if f.isClosed() {
		return errFakeClosed
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if messageType == websocket.PingMessage {
		f.pings++
	}
	return nil
}

func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) SetReadLimit(int64) {}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeConn) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.written)
}

func (f *fakeConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pings
}

func newTestHub(t *testing.T) (*Hub, *testEnv) {
	t.Helper()

	e := newTestEnv(t).ready()
	return newHub(e.cfg, e.board, e.dispatcher, e.metrics), e
}

func TestRegisterQueuesCurrentMenu(t *testing.T) {
	h, _ := newTestHub(t)

	c := h.newClient(newFakeConn(), "test")
	h.register(c)

	require.Len(t, c.send, 1)
	assert.Contains(t, string(<-c.send), `"sections"`)
	assert.Equal(t, 1, h.Len())
	assert.NotEmpty(t, c.id)
}

func TestRegisterBeforeLoadQueuesNothing(t *testing.T) {
	e := newTestEnv(t)
	h := newHub(e.cfg, e.board, e.dispatcher, e.metrics)

	c := h.newClient(newFakeConn(), "test")
	h.register(c)

	assert.Empty(t, c.send)
	assert.Equal(t, 1, h.Len())
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	h, e := newTestHub(t)

	var clients []*Client
	for range 3 {
		c := h.newClient(newFakeConn(), "test")
		h.register(c)
		clients = append(clients, c)
	}

	assert.Equal(t, 3, h.broadcast())
	for _, c := range clients {
		assert.Len(t, c.send, 2)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.broadcasts))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.metrics.sends))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.metrics.connections))
}

func TestSlowConnectionIsDropped(t *testing.T) {
	h, e := newTestHub(t)
	e.cfg.sendBuffer = 1

	slow := h.newClient(newFakeConn(), "slow")
	h.register(slow)

	e.cfg.sendBuffer = 4
	fast := h.newClient(newFakeConn(), "fast")
	h.register(fast)

	assert.Equal(t, 1, h.broadcast())
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.reaped.WithLabelValues(reapSlow)))

	<-slow.send
	_, open := <-slow.send
	assert.False(t, open)
}

func TestReplyToDepartedConnectionIsDiscarded(t *testing.T) {
	h, _ := newTestHub(t)

	c := h.newClient(newFakeConn(), "test")
	h.register(c)
	h.unregister(c)
	h.unregister(c)

	assert.NotPanics(t, func() { h.reply(c, errorMessage("%s", "late")) })
	assert.Equal(t, 0, h.Len())
}

func TestProbeReapsSilentConnections(t *testing.T) {
	h, e := newTestHub(t)

	aConn, bConn := newFakeConn(), newFakeConn()
	a := h.newClient(aConn, "a")
	b := h.newClient(bConn, "b")
	h.register(a)
	h.register(b)

	h.probe()
	assert.Equal(t, 1, aConn.pingCount())
	assert.Equal(t, 1, bConn.pingCount())
	assert.Equal(t, 2, h.Len())

	a.alive.Store(true)

	h.probe()
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 2, aConn.pingCount())
	assert.False(t, aConn.isClosed())
	assert.True(t, bConn.isClosed())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.reaped.WithLabelValues(reapProbe)))
}

func TestRunClosesConnectionsOnShutdown(t *testing.T) {
	h, _ := newTestHub(t)

	conn := newFakeConn()
	h.register(h.newClient(conn, "test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.run(ctx) }()

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, h.Len())
	assert.True(t, conn.isClosed())
}

// TestServeBroadcastsOnlyChanges drives three served connections through
// one rejected and one accepted mutation.
func TestServeBroadcastsOnlyChanges(t *testing.T) {
	h, e := newTestHub(t)
	ctx := context.Background()

	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.serve(ctx, conn, "test")
		}()
	}
	t.Cleanup(func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
		wg.Wait()
	})

	require.Eventually(t, func() bool {
		for _, conn := range conns {
			if conn.writes() != 1 {
				return false
			}
		}
		return h.Len() == 3
	}, 2*time.Second, 5*time.Millisecond)

	conns[0].inbound <- []byte(`{"type":"removeItem","itemId":42}`)
	conns[0].inbound <- []byte(`{"type":"getCurrentMenu"}`)

	require.Eventually(t, func() bool { return conns[0].writes() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.broadcasts))
	assert.Equal(t, 1, conns[1].writes())
	assert.Equal(t, 1, conns[2].writes())

	conns[1].inbound <- []byte(`{"type":"addItem","name":"Bruschetta","price":5.5}`)

	require.Eventually(t, func() bool {
		return conns[0].writes() == 3 && conns[1].writes() == 2 && conns[2].writes() == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.broadcasts))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.metrics.sends))

	conns[2].inbound <- []byte(`{"type":"nope"}`)
	require.Eventually(t, func() bool { return conns[2].writes() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, conns[0].writes())
	assert.Equal(t, 2, conns[1].writes())
}

func TestConcurrentMutationsNeverInterleave(t *testing.T) {
	const (
		workers = 8
		perWork = 25
	)

	h, e := newTestHub(t)
	e.cfg.sendBuffer = workers*perWork + 1
	ctx := context.Background()

	res := e.dispatch(t, `{"type":"addSection","name":"Primi"}`)
	require.IsType(t, SectionAddedMessage{}, res.Reply)
	section := res.Reply.(SectionAddedMessage).Section

	viewer := h.newClient(newFakeConn(), "viewer")
	h.register(viewer)

	msg := []byte(`{"type":"addItem","name":"Carbonara","price":14,"sectionId":` + jsonID(section.ID) + `}`)

	stop := make(chan struct{})
	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		for {
			select {
			case <-stop:
				return
			default:
				viewer.alive.Store(true)
				h.probe()
				h.broadcast()
				for len(viewer.send) > 0 {
					<-viewer.send
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWork {
				if h.dispatcher.Dispatch(ctx, msg).Broadcast {
					h.broadcast()
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	background.Wait()

	items := e.menu(t).sectionItems(section.ID)
	require.Len(t, items, workers*perWork)

	ids := make(map[int64]bool, len(items))
	for i, it := range items {
		assert.Equal(t, i, it.Position)
		assert.False(t, ids[it.ID], "duplicate id %d", it.ID)
		ids[it.ID] = true
	}
}
