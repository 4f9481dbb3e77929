package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mealboard/internal/metrics"
)

type fakeConn struct {
	mu         sync.Mutex
	events     []Event
	keepAlives int
	closed     int
	failSend   bool
	failKeep   bool
}

func (f *fakeConn) Send(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("broken pipe")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeConn) KeepAlive(time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeep {
		return errors.New("broken pipe")
	}
	f.keepAlives++
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

func (f *fakeConn) setFailSend(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSend = v
}

func TestRegister_SendsHandshake(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub(Options{}, nil)
	conn := &fakeConn{}
	client := hub.Register(conn)

	require.Equal(t, 1, hub.Len())
	require.Len(t, conn.events, 1)
	assert.Equal(t, EventConnected, conn.events[0].Type)
	assert.Equal(t, client.ID(), conn.events[0].ClientID)
	assert.False(t, conn.events[0].Timestamp.IsZero())
}

func TestRegister_FailedHandshakeClosesClient(t *testing.T) {
	hub := NewHub(Options{}, nil)
	conn := &fakeConn{failSend: true}
	client := hub.Register(conn)

	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, 1, conn.closed)
	select {
	case <-client.Done():
	default:
		t.Fatal("client should be done")
	}
}

func TestClientClose_Idempotent(t *testing.T) {
	hub := NewHub(Options{}, nil)
	conn := &fakeConn{}
	client := hub.Register(conn)

	client.Close()
	client.Close()
	hub.Unregister(client.ID())

	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, 1, conn.closed)
}

func TestBroadcast_DropsFailingClient(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	reg := prometheus.NewRegistry()
	collectors := metrics.NewCollectors(reg)
	hub := NewHub(Options{Collectors: collectors}, nil)
	ctx := context.Background()

	conns := make([]*fakeConn, 4)
	for i := range conns {
		conns[i] = &fakeConn{}
		hub.Register(conns[i])
	}
	conns[2].setFailSend(true)

	delivered := hub.Broadcast(ctx, Event{Type: EventShoppingListChanged, Timestamp: time.Now()})

	assert.Equal(t, 3, delivered)
	assert.Equal(t, 3, hub.Len())
	assert.Equal(t, 1, conns[2].closed)
	for i, c := range conns {
		if i == 2 {
			continue
		}
		assert.Equal(t, []string{EventConnected, EventShoppingListChanged}, c.types(), "conn %d", i)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.DroppedClients))
	assert.Equal(t, 3.0, testutil.ToFloat64(collectors.LiveClients))

	// The dropped client never sees later broadcasts, even once its transport recovers.
	conns[2].setFailSend(false)
	hub.NotifyShoppingListChanged(ctx)
	assert.Equal(t, []string{EventConnected}, conns[2].types())
	assert.Equal(t, []string{EventConnected, EventShoppingListChanged, EventShoppingListChanged}, conns[0].types())
}

func TestBroadcast_SkipsClosedClient(t *testing.T) {
	hub := NewHub(Options{}, nil)
	open, gone := &fakeConn{}, &fakeConn{}
	hub.Register(open)
	c := hub.Register(gone)

	c.Close()
	delivered := hub.Broadcast(context.Background(), Event{Type: EventShoppingListChanged})

	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{EventConnected}, gone.types())
}

func TestBroadcast_CancelledContext(t *testing.T) {
	hub := NewHub(Options{}, nil)
	conn := &fakeConn{}
	hub.Register(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 0, hub.Broadcast(ctx, Event{Type: EventShoppingListChanged}))
	assert.Equal(t, 1, hub.Len())
}

func TestKeepAlive_RemovesDeadClient(t *testing.T) {
	hub := NewHub(Options{}, nil)
	alive, dead := &fakeConn{}, &fakeConn{failKeep: true}
	hub.Register(alive)
	hub.Register(dead)

	assert.Equal(t, 1, hub.KeepAlive(context.Background()))
	assert.Equal(t, 1, hub.Len())
	assert.Equal(t, 1, alive.keepAlives)
	assert.Equal(t, 1, dead.closed)
}

func TestRun_KeepAliveAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub(Options{KeepAliveInterval: 10 * time.Millisecond}, nil)
	conn := &fakeConn{}
	client := hub.Register(conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	assert.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.keepAlives >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, hub.Len())
	<-client.Done()
}

func TestConcurrentRegisterAndBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub(Options{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := hub.Register(&fakeConn{})
			c.Close()
		}()
		go func() {
			defer wg.Done()
			hub.NotifyShoppingListChanged(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Len())
}
