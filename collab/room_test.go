package collab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/panyam/classdraw/diagram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type memStore struct {
	mu     sync.Mutex
	states map[string]*SyncState
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]*SyncState)}
}

func (m *memStore) put(id string, snap *diagram.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = &SyncState{Snapshot: snap}
}

func (m *memStore) LoadState(ctx context.Context, id string) (*SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[id], nil
}

func (m *memStore) SaveState(ctx context.Context, id string, state *SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = state
	return nil
}

func (m *memStore) get(id string) *diagram.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.states[id]; st != nil {
		return st.Snapshot
	}
	return nil
}

func (m *memStore) state(id string) *SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[id]
}

// dialHub connects a raw pipe to the hub and returns the client end with
// the snapshot the room greeted it with.
func dialHub(t *testing.T, ctx context.Context, wg *sync.WaitGroup, hub *Hub, diagramID, sessionID string) (Conn, Operation) {
	t.Helper()
	client, server := Pipe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Serve(ctx, diagramID, sessionID, server)
	}()
	hello := readOp(t, client)
	require.Equal(t, MsgSnapshot, hello.Type)
	return client, hello
}

func joinPipe(t *testing.T, ctx context.Context, wg *sync.WaitGroup, hub *Hub, diagramID, sessionID string) Conn {
	t.Helper()
	client, _ := dialHub(t, ctx, wg, hub, diagramID, sessionID)
	return client
}

func TestHub_RelaysToOtherPeers(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemStore()
	store.put("d1", &diagram.Snapshot{ID: "d1", Name: "Zoo", Nodes: []*diagram.Node{classNode("a", "Animal", 0, 0)}})
	hub := NewHub(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	alice := joinPipe(t, ctx, &wg, hub, "d1", "alice")
	bob := joinPipe(t, ctx, &wg, hub, "d1", "bob")
	assert.Equal(t, 1, hub.Rooms())

	op := NewRotate("a", 45)
	op.Stamp = Stamp{Counter: 1, SessionID: "alice"}
	require.NoError(t, alice.WriteOperation(ctx, op))

	got := readOp(t, bob)
	assert.Equal(t, OpUpdateAngle, got.Type)
	assert.Equal(t, "alice", got.SessionID, "untagged ops take the peer's session id")

	room, ok := hub.Room("d1")
	require.True(t, ok)
	assert.Eventually(t, room.Dirty, time.Second, time.Millisecond)
	n, _ := room.Session().Node("a")
	assert.Equal(t, 45.0, n.Angle)

	// alice gets nothing back; her next message is the resync answer
	require.NoError(t, alice.WriteOperation(ctx, NewResync()))
	answer := readOp(t, alice)
	require.Equal(t, MsgSnapshot, answer.Type)
	state, err := answer.DecodeSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "Zoo", state.Snapshot.Name)
	assert.Equal(t, op.Stamp, state.Versions["a"][FieldAngle])
}

func TestHub_LastPeerOutFlushes(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemStore()
	hub := NewHub(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	alice := joinPipe(t, ctx, &wg, hub, "d2", "alice")
	require.NoError(t, alice.WriteOperation(ctx, NewAddNode(classNode("n", "Node", 1, 2))))
	assert.Eventually(t, func() bool {
		r, ok := hub.Room("d2")
		return ok && r.Dirty()
	}, time.Second, time.Millisecond)

	alice.Close()
	wg.Wait()
	assert.Equal(t, 0, hub.Rooms())
	snap := store.get("d2")
	require.NotNil(t, snap)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "Node", snap.Nodes[0].Data.Name)
}

func TestHub_RunFlushesAndDisconnects(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemStore()
	hub := NewHub(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	alice := joinPipe(t, context.Background(), &wg, hub, "d3", "alice")
	require.NoError(t, alice.WriteOperation(ctx, NewAddNode(classNode("n", "Node", 0, 0))))

	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx, 5*time.Millisecond) }()
	assert.Eventually(t, func() bool { return store.get("d3") != nil }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	wg.Wait()
	assert.Equal(t, 0, hub.Rooms())
}

func TestHub_ReopenedRoomKeepsRemovals(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemStore()
	store.put("d6", &diagram.Snapshot{ID: "d6", Nodes: []*diagram.Node{classNode("x", "X", 0, 0), classNode("y", "Y", 0, 0)}})
	hub := NewHub(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	bob := NewSession(nil, WithSessionID("bob"))
	applier := NewApplier(bob)
	conn, hello := dialHub(t, ctx, &wg, hub, "d6", "bob")
	require.True(t, applier.Apply(hello))
	require.True(t, bob.Has("x"))

	// bob drops off; alice removes x and the room closes behind her
	conn.Close()
	require.Eventually(t, func() bool { return hub.Rooms() == 0 }, time.Second, time.Millisecond)
	alice := joinPipe(t, ctx, &wg, hub, "d6", "alice")
	rm := NewRemove("x")
	rm.Stamp = Stamp{Counter: 7, SessionID: "alice"}
	require.NoError(t, alice.WriteOperation(ctx, rm))
	require.Eventually(t, func() bool {
		r, ok := hub.Room("d6")
		return ok && r.Dirty()
	}, time.Second, time.Millisecond)
	alice.Close()
	require.Eventually(t, func() bool { return hub.Rooms() == 0 }, time.Second, time.Millisecond)

	saved := store.state("d6")
	require.NotNil(t, saved)
	assert.Equal(t, rm.Stamp, saved.Tombstones["x"])
	assert.GreaterOrEqual(t, saved.Clock, uint64(7))

	// the reopened room still knows x is gone, so bob's stale copy goes too
	conn, hello = dialHub(t, ctx, &wg, hub, "d6", "bob")
	defer conn.Close()
	room, ok := hub.Room("d6")
	require.True(t, ok)
	assert.False(t, room.Session().Has("x"))
	require.True(t, applier.Apply(hello))
	assert.False(t, bob.Has("x"))
	assert.True(t, bob.Has("y"))

	// a late add of x from before the removal is refused by the server
	late := NewAddNode(classNode("x", "X", 0, 0))
	late.Stamp = Stamp{Counter: 3, SessionID: "bob"}
	require.NoError(t, conn.WriteOperation(ctx, late))
	require.NoError(t, conn.WriteOperation(ctx, NewResync()))
	answer := readOp(t, conn)
	state, err := answer.DecodeSnapshot()
	require.NoError(t, err)
	for _, n := range state.Snapshot.Nodes {
		assert.NotEqual(t, "x", n.ID)
	}
}

// connectSession wires a full client stack (bridge, channel, applier) to the
// hub over pipes.
func connectSession(ctx context.Context, wg *sync.WaitGroup, hub *Hub, diagramID string) *Session {
	s := NewSession(nil)
	dial := func(ctx context.Context) (Conn, error) {
		client, server := Pipe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Serve(ctx, diagramID, s.ID, server)
		}()
		return client, nil
	}
	ch := NewChannel(s, dial)
	NewBridge(s, ch).Attach()
	wg.Add(2)
	go func() {
		defer wg.Done()
		ch.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		NewApplier(s).Run(ctx, ch.Inbound())
	}()
	return s
}

func TestHub_SessionsConverge(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(newMemStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	alice := connectSession(ctx, &wg, hub, "d4")
	bob := connectSession(ctx, &wg, hub, "d4")

	_, err := alice.ApplyOperation(NewAddNode(classNode("a", "Animal", 0, 0)), Local)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return bob.Has("a") }, 2*time.Second, time.Millisecond)

	n, _ := bob.Node("a")
	n.Position = diagram.Point{X: 20, Y: 20}
	_, err = bob.ApplyOperation(NewMoved(n), Local)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		got, ok := alice.Node("a")
		return ok && got.Position == diagram.Point{X: 20, Y: 20}
	}, 2*time.Second, time.Millisecond)

	_, err = alice.ApplyOperation(NewRemove("a"), Local)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !bob.Has("a") }, 2*time.Second, time.Millisecond)
}

func TestHub_WebSocket(t *testing.T) {
	hub := NewHub(newMemStore(), nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), "d5", r.URL.Query().Get("session"), conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, err := WebSocketDialer(url+"?session=alice", nil)(ctx)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := WebSocketDialer(url+"?session=bob", nil)(ctx)
	require.NoError(t, err)
	defer bob.Close()

	hello, err := alice.ReadOperation(ctx)
	require.NoError(t, err)
	assert.Equal(t, MsgSnapshot, hello.Type)
	hello, err = bob.ReadOperation(ctx)
	require.NoError(t, err)
	assert.Equal(t, MsgSnapshot, hello.Type)

	require.NoError(t, alice.WriteOperation(ctx, NewAddNode(classNode("a", "A", 0, 0))))
	got, err := bob.ReadOperation(ctx)
	require.NoError(t, err)
	assert.Equal(t, OpAdd, got.Type)
	assert.Equal(t, "alice", got.SessionID)
}
