package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/work-manager-team/Work-Management-sub001/internal/auth"
)

// fakeClient records frames instead of writing to a socket.
type fakeClient struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func (c *fakeClient) Send(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closed {
		return false
	}
	c.frames = append(c.frames, append([]byte(nil), message...))
	return true
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeClient) envelopes(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

func (c *fakeClient) events(t *testing.T, event string) []Envelope {
	t.Helper()
	var out []Envelope
	for _, env := range c.envelopes(t) {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// tokenTable maps "token-<id>" to id and rejects everything else.
type tokenTable struct{}

func (tokenTable) Verify(token string) (int64, error) {
	switch {
	case token == "expired":
		return 0, auth.ErrExpiredToken
	case strings.HasPrefix(token, "token-"):
		var id int64
		if _, err := fmt.Sscanf(token, "token-%d", &id); err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, auth.ErrInvalidToken
}

func newTestGateway() *Gateway {
	n := 0
	return NewGateway(tokenTable{}, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("conn-%d", n)
	}))
}

func connect(t *testing.T, g *Gateway, userID int64) (*Connection, *fakeClient) {
	t.Helper()
	client := &fakeClient{}
	conn, err := g.Connect(fmt.Sprintf("token-%d", userID), client, "127.0.0.1:1")
	require.NoError(t, err)
	require.Equal(t, StateAuthenticated, conn.State())
	return conn, client
}

func TestConnect_SendsConnectedAndJoinsPersonalRoom(t *testing.T) {
	g := newTestGateway()
	conn, client := connect(t, g, 42)

	require.Equal(t, int64(42), conn.UserID)
	require.Equal(t, []string{conn.ID}, g.MembersOf("user:42"))
	require.Equal(t, 1, g.ActiveConnectionCount(42))

	envs := client.envelopes(t)
	require.Len(t, envs, 1)
	require.Equal(t, EventConnected, envs[0].Event)
	require.JSONEq(t, `{"userId":42}`, string(envs[0].Data))
}

func TestConnect_InvalidTokenLeavesNoTrace(t *testing.T) {
	g := newTestGateway()
	for _, token := range []string{"", "garbage", "expired"} {
		client := &fakeClient{}
		conn, err := g.Connect(token, client, "127.0.0.1:1")
		require.Error(t, err)
		require.Nil(t, conn)
		require.Empty(t, client.envelopes(t), "no data is emitted to a rejected connection")
	}
	_, err := g.Connect("expired", &fakeClient{}, "")
	require.ErrorIs(t, err, auth.ErrExpiredToken)

	stats := g.Stats()
	require.Equal(t, 0, stats.TotalSockets)
	require.Equal(t, 0, stats.TotalUsers)
	require.Equal(t, 0, g.router.Rooms())
}

func TestDisconnect_RemovesFromRegistryAndAllRooms(t *testing.T) {
	g := newTestGateway()
	conn, client := connect(t, g, 42)
	require.True(t, g.Subscribe(conn, 7).Success)
	require.True(t, g.Subscribe(conn, 8).Success)

	g.Disconnect(conn)

	require.Equal(t, StateClosed, conn.State())
	require.True(t, client.closed)
	require.Equal(t, 0, g.ActiveConnectionCount(42))
	require.Empty(t, g.MembersOf("user:42"))
	require.Empty(t, g.MembersOf("project:7"))
	require.Empty(t, g.MembersOf("project:8"))
	require.Empty(t, g.Stats().Users)

	// second call is harmless
	g.Disconnect(conn)
	require.Equal(t, 0, g.Stats().TotalSockets)
}

func TestDisconnect_OneOfTwoConnections(t *testing.T) {
	g := newTestGateway()
	first, _ := connect(t, g, 42)
	second, _ := connect(t, g, 42)

	g.Disconnect(first)

	stats := g.Stats()
	require.Equal(t, []UserConnections{{UserID: 42, SocketCount: 1}}, stats.Users)
	require.Equal(t, []string{second.ID}, g.MembersOf("user:42"))
}

func TestBroadcast_ExactlyOncePerMember(t *testing.T) {
	g := newTestGateway()
	a, ca := connect(t, g, 1)
	b, cb := connect(t, g, 2)
	_, cc := connect(t, g, 3)
	g.Subscribe(a, 7)
	g.Subscribe(b, 7)

	delivered, err := g.Notify([]string{ProjectRoom(7), UserRoom(1)}, json.RawMessage(`{"type":"x"}`))
	require.NoError(t, err)
	require.Equal(t, 2, delivered)

	require.Len(t, ca.events(t, EventNotify), 1, "member of two target rooms receives once")
	require.Len(t, cb.events(t, EventNotify), 1)
	require.Empty(t, cc.events(t, EventNotify))
}

func TestBroadcast_EmptyAndUnknownRooms(t *testing.T) {
	g := newTestGateway()
	conn, _ := connect(t, g, 1)
	g.Subscribe(conn, 7)
	g.Unsubscribe(conn, 7)

	delivered, err := g.Notify([]string{ProjectRoom(7), ProjectRoom(99), UserRoom(5)}, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, 0, delivered)
}

func TestBroadcast_NoReplayForLateJoiners(t *testing.T) {
	g := newTestGateway()
	_, err := g.Notify([]string{ProjectRoom(7)}, json.RawMessage(`{"n":1}`))
	require.NoError(t, err)

	conn, client := connect(t, g, 1)
	g.Subscribe(conn, 7)
	require.Empty(t, client.events(t, EventNotify))
}

func TestBroadcast_FullClientIsDropped(t *testing.T) {
	g := newTestGateway()
	_, slow := connect(t, g, 1)
	_, fast := connect(t, g, 1)
	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	delivered, err := g.Notify([]string{UserRoom(1)}, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Len(t, fast.events(t, EventNotify), 1)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	g := newTestGateway()
	conn, client := connect(t, g, 1)

	require.Equal(t, Ack{Success: true, Message: "Subscribed to project 7"}, g.Subscribe(conn, 7))
	require.Equal(t, Ack{Success: true, Message: "Unsubscribed from project 7"}, g.Unsubscribe(conn, 7))

	_, err := g.Notify([]string{ProjectRoom(7)}, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Empty(t, client.events(t, EventNotify))
	require.True(t, g.Unsubscribe(conn, 123).Success, "leaving an unjoined room succeeds")
}

func TestHandle_MarkReadReachesAllUserConnections(t *testing.T) {
	g := newTestGateway()
	phone, phoneClient := connect(t, g, 42)
	_, laptopClient := connect(t, g, 42)
	_, otherClient := connect(t, g, 43)

	ack := g.Handle(phone, MarkRead{NotificationID: 5})
	require.True(t, ack.Success)

	for _, c := range []*fakeClient{phoneClient, laptopClient} {
		got := c.events(t, EventMarkedRead)
		require.Len(t, got, 1)
		require.JSONEq(t, `{"notificationId":5}`, string(got[0].Data))
	}
	require.Empty(t, otherClient.events(t, EventMarkedRead))
}

func TestHandle_Dispatch(t *testing.T) {
	g := newTestGateway()
	conn, _ := connect(t, g, 1)

	require.True(t, g.Handle(conn, SubscribeProject{ProjectID: 3}).Success)
	require.Equal(t, []string{conn.ID}, g.MembersOf("project:3"))
	require.True(t, g.Handle(conn, UnsubscribeProject{ProjectID: 3}).Success)
	require.Empty(t, g.MembersOf("project:3"))

	require.False(t, g.Handle(conn, nil).Success)
}

func TestHandle_AfterDisconnect(t *testing.T) {
	g := newTestGateway()
	conn, _ := connect(t, g, 1)
	g.Disconnect(conn)

	require.Equal(t, notAuthenticated, g.Subscribe(conn, 7))
	require.Equal(t, notAuthenticated, g.MarkRead(conn, 1))
	require.Empty(t, g.MembersOf("project:7"), "a closed connection cannot rejoin rooms")
}

func TestShutdown(t *testing.T) {
	g := newTestGateway()
	var clients []*fakeClient
	for i := int64(1); i <= 3; i++ {
		_, c := connect(t, g, i)
		clients = append(clients, c)
	}

	g.Shutdown()

	require.Equal(t, 0, g.Stats().TotalSockets)
	for _, c := range clients {
		require.True(t, c.closed)
	}
}

func TestShutdown_RefusesNewConnections(t *testing.T) {
	g := newTestGateway()
	g.Shutdown()

	client := &fakeClient{}
	conn, err := g.Connect("token-1", client, "")
	require.ErrorIs(t, err, ErrGatewayClosed)
	require.Nil(t, conn)
	require.Empty(t, client.envelopes(t))
	require.Equal(t, 0, g.Stats().TotalSockets)
	require.Empty(t, g.MembersOf(UserRoom(1)))
}

func TestShutdown_RacingConnectsLeaveNothingOpen(t *testing.T) {
	g := NewGateway(tokenTable{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = g.Connect(fmt.Sprintf("token-%d", i%5+1), &fakeClient{}, "")
		}(i)
	}
	g.Shutdown()
	wg.Wait()

	require.Equal(t, 0, g.Stats().TotalSockets)
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	g := NewGateway(tokenTable{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := int64(i%5 + 1)
			client := &fakeClient{}
			conn, err := g.Connect(fmt.Sprintf("token-%d", userID), client, "")
			if err != nil {
				t.Error(err)
				return
			}
			g.Subscribe(conn, int64(i%3+1))
			_, _ = g.Notify([]string{ProjectRoom(int64(i%3 + 1))}, json.RawMessage(`{}`))
			g.Disconnect(conn)
		}(i)
	}
	wg.Wait()

	stats := g.Stats()
	require.Equal(t, 0, stats.TotalSockets)
	require.Equal(t, 0, stats.TotalUsers)
	for p := int64(1); p <= 3; p++ {
		require.Empty(t, g.MembersOf(ProjectRoom(p)))
	}
}
