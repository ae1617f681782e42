package game

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ViperBlackSkull/EscapeTwogether-sub001/protocol"
)

type stubConn struct {
	closed bool
	reason string
}

func (c *stubConn) Write(data []byte) error { return nil }
func (c *stubConn) Read() ([]byte, error)   { select {} }
func (c *stubConn) Ping() error             { return nil }
func (c *stubConn) Close(reason string) {
	c.closed = true
	c.reason = reason
}

type sessionHarness struct {
	srv   *Server
	clock *clockwork.FakeClock
}

func newHarness(t *testing.T) *sessionHarness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	dir := NewDirectory(clock)
	return &sessionHarness{srv: NewServer(dir, clock, 2*time.Minute), clock: clock}
}

// addSession registers a session without pumps; dispatch is driven
// directly and outbound frames are read from the buffered channel.
func (h *sessionHarness) addSession(id string) *session {
	s := newSession(id, h.srv, &stubConn{})
	h.srv.mu.Lock()
	h.srv.sessions[id] = s
	h.srv.mu.Unlock()
	return s
}

func (h *sessionHarness) drop(s *session) {
	h.srv.dropSession(s)
}

func envelope(t *testing.T, msgType string, seq uint64, payload any) protocol.Envelope {
	t.Helper()
	data, err := protocol.Encode(msgType, seq, payload)
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func nextFrame(t *testing.T, s *session) protocol.Envelope {
	t.Helper()
	// grace expiry frames come from a timer goroutine, so reading must wait
	select {
	case data := <-s.out:
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("expected an outbound frame, channel empty")
		return protocol.Envelope{}
	}
}

func nextAck(t *testing.T, s *session) protocol.Ack {
	t.Helper()
	env := nextFrame(t, s)
	require.Equal(t, protocol.TypeAck, env.Type)
	var ack protocol.Ack
	require.NoError(t, env.DecodePayload(&ack))
	return ack
}

func drain(s *session) {
	for {
		select {
		case <-s.out:
		default:
			return
		}
	}
}

func createRoom(t *testing.T, s *session, name string) string {
	t.Helper()
	s.dispatch(envelope(t, protocol.TypeCreateRoom, 1, protocol.CreateRoom{PlayerName: name}))
	ack := nextAck(t, s)
	require.True(t, ack.OK)
	require.NotNil(t, ack.Room)
	return ack.Room.Code
}

func joinRoom(t *testing.T, s *session, code, name string) {
	t.Helper()
	s.dispatch(envelope(t, protocol.TypeJoinRoom, 2, protocol.JoinRoom{RoomCode: code, PlayerName: name}))
	ack := nextAck(t, s)
	require.True(t, ack.OK)
}

func TestSession_CreateAndJoinFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	host := h.addSession("h1")
	guest := h.addSession("g1")

	code := createRoom(t, host, "ada")

	guest.dispatch(envelope(t, protocol.TypeJoinRoom, 7, protocol.JoinRoom{RoomCode: code, PlayerName: "grace"}))
	ack := nextAck(t, guest)
	assert.True(t, ack.OK)
	assert.Equal(t, "g1", ack.PlayerID)
	require.NotNil(t, ack.Room)
	assert.Len(t, ack.Room.Players, 2)

	// host learns about the join, guest does not get its own push
	push := nextFrame(t, host)
	assert.Equal(t, protocol.TypePlayerJoined, push.Type)
	var joined protocol.PlayerJoined
	require.NoError(t, push.DecodePayload(&joined))
	assert.Equal(t, "grace", joined.Player.Name)
	assert.Empty(t, guest.out)
}

func TestSession_JoinUnknownRoom(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.addSession("g1")

	s.dispatch(envelope(t, protocol.TypeJoinRoom, 3, protocol.JoinRoom{RoomCode: "QQQQ", PlayerName: "grace"}))
	ack := nextAck(t, s)
	assert.False(t, ack.OK)
	assert.Equal(t, protocol.CodeRoomNotFound, ack.Error)
}

func TestSession_StartGameRules(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	host := h.addSession("h1")
	guest := h.addSession("g1")

	code := createRoom(t, host, "ada")

	// not enough players yet
	host.dispatch(envelope(t, protocol.TypeStartGame, 2, json.RawMessage(`{"state":{}}`)))
	ack := nextAck(t, host)
	assert.False(t, ack.OK)
	assert.Equal(t, protocol.CodeNotEnoughPlayers, ack.Error)

	joinRoom(t, guest, code, "grace")
	drain(host)

	// only the host may start
	guest.dispatch(envelope(t, protocol.TypeStartGame, 3, json.RawMessage(`{"state":{}}`)))
	ack = nextAck(t, guest)
	assert.False(t, ack.OK)
	assert.Equal(t, protocol.CodeNotHost, ack.Error)

	host.dispatch(envelope(t, protocol.TypeStartGame, 4, json.RawMessage(`{"state":{}}`)))
	ack = nextAck(t, host)
	assert.True(t, ack.OK)

	// both clients receive game:start
	assert.Equal(t, protocol.TypeGameStart, nextFrame(t, host).Type)
	assert.Equal(t, protocol.TypeGameStart, nextFrame(t, guest).Type)
}

func TestSession_PauseResumeFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	host := h.addSession("h1")
	guest := h.addSession("g1")
	code := createRoom(t, host, "ada")
	joinRoom(t, guest, code, "grace")
	drain(host)

	host.dispatch(envelope(t, protocol.TypePauseGame, 5, protocol.RoomRef{RoomCode: code}))
	ack := nextAck(t, host)
	require.True(t, ack.OK)
	assert.Equal(t, protocol.TypeGamePaused, nextFrame(t, host).Type)
	assert.Equal(t, protocol.TypeGamePaused, nextFrame(t, guest).Type)

	h.clock.Advance(30 * time.Second)

	guest.dispatch(envelope(t, protocol.TypeResumeGame, 6, protocol.RoomRef{RoomCode: code}))
	ack = nextAck(t, guest)
	require.True(t, ack.OK)
	assert.Equal(t, int64(30000), ack.PausedDurationMS)

	var resumed protocol.GameResumed
	env := nextFrame(t, guest)
	require.Equal(t, protocol.TypeGameResumed, env.Type)
	require.NoError(t, env.DecodePayload(&resumed))
	assert.Equal(t, int64(30000), resumed.PausedDurationMS)
}

func TestSession_StateRelay(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	host := h.addSession("h1")
	guest := h.addSession("g1")
	code := createRoom(t, host, "ada")
	joinRoom(t, guest, code, "grace")
	drain(host)

	guest.dispatch(envelope(t, protocol.TypeStateUpdate, 8, protocol.GameState{State: json.RawMessage(`{"x":1}`)}))
	ack := nextAck(t, guest)
	assert.True(t, ack.OK)

	push := nextFrame(t, host)
	assert.Equal(t, protocol.TypeStatePush, push.Type)
	assert.Empty(t, guest.out, "state updates are not echoed to the sender")

	// full-state sync is host-only
	guest.dispatch(envelope(t, protocol.TypeSyncState, 9, protocol.GameState{State: json.RawMessage(`{}`)}))
	ack = nextAck(t, guest)
	assert.False(t, ack.OK)
	assert.Equal(t, protocol.CodeNotHost, ack.Error)

	host.dispatch(envelope(t, protocol.TypeSyncState, 10, protocol.GameState{State: json.RawMessage(`{}`)}))
	ack = nextAck(t, host)
	assert.True(t, ack.OK)
	assert.Equal(t, protocol.TypeGameState, nextFrame(t, guest).Type)
}

func TestSession_DisconnectGraceAndExpiry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	host := h.addSession("h1")
	guest := h.addSession("g1")
	code := createRoom(t, host, "ada")
	joinRoom(t, guest, code, "grace")
	drain(host)

	h.drop(guest)

	push := nextFrame(t, host)
	assert.Equal(t, protocol.TypePlayerDisconnected, push.Type)

	view, ok := h.srv.dir.Room(code)
	require.True(t, ok)
	p, found := view.Player("g1")
	require.True(t, found)
	assert.False(t, p.Connected, "a transport drop flags the player, it does not remove them")

	h.clock.Advance(2 * time.Minute)

	push = nextFrame(t, host)
	assert.Equal(t, protocol.TypePlayerLeft, push.Type)
	view, ok = h.srv.dir.Room(code)
	require.True(t, ok)
	assert.Len(t, view.Players, 1)
}

func TestSession_RejoinWithinGrace(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	host := h.addSession("h1")
	guest := h.addSession("g1")
	code := createRoom(t, host, "ada")
	joinRoom(t, guest, code, "grace")
	drain(host)

	h.drop(guest)
	drain(host)

	// the same human comes back on a new connection before grace expiry
	guest2 := h.addSession("g2")
	guest2.dispatch(envelope(t, protocol.TypeJoinRoom, 11, protocol.JoinRoom{RoomCode: code, PlayerName: "grace"}))
	ack := nextAck(t, guest2)
	require.True(t, ack.OK)

	push := nextFrame(t, host)
	assert.Equal(t, protocol.TypePlayerReconnected, push.Type)

	// grace expiry for the stale id must now be a no-op
	h.clock.Advance(2 * time.Minute)
	assert.Empty(t, host.out)

	view, ok := h.srv.dir.Room(code)
	require.True(t, ok)
	assert.Len(t, view.Players, 2)
}

func TestSession_LeaveRoomPromotesHost(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	host := h.addSession("h1")
	guest := h.addSession("g1")
	code := createRoom(t, host, "ada")
	joinRoom(t, guest, code, "grace")
	drain(host)

	host.dispatch(envelope(t, protocol.TypeLeaveRoom, 12, nil))
	ack := nextAck(t, host)
	assert.True(t, ack.OK)

	env := nextFrame(t, guest)
	require.Equal(t, protocol.TypePlayerLeft, env.Type)
	var left protocol.PlayerLeft
	require.NoError(t, env.DecodePayload(&left))
	assert.Equal(t, "h1", left.PlayerID)
	assert.Equal(t, "g1", left.NewHostID)
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.addSession("s1")

	h.srv.Shutdown()

	env := nextFrame(t, s)
	assert.Equal(t, protocol.TypeRoomClosed, env.Type)

	// both pump channels must be closed so the write pump terminates
	_, ok := <-s.out
	assert.False(t, ok, "outbound channel still open after shutdown")
	_, ok = <-s.pings
	assert.False(t, ok, "ping channel still open after shutdown")

	sc := s.conn.(*stubConn)
	assert.True(t, sc.closed)
	assert.Equal(t, "server-shutdown", sc.reason)
}

func TestSession_InvalidEnvelope(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.addSession("s1")

	s.dispatch(protocol.Envelope{Type: "no-such-request", Seq: 1})
	ack := nextAck(t, s)
	assert.False(t, ack.OK)
	assert.Equal(t, protocol.CodeInvalidRequest, ack.Error)
}
