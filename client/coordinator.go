package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ViperBlackSkull/EscapeTwogether-sub001/protocol"
	"github.com/ViperBlackSkull/EscapeTwogether-sub001/shared/logger"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const (
	defaultMaxRetries = 10
	defaultBaseDelay  = 250 * time.Millisecond
	defaultMaxDelay   = 5 * time.Second
)

// Membership is the client's view of its own room, kept current from acks
// and pushes. The pending-rejoin record is captured from here at the moment
// the transport drops, not from any in-flight request.
type Membership struct {
	RoomCode   string
	PlayerID   string
	PlayerName string
	IsHost     bool
	Players    []protocol.Player
}

// rejoinRecord is what it takes to transparently restore membership after
// a reconnect.
type rejoinRecord struct {
	roomCode   string
	playerName string
	wasHost    bool
}

type Status struct {
	State State
	Err   error
}

// Coordinator owns the one logical session to the coordination service and
// hides reconnection from the rest of the client. It republishes membership
// facts and forwards opaque game-state deltas; it never touches puzzle or
// timer state.
type Coordinator struct {
	dialer Dialer
	store  Store
	clock  clockwork.Clock

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	mu         sync.Mutex
	state      State
	conn       Conn
	gen        int // connection generation; stale read loops are ignored
	seq        uint64
	pending    map[uint64]chan protocol.Ack
	membership Membership
	rejoin     *rejoinRecord

	onStatus     func(Status)
	onMembership func(msgType string, m Membership)
	onGameState  func(msgType string, payload json.RawMessage)
}

type Option func(*Coordinator)

func WithRetryBudget(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Coordinator) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

func WithStatusFunc(fn func(Status)) Option {
	return func(c *Coordinator) { c.onStatus = fn }
}

func WithMembershipFunc(fn func(msgType string, m Membership)) Option {
	return func(c *Coordinator) { c.onMembership = fn }
}

func WithGameStateFunc(fn func(msgType string, payload json.RawMessage)) Option {
	return func(c *Coordinator) { c.onGameState = fn }
}

func NewCoordinator(dialer Dialer, store Store, clock clockwork.Clock, opts ...Option) *Coordinator {
	c := &Coordinator{
		dialer:     dialer,
		store:      store,
		clock:      clock,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		pending:    make(map[uint64]chan protocol.Ack),
	}
	for _, opt := range opts {
		opt(c)
	}
	// A snapshot persisted before a reload seeds the rejoin record so the
	// first successful connect restores the previous room.
	if snap, ok := store.Load(); ok && snap.RoomCode != "" {
		c.rejoin = &rejoinRecord{
			roomCode:   snap.RoomCode,
			playerName: snap.PlayerName,
			wasHost:    snap.WasHost,
		}
	}
	return c
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Membership() Membership {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.membership
}

// Connect establishes the session. If a pending-rejoin record exists the
// join is replayed before Connect returns, so callers observe "ready" only
// with membership restored.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitStatus(StateConnecting, nil)

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, err)
		return err
	}
	return c.install(ctx, conn)
}

// install wires a fresh connection: read loop first (acks need it), then
// the rejoin replay, then the connected signal.
func (c *Coordinator) install(ctx context.Context, conn Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readLoop(conn, gen)

	if err := c.replayRejoin(ctx); err != nil {
		return err
	}

	c.setState(StateConnected, nil)
	return nil
}

func (c *Coordinator) replayRejoin(ctx context.Context) error {
	c.mu.Lock()
	rec := c.rejoin
	c.mu.Unlock()
	if rec == nil {
		return nil
	}

	logger.Infof("replaying rejoin into room %s as %s", rec.roomCode, rec.playerName)
	ack, err := c.request(ctx, protocol.TypeJoinRoom, protocol.JoinRoom{
		RoomCode:   rec.roomCode,
		PlayerName: rec.playerName,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.rejoin = nil
	if !ack.OK {
		// The room is gone (or the seat was properly given away). That is
		// a stale record, not an error to retry: reset local room state.
		c.membership = Membership{}
		c.mu.Unlock()
		c.store.Clear()
		logger.Infof("rejoin refused (%s), local room state cleared", ack.Error)
		return nil
	}
	c.applyRoomAckLocked(ack, rec.playerName)
	c.mu.Unlock()
	return nil
}

// --- requests -----------------------------------------------------------

func (c *Coordinator) request(ctx context.Context, msgType string, payload any) (protocol.Ack, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return protocol.Ack{}, ErrNotConnected
	}
	conn := c.conn
	c.seq++
	seq := c.seq
	ch := make(chan protocol.Ack, 1)
	c.pending[seq] = ch
	c.mu.Unlock()

	data, err := protocol.Encode(msgType, seq, payload)
	if err != nil {
		c.dropPending(seq)
		return protocol.Ack{}, err
	}
	if err := conn.Write(data); err != nil {
		c.dropPending(seq)
		return protocol.Ack{}, ErrConnectionLost
	}

	select {
	case ack, ok := <-ch:
		if !ok {
			return protocol.Ack{}, ErrConnectionLost
		}
		return ack, nil
	case <-ctx.Done():
		c.dropPending(seq)
		return protocol.Ack{}, ctx.Err()
	}
}

func (c *Coordinator) dropPending(seq uint64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *Coordinator) CreateRoom(ctx context.Context, playerName string) (Membership, error) {
	ack, err := c.request(ctx, protocol.TypeCreateRoom, protocol.CreateRoom{PlayerName: playerName})
	if err != nil {
		return Membership{}, err
	}
	if !ack.OK {
		return Membership{}, ackError(ack)
	}
	c.mu.Lock()
	c.applyRoomAckLocked(ack, playerName)
	m := c.membership
	c.mu.Unlock()
	c.persist(m)
	return m, nil
}

func (c *Coordinator) JoinRoom(ctx context.Context, roomCode, playerName string) (Membership, error) {
	ack, err := c.request(ctx, protocol.TypeJoinRoom, protocol.JoinRoom{RoomCode: roomCode, PlayerName: playerName})
	if err != nil {
		return Membership{}, err
	}
	if !ack.OK {
		return Membership{}, ackError(ack)
	}
	c.mu.Lock()
	c.applyRoomAckLocked(ack, playerName)
	m := c.membership
	c.mu.Unlock()
	c.persist(m)
	return m, nil
}

func (c *Coordinator) LeaveRoom(ctx context.Context) error {
	_, err := c.request(ctx, protocol.TypeLeaveRoom, nil)
	c.mu.Lock()
	c.membership = Membership{}
	c.rejoin = nil
	c.mu.Unlock()
	c.store.Clear()
	return err
}

func (c *Coordinator) StartGame(ctx context.Context, state json.RawMessage) error {
	ack, err := c.request(ctx, protocol.TypeStartGame, protocol.GameState{State: state})
	if err != nil {
		return err
	}
	if !ack.OK {
		return ackError(ack)
	}
	return nil
}

func (c *Coordinator) PauseGame(ctx context.Context) error {
	ack, err := c.request(ctx, protocol.TypePauseGame, protocol.RoomRef{RoomCode: c.Membership().RoomCode})
	if err != nil {
		return err
	}
	if !ack.OK {
		return ackError(ack)
	}
	return nil
}

// ResumeGame returns how long the room was paused so the progression
// controller can fold it into session-time accounting.
func (c *Coordinator) ResumeGame(ctx context.Context) (time.Duration, error) {
	ack, err := c.request(ctx, protocol.TypeResumeGame, protocol.RoomRef{RoomCode: c.Membership().RoomCode})
	if err != nil {
		return 0, err
	}
	if !ack.OK {
		return 0, ackError(ack)
	}
	return time.Duration(ack.PausedDurationMS) * time.Millisecond, nil
}

func (c *Coordinator) SendStateUpdate(ctx context.Context, state json.RawMessage) error {
	_, err := c.request(ctx, protocol.TypeStateUpdate, protocol.GameState{State: state})
	return err
}

func (c *Coordinator) SyncState(ctx context.Context, state json.RawMessage) error {
	_, err := c.request(ctx, protocol.TypeSyncState, protocol.GameState{State: state})
	return err
}

// --- inbound ------------------------------------------------------------

func (c *Coordinator) readLoop(conn Conn, gen int) {
	for {
		data, err := conn.Read()
		if err != nil {
			c.handleTransportLoss(gen, err)
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			logger.Warningf("dropping undecodable frame: %v", err)
			continue
		}
		c.handleInbound(env)
	}
}

func (c *Coordinator) handleInbound(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAck:
		var ack protocol.Ack
		if err := env.DecodePayload(&ack); err != nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[env.Seq]
		delete(c.pending, env.Seq)
		c.mu.Unlock()
		if ok {
			ch <- ack
		}

	case protocol.TypePlayerJoined, protocol.TypePlayerReconnected:
		var push protocol.PlayerJoined
		if err := env.DecodePayload(&push); err != nil {
			return
		}
		c.mu.Lock()
		c.upsertPlayerLocked(push.Player)
		m := c.membership
		c.mu.Unlock()
		c.emitMembership(env.Type, m)

	case protocol.TypePlayerLeft:
		var push protocol.PlayerLeft
		if err := env.DecodePayload(&push); err != nil {
			return
		}
		c.mu.Lock()
		c.removePlayerLocked(push.PlayerID)
		if push.NewHostID != "" {
			c.promoteLocked(push.NewHostID)
		}
		m := c.membership
		c.mu.Unlock()
		c.emitMembership(env.Type, m)

	case protocol.TypePlayerDisconnected:
		var push protocol.PlayerConnectivity
		if err := env.DecodePayload(&push); err != nil {
			return
		}
		c.mu.Lock()
		c.setConnectedLocked(push.PlayerID, false)
		m := c.membership
		c.mu.Unlock()
		c.emitMembership(env.Type, m)

	case protocol.TypeGamePaused, protocol.TypeGameResumed,
		protocol.TypeStatePush, protocol.TypeGameState, protocol.TypeGameStart:
		if c.onGameState != nil {
			c.onGameState(env.Type, env.Payload)
		}

	case protocol.TypeRoomClosed:
		// Deliberate server-side close: terminal, no auto-retry.
		c.deliberateClose(ErrServerClosed)
	}
}

// handleTransportLoss runs when a read loop dies. The pending-rejoin record
// is captured from the currently known membership, then reconnection starts
// unless the server closed us on purpose.
func (c *Coordinator) handleTransportLoss(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	alreadyReconnecting := c.state == StateReconnecting
	c.failPendingLocked()
	if c.membership.RoomCode != "" {
		c.rejoin = &rejoinRecord{
			roomCode:   c.membership.RoomCode,
			playerName: c.membership.PlayerName,
			wasHost:    c.membership.IsHost,
		}
	}
	c.conn = nil

	if err == ErrServerClosed {
		c.rejoin = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		c.store.Clear()
		c.emitStatus(StateDisconnected, ErrServerClosed)
		return
	}

	c.state = StateReconnecting
	c.mu.Unlock()

	// A connection that died mid-reconnect already has a retry loop
	// driving it; spawning a second one would double the attempts.
	if !alreadyReconnecting {
		c.emitStatus(StateReconnecting, err)
		go c.reconnectLoop()
	}
}

func (c *Coordinator) reconnectLoop() {
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		delay := reconnectDelay(attempt, c.baseDelay, c.maxDelay)
		<-c.clock.After(delay)

		if c.State() != StateReconnecting {
			return
		}

		logger.Debugf("reconnect attempt %d/%d", attempt, c.maxRetries)
		conn, err := c.dialer.Dial(context.Background())
		if err != nil {
			continue
		}
		if err := c.install(context.Background(), conn); err != nil {
			continue
		}
		return
	}

	// Budget consumed: settle in disconnected, the user must retry.
	c.mu.Lock()
	c.rejoin = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	c.store.Clear()
	c.emitStatus(StateDisconnected, ErrReconnectExhausted)
}

// Close is the user-initiated disconnect. No rejoin record survives it.
func (c *Coordinator) Close() {
	c.deliberateClose(nil)
}

func (c *Coordinator) deliberateClose(err error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.rejoin = nil
	c.membership = Membership{}
	c.state = StateDisconnected
	c.failPendingLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.store.Clear()
	c.emitStatus(StateDisconnected, err)
}

// --- helpers ------------------------------------------------------------

func (c *Coordinator) failPendingLocked() {
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
}

func (c *Coordinator) applyRoomAckLocked(ack protocol.Ack, playerName string) {
	if ack.Room == nil {
		return
	}
	c.membership = Membership{
		RoomCode:   ack.Room.Code,
		PlayerID:   ack.PlayerID,
		PlayerName: playerName,
		Players:    ack.Room.Players,
	}
	for _, p := range ack.Room.Players {
		if p.ID == ack.PlayerID {
			c.membership.IsHost = p.IsHost
		}
	}
}

func (c *Coordinator) upsertPlayerLocked(p protocol.Player) {
	for i, existing := range c.membership.Players {
		if existing.Name == p.Name {
			c.membership.Players[i] = p
			return
		}
	}
	c.membership.Players = append(c.membership.Players, p)
}

func (c *Coordinator) removePlayerLocked(id string) {
	players := c.membership.Players
	for i, p := range players {
		if p.ID == id {
			c.membership.Players = append(players[:i], players[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) setConnectedLocked(id string, connected bool) {
	for i, p := range c.membership.Players {
		if p.ID == id {
			c.membership.Players[i].Connected = connected
			return
		}
	}
}

func (c *Coordinator) promoteLocked(id string) {
	for i, p := range c.membership.Players {
		c.membership.Players[i].IsHost = p.ID == id
	}
	if c.membership.PlayerID == id {
		c.membership.IsHost = true
	}
}

func (c *Coordinator) persist(m Membership) {
	c.store.Save(Snapshot{
		RoomCode:   m.RoomCode,
		PlayerName: m.PlayerName,
		WasHost:    m.IsHost,
	})
}

func (c *Coordinator) setState(state State, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.emitStatus(state, err)
}

func (c *Coordinator) emitStatus(state State, err error) {
	if c.onStatus != nil {
		c.onStatus(Status{State: state, Err: err})
	}
}

func (c *Coordinator) emitMembership(msgType string, m Membership) {
	if c.onMembership != nil {
		c.onMembership(msgType, m)
	}
}

func ackError(ack protocol.Ack) error {
	return &RequestError{Code: ack.Error}
}

// RequestError is a registry-level refusal. These are never retried
// automatically; they reflect a stale or wrong user action.
type RequestError struct {
	Code string
}

func (e *RequestError) Error() string { return e.Code }

func (e *RequestError) Is(target error) bool { return target == ErrRequestFailed }
