package client

import (
	"context"
	"errors"
	"sync"

	"github.com/ViperBlackSkull/EscapeTwogether-sub001/protocol"
)

// fakeConn is a scripted connection. Inbound frames for the read loop go
// through a buffered channel; fail closes it with a chosen read error.
type fakeConn struct {
	inbound chan []byte

	mu      sync.Mutex
	onWrite func(env protocol.Envelope)
	readErr error
	failed  bool
	closed  bool
	writes  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

// newServedConn answers every request the way the coordination service
// would: create and join acks carry a room snapshot, everything else a
// bare OK.
func newServedConn() *fakeConn {
	c := newFakeConn()
	c.onWrite = func(env protocol.Envelope) {
		switch env.Type {
		case protocol.TypeCreateRoom:
			var req protocol.CreateRoom
			_ = env.DecodePayload(&req)
			c.pushAck(env.Seq, protocol.Ack{
				OK:       true,
				PlayerID: "srv-1",
				Room: &protocol.Room{Code: "AB2C", Players: []protocol.Player{
					{ID: "srv-1", Name: req.PlayerName, IsHost: true, Connected: true},
				}},
			})
		case protocol.TypeJoinRoom:
			var req protocol.JoinRoom
			_ = env.DecodePayload(&req)
			c.pushAck(env.Seq, protocol.Ack{
				OK:       true,
				PlayerID: "srv-2",
				Room: &protocol.Room{Code: req.RoomCode, Players: []protocol.Player{
					{ID: "srv-9", Name: "partner", IsHost: true, Connected: true},
					{ID: "srv-2", Name: req.PlayerName, Connected: true},
				}},
			})
		default:
			c.pushAck(env.Seq, protocol.Ack{OK: true})
		}
	}
	return c
}

func (c *fakeConn) Read() ([]byte, error) {
	data, ok := <-c.inbound
	if !ok {
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = errors.New("connection reset")
		}
		return nil, err
	}
	return data, nil
}

func (c *fakeConn) Write(data []byte) error {
	env, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.writes++
	fn := c.onWrite
	c.mu.Unlock()
	if fn != nil {
		fn(env)
	}
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) pushAck(seq uint64, ack protocol.Ack) {
	c.inbound <- protocol.MustEncode(protocol.TypeAck, seq, ack)
}

func (c *fakeConn) push(msgType string, payload any) {
	c.inbound <- protocol.MustEncode(msgType, 0, payload)
}

// fail kills the transport; the read loop sees err on its next read.
func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	if c.failed {
		c.mu.Unlock()
		return
	}
	c.failed = true
	c.readErr = err
	c.mu.Unlock()
	close(c.inbound)
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *fakeConn) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out connections from a swappable factory and counts
// attempts.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	next  func() (Conn, error)
}

func newFakeDialer(next func() (Conn, error)) *fakeDialer {
	return &fakeDialer{next: next}
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	fn := d.next
	d.mu.Unlock()
	return fn()
}

func (d *fakeDialer) setNext(fn func() (Conn, error)) {
	d.mu.Lock()
	d.next = fn
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// statusRecorder captures status callbacks and lets tests block until a
// wanted state shows up.
type statusRecorder struct {
	ch chan Status
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{ch: make(chan Status, 32)}
}

func (r *statusRecorder) fn(s Status) { r.ch <- s }
