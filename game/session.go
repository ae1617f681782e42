package game

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ViperBlackSkull/EscapeTwogether-sub001/protocol"
	"github.com/ViperBlackSkull/EscapeTwogether-sub001/shared/logger"
)

const outboundBuffer = 256

// session is the per-connection actor. The read pump is the only goroutine
// dispatching this player's requests, so directory calls from one session
// never interleave with themselves; the directory lock serializes across
// sessions.
type session struct {
	id        string
	name      string
	srv       *Server
	conn      Conn
	out       chan []byte
	pings     chan struct{}
	limiter   *rate.Limiter
	closeOnce sync.Once
}

func newSession(id string, srv *Server, conn Conn) *session {
	return &session{
		id:      id,
		srv:     srv,
		conn:    conn,
		out:     make(chan []byte, outboundBuffer),
		pings:   make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Limit(25), 50),
	}
}

func (s *session) readPump() {
	defer s.srv.dropSession(s)
	for {
		data, err := s.conn.Read()
		if err != nil {
			return
		}
		if !s.limiter.Allow() {
			continue
		}
		env, err := protocol.Decode(data)
		if err != nil {
			s.nack(0, protocol.CodeInvalidRequest)
			continue
		}
		s.dispatch(env)
	}
}

func (s *session) writePump() {
	for {
		select {
		case data, ok := <-s.out:
			if !ok {
				return
			}
			if err := s.conn.Write(data); err != nil {
				return
			}
		case _, ok := <-s.pings:
			if !ok {
				return
			}
			if err := s.conn.Ping(); err != nil {
				return
			}
		}
	}
}

// send queues data for the write pump. A full buffer means the client is
// not draining; the connection is cut and the disconnect path takes over.
func (s *session) send(data []byte) {
	select {
	case s.out <- data:
	default:
		logger.Warningf("[session %s] outbound buffer full, dropping connection", s.id)
		s.conn.Close("slow-consumer")
	}
}

func (s *session) ping() {
	select {
	case s.pings <- struct{}{}:
	default:
	}
}

func (s *session) ack(seq uint64, ack protocol.Ack) {
	s.send(protocol.MustEncode(protocol.TypeAck, seq, ack))
}

func (s *session) nack(seq uint64, code string) {
	s.ack(seq, protocol.Ack{Error: code})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	case errors.Is(err, ErrRoomFull):
		return protocol.CodeRoomFull
	case errors.Is(err, ErrAlreadyInAnotherRoom):
		return protocol.CodeAlreadyInAnotherRoom
	case errors.Is(err, ErrAlreadyPaused):
		return protocol.CodeAlreadyPaused
	case errors.Is(err, ErrNotPaused):
		return protocol.CodeNotPaused
	case errors.Is(err, ErrResumeBlocked):
		return protocol.CodeResumeBlocked
	case errors.Is(err, ErrNotAMember):
		return protocol.CodeInvalidRequest
	default:
		return protocol.CodeInvalidRequest
	}
}

func (s *session) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeCreateRoom:
		s.handleCreateRoom(env)
	case protocol.TypeJoinRoom:
		s.handleJoinRoom(env)
	case protocol.TypeLeaveRoom:
		s.handleLeaveRoom(env)
	case protocol.TypeStartGame:
		s.handleStartGame(env)
	case protocol.TypePauseGame:
		s.handlePauseGame(env)
	case protocol.TypeResumeGame:
		s.handleResumeGame(env)
	case protocol.TypeStateUpdate:
		s.handleStateRelay(env, protocol.TypeStatePush, false)
	case protocol.TypeSyncState:
		s.handleStateRelay(env, protocol.TypeGameState, true)
	default:
		s.nack(env.Seq, protocol.CodeInvalidRequest)
	}
}

func (s *session) handleCreateRoom(env protocol.Envelope) {
	var req protocol.CreateRoom
	if err := env.DecodePayload(&req); err != nil || req.PlayerName == "" {
		s.nack(env.Seq, protocol.CodeInvalidRequest)
		return
	}
	view, err := s.srv.dir.CreateRoom(s.id, req.PlayerName)
	if err != nil {
		s.nack(env.Seq, errorCode(err))
		return
	}
	s.name = req.PlayerName
	logger.Infof("[room %s] created by %s", view.Code, req.PlayerName)
	s.ack(env.Seq, protocol.Ack{OK: true, Room: view.ToWire(), PlayerID: s.id})
}

func (s *session) handleJoinRoom(env protocol.Envelope) {
	var req protocol.JoinRoom
	if err := env.DecodePayload(&req); err != nil || req.PlayerName == "" || req.RoomCode == "" {
		s.nack(env.Seq, protocol.CodeInvalidRequest)
		return
	}
	view, reconnected, err := s.srv.dir.JoinRoom(req.RoomCode, s.id, req.PlayerName)
	if err != nil {
		s.nack(env.Seq, errorCode(err))
		return
	}
	s.name = req.PlayerName
	s.ack(env.Seq, protocol.Ack{OK: true, Room: view.ToWire(), PlayerID: s.id})

	joined, _ := view.Player(s.id)
	if reconnected {
		logger.Infof("[room %s] %s reconnected", view.Code, req.PlayerName)
		s.srv.broadcast(view, protocol.MustEncode(protocol.TypePlayerReconnected, 0,
			protocol.PlayerJoined{Player: joined.ToWire()}), s.id)
	} else {
		logger.Infof("[room %s] %s joined", view.Code, req.PlayerName)
		s.srv.broadcast(view, protocol.MustEncode(protocol.TypePlayerJoined, 0,
			protocol.PlayerJoined{Player: joined.ToWire()}), s.id)
	}
}

func (s *session) handleLeaveRoom(env protocol.Envelope) {
	view, removed, newHost, ok := s.srv.dir.RemovePlayer(s.id)
	if !ok {
		s.nack(env.Seq, protocol.CodeRoomNotFound)
		return
	}
	s.ack(env.Seq, protocol.Ack{OK: true})
	s.announceLeft(view, removed, newHost)
}

func (s *session) announceLeft(view RoomView, removed, newHost *Player) {
	left := protocol.PlayerLeft{PlayerID: removed.ID, PlayerName: removed.Name}
	if newHost != nil {
		left.NewHostID = newHost.ID
	}
	logger.Infof("[room %s] %s left (%d remaining)", view.Code, removed.Name, len(view.Players))
	s.srv.broadcast(view, protocol.MustEncode(protocol.TypePlayerLeft, 0, left), removed.ID)
}

func (s *session) handleStartGame(env protocol.Envelope) {
	view, ok := s.srv.dir.RoomOf(s.id)
	if !ok {
		s.nack(env.Seq, protocol.CodeRoomNotFound)
		return
	}
	if host, _ := view.Host(); host.ID != s.id {
		s.nack(env.Seq, protocol.CodeNotHost)
		return
	}
	if len(view.Players) < maxRoomPlayers || !view.AllConnected() {
		s.nack(env.Seq, protocol.CodeNotEnoughPlayers)
		return
	}
	s.ack(env.Seq, protocol.Ack{OK: true})
	logger.Infof("[room %s] game started", view.Code)
	s.srv.broadcast(view, protocol.MustEncode(protocol.TypeGameStart, 0, env.Payload), "")
}

func (s *session) handlePauseGame(env protocol.Envelope) {
	var req protocol.RoomRef
	if err := env.DecodePayload(&req); err != nil {
		s.nack(env.Seq, protocol.CodeInvalidRequest)
		return
	}
	view, err := s.srv.dir.PauseRoom(req.RoomCode, s.id)
	if err != nil {
		s.nack(env.Seq, errorCode(err))
		return
	}
	s.ack(env.Seq, protocol.Ack{OK: true})
	logger.Infof("[room %s] paused by %s", view.Code, s.name)
	s.srv.broadcast(view, protocol.MustEncode(protocol.TypeGamePaused, 0, protocol.GamePaused{
		PausedBy:     s.id,
		PausedByName: s.name,
		PausedAt:     view.PausedAt.UnixMilli(),
	}), "")
}

func (s *session) handleResumeGame(env protocol.Envelope) {
	var req protocol.RoomRef
	if err := env.DecodePayload(&req); err != nil {
		s.nack(env.Seq, protocol.CodeInvalidRequest)
		return
	}
	view, pausedFor, err := s.srv.dir.ResumeRoom(req.RoomCode)
	if err != nil {
		s.nack(env.Seq, errorCode(err))
		return
	}
	s.ack(env.Seq, protocol.Ack{OK: true, PausedDurationMS: pausedFor.Milliseconds()})
	logger.Infof("[room %s] resumed by %s after %s", view.Code, s.name, pausedFor)
	s.srv.broadcast(view, protocol.MustEncode(protocol.TypeGameResumed, 0, protocol.GameResumed{
		ResumedBy:        s.id,
		ResumedByName:    s.name,
		PausedDurationMS: pausedFor.Milliseconds(),
	}), "")
}

// handleStateRelay forwards an opaque state blob to the other room members.
// The service never inspects game state; hostOnly gates the full-state sync
// path to the authoritative client.
func (s *session) handleStateRelay(env protocol.Envelope, pushType string, hostOnly bool) {
	view, ok := s.srv.dir.RoomOf(s.id)
	if !ok {
		s.nack(env.Seq, protocol.CodeRoomNotFound)
		return
	}
	if hostOnly {
		if host, _ := view.Host(); host.ID != s.id {
			s.nack(env.Seq, protocol.CodeNotHost)
			return
		}
	}
	s.ack(env.Seq, protocol.Ack{OK: true})
	s.srv.broadcast(view, protocol.MustEncode(pushType, 0, env.Payload), s.id)
}

// disconnected runs when the transport drops without an explicit leave.
// The player keeps their seat, flagged offline, until the grace timer
// expires without a rejoin.
func (s *session) disconnected() {
	view, p, ok := s.srv.dir.SetPlayerConnected(s.id, false)
	if !ok {
		return
	}
	logger.Infof("[room %s] %s disconnected, grace %s", view.Code, p.Name, s.srv.grace)
	s.srv.broadcast(view, protocol.MustEncode(protocol.TypePlayerDisconnected, 0,
		protocol.PlayerConnectivity{PlayerID: p.ID, PlayerName: p.Name}), s.id)

	id := s.id
	s.srv.clock.AfterFunc(s.srv.grace, func() {
		view, removed, newHost, ok := s.srv.dir.RemoveIfDisconnected(id)
		if !ok {
			return
		}
		s.announceLeft(view, removed, newHost)
	})
}
