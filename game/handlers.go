package game

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/ViperBlackSkull/EscapeTwogether-sub001/protocol"
	"github.com/ViperBlackSkull/EscapeTwogether-sub001/shared/logger"
)

const pingInterval = 30 * time.Second

// Server owns the directory and the live sessions. One websocket per
// client carries every request and push.
type Server struct {
	dir      *Directory
	clock    clockwork.Clock
	grace    time.Duration
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session

	stop     chan struct{}
	stopOnce sync.Once
}

func NewServer(dir *Directory, clock clockwork.Clock, grace time.Duration) *Server {
	return &Server{
		dir:   dir,
		clock: clock,
		grace: grace,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // origin gating is middleware's job
		},
		sessions: make(map[string]*session),
		stop:     make(chan struct{}),
	}
}

// WSHandler upgrades the connection and runs the session pumps. The
// connection-scoped player id lives exactly as long as the socket.
func (srv *Server) WSHandler(ctx *gin.Context) {
	conn, err := srv.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		logger.Warningf("ws upgrade failed: %v", err)
		return
	}

	s := newSession(uuid.NewString(), srv, NewWSConn(conn))
	srv.mu.Lock()
	srv.sessions[s.id] = s
	srv.mu.Unlock()

	logger.Debugf("[session %s] connected from %s", s.id, ctx.ClientIP())
	go s.writePump()
	s.readPump()
}

// dropSession runs when a read pump exits, whatever the cause.
func (srv *Server) dropSession(s *session) {
	srv.mu.Lock()
	if srv.sessions[s.id] != s {
		srv.mu.Unlock()
		return
	}
	delete(srv.sessions, s.id)
	srv.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.out)
		close(s.pings)
	})
	s.disconnected()
}

// broadcast fans data out to every member of the room except exceptID.
func (srv *Server) broadcast(view RoomView, data []byte, exceptID string) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	for _, p := range view.Players {
		if p.ID == exceptID {
			continue
		}
		if member, ok := srv.sessions[p.ID]; ok {
			member.send(data)
		}
	}
}

// PingLoop keeps idle connections alive; pong handling extends the read
// deadline in the conn wrapper.
func (srv *Server) PingLoop() {
	ticker := srv.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			srv.mu.RLock()
			for _, s := range srv.sessions {
				s.ping()
			}
			srv.mu.RUnlock()
		case <-srv.stop:
			return
		}
	}
}

// Shutdown tells every client the closure is deliberate so they settle in
// disconnected instead of hammering reconnect attempts.
func (srv *Server) Shutdown() {
	srv.stopOnce.Do(func() { close(srv.stop) })
	srv.mu.Lock()
	defer srv.mu.Unlock()
	closing := protocol.MustEncode(protocol.TypeRoomClosed, 0, nil)
	for id, s := range srv.sessions {
		s.send(closing)
		s.conn.Close("server-shutdown")
		// The session is gone from the map, so the read pump's dropSession
		// will not close the channels; do it here or the write pump leaks.
		s.closeOnce.Do(func() {
			close(s.out)
			close(s.pings)
		})
		delete(srv.sessions, id)
	}
}

func RegisterRoutes(r *gin.Engine, srv *Server) {
	r.GET("/health", func(ctx *gin.Context) { ctx.String(http.StatusOK, "healthy") })
	r.GET("/ws", srv.WSHandler)
}
