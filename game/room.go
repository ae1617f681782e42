package game

import (
	"strings"
	"time"

	"github.com/ViperBlackSkull/EscapeTwogether-sub001/protocol"
)

// The game is strictly cooperative two-player.
const maxRoomPlayers = 2

type Player struct {
	ID        string
	Name      string
	IsHost    bool
	Connected bool
}

type room struct {
	code      string
	players   []*Player // join order, index 0 is the oldest member
	paused    bool
	pausedAt  time.Time
	pausedBy  string
	createdAt time.Time
}

// RoomView is a copy of a room's state taken under the directory lock.
// Handlers broadcast from views, never from live registry state.
type RoomView struct {
	Code     string
	Players  []Player
	Paused   bool
	PausedAt time.Time
	PausedBy string
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *room) player(id string) *Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *room) playerByName(name string) *Player {
	for _, p := range r.players {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (r *room) allConnected() bool {
	for _, p := range r.players {
		if !p.Connected {
			return false
		}
	}
	return true
}

// remove takes the player out of the slice preserving join order. If the
// removed player was host and members remain, the next-joined member is
// promoted in the same step so the room is never observably hostless.
func (r *room) remove(id string) (removed *Player, newHost *Player) {
	for i, p := range r.players {
		if p.ID != id {
			continue
		}
		removed = p
		r.players = append(r.players[:i], r.players[i+1:]...)
		break
	}
	if removed == nil {
		return nil, nil
	}
	if removed.IsHost && len(r.players) > 0 {
		r.players[0].IsHost = true
		newHost = r.players[0]
	}
	return removed, newHost
}

func (r *room) view() RoomView {
	v := RoomView{
		Code:     r.code,
		Players:  make([]Player, 0, len(r.players)),
		Paused:   r.paused,
		PausedAt: r.pausedAt,
		PausedBy: r.pausedBy,
	}
	for _, p := range r.players {
		v.Players = append(v.Players, *p)
	}
	return v
}

func (v RoomView) Player(id string) (Player, bool) {
	for _, p := range v.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

func (v RoomView) Host() (Player, bool) {
	for _, p := range v.Players {
		if p.IsHost {
			return p, true
		}
	}
	return Player{}, false
}

func (v RoomView) AllConnected() bool {
	for _, p := range v.Players {
		if !p.Connected {
			return false
		}
	}
	return true
}

func (v RoomView) ToWire() *protocol.Room {
	wire := &protocol.Room{Code: v.Code, Paused: v.Paused}
	for _, p := range v.Players {
		wire.Players = append(wire.Players, p.ToWire())
	}
	return wire
}

func (p Player) ToWire() protocol.Player {
	return protocol.Player{ID: p.ID, Name: p.Name, IsHost: p.IsHost, Connected: p.Connected}
}
