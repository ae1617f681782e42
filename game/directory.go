package game

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Directory is the single source of truth for which players are in which
// room. Every mutation is a critical section under mu, including the
// collision check inside room-code generation.
type Directory struct {
	mu         sync.Mutex
	rooms      map[string]*room
	playerRoom map[string]string // player id -> room code
	clock      clockwork.Clock
	rng        *rand.Rand
}

func NewDirectory(clock clockwork.Clock) *Directory {
	return &Directory{
		rooms:      make(map[string]*room),
		playerRoom: make(map[string]string),
		clock:      clock,
		rng:        rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

func (d *Directory) CreateRoom(hostID, hostName string) (RoomView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, elsewhere := d.playerRoom[hostID]; elsewhere {
		return RoomView{}, ErrAlreadyInAnotherRoom
	}

	code, err := generateRoomCode(d.rng, func(c string) bool {
		_, exists := d.rooms[c]
		return exists
	})
	if err != nil {
		return RoomView{}, err
	}

	r := &room{
		code:      code,
		createdAt: d.clock.Now(),
		players: []*Player{{
			ID:        hostID,
			Name:      hostName,
			IsHost:    true,
			Connected: true,
		}},
	}
	d.rooms[code] = r
	d.playerRoom[hostID] = code
	return r.view(), nil
}

// JoinRoom adds the player to the room. Joining a room you are already in
// is a no-op returning the room unchanged. A join carrying the name of a
// currently disconnected member takes over that member's slot (same host
// flag, new connection-scoped id); that is how a reconnecting client gets
// back in without duplicating itself. reconnected reports that case.
func (d *Directory) JoinRoom(code, playerID, playerName string) (view RoomView, reconnected bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	code = normalizeCode(code)
	r, exists := d.rooms[code]
	if !exists {
		return RoomView{}, false, ErrRoomNotFound
	}

	if r.player(playerID) != nil {
		return r.view(), false, nil
	}

	if other, elsewhere := d.playerRoom[playerID]; elsewhere && other != code {
		return RoomView{}, false, ErrAlreadyInAnotherRoom
	}

	if ghost := r.playerByName(playerName); ghost != nil && !ghost.Connected {
		delete(d.playerRoom, ghost.ID)
		ghost.ID = playerID
		ghost.Connected = true
		d.playerRoom[playerID] = code
		return r.view(), true, nil
	}

	if len(r.players) >= maxRoomPlayers {
		return RoomView{}, false, ErrRoomFull
	}

	r.players = append(r.players, &Player{
		ID:        playerID,
		Name:      playerName,
		Connected: true,
	})
	d.playerRoom[playerID] = code
	return r.view(), false, nil
}

// RemovePlayer drops the player from their room. An emptied room is
// destroyed immediately. The returned view reflects the room after the
// removal; newHost is set when host failover happened.
func (d *Directory) RemovePlayer(playerID string) (view RoomView, removed *Player, newHost *Player, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(playerID)
}

func (d *Directory) removeLocked(playerID string) (RoomView, *Player, *Player, bool) {
	code, ok := d.playerRoom[playerID]
	if !ok {
		return RoomView{}, nil, nil, false
	}
	r := d.rooms[code]
	removed, newHost := r.remove(playerID)
	delete(d.playerRoom, playerID)
	if len(r.players) == 0 {
		delete(d.rooms, code)
	}
	var removedCopy, hostCopy *Player
	if removed != nil {
		c := *removed
		removedCopy = &c
	}
	if newHost != nil {
		c := *newHost
		hostCopy = &c
	}
	return r.view(), removedCopy, hostCopy, true
}

// RemoveIfDisconnected is the disconnect-grace expiry path. A player that
// reconnected in the meantime holds a fresh id, so the stale id simply
// misses and nothing happens.
func (d *Directory) RemoveIfDisconnected(playerID string) (RoomView, *Player, *Player, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	code, ok := d.playerRoom[playerID]
	if !ok {
		return RoomView{}, nil, nil, false
	}
	if p := d.rooms[code].player(playerID); p == nil || p.Connected {
		return RoomView{}, nil, nil, false
	}
	return d.removeLocked(playerID)
}

func (d *Directory) PauseRoom(code, byID string) (RoomView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, exists := d.rooms[normalizeCode(code)]
	if !exists {
		return RoomView{}, ErrRoomNotFound
	}
	if r.player(byID) == nil {
		return RoomView{}, ErrNotAMember
	}
	if r.paused {
		return RoomView{}, ErrAlreadyPaused
	}
	r.paused = true
	r.pausedAt = d.clock.Now()
	r.pausedBy = byID
	return r.view(), nil
}

// ResumeRoom refuses to resume while any member is disconnected: resuming
// would let the remaining player keep playing through their partner's
// outage. The paused duration is returned for session-time accounting.
func (d *Directory) ResumeRoom(code string) (RoomView, time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, exists := d.rooms[normalizeCode(code)]
	if !exists {
		return RoomView{}, 0, ErrRoomNotFound
	}
	if !r.paused {
		return RoomView{}, 0, ErrNotPaused
	}
	if !r.allConnected() {
		return RoomView{}, 0, ErrResumeBlocked
	}
	paused := d.clock.Now().Sub(r.pausedAt)
	r.paused = false
	r.pausedAt = time.Time{}
	r.pausedBy = ""
	return r.view(), paused, nil
}

// SetPlayerConnected toggles presence without removing the player. This is
// what distinguishes a transient network blip from an explicit leave.
func (d *Directory) SetPlayerConnected(playerID string, connected bool) (RoomView, *Player, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	code, ok := d.playerRoom[playerID]
	if !ok {
		return RoomView{}, nil, false
	}
	r := d.rooms[code]
	p := r.player(playerID)
	if p == nil {
		return RoomView{}, nil, false
	}
	p.Connected = connected
	c := *p
	return r.view(), &c, true
}

// Room looks up a room by code.
func (d *Directory) Room(code string) (RoomView, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[normalizeCode(code)]
	if !ok {
		return RoomView{}, false
	}
	return r.view(), true
}

// RoomOf resolves a player id to their room through the reverse index.
func (d *Directory) RoomOf(playerID string) (RoomView, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	code, ok := d.playerRoom[playerID]
	if !ok {
		return RoomView{}, false
	}
	return d.rooms[code].view(), true
}

func (d *Directory) RoomCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}
