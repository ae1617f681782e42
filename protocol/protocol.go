package protocol

import "encoding/json"

// Message types carried over the single websocket per client. Requests are
// answered by an Ack echoing the request seq, pushes have no seq.
const (
	// client -> service requests
	TypeCreateRoom  = "create-room"
	TypeJoinRoom    = "join-room"
	TypeLeaveRoom   = "leave-room"
	TypeStartGame   = "start-game"
	TypePauseGame   = "pause-game"
	TypeResumeGame  = "resume-game"
	TypeStateUpdate = "state-update"
	TypeSyncState   = "sync-state"

	// service -> client ack
	TypeAck = "ack"

	// service -> client pushes
	TypePlayerJoined       = "player-joined"
	TypePlayerLeft         = "player-left"
	TypePlayerDisconnected = "player-disconnected"
	TypePlayerReconnected  = "player-reconnected"
	TypeGamePaused         = "game-paused"
	TypeGameResumed        = "game-resumed"
	TypeStatePush          = "state_update"
	TypeGameState          = "game:state"
	TypeGameStart          = "game:start"
	TypeRoomClosed         = "room-closed"
)

// Error codes surfaced in acks.
const (
	CodeRoomNotFound         = "room-not-found"
	CodeRoomFull             = "room-full"
	CodeAlreadyInAnotherRoom = "already-in-another-room"
	CodeAlreadyPaused        = "already-paused"
	CodeNotPaused            = "not-paused"
	CodeResumeBlocked        = "resume-blocked-by-disconnect"
	CodeNotHost              = "not-host"
	CodeNotEnoughPlayers     = "not-enough-players"
	CodeInvalidRequest       = "invalid-request"
)

type Envelope struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
}

type Room struct {
	Code    string   `json:"code"`
	Players []Player `json:"players"`
	Paused  bool     `json:"paused"`
}

type CreateRoom struct {
	PlayerName string `json:"playerName"`
}

type JoinRoom struct {
	RoomCode   string `json:"roomCode"`
	PlayerName string `json:"playerName"`
}

type RoomRef struct {
	RoomCode string `json:"roomCode"`
}

// Ack answers any request. Room is set on create/join, PausedDuration on
// resume. Error is one of the Code* constants when OK is false.
type Ack struct {
	OK               bool   `json:"ok"`
	Error            string `json:"error,omitempty"`
	Room             *Room  `json:"room,omitempty"`
	PlayerID         string `json:"playerId,omitempty"`
	PausedDurationMS int64  `json:"pausedDuration,omitempty"`
}

type PlayerJoined struct {
	Player Player `json:"player"`
}

type PlayerLeft struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	NewHostID  string `json:"newHostId,omitempty"`
}

type PlayerConnectivity struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type GamePaused struct {
	PausedBy     string `json:"pausedBy"`
	PausedByName string `json:"pausedByName"`
	PausedAt     int64  `json:"pausedAt"`
}

type GameResumed struct {
	ResumedBy        string `json:"resumedBy"`
	ResumedByName    string `json:"resumedByName"`
	PausedDurationMS int64  `json:"pausedDuration"`
}

// GameState wraps an opaque state blob relayed between clients. The
// coordination service never inspects it.
type GameState struct {
	State json.RawMessage `json:"state"`
}

func Encode(msgType string, seq uint64, payload any) ([]byte, error) {
	env := Envelope{Type: msgType, Seq: seq}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

func (e Envelope) DecodePayload(into any) error {
	if e.Payload == nil {
		return nil
	}
	return json.Unmarshal(e.Payload, into)
}

func MustEncode(msgType string, seq uint64, payload any) []byte {
	data, err := Encode(msgType, seq, payload)
	if err != nil {
		panic(err)
	}
	return data
}
