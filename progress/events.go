package progress

import "time"

// EventType enumerates the ordered progression events the controller
// emits. Narrative, audio and statistics consumers subscribe to these
// instead of being called inline from game logic.
type EventType string

const (
	EventRoomEntered   EventType = "room-entered"
	EventPuzzleSolved  EventType = "puzzle-solved"
	EventAttemptFailed EventType = "attempt-failed"
	EventRoomCompleted EventType = "room-completed"
	EventGameCompleted EventType = "game-completed"
	EventHintUsed      EventType = "hint-used"
	EventGamePaused    EventType = "game-paused"
	EventGameResumed   EventType = "game-resumed"

	// audio cues
	EventCueSolve   EventType = "cue-solve"
	EventCueError   EventType = "cue-error"
	EventCueVictory EventType = "cue-victory"
	EventCueDefeat  EventType = "cue-defeat"
)

type Event struct {
	Type     EventType
	RoomID   string
	PuzzleID string
	HintTier int
	Reason   Reason
	At       time.Time
}

// Subscriber is a one-way notification. It can neither block nor reject
// the transition that produced the event, must not call back into the
// controller, and its panics are swallowed.
type Subscriber func(Event)
