package progress

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ViperBlackSkull/EscapeTwogether-sub001/shared/logger"
)

type Phase int

const (
	PhaseLobby Phase = iota
	PhasePlaying
	PhasePaused
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	case PhaseCompleted:
		return "completed"
	default:
		return "lobby"
	}
}

// Reason records which terminal condition ended the session. The three are
// mutually exclusive: whichever fires first wins.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonVictory
	ReasonTimeout
	ReasonAbandoned
)

func (r Reason) String() string {
	switch r {
	case ReasonVictory:
		return "victory"
	case ReasonTimeout:
		return "timeout"
	case ReasonAbandoned:
		return "abandoned"
	default:
		return "none"
	}
}

const tickInterval = time.Second

// Controller is the authoritative-per-client bookkeeping of how far the
// session has progressed. All mutation happens under mu in response to
// discrete calls (user intents, relayed peer deltas, the periodic tick);
// events are flushed to subscribers after the lock is released, in order.
type Controller struct {
	clock clockwork.Clock

	mu          sync.Mutex
	phase       Phase
	reason      Reason
	timer       sessionTimer
	plan        []RoomPlan
	roomIndex   int
	puzzles     map[string]*PuzzleState
	validators  map[string]Validator
	subscribers []Subscriber
	queue       []Event
	stopTick    chan struct{}

	// flushMu serializes deliveries: the tick loop and event-driven
	// callers must not interleave their drained batches.
	flushMu sync.Mutex
}

func NewController(clock clockwork.Clock, plan []RoomPlan, timeLimit time.Duration) *Controller {
	if len(plan) == 0 {
		plan = DefaultPlan()
	}
	return &Controller{
		clock:      clock,
		phase:      PhaseLobby,
		plan:       plan,
		puzzles:    make(map[string]*PuzzleState),
		validators: make(map[string]Validator),
		timer:      sessionTimer{limit: timeLimit},
	}
}

// Subscribe registers an external consumer of progression events. Order of
// delivery is the order of emission.
func (c *Controller) Subscribe(fn Subscriber) {
	c.mu.Lock()
	c.subscribers = append(c.subscribers, fn)
	c.mu.Unlock()
}

func (c *Controller) RegisterValidator(puzzleID string, v Validator) {
	c.mu.Lock()
	c.validators[puzzleID] = v
	c.mu.Unlock()
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) TerminalReason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Controller) CurrentRoom() RoomPlan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan[c.roomIndex]
}

func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer.elapsed(c.clock.Now())
}

func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer.remaining(c.clock.Now())
}

// StartGame moves lobby -> playing, starts the session timer and the tick
// loop, and announces entry into the first room.
func (c *Controller) StartGame() {
	c.mu.Lock()
	if c.phase != PhaseLobby {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	c.phase = PhasePlaying
	c.timer.start(now)
	c.stopTick = make(chan struct{})
	go c.tickLoop(c.stopTick)
	c.emitLocked(Event{Type: EventRoomEntered, RoomID: c.plan[c.roomIndex].ID, At: now})
	c.mu.Unlock()
	c.flush()
}

// Pause mirrors the room-level pause into the progression phase. The two
// flags stay distinct: transport pause lives in the room directory, this
// one drives puzzle UI and timer accounting.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.phase != PhasePlaying {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	c.phase = PhasePaused
	c.timer.pause(now)
	c.emitLocked(Event{Type: EventGamePaused, At: now})
	c.mu.Unlock()
	c.flush()
}

// Resume returns to playing. reported is the paused duration the
// coordination service measured; zero falls back to local accounting.
func (c *Controller) Resume(reported time.Duration) {
	c.mu.Lock()
	if c.phase != PhasePaused {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	c.phase = PhasePlaying
	c.timer.resume(now, reported)
	c.emitLocked(Event{Type: EventGameResumed, At: now})
	// A delta applied while paused may have finished the room.
	c.aggregateLocked(now)
	c.mu.Unlock()
	c.flush()
}

// SubmitSolution counts the attempt, asks the puzzle's validator, and on
// first success marks the puzzle solved and re-aggregates room completion.
// Submitting to an already solved puzzle is a no-op, not an error.
func (c *Controller) SubmitSolution(puzzleID string, candidate any) bool {
	c.mu.Lock()
	if c.phase != PhasePlaying {
		c.mu.Unlock()
		return false
	}
	now := c.clock.Now()
	p := c.puzzleLocked(puzzleID)
	p.Attempts++

	v := c.validators[puzzleID]
	c.mu.Unlock()
	// The validator is untrusted puzzle content; run it outside the lock
	// so a slow one cannot stall the tick.
	ok := safeValidate(v, candidate)
	c.mu.Lock()

	if c.phase != PhasePlaying {
		c.mu.Unlock()
		return false
	}
	if !ok {
		c.emitLocked(Event{Type: EventAttemptFailed, PuzzleID: puzzleID, At: now})
		c.emitLocked(Event{Type: EventCueError, PuzzleID: puzzleID, At: now})
		c.mu.Unlock()
		c.flush()
		return false
	}
	if p.Solved {
		c.mu.Unlock()
		return true
	}
	p.Solved = true
	c.emitLocked(Event{Type: EventPuzzleSolved, PuzzleID: puzzleID, RoomID: c.plan[c.roomIndex].ID, At: now})
	c.emitLocked(Event{Type: EventCueSolve, PuzzleID: puzzleID, At: now})
	c.aggregateLocked(now)
	c.mu.Unlock()
	c.flush()
	return true
}

// UseHint records the deepest hint tier consumed for a puzzle and emits
// the penalty event; applying the penalty is the subscriber's business.
func (c *Controller) UseHint(puzzleID string, tier int) {
	c.mu.Lock()
	if c.phase != PhasePlaying {
		c.mu.Unlock()
		return
	}
	p := c.puzzleLocked(puzzleID)
	if tier > p.HintTier {
		p.HintTier = tier
	}
	c.emitLocked(Event{Type: EventHintUsed, PuzzleID: puzzleID, HintTier: tier, At: c.clock.Now()})
	c.mu.Unlock()
	c.flush()
}

// Abandon is the third terminal path: the partner left for good or the
// player quit mid-session.
func (c *Controller) Abandon() {
	c.mu.Lock()
	c.completeLocked(ReasonAbandoned, c.clock.Now())
	c.mu.Unlock()
	c.flush()
}

// ApplyDelta folds a relayed peer state delta into local bookkeeping. A
// remotely solved puzzle goes through the same exactly-once aggregation as
// a local solve.
func (c *Controller) ApplyDelta(raw json.RawMessage) {
	var delta StateDelta
	if err := json.Unmarshal(raw, &delta); err != nil {
		logger.Warningf("discarding undecodable state delta: %v", err)
		return
	}
	c.mu.Lock()
	if c.phase == PhaseCompleted {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	for id, pd := range delta.Puzzles {
		p := c.puzzleLocked(id)
		if pd.Attempts != nil && *pd.Attempts > p.Attempts {
			p.Attempts = *pd.Attempts
		}
		if pd.HintTier != nil && *pd.HintTier > p.HintTier {
			p.HintTier = *pd.HintTier
		}
		if pd.Payload != nil {
			p.Payload = pd.Payload
		}
		if pd.Solved != nil && *pd.Solved && !p.Solved {
			p.Solved = true
			c.emitLocked(Event{Type: EventPuzzleSolved, PuzzleID: id, RoomID: c.plan[c.roomIndex].ID, At: now})
			c.emitLocked(Event{Type: EventCueSolve, PuzzleID: id, At: now})
		}
	}
	c.aggregateLocked(now)
	c.mu.Unlock()
	c.flush()
}

// SnapshotState serializes full puzzle/room progress for the host's
// game:state relay to a rejoining peer.
func (c *Controller) SnapshotState() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := StateDelta{
		Room:    c.plan[c.roomIndex].ID,
		Puzzles: make(map[string]PuzzleDelta, len(c.puzzles)),
	}
	for id, p := range c.puzzles {
		solved, attempts, tier := p.Solved, p.Attempts, p.HintTier
		snap.Puzzles[id] = PuzzleDelta{
			Solved:   &solved,
			Attempts: &attempts,
			HintTier: &tier,
			Payload:  p.Payload,
		}
	}
	raw, _ := json.Marshal(snap)
	return raw
}

// Summary is what the victory/defeat screen consumes.
type Summary struct {
	Reason  Reason
	Elapsed time.Duration
	Puzzles []PuzzleState
}

func (c *Controller) FinalSummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Summary{
		Reason:  c.reason,
		Elapsed: c.timer.elapsed(c.clock.Now()),
	}
	for _, room := range c.plan {
		for _, id := range room.PuzzleIDs {
			if p, ok := c.puzzles[id]; ok {
				s.Puzzles = append(s.Puzzles, *p)
			}
		}
	}
	return s
}

// --- internals ----------------------------------------------------------

func (c *Controller) puzzleLocked(id string) *PuzzleState {
	p, ok := c.puzzles[id]
	if !ok {
		p = &PuzzleState{ID: id}
		c.puzzles[id] = p
	}
	return p
}

// aggregateLocked recomputes room completion. Room transition and victory
// both hang off this; the solved flags make it idempotent.
func (c *Controller) aggregateLocked(now time.Time) {
	if c.phase != PhasePlaying {
		return
	}
	room := c.plan[c.roomIndex]
	for _, id := range room.PuzzleIDs {
		p, ok := c.puzzles[id]
		if !ok || !p.Solved {
			return
		}
	}
	c.emitLocked(Event{Type: EventRoomCompleted, RoomID: room.ID, At: now})

	if c.roomIndex+1 < len(c.plan) {
		c.roomIndex++
		logger.Infof("room %s complete, entering %s", room.ID, c.plan[c.roomIndex].ID)
		c.emitLocked(Event{Type: EventRoomEntered, RoomID: c.plan[c.roomIndex].ID, At: now})
		return
	}
	c.completeLocked(ReasonVictory, now)
}

// completeLocked is the single convergence point of the three terminal
// conditions. The phase check makes firing exactly-once structural: a
// stale tick or late solve cannot flip an already terminal session.
func (c *Controller) completeLocked(reason Reason, now time.Time) {
	if c.phase == PhaseCompleted {
		return
	}
	if c.phase == PhaseLobby && reason != ReasonAbandoned {
		return
	}
	c.phase = PhaseCompleted
	c.reason = reason
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
	cue := EventCueDefeat
	if reason == ReasonVictory {
		cue = EventCueVictory
	}
	logger.Infof("session completed: %s after %s", reason, c.timer.elapsed(now))
	c.emitLocked(Event{Type: EventGameCompleted, Reason: reason, At: now})
	c.emitLocked(Event{Type: cue, Reason: reason, At: now})
}

func (c *Controller) tickLoop(stop chan struct{}) {
	ticker := c.clock.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			c.Tick()
		case <-stop:
			return
		}
	}
}

// Tick compares playable time against the limit. Guarded on phase so a
// slow consumer or a stale loop cannot double-fire the timeout defeat.
func (c *Controller) Tick() {
	c.mu.Lock()
	if c.phase != PhasePlaying {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	if c.timer.expired(now) {
		c.completeLocked(ReasonTimeout, now)
	}
	c.mu.Unlock()
	c.flush()
}

func (c *Controller) emitLocked(e Event) {
	c.queue = append(c.queue, e)
}

// flush delivers queued events outside the state lock, in emission order.
// flushMu keeps concurrent flushers (a tick racing a solve) from
// interleaving their batches. A panicking subscriber is logged and
// skipped; it can never veto or stall a transition.
func (c *Controller) flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	subs := c.subscribers
	c.mu.Unlock()

	for _, e := range queue {
		for _, fn := range subs {
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Warningf("event subscriber panicked on %s: %v", e.Type, r)
					}
				}()
				fn(e)
			}()
		}
	}
}

// StateDelta is the relayed wire form of progress state. Pointer fields
// distinguish "absent" from zero values in partial updates.
type StateDelta struct {
	Room    string                 `json:"room,omitempty"`
	Puzzles map[string]PuzzleDelta `json:"puzzles,omitempty"`
}

type PuzzleDelta struct {
	Solved   *bool           `json:"solved,omitempty"`
	Attempts *int            `json:"attempts,omitempty"`
	HintTier *int            `json:"hintTier,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
