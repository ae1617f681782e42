package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ViperBlackSkull/EscapeTwogether-sub001/progress"
	"github.com/ViperBlackSkull/EscapeTwogether-sub001/protocol"
	"github.com/ViperBlackSkull/EscapeTwogether-sub001/shared/logger"
)

const syncTimeout = 10 * time.Second

// GameStateFunc routes relayed game messages into the progression
// controller. Pass it to the coordinator via WithGameStateFunc.
func GameStateFunc(ctrl *progress.Controller) func(msgType string, payload json.RawMessage) {
	return func(msgType string, payload json.RawMessage) {
		switch msgType {
		case protocol.TypeGameStart:
			ctrl.StartGame()
			if payload != nil {
				var gs protocol.GameState
				if json.Unmarshal(payload, &gs) == nil && gs.State != nil {
					ctrl.ApplyDelta(gs.State)
				}
			}
		case protocol.TypeGamePaused:
			ctrl.Pause()
		case protocol.TypeGameResumed:
			var push protocol.GameResumed
			if json.Unmarshal(payload, &push) != nil {
				ctrl.Resume(0)
				return
			}
			ctrl.Resume(time.Duration(push.PausedDurationMS) * time.Millisecond)
		case protocol.TypeStatePush, protocol.TypeGameState:
			var gs protocol.GameState
			if json.Unmarshal(payload, &gs) == nil && gs.State != nil {
				ctrl.ApplyDelta(gs.State)
			}
		}
	}
}

// MembershipFunc turns membership facts into progression consequences: a
// partner removed for good abandons the session, and the host answers a
// peer's reconnect with a full-state sync.
func MembershipFunc(coord *Coordinator, ctrl *progress.Controller) func(msgType string, m Membership) {
	return func(msgType string, m Membership) {
		switch msgType {
		case protocol.TypePlayerLeft:
			if ctrl.Phase() == progress.PhasePlaying || ctrl.Phase() == progress.PhasePaused {
				ctrl.Abandon()
			}
		case protocol.TypePlayerReconnected:
			if !m.IsHost {
				return
			}
			// This callback runs on the read loop, and that loop is the
			// only thing that can deliver the sync request's ack. The
			// request must go out on its own goroutine or the loop would
			// wait on itself forever.
			state := ctrl.SnapshotState()
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
				defer cancel()
				if err := coord.SyncState(ctx, state); err != nil {
					logger.Warningf("full-state sync after peer reconnect failed: %v", err)
				}
			}()
		}
	}
}
