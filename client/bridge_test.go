package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ViperBlackSkull/EscapeTwogether-sub001/progress"
	"github.com/ViperBlackSkull/EscapeTwogether-sub001/protocol"
)

// newBridgedClient wires a coordinator and a progression controller
// together through the bridge funcs, over a scripted connection.
func newBridgedClient(t *testing.T) (*Coordinator, *progress.Controller, *fakeConn) {
	t.Helper()
	conn := newServedConn()
	dialer := newFakeDialer(func() (Conn, error) { return conn, nil })
	ctrlClock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	ctrl := progress.NewController(ctrlClock, []progress.RoomPlan{
		{ID: "cellar", PuzzleIDs: []string{"fuse", "lever"}},
	}, 0)
	var coord *Coordinator
	coord = NewCoordinator(dialer, NewMemStore(), clockwork.NewRealClock(),
		WithGameStateFunc(GameStateFunc(ctrl)),
		WithMembershipFunc(func(msgType string, m Membership) {
			MembershipFunc(coord, ctrl)(msgType, m)
		}))
	require.NoError(t, coord.Connect(context.Background()))
	return coord, ctrl, conn
}

func TestBridge_HostSyncsStateOnPeerReconnect(t *testing.T) {
	t.Parallel()
	coord, _, conn := newBridgedClient(t)

	var mu sync.Mutex
	var sent []string
	orig := conn.onWrite
	conn.onWrite = func(env protocol.Envelope) {
		mu.Lock()
		sent = append(sent, env.Type)
		mu.Unlock()
		orig(env)
	}

	_, err := coord.CreateRoom(context.Background(), "ada")
	require.NoError(t, err)
	require.True(t, coord.Membership().IsHost)

	// the partner comes back; the host must answer with a full-state sync
	conn.push(protocol.TypePlayerReconnected, protocol.PlayerJoined{
		Player: protocol.Player{ID: "peer-2", Name: "partner", Connected: true},
	})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, msgType := range sent {
			if msgType == protocol.TypeSyncState {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)

	// the read loop must stay live while the sync is in flight: a push
	// arriving right behind the reconnect still has to be processed
	conn.push(protocol.TypePlayerDisconnected, protocol.PlayerConnectivity{PlayerID: "peer-2", PlayerName: "partner"})
	require.Eventually(t, func() bool {
		for _, p := range coord.Membership().Players {
			if p.Name == "partner" {
				return !p.Connected
			}
		}
		return false
	}, 2*time.Second, time.Millisecond, "push after reconnect was never processed")
}

func TestBridge_NonHostDoesNotSync(t *testing.T) {
	t.Parallel()
	coord, _, conn := newBridgedClient(t)

	_, err := coord.JoinRoom(context.Background(), "AB2C", "grace")
	require.NoError(t, err)
	require.False(t, coord.Membership().IsHost)

	writesBefore := conn.writeCount()
	conn.push(protocol.TypePlayerReconnected, protocol.PlayerJoined{
		Player: protocol.Player{ID: "peer-9b", Name: "partner", IsHost: true, Connected: true},
	})

	// processing the push must not produce any request from a guest
	require.Eventually(t, func() bool {
		for _, p := range coord.Membership().Players {
			if p.ID == "peer-9b" {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, writesBefore, conn.writeCount())
}

func TestBridge_GameStatePushesDriveController(t *testing.T) {
	t.Parallel()
	_, ctrl, conn := newBridgedClient(t)

	conn.push(protocol.TypeGameStart, protocol.GameState{})
	require.Eventually(t, func() bool { return ctrl.Phase() == progress.PhasePlaying },
		2*time.Second, time.Millisecond)

	conn.push(protocol.TypeGamePaused, protocol.GamePaused{PausedBy: "peer-9"})
	require.Eventually(t, func() bool { return ctrl.Phase() == progress.PhasePaused },
		2*time.Second, time.Millisecond)

	conn.push(protocol.TypeGameResumed, protocol.GameResumed{PausedDurationMS: 5000})
	require.Eventually(t, func() bool { return ctrl.Phase() == progress.PhasePlaying },
		2*time.Second, time.Millisecond)

	// a relayed delta solving every puzzle carries the session to victory
	solved := true
	delta, err := json.Marshal(progress.StateDelta{Puzzles: map[string]progress.PuzzleDelta{
		"fuse":  {Solved: &solved},
		"lever": {Solved: &solved},
	}})
	require.NoError(t, err)
	conn.push(protocol.TypeStatePush, protocol.GameState{State: delta})

	require.Eventually(t, func() bool { return ctrl.Phase() == progress.PhaseCompleted },
		2*time.Second, time.Millisecond)
	assert.Equal(t, progress.ReasonVictory, ctrl.TerminalReason())
}

func TestBridge_PeerLeavingAbandonsSession(t *testing.T) {
	t.Parallel()
	_, ctrl, conn := newBridgedClient(t)

	// a leave before the game starts is a lobby change, not an abandon
	conn.push(protocol.TypePlayerLeft, protocol.PlayerLeft{PlayerID: "peer-9"})
	conn.push(protocol.TypeGameStart, protocol.GameState{})
	require.Eventually(t, func() bool { return ctrl.Phase() == progress.PhasePlaying },
		2*time.Second, time.Millisecond)

	conn.push(protocol.TypePlayerLeft, protocol.PlayerLeft{PlayerID: "peer-9"})
	require.Eventually(t, func() bool { return ctrl.Phase() == progress.PhaseCompleted },
		2*time.Second, time.Millisecond)
	assert.Equal(t, progress.ReasonAbandoned, ctrl.TerminalReason())
}
