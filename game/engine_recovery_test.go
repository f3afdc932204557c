package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostDisconnectEndsGame(t *testing.T) {
	h := newEngineHarness(t, twoQuestions())
	h.join(t, "s1", "zeynep")
	h.start(t)

	h.eng.HandleDisconnect(hostSess)
	require.Equal(t, PhaseCompleted, h.eng.Phase())

	ends := h.registry.broadcasts(MsgGameEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, "host_left", ends[0].msg.Payload.(GameEndPayload).Reason)
}

func TestPlayerDisconnectInLobby(t *testing.T) {
	h := newEngineHarness(t, twoQuestions())
	h.join(t, "s1", "zeynep")
	h.join(t, "s2", "mert")

	h.eng.HandleDisconnect("s1")

	// the player stays on the roster, only marked unreachable
	assert.Equal(t, 2, h.eng.PlayerCount())

	updates := h.registry.broadcasts(MsgLobbyUpdate)
	require.Len(t, updates, 3)
	lobby := updates[2].msg.Payload.(LobbyUpdatePayload)
	require.Len(t, lobby.Players, 2)
	assert.False(t, lobby.Players[0].Connected)
	assert.True(t, lobby.Players[1].Connected)
}

func TestDisconnectClosesQuestionWhenRestAnswered(t *testing.T) {
	h := newEngineHarness(t, twoQuestions())
	h.join(t, "s1", "zeynep")
	h.join(t, "s2", "mert")
	h.start(t)

	h.submit(t, "s1", 11, "B")
	require.Equal(t, PhaseQuestionActive, h.eng.Phase())

	h.eng.HandleDisconnect("s2")
	require.Equal(t, PhaseQuestionResults, h.eng.Phase())
}

func TestRecoverAfterDisconnect(t *testing.T) {
	h := newEngineHarness(t, twoQuestions())
	p1 := h.join(t, "s1", "zeynep")
	h.eng.HandleDisconnect("s1")

	payload, err := h.eng.Recover(context.Background(), "s1", "s2", nil)
	require.NoError(t, err)
	assert.Equal(t, p1.PlayerID, payload.PlayerID)
	assert.Equal(t, "**zeynep", payload.Nickname)
	assert.Equal(t, string(PhaseLobby), payload.Phase)
	assert.Equal(t, 0, payload.QuestionNumber)

	require.Len(t, h.registry.sentTo("s2", MsgReconnectSuccess), 1)
	assert.Empty(t, h.registry.closedSessions())

	// the new session now owns the player
	h.start(t)
	h.submit(t, "s2", 11, "B")

	require.Eventually(t, func() bool {
		entry, _ := h.recovery.GetEntry(context.Background(), "s1")
		return entry != nil && entry.NewSessionID == "s2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecoverMidQuestionReplaysState(t *testing.T) {
	h := newEngineHarness(t, twoQuestions())
	h.join(t, "s1", "zeynep")
	h.join(t, "s2", "mert")
	h.start(t)

	h.clock.Advance(5 * time.Second)
	h.eng.HandleDisconnect("s2")

	payload, err := h.eng.Recover(context.Background(), "s2", "n2", nil)
	require.NoError(t, err)
	assert.Equal(t, string(PhaseQuestionActive), payload.Phase)
	assert.Equal(t, 1, payload.QuestionNumber)

	current := h.registry.sentTo("n2", MsgCurrentQuestion)
	require.Len(t, current, 1)
	q := current[0].Payload.(QuestionStartPayload)
	assert.Equal(t, uint(11), q.QuestionID)
	assert.Empty(t, q.CorrectOption)

	h.submit(t, "n2", 11, "B")
}

func TestRecoverReplacesZombieSession(t *testing.T) {
	h := newEngineHarness(t, twoQuestions())
	p1 := h.join(t, "s1", "zeynep")

	// no disconnect was ever seen; the old socket is a zombie
	payload, err := h.eng.Recover(context.Background(), "s1", "s2", nil)
	require.NoError(t, err)
	assert.Equal(t, p1.PlayerID, payload.PlayerID)
	assert.Equal(t, []string{"s1"}, h.registry.closedSessions())
	require.Len(t, h.registry.sentTo("s2", MsgReconnectSuccess), 1)
}

func TestRecoverConflict(t *testing.T) {
	h := newEngineHarness(t, twoQuestions())
	p1 := h.join(t, "s1", "zeynep")
	h.eng.HandleDisconnect("s1")
	ctx := context.Background()

	_, err := h.eng.Recover(ctx, "s1", "s2", nil)
	require.NoError(t, err)

	hint := &RecoveryEntry{
		OldSessionID: "s1",
		NewSessionID: "s2",
		PlayerID:     p1.PlayerID,
		GameCode:     testGameCode,
		CreatedAt:    h.clock.Now(),
	}

	// a rival tab replaying the same old session loses
	_, err = h.eng.Recover(ctx, "s1", "s3", hint)
	require.ErrorIs(t, err, ErrAlreadyRecovered)

	// the winner replaying its own request still succeeds
	payload, err := h.eng.Recover(ctx, "s1", "s2", hint)
	require.NoError(t, err)
	assert.Equal(t, p1.PlayerID, payload.PlayerID)
	assert.Len(t, h.registry.sentTo("s2", MsgReconnectSuccess), 2)
}

func TestRecoverExpired(t *testing.T) {
	h := newEngineHarness(t, twoQuestions())
	p1 := h.join(t, "s1", "zeynep")
	ctx := context.Background()

	t.Run("unknown session without hint", func(t *testing.T) {
		_, err := h.eng.Recover(ctx, "nobody", "n1", nil)
		require.ErrorIs(t, err, ErrRecoveryExpired)
	})

	t.Run("hint for another game", func(t *testing.T) {
		hint := &RecoveryEntry{OldSessionID: "x", PlayerID: p1.PlayerID, GameCode: "OTHER1", CreatedAt: h.clock.Now()}
		_, err := h.eng.Recover(ctx, "x", "n1", hint)
		require.ErrorIs(t, err, ErrRecoveryExpired)
	})

	t.Run("hint older than the recovery window", func(t *testing.T) {
		hint := &RecoveryEntry{OldSessionID: "x", PlayerID: p1.PlayerID, GameCode: testGameCode, CreatedAt: h.clock.Now().Add(-25 * time.Hour)}
		_, err := h.eng.Recover(ctx, "x", "n1", hint)
		require.ErrorIs(t, err, ErrRecoveryExpired)
	})

	t.Run("player already gone", func(t *testing.T) {
		require.NoError(t, h.eng.Leave(ctx, "s1"))
		hint := &RecoveryEntry{OldSessionID: "s1", PlayerID: p1.PlayerID, GameCode: testGameCode, CreatedAt: h.clock.Now()}
		_, err := h.eng.Recover(ctx, "s1", "n1", hint)
		require.ErrorIs(t, err, ErrRecoveryExpired)
	})
}

func TestLeave(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		h := newEngineHarness(t, twoQuestions())
		require.ErrorIs(t, h.eng.Leave(context.Background(), "ghost"), ErrPlayerNotFound)
	})

	t.Run("lobby leave updates the roster", func(t *testing.T) {
		h := newEngineHarness(t, twoQuestions())
		p1 := h.join(t, "s1", "zeynep")
		require.NoError(t, h.eng.Leave(context.Background(), "s1"))

		assert.Equal(t, 0, h.eng.PlayerCount())

		left := h.registry.broadcasts(MsgPlayerLeft)
		require.Len(t, left, 1)
		assert.Equal(t, p1.PlayerID, left[0].msg.Payload.(PlayerLeftPayload).PlayerID)

		updates := h.registry.broadcasts(MsgLobbyUpdate)
		lobby := updates[len(updates)-1].msg.Payload.(LobbyUpdatePayload)
		assert.Empty(t, lobby.Players)

		require.ErrorIs(t, h.eng.Start(context.Background(), hostSess, uintPtr(testHostID)), ErrNoPlayers)
	})

	t.Run("leaving mid-question can close it", func(t *testing.T) {
		h := newEngineHarness(t, twoQuestions())
		h.join(t, "s1", "zeynep")
		h.join(t, "s2", "mert")
		h.start(t)

		h.submit(t, "s1", 11, "B")
		require.NoError(t, h.eng.Leave(context.Background(), "s2"))
		require.Equal(t, PhaseQuestionResults, h.eng.Phase())
	})
}

func TestDeactivationAfterRecoveryWindow(t *testing.T) {
	h := newEngineHarness(t, twoQuestions())
	p1 := h.join(t, "s1", "zeynep")
	h.eng.HandleDisconnect("s1")

	h.clock.Advance(24 * time.Hour)

	require.Eventually(t, func() bool { return h.eng.PlayerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		st, ok := h.store.playerState(p1.PlayerID)
		return ok && !st.isActive
	}, 2*time.Second, 10*time.Millisecond)

	// even a fresh hint cannot resurrect a deactivated player
	hint := &RecoveryEntry{OldSessionID: "s1", PlayerID: p1.PlayerID, GameCode: testGameCode, CreatedAt: h.clock.Now()}
	_, err := h.eng.Recover(context.Background(), "s1", "s2", hint)
	require.ErrorIs(t, err, ErrRecoveryExpired)
}
