package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientEvent(t *testing.T) {
	t.Run("ping", func(t *testing.T) {
		ev, err := ParseClientEvent([]byte(`{"type":"ping"}`))
		require.NoError(t, err)
		require.IsType(t, &PingEvent{}, ev)
	})

	t.Run("join_lobby", func(t *testing.T) {
		ev, err := ParseClientEvent([]byte(`{"type":"join_lobby","payload":{"game_code":"ABC123","nickname":"zeynep"}}`))
		require.NoError(t, err)
		join, ok := ev.(*JoinLobbyEvent)
		require.True(t, ok)
		assert.Equal(t, "ABC123", join.GameCode)
		assert.Equal(t, "zeynep", join.Nickname)
	})

	t.Run("submit_answer", func(t *testing.T) {
		ev, err := ParseClientEvent([]byte(`{"type":"submit_answer","payload":{"question_id":42,"answer":"C"}}`))
		require.NoError(t, err)
		submit, ok := ev.(*SubmitAnswerEvent)
		require.True(t, ok)
		assert.Equal(t, uint(42), submit.QuestionID)
		assert.Equal(t, "C", submit.Answer)
	})

	t.Run("reconnect", func(t *testing.T) {
		ev, err := ParseClientEvent([]byte(`{"type":"reconnect","payload":{"old_session_id":"abc-def"}}`))
		require.NoError(t, err)
		rec, ok := ev.(*ReconnectEvent)
		require.True(t, ok)
		assert.Equal(t, "abc-def", rec.OldSessionID)
	})

	t.Run("end_game", func(t *testing.T) {
		ev, err := ParseClientEvent([]byte(`{"type":"end_game","payload":{"game_code":"ABC123"}}`))
		require.NoError(t, err)
		end, ok := ev.(*EndGameEvent)
		require.True(t, ok)
		assert.Equal(t, "ABC123", end.GameCode)
	})

	t.Run("leave", func(t *testing.T) {
		ev, err := ParseClientEvent([]byte(`{"type":"leave"}`))
		require.NoError(t, err)
		require.IsType(t, &LeaveEvent{}, ev)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := ParseClientEvent([]byte(`{"type":"teleport"}`))
		require.ErrorIs(t, err, ErrUnknownEvent)
	})

	t.Run("broken json", func(t *testing.T) {
		_, err := ParseClientEvent([]byte(`{"type":`))
		require.Error(t, err)
	})

	t.Run("broken payload", func(t *testing.T) {
		_, err := ParseClientEvent([]byte(`{"type":"join_lobby","payload":"nope"}`))
		require.Error(t, err)
	})
}
