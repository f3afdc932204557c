package game

import (
	"encoding/json"
	"fmt"
)

// Message is the outbound wire envelope.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

const (
	MsgWelcome          = "welcome"
	MsgPong             = "pong"
	MsgCounter          = "counter"
	MsgError            = "error"
	MsgJoinSuccess      = "join_success"
	MsgLobbyUpdate      = "lobby_update"
	MsgGameStarted      = "game_started"
	MsgQuestionStart    = "question_start"
	MsgAnswerReceived   = "answer_received"
	MsgAnswerProgress   = "answer_progress"
	MsgQuestionEnd      = "question_end"
	MsgGameEnd          = "game_end"
	MsgReconnectSuccess = "reconnect_success"
	MsgCurrentQuestion  = "current_question"
	MsgPlayerLeft       = "player_left"
)

type WelcomePayload struct {
	SessionID string `json:"session_id"`
}

type CounterPayload struct {
	ActiveConnections int `json:"active_connections"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type JoinSuccessPayload struct {
	PlayerID string `json:"player_id"`
	GameCode string `json:"game_code"`
	Nickname string `json:"nickname"`
	IsGuest  bool   `json:"is_guest"`
}

type LobbyPlayer struct {
	PlayerID  string `json:"player_id"`
	Nickname  string `json:"nickname"`
	IsGuest   bool   `json:"is_guest"`
	Connected bool   `json:"connected"`
}

type LobbyUpdatePayload struct {
	GameCode    string        `json:"game_code"`
	Players     []LobbyPlayer `json:"players"`
	PlayerCount int           `json:"player_count"`
}

type GameStartedPayload struct {
	GameCode       string `json:"game_code"`
	TotalQuestions int    `json:"total_questions"`
}

type QuestionStartPayload struct {
	QuestionID     uint   `json:"question_id"`
	QuestionNumber int    `json:"question_number"`
	TotalQuestions int    `json:"total_questions"`
	Text           string `json:"text"`
	OptionA        string `json:"option_a"`
	OptionB        string `json:"option_b"`
	OptionC        string `json:"option_c"`
	OptionD        string `json:"option_d"`
	Points         int    `json:"points"`
	TimeLimit      int    `json:"time_limit"`
	EndsAt         int64  `json:"ends_at"` // unix millis
	CorrectOption  string `json:"correct_option,omitempty"`
}

type AnswerReceivedPayload struct {
	QuestionID   uint   `json:"question_id"`
	Answer       string `json:"answer"`
	IsCorrect    bool   `json:"is_correct"`
	PointsEarned int    `json:"points_earned"`
	TotalScore   int    `json:"total_score"`
}

type AnswerProgressPayload struct {
	QuestionID uint `json:"question_id"`
	Answered   int  `json:"answered"`
	Total      int  `json:"total"`
}

type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	PlayerID     string `json:"player_id"`
	Nickname     string `json:"nickname"`
	Score        int    `json:"score"`
	CorrectCount int    `json:"correct_count"`
	IsGuest      bool   `json:"is_guest"`
}

type QuestionEndPayload struct {
	QuestionID    uint               `json:"question_id"`
	CorrectOption string             `json:"correct_option"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
	ResultsUntil  int64              `json:"results_until"` // unix millis
}

type PlayerStats struct {
	PlayerID          string  `json:"player_id"`
	Nickname          string  `json:"nickname"`
	Score             int     `json:"score"`
	Answers           int     `json:"answers"`
	CorrectAnswers    int     `json:"correct_answers"`
	Accuracy          float64 `json:"accuracy"`
	AvgResponseTimeMs int     `json:"avg_response_time_ms"`
}

type GameEndPayload struct {
	GameCode    string             `json:"game_code"`
	Reason      string             `json:"reason,omitempty"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	PlayerStats []PlayerStats      `json:"player_stats"`
}

type ReconnectSuccessPayload struct {
	PlayerID       string             `json:"player_id"`
	GameCode       string             `json:"game_code"`
	Nickname       string             `json:"nickname"`
	Score          int                `json:"score"`
	Phase          string             `json:"phase"`
	QuestionNumber int                `json:"question_number"`
	Leaderboard    []LeaderboardEntry `json:"leaderboard"`
}

type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
	Nickname string `json:"nickname"`
}

// ClientEvent is the closed set of inbound websocket events. The gateway
// switches over every variant; anything else is rejected at parse time.
type ClientEvent interface {
	isClientEvent()
}

type PingEvent struct{}

type JoinLobbyEvent struct {
	GameCode string `json:"game_code"`
	Nickname string `json:"nickname"`
}

type StartGameEvent struct {
	GameCode string `json:"game_code"`
}

type SubmitAnswerEvent struct {
	QuestionID uint   `json:"question_id"`
	Answer     string `json:"answer"`
}

type NextQuestionEvent struct {
	GameCode string `json:"game_code"`
}

type EndGameEvent struct {
	GameCode string `json:"game_code"`
}

type ReconnectEvent struct {
	OldSessionID string `json:"old_session_id"`
}

type LeaveEvent struct{}

func (PingEvent) isClientEvent()         {}
func (JoinLobbyEvent) isClientEvent()    {}
func (StartGameEvent) isClientEvent()    {}
func (SubmitAnswerEvent) isClientEvent() {}
func (NextQuestionEvent) isClientEvent() {}
func (EndGameEvent) isClientEvent()      {}
func (ReconnectEvent) isClientEvent()    {}
func (LeaveEvent) isClientEvent()        {}

type eventEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseClientEvent decodes a raw websocket frame into one of the inbound
// event variants.
func ParseClientEvent(data []byte) (ClientEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}

	decode := func(v ClientEvent) (ClientEvent, error) {
		if len(env.Payload) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		return v, nil
	}

	switch env.Type {
	case "ping":
		return &PingEvent{}, nil
	case "join_lobby":
		return decode(&JoinLobbyEvent{})
	case "start_game":
		return decode(&StartGameEvent{})
	case "submit_answer":
		return decode(&SubmitAnswerEvent{})
	case "next_question":
		return decode(&NextQuestionEvent{})
	case "end_game":
		return decode(&EndGameEvent{})
	case "reconnect":
		return decode(&ReconnectEvent{})
	case "leave":
		return &LeaveEvent{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// Effect is the closed set of registry side effects an engine transition
// produces. Effects are applied in commit order by the engine's run loop.
type Effect interface {
	isEffect()
}

// BindSession attaches a session to a game partition with a role, replacing
// any previous binding for that session.
type BindSession struct {
	SessionID string
	GameCode  string
	Role      string
	PlayerID  string
	UserID    *uint
}

// UnbindSession detaches a session from its game partition but keeps the
// socket open.
type UnbindSession struct {
	SessionID string
}

// CloseSession drops the session's socket entirely, used when an old zombie
// connection is replaced during recovery.
type CloseSession struct {
	SessionID string
}

// SendTo delivers a message to a single session.
type SendTo struct {
	SessionID string
	Msg       Message
}

// BroadcastTo delivers a message to every session of a game, optionally
// restricted to the given roles.
type BroadcastTo struct {
	GameCode string
	Roles    []string
	Msg      Message
}

func (BindSession) isEffect()   {}
func (UnbindSession) isEffect() {}
func (CloseSession) isEffect()  {}
func (SendTo) isEffect()        {}
func (BroadcastTo) isEffect()   {}

// Registry is the connection-facing surface the engine drives. The hub
// implements it; engines never hold sockets themselves.
type Registry interface {
	Bind(sessionID, gameCode, role, playerID string, userID *uint)
	Unbind(sessionID string)
	CloseSession(sessionID string)
	Send(sessionID string, msg Message)
	Broadcast(gameCode string, roles []string, msg Message)
}
