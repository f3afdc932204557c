package game

import "errors"

var (
	ErrGameNotFound     = errors.New("game not found")
	ErrGameNotJoinable  = errors.New("game is no longer accepting players")
	ErrGameClosed       = errors.New("game session is closed")
	ErrDuplicateCode    = errors.New("game code already in use")
	ErrDuplicateName    = errors.New("nickname already taken")
	ErrAlreadyJoined    = errors.New("session already joined this game")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrNotHost          = errors.New("only the host may perform this action")
	ErrNoPlayers        = errors.New("cannot start a game with no players")
	ErrWrongPhase       = errors.New("action not valid in the current phase")
	ErrNotAnswerPhase   = errors.New("question is not open for answers")
	ErrDuplicateAnswer  = errors.New("answer already submitted for this question")
	ErrInvalidOption    = errors.New("answer must be one of A, B, C or D")
	ErrInvalidNickname  = errors.New("nickname is empty or too long")
	ErrRecoveryExpired  = errors.New("session recovery expired or unknown")
	ErrAlreadyRecovered = errors.New("session was already recovered elsewhere")
	ErrUnknownEvent     = errors.New("unknown event type")
	ErrInconsistency    = errors.New("internal game state inconsistency")
)

// Kind buckets engine errors for transport mapping. Handlers translate kinds
// to HTTP statuses, the websocket gateway puts them on the error payload.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindPhaseConflict Kind = "phase_conflict"
	KindDuplicate     Kind = "duplicate"
	KindNotFound      Kind = "not_found"
	KindForbidden     Kind = "forbidden"
	KindRecovery      Kind = "recovery_failed"
	KindInternal      Kind = "internal_error"
)

func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidOption),
		errors.Is(err, ErrInvalidNickname),
		errors.Is(err, ErrNoPlayers),
		errors.Is(err, ErrAlreadyJoined),
		errors.Is(err, ErrUnknownEvent):
		return KindValidation
	case errors.Is(err, ErrWrongPhase),
		errors.Is(err, ErrNotAnswerPhase),
		errors.Is(err, ErrGameNotJoinable):
		return KindPhaseConflict
	case errors.Is(err, ErrDuplicateName),
		errors.Is(err, ErrDuplicateAnswer),
		errors.Is(err, ErrDuplicateCode):
		return KindDuplicate
	case errors.Is(err, ErrGameNotFound),
		errors.Is(err, ErrPlayerNotFound),
		errors.Is(err, ErrGameClosed):
		return KindNotFound
	case errors.Is(err, ErrNotHost):
		return KindForbidden
	case errors.Is(err, ErrRecoveryExpired),
		errors.Is(err, ErrAlreadyRecovered):
		return KindRecovery
	default:
		return KindInternal
	}
}

// ErrorCode is the wire identifier sent to clients on the error payload.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyRecovered):
		return "already_recovered"
	case errors.Is(err, ErrRecoveryExpired):
		return "recovery_expired"
	default:
		return string(KindOf(err))
	}
}
