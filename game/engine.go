package game

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/can61cebi/sorukayisi-backend/models"
)

// Phase is the lifecycle position of a single game.
type Phase string

const (
	PhaseLobby           Phase = "lobby"
	PhaseQuestionActive  Phase = "question_active"
	PhaseQuestionResults Phase = "question_results"
	PhaseCompleted       Phase = "completed"
)

// Config tunes engine behavior. Zero values fall back to defaults.
type Config struct {
	ScorePolicy    ScorePolicy
	ResultDisplay  time.Duration
	MaxNicknameLen int
	RecoveryWindow time.Duration
	CompletedTTL   time.Duration
	LobbyTTL       time.Duration
	SweepInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ScorePolicy:    ScorePolicy{MinFraction: 0.5},
		ResultDisplay:  10 * time.Second,
		MaxNicknameLen: 20,
		RecoveryWindow: 24 * time.Hour,
		CompletedTTL:   10 * time.Minute,
		LobbyTTL:       time.Hour,
		SweepInterval:  time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ScorePolicy.MinFraction <= 0 {
		c.ScorePolicy = def.ScorePolicy
	}
	if c.ResultDisplay <= 0 {
		c.ResultDisplay = def.ResultDisplay
	}
	if c.MaxNicknameLen <= 0 {
		c.MaxNicknameLen = def.MaxNicknameLen
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = def.RecoveryWindow
	}
	if c.CompletedTTL <= 0 {
		c.CompletedTTL = def.CompletedTTL
	}
	if c.LobbyTTL <= 0 {
		c.LobbyTTL = def.LobbyTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}

// UserRef identifies an authenticated account joining or driving a game.
type UserRef struct {
	ID       uint
	Username string
}

type playerState struct {
	id        string
	userID    *uint
	nickname  string
	score     int
	correct   int
	sessionID string
	connected bool
	active    bool
	joinOrder int
	joinedAt  time.Time
}

type answerRecord struct {
	answer     string
	correct    bool
	latencyMs  int
	points     int
	answeredAt time.Time
}

type timerKind int

const (
	timerQuestionDeadline timerKind = iota
	timerResultsOver
)

type command interface{ isCommand() }

type joinCmd struct {
	sessionID string
	nickname  string
	user      *UserRef
	reply     chan joinReply
}

type joinReply struct {
	payload JoinSuccessPayload
	err     error
}

type startCmd struct {
	sessionID string
	userID    *uint
	reply     chan error
}

type submitCmd struct {
	sessionID  string
	questionID uint
	answer     string
	receivedAt time.Time
	reply      chan error
}

type advanceCmd struct {
	sessionID string
	userID    *uint
	reply     chan error
}

type forceEndCmd struct {
	sessionID string
	userID    *uint
	reply     chan error
}

type leaveCmd struct {
	sessionID string
	reply     chan error
}

type disconnectCmd struct {
	sessionID string
	reply     chan struct{}
}

type recoverCmd struct {
	oldSessionID string
	newSessionID string
	hint         *RecoveryEntry
	reply        chan recoverReply
}

type recoverReply struct {
	payload ReconnectSuccessPayload
	err     error
}

type timerCmd struct {
	kind    timerKind
	version uint64
}

type deactivateCmd struct {
	playerID  string
	sessionID string
}

type checkCmd struct {
	now   time.Time
	reply chan struct{}
}

type expireCmd struct {
	reply chan struct{}
}

func (joinCmd) isCommand()       {}
func (startCmd) isCommand()      {}
func (submitCmd) isCommand()     {}
func (advanceCmd) isCommand()    {}
func (forceEndCmd) isCommand()   {}
func (leaveCmd) isCommand()      {}
func (disconnectCmd) isCommand() {}
func (recoverCmd) isCommand()    {}
func (timerCmd) isCommand()      {}
func (deactivateCmd) isCommand() {}
func (checkCmd) isCommand()      {}
func (expireCmd) isCommand()     {}

// Deps are the collaborators an engine needs. The engine never touches
// sockets or the database directly.
type Deps struct {
	Log      zerolog.Logger
	Clock    clockwork.Clock
	Registry Registry
	Store    Store
	Recovery RecoveryStore
	Cfg      Config
}

// Engine is the authoritative state machine for one game. All operations and
// timer firings are funneled through a single command channel and applied one
// at a time by the run loop, so state is never touched concurrently and every
// broadcast goes out in the order its transition committed.
type Engine struct {
	log      zerolog.Logger
	cfg      Config
	clock    clockwork.Clock
	registry Registry
	store    Store
	recovery RecoveryStore
	persist  *persister

	gameID    uint
	code      string
	hostID    uint
	questions []models.Question

	commands chan command
	done     chan struct{}
	closer   sync.Once

	// owned by the run loop
	phase             Phase
	version           uint64
	current           int
	players           map[string]*playerState
	bySession         map[string]string
	nextJoinOrder     int
	answers           map[int]map[string]*answerRecord
	hostSession       string
	questionStartedAt time.Time
	questionEndsAt    time.Time
	showResultsUntil  time.Time
	startedAt         time.Time
	endedAt           time.Time

	// read-side mirror for the coordinator sweep and HTTP surface
	mu          sync.RWMutex
	mPhase      Phase
	mCurrent    int
	mCompleted  time.Time
	mCreatedAt  time.Time
	mPlayerCnt  int
}

// NewEngine builds and starts the machine for a freshly created game. The
// question snapshot is immutable for the life of the game.
func NewEngine(deps Deps, g *models.Game, questions []models.Question) *Engine {
	cfg := deps.Cfg.withDefaults()
	e := &Engine{
		log:       deps.Log.With().Str("game_code", g.Code).Logger(),
		cfg:       cfg,
		clock:     deps.Clock,
		registry:  deps.Registry,
		store:     deps.Store,
		recovery:  deps.Recovery,
		persist:   newPersister(deps.Log.With().Str("game_code", g.Code).Logger()),
		gameID:    g.ID,
		code:      g.Code,
		hostID:    g.HostID,
		questions: questions,
		commands:  make(chan command, 64),
		done:      make(chan struct{}),
		phase:     PhaseLobby,
		current:   -1,
		players:   make(map[string]*playerState),
		bySession: make(map[string]string),
		answers:   make(map[int]map[string]*answerRecord),
	}
	e.mPhase = PhaseLobby
	e.mCurrent = -1
	e.mCreatedAt = deps.Clock.Now()
	go e.run()
	return e
}

func (e *Engine) Code() string { return e.code }

func (e *Engine) GameID() uint { return e.gameID }

func (e *Engine) HostID() uint { return e.hostID }

// Phase reports the lifecycle position without entering the command stream.
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mPhase
}

// CurrentIndex is the 0-based current question, -1 while in the lobby.
func (e *Engine) CurrentIndex() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mCurrent
}

// CompletedAt is zero while the game is still live.
func (e *Engine) CompletedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mCompleted
}

func (e *Engine) CreatedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mCreatedAt
}

func (e *Engine) PlayerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mPlayerCnt
}

// Close stops the run loop and the persister. Pending commands fail with
// ErrGameClosed.
func (e *Engine) Close() {
	e.closer.Do(func() {
		close(e.done)
		e.persist.close()
	})
}

// Join adds a player in the lobby phase. Registered users play under their
// account username; guests get a marked nickname.
func (e *Engine) Join(ctx context.Context, sessionID, nickname string, user *UserRef) (JoinSuccessPayload, error) {
	reply := make(chan joinReply, 1)
	if err := e.enqueue(ctx, joinCmd{sessionID: sessionID, nickname: nickname, user: user, reply: reply}); err != nil {
		return JoinSuccessPayload{}, err
	}
	select {
	case r := <-reply:
		return r.payload, r.err
	case <-ctx.Done():
		return JoinSuccessPayload{}, ctx.Err()
	case <-e.done:
		select {
		case r := <-reply:
			return r.payload, r.err
		default:
			return JoinSuccessPayload{}, ErrGameClosed
		}
	}
}

// Start moves a lobby game onto its first question. Host only.
func (e *Engine) Start(ctx context.Context, sessionID string, userID *uint) error {
	reply := make(chan error, 1)
	if err := e.enqueue(ctx, startCmd{sessionID: sessionID, userID: userID, reply: reply}); err != nil {
		return err
	}
	return e.awaitErr(ctx, reply)
}

// Submit records an answer for the current question. The receive time is
// captured here, at transport admission, so queueing never penalizes anyone.
func (e *Engine) Submit(ctx context.Context, sessionID string, questionID uint, answer string) error {
	reply := make(chan error, 1)
	cmd := submitCmd{
		sessionID:  sessionID,
		questionID: questionID,
		answer:     answer,
		receivedAt: e.clock.Now(),
		reply:      reply,
	}
	if err := e.enqueue(ctx, cmd); err != nil {
		return err
	}
	return e.awaitErr(ctx, reply)
}

// Advance moves question_results to the next question or completes the game.
// Host only.
func (e *Engine) Advance(ctx context.Context, sessionID string, userID *uint) error {
	reply := make(chan error, 1)
	if err := e.enqueue(ctx, advanceCmd{sessionID: sessionID, userID: userID, reply: reply}); err != nil {
		return err
	}
	return e.awaitErr(ctx, reply)
}

// ForceEnd completes the game from any live phase. Host only.
func (e *Engine) ForceEnd(ctx context.Context, sessionID string, userID *uint) error {
	reply := make(chan error, 1)
	if err := e.enqueue(ctx, forceEndCmd{sessionID: sessionID, userID: userID, reply: reply}); err != nil {
		return err
	}
	return e.awaitErr(ctx, reply)
}

// Leave deactivates a player immediately on their own request.
func (e *Engine) Leave(ctx context.Context, sessionID string) error {
	reply := make(chan error, 1)
	if err := e.enqueue(ctx, leaveCmd{sessionID: sessionID, reply: reply}); err != nil {
		return err
	}
	return e.awaitErr(ctx, reply)
}

// HandleDisconnect marks the session's connection gone. The player stays
// active and scored until the recovery window lapses.
func (e *Engine) HandleDisconnect(sessionID string) {
	reply := make(chan struct{}, 1)
	if err := e.enqueue(context.Background(), disconnectCmd{sessionID: sessionID, reply: reply}); err != nil {
		return
	}
	select {
	case <-reply:
	case <-e.done:
	}
}

// Recover rebinds a dropped player's identity onto a new session. The hint is
// a stored recovery entry resolved outside the run loop; the roster inside the
// loop is the final authority.
func (e *Engine) Recover(ctx context.Context, oldSessionID, newSessionID string, hint *RecoveryEntry) (ReconnectSuccessPayload, error) {
	reply := make(chan recoverReply, 1)
	cmd := recoverCmd{oldSessionID: oldSessionID, newSessionID: newSessionID, hint: hint, reply: reply}
	if err := e.enqueue(ctx, cmd); err != nil {
		return ReconnectSuccessPayload{}, err
	}
	select {
	case r := <-reply:
		return r.payload, r.err
	case <-ctx.Done():
		return ReconnectSuccessPayload{}, ctx.Err()
	case <-e.done:
		select {
		case r := <-reply:
			return r.payload, r.err
		default:
			return ReconnectSuccessPayload{}, ErrGameClosed
		}
	}
}

// DeadlineCheck runs one idempotent pass over the phase deadlines. Timers
// normally drive this; the explicit form exists for callers that observe time
// on their own.
func (e *Engine) DeadlineCheck(ctx context.Context, now time.Time) error {
	reply := make(chan struct{}, 1)
	if err := e.enqueue(ctx, checkCmd{now: now, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return nil
	}
}

// Expire force-completes a game abandoned in the lobby. Used by the
// coordinator sweep.
func (e *Engine) Expire() {
	reply := make(chan struct{}, 1)
	if err := e.enqueue(context.Background(), expireCmd{reply: reply}); err != nil {
		return
	}
	select {
	case <-reply:
	case <-e.done:
	}
}

func (e *Engine) enqueue(ctx context.Context, cmd command) error {
	select {
	case e.commands <- cmd:
		return nil
	case <-e.done:
		return ErrGameClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) awaitErr(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrGameClosed
		}
	}
}

func (e *Engine) run() {
	for {
		select {
		case cmd := <-e.commands:
			e.handle(cmd)
		case <-e.done:
			return
		}
	}
}

// handle applies one command and flushes its effects before replying, so a
// caller that gets an answer knows every broadcast it caused is already out.
func (e *Engine) handle(cmd command) {
	switch c := cmd.(type) {
	case joinCmd:
		payload, fx, err := e.applyJoin(c)
		e.flush(fx)
		c.reply <- joinReply{payload: payload, err: err}
	case startCmd:
		fx, err := e.applyStart(c)
		e.flush(fx)
		c.reply <- err
	case submitCmd:
		fx, err := e.applySubmit(c)
		e.flush(fx)
		c.reply <- err
	case advanceCmd:
		fx, err := e.applyHostAdvance(c)
		e.flush(fx)
		c.reply <- err
	case forceEndCmd:
		fx, err := e.applyForceEnd(c)
		e.flush(fx)
		c.reply <- err
	case leaveCmd:
		fx, err := e.applyLeave(c)
		e.flush(fx)
		c.reply <- err
	case disconnectCmd:
		e.flush(e.applyDisconnect(c))
		c.reply <- struct{}{}
	case recoverCmd:
		payload, fx, err := e.applyRecover(c)
		e.flush(fx)
		c.reply <- recoverReply{payload: payload, err: err}
	case timerCmd:
		e.flush(e.applyTimer(c))
	case deactivateCmd:
		e.flush(e.applyDeactivate(c))
	case checkCmd:
		e.flush(e.applyDeadlinePass(c.now))
		c.reply <- struct{}{}
	case expireCmd:
		if e.phase != PhaseCompleted {
			e.flush(e.complete(e.clock.Now(), "expired"))
		}
		c.reply <- struct{}{}
	default:
		e.flush(e.failGame("unhandled command type"))
	}
}

// flush applies registry effects in commit order. The registry never blocks,
// so a slow client cannot stall the game.
func (e *Engine) flush(effects []Effect) {
	for _, fx := range effects {
		switch f := fx.(type) {
		case BindSession:
			e.registry.Bind(f.SessionID, f.GameCode, f.Role, f.PlayerID, f.UserID)
		case UnbindSession:
			e.registry.Unbind(f.SessionID)
		case CloseSession:
			e.registry.CloseSession(f.SessionID)
		case SendTo:
			e.registry.Send(f.SessionID, f.Msg)
		case BroadcastTo:
			e.registry.Broadcast(f.GameCode, f.Roles, f.Msg)
		default:
			e.log.Error().Msg("unhandled effect type")
		}
	}
}

func (e *Engine) transition(next Phase) {
	e.phase = next
	e.version++
	e.mu.Lock()
	e.mPhase = next
	e.mCurrent = e.current
	e.mu.Unlock()
}

func (e *Engine) applyJoin(cmd joinCmd) (JoinSuccessPayload, []Effect, error) {
	if e.phase != PhaseLobby {
		return JoinSuccessPayload{}, nil, ErrGameNotJoinable
	}
	if _, taken := e.bySession[cmd.sessionID]; taken {
		return JoinSuccessPayload{}, nil, ErrAlreadyJoined
	}

	var nickname string
	var userID *uint
	isGuest := cmd.user == nil
	if isGuest {
		trimmed := strings.TrimSpace(cmd.nickname)
		if trimmed == "" || len(trimmed) > e.cfg.MaxNicknameLen {
			return JoinSuccessPayload{}, nil, ErrInvalidNickname
		}
		nickname = models.GuestPrefix + trimmed
	} else {
		nickname = cmd.user.Username
		id := cmd.user.ID
		userID = &id
	}

	for _, p := range e.players {
		if p.active && strings.EqualFold(p.nickname, nickname) {
			return JoinSuccessPayload{}, nil, ErrDuplicateName
		}
	}

	now := e.clock.Now()
	p := &playerState{
		id:        uuid.NewString(),
		userID:    userID,
		nickname:  nickname,
		sessionID: cmd.sessionID,
		connected: true,
		active:    true,
		joinOrder: e.nextJoinOrder,
		joinedAt:  now,
	}
	e.nextJoinOrder++
	e.players[p.id] = p
	e.bySession[cmd.sessionID] = p.id
	e.refreshPlayerCount()

	row := &models.Player{
		ID:        p.id,
		GameID:    e.gameID,
		UserID:    userID,
		Nickname:  nickname,
		SessionID: cmd.sessionID,
		IsActive:  true,
		JoinedAt:  now,
	}
	e.persist.enqueue("create_player", func(ctx context.Context) error {
		return e.store.CreatePlayer(ctx, row)
	})

	e.log.Info().Str("player_id", p.id).Str("nickname", nickname).Msg("player joined")

	payload := JoinSuccessPayload{
		PlayerID: p.id,
		GameCode: e.code,
		Nickname: nickname,
		IsGuest:  isGuest,
	}
	effects := []Effect{
		BindSession{SessionID: cmd.sessionID, GameCode: e.code, Role: models.ConnectionTypePlayer, PlayerID: p.id, UserID: userID},
		SendTo{SessionID: cmd.sessionID, Msg: Message{Type: MsgJoinSuccess, Payload: payload}},
		e.lobbyUpdate(),
	}
	return payload, effects, nil
}

func (e *Engine) applyStart(cmd startCmd) ([]Effect, error) {
	if cmd.userID == nil || *cmd.userID != e.hostID {
		return nil, ErrNotHost
	}
	if e.phase != PhaseLobby {
		return nil, ErrWrongPhase
	}
	if e.activePlayerCount() == 0 {
		return nil, ErrNoPlayers
	}

	e.hostSession = cmd.sessionID
	now := e.clock.Now()
	e.startedAt = now
	e.log.Info().Int("players", e.activePlayerCount()).Msg("game started")

	effects := []Effect{
		BindSession{SessionID: cmd.sessionID, GameCode: e.code, Role: models.ConnectionTypeHost, UserID: cmd.userID},
		BroadcastTo{GameCode: e.code, Msg: Message{Type: MsgGameStarted, Payload: GameStartedPayload{
			GameCode:       e.code,
			TotalQuestions: len(e.questions),
		}}},
	}
	return append(effects, e.startQuestion(0, now)...), nil
}

func (e *Engine) startQuestion(idx int, now time.Time) []Effect {
	if idx < 0 || idx >= len(e.questions) {
		return e.failGame("question index out of range")
	}
	q := e.questions[idx]
	e.current = idx
	e.transition(PhaseQuestionActive)
	e.questionStartedAt = now
	e.questionEndsAt = now.Add(time.Duration(q.TimeLimit) * time.Second)
	e.showResultsUntil = time.Time{}
	if e.answers[idx] == nil {
		e.answers[idx] = make(map[string]*answerRecord)
	}
	e.scheduleTimer(timerQuestionDeadline, e.questionEndsAt.Sub(now))
	e.persistGameState()

	e.log.Info().Int("question", idx+1).Uint("question_id", q.ID).Msg("question started")

	hostCopy := e.questionPayload(q, idx, true)
	playerCopy := e.questionPayload(q, idx, false)
	return []Effect{
		BroadcastTo{GameCode: e.code, Roles: []string{models.ConnectionTypeHost}, Msg: Message{Type: MsgQuestionStart, Payload: hostCopy}},
		BroadcastTo{GameCode: e.code, Roles: []string{models.ConnectionTypePlayer, models.ConnectionTypeViewer}, Msg: Message{Type: MsgQuestionStart, Payload: playerCopy}},
	}
}

func (e *Engine) applySubmit(cmd submitCmd) ([]Effect, error) {
	if e.phase != PhaseQuestionActive {
		return nil, ErrNotAnswerPhase
	}
	pid, ok := e.bySession[cmd.sessionID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	p := e.players[pid]
	if p == nil || !p.active {
		return nil, ErrPlayerNotFound
	}
	q := e.questions[e.current]
	if cmd.questionID != q.ID {
		return nil, ErrNotAnswerPhase
	}
	if cmd.receivedAt.After(e.questionEndsAt) {
		return nil, ErrNotAnswerPhase
	}
	answer := strings.ToUpper(strings.TrimSpace(cmd.answer))
	if answer != "A" && answer != "B" && answer != "C" && answer != "D" {
		return nil, ErrInvalidOption
	}
	recs := e.answers[e.current]
	if recs == nil {
		return e.failGame("answer set missing for current question"), ErrInconsistency
	}
	if _, dup := recs[pid]; dup {
		return nil, ErrDuplicateAnswer
	}

	limitMs := q.TimeLimit * 1000
	latencyMs := ClampLatency(int(cmd.receivedAt.Sub(e.questionStartedAt)/time.Millisecond), limitMs)
	correct := answer == q.CorrectOption
	points := 0
	if correct {
		points = e.cfg.ScorePolicy.Score(q.Points, latencyMs, limitMs)
	}
	recs[pid] = &answerRecord{
		answer:     answer,
		correct:    correct,
		latencyMs:  latencyMs,
		points:     points,
		answeredAt: cmd.receivedAt,
	}
	p.score += points
	if correct {
		p.correct++
	}

	e.persistAnswer(p, q.ID, answer, correct, latencyMs, points, cmd.receivedAt)
	e.persistPlayer(p)

	answered, total := e.answerProgress()
	effects := []Effect{
		SendTo{SessionID: cmd.sessionID, Msg: Message{Type: MsgAnswerReceived, Payload: AnswerReceivedPayload{
			QuestionID:   q.ID,
			Answer:       answer,
			IsCorrect:    correct,
			PointsEarned: points,
			TotalScore:   p.score,
		}}},
		BroadcastTo{GameCode: e.code, Roles: []string{models.ConnectionTypeHost}, Msg: Message{Type: MsgAnswerProgress, Payload: AnswerProgressPayload{
			QuestionID: q.ID,
			Answered:   answered,
			Total:      total,
		}}},
	}
	if e.allAnswered() {
		e.log.Debug().Msg("all connected players answered, closing question early")
		effects = append(effects, e.finishQuestion(e.clock.Now())...)
	}
	return effects, nil
}

// finishQuestion closes the current question, records no-answer sentinels and
// moves to the results phase.
func (e *Engine) finishQuestion(now time.Time) []Effect {
	q := e.questions[e.current]
	recs := e.answers[e.current]
	for pid, p := range e.players {
		if !p.active {
			continue
		}
		if _, answered := recs[pid]; answered {
			continue
		}
		recs[pid] = &answerRecord{latencyMs: q.TimeLimit * 1000, answeredAt: now}
		e.persistAnswer(p, q.ID, "", false, q.TimeLimit*1000, 0, now)
	}

	e.transition(PhaseQuestionResults)
	e.showResultsUntil = now.Add(e.cfg.ResultDisplay)
	e.scheduleTimer(timerResultsOver, e.cfg.ResultDisplay)
	e.persistGameState()

	e.log.Info().Uint("question_id", q.ID).Msg("question closed")

	return []Effect{
		BroadcastTo{GameCode: e.code, Msg: Message{Type: MsgQuestionEnd, Payload: QuestionEndPayload{
			QuestionID:    q.ID,
			CorrectOption: q.CorrectOption,
			Leaderboard:   e.leaderboard(),
			ResultsUntil:  e.showResultsUntil.UnixMilli(),
		}}},
	}
}

func (e *Engine) applyHostAdvance(cmd advanceCmd) ([]Effect, error) {
	if cmd.userID == nil || *cmd.userID != e.hostID {
		return nil, ErrNotHost
	}
	if e.phase != PhaseQuestionResults {
		return nil, ErrWrongPhase
	}
	return e.advanceFromResults(e.clock.Now()), nil
}

func (e *Engine) advanceFromResults(now time.Time) []Effect {
	if e.current+1 < len(e.questions) {
		return e.startQuestion(e.current+1, now)
	}
	return e.complete(now, "")
}

func (e *Engine) applyForceEnd(cmd forceEndCmd) ([]Effect, error) {
	if cmd.userID == nil || *cmd.userID != e.hostID {
		return nil, ErrNotHost
	}
	if e.phase == PhaseCompleted {
		return nil, ErrWrongPhase
	}
	return e.complete(e.clock.Now(), "host_ended"), nil
}

func (e *Engine) applyLeave(cmd leaveCmd) ([]Effect, error) {
	pid, ok := e.bySession[cmd.sessionID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	p := e.players[pid]
	p.active = false
	p.connected = false
	delete(e.bySession, cmd.sessionID)
	e.refreshPlayerCount()
	e.persistPlayer(p)

	e.log.Info().Str("player_id", p.id).Msg("player left")

	effects := []Effect{
		UnbindSession{SessionID: cmd.sessionID},
		BroadcastTo{GameCode: e.code, Msg: Message{Type: MsgPlayerLeft, Payload: PlayerLeftPayload{
			PlayerID: p.id,
			Nickname: p.nickname,
		}}},
	}
	if e.phase == PhaseLobby {
		effects = append(effects, e.lobbyUpdate())
	}
	if e.phase == PhaseQuestionActive && e.allAnswered() {
		effects = append(effects, e.finishQuestion(e.clock.Now())...)
	}
	return effects, nil
}

func (e *Engine) applyDisconnect(cmd disconnectCmd) []Effect {
	if cmd.sessionID == e.hostSession && e.phase != PhaseCompleted {
		e.log.Warn().Msg("host disconnected, ending game")
		return e.complete(e.clock.Now(), "host_left")
	}

	pid, ok := e.bySession[cmd.sessionID]
	if !ok {
		return nil
	}
	p := e.players[pid]
	p.connected = false
	e.log.Info().Str("player_id", p.id).Msg("player disconnected")

	e.scheduleDeactivation(p.id, cmd.sessionID)

	var effects []Effect
	if e.phase == PhaseLobby {
		effects = append(effects, e.lobbyUpdate())
	}
	if e.phase == PhaseQuestionActive && e.allAnswered() {
		effects = append(effects, e.finishQuestion(e.clock.Now())...)
	}
	return effects
}

func (e *Engine) applyDeactivate(cmd deactivateCmd) []Effect {
	p := e.players[cmd.playerID]
	if p == nil || !p.active {
		return nil
	}
	if p.connected || p.sessionID != cmd.sessionID {
		return nil // recovered since the disconnect
	}
	if e.phase == PhaseCompleted {
		return nil
	}
	p.active = false
	delete(e.bySession, p.sessionID)
	e.refreshPlayerCount()
	e.persistPlayer(p)
	e.log.Info().Str("player_id", p.id).Msg("player deactivated after recovery window")

	var effects []Effect
	if e.phase == PhaseLobby {
		effects = append(effects, e.lobbyUpdate())
	}
	if e.phase == PhaseQuestionActive && e.allAnswered() {
		effects = append(effects, e.finishQuestion(e.clock.Now())...)
	}
	return effects
}

func (e *Engine) applyRecover(cmd recoverCmd) (ReconnectSuccessPayload, []Effect, error) {
	now := e.clock.Now()

	if pid, ok := e.bySession[cmd.oldSessionID]; ok {
		p := e.players[pid]
		closeOld := p.connected
		return e.rebind(p, cmd.oldSessionID, cmd.newSessionID, now, closeOld)
	}

	hint := cmd.hint
	if hint == nil || hint.GameCode != e.code {
		return ReconnectSuccessPayload{}, nil, ErrRecoveryExpired
	}
	if now.Sub(hint.CreatedAt) > e.cfg.RecoveryWindow {
		return ReconnectSuccessPayload{}, nil, ErrRecoveryExpired
	}
	p := e.players[hint.PlayerID]
	if p == nil || !p.active {
		return ReconnectSuccessPayload{}, nil, ErrRecoveryExpired
	}
	if p.connected {
		if p.sessionID == cmd.newSessionID {
			// replayed request, treat as success
			return e.recoveredState(p), e.recoverEffects(p, cmd.newSessionID, false, ""), nil
		}
		return ReconnectSuccessPayload{}, nil, ErrAlreadyRecovered
	}
	payload, effects, err := e.rebind(p, p.sessionID, cmd.newSessionID, now, false)
	if err == nil {
		e.persistRecoveryEntry(cmd.oldSessionID, cmd.newSessionID, p.id, now)
	}
	return payload, effects, err
}

func (e *Engine) rebind(p *playerState, oldSession, newSession string, now time.Time, closeOld bool) (ReconnectSuccessPayload, []Effect, error) {
	if p.connected && oldSession == newSession {
		// nothing to do, same live binding
		return e.recoveredState(p), e.recoverEffects(p, newSession, false, ""), nil
	}
	delete(e.bySession, oldSession)
	p.sessionID = newSession
	p.connected = true
	e.bySession[newSession] = p.id
	e.persistPlayer(p)
	e.persistRecoveryEntry(oldSession, newSession, p.id, now)

	e.log.Info().Str("player_id", p.id).Msg("session recovered")

	closeSession := ""
	if closeOld {
		closeSession = oldSession
	}
	return e.recoveredState(p), e.recoverEffects(p, newSession, true, closeSession), nil
}

func (e *Engine) recoveredState(p *playerState) ReconnectSuccessPayload {
	return ReconnectSuccessPayload{
		PlayerID:       p.id,
		GameCode:       e.code,
		Nickname:       p.nickname,
		Score:          p.score,
		Phase:          string(e.phase),
		QuestionNumber: e.current + 1,
		Leaderboard:    e.leaderboard(),
	}
}

func (e *Engine) recoverEffects(p *playerState, session string, rebound bool, closeSession string) []Effect {
	var effects []Effect
	if closeSession != "" {
		effects = append(effects, CloseSession{SessionID: closeSession})
	}
	effects = append(effects,
		BindSession{SessionID: session, GameCode: e.code, Role: models.ConnectionTypePlayer, PlayerID: p.id, UserID: p.userID},
		SendTo{SessionID: session, Msg: Message{Type: MsgReconnectSuccess, Payload: e.recoveredState(p)}},
	)
	if e.phase == PhaseQuestionActive {
		q := e.questions[e.current]
		effects = append(effects, SendTo{SessionID: session, Msg: Message{Type: MsgCurrentQuestion, Payload: e.questionPayload(q, e.current, false)}})
	}
	if rebound && e.phase == PhaseLobby {
		effects = append(effects, e.lobbyUpdate())
	}
	return effects
}

func (e *Engine) applyTimer(cmd timerCmd) []Effect {
	if cmd.version != e.version {
		e.log.Debug().Uint64("fired", cmd.version).Uint64("current", e.version).Msg("superseded timer ignored")
		return nil
	}
	now := e.clock.Now()
	switch cmd.kind {
	case timerQuestionDeadline:
		if e.phase != PhaseQuestionActive {
			return nil
		}
		if now.Before(e.questionEndsAt) {
			e.scheduleTimer(timerQuestionDeadline, e.questionEndsAt.Sub(now))
			return nil
		}
		return e.finishQuestion(now)
	case timerResultsOver:
		if e.phase != PhaseQuestionResults {
			return nil
		}
		if now.Before(e.showResultsUntil) {
			e.scheduleTimer(timerResultsOver, e.showResultsUntil.Sub(now))
			return nil
		}
		return e.advanceFromResults(now)
	}
	return nil
}

// applyDeadlinePass is the version-free form of the timer logic, safe to call
// any number of times.
func (e *Engine) applyDeadlinePass(now time.Time) []Effect {
	if now.IsZero() {
		now = e.clock.Now()
	}
	switch e.phase {
	case PhaseQuestionActive:
		if !now.Before(e.questionEndsAt) {
			return e.finishQuestion(now)
		}
	case PhaseQuestionResults:
		if !now.Before(e.showResultsUntil) {
			return e.advanceFromResults(now)
		}
	}
	return nil
}

func (e *Engine) complete(now time.Time, reason string) []Effect {
	e.transition(PhaseCompleted)
	e.endedAt = now
	e.mu.Lock()
	e.mCompleted = now
	e.mu.Unlock()

	for _, p := range e.players {
		e.persistPlayer(p)
	}
	e.persistGameState()

	e.log.Info().Str("reason", reason).Msg("game completed")

	return []Effect{
		BroadcastTo{GameCode: e.code, Msg: Message{Type: MsgGameEnd, Payload: GameEndPayload{
			GameCode:    e.code,
			Reason:      reason,
			Leaderboard: e.leaderboard(),
			PlayerStats: e.playerStats(),
		}}},
	}
}

// failGame is the internal inconsistency escape hatch: the one game is
// force completed and everyone is told, other games are untouched.
func (e *Engine) failGame(reason string) []Effect {
	e.log.Error().Str("reason", reason).Msg("game state inconsistency")
	if e.phase == PhaseCompleted {
		return nil
	}
	effects := []Effect{
		BroadcastTo{GameCode: e.code, Msg: Message{Type: MsgError, Payload: ErrorPayload{
			Code:    string(KindInternal),
			Message: "game ended due to an internal error",
		}}},
	}
	return append(effects, e.complete(e.clock.Now(), "internal_error")...)
}

func (e *Engine) scheduleTimer(kind timerKind, d time.Duration) {
	version := e.version
	t := e.clock.NewTimer(d)
	go func() {
		select {
		case <-t.Chan():
			select {
			case e.commands <- timerCmd{kind: kind, version: version}:
			case <-e.done:
			}
		case <-e.done:
			t.Stop()
		}
	}()
}

func (e *Engine) scheduleDeactivation(playerID, sessionID string) {
	t := e.clock.NewTimer(e.cfg.RecoveryWindow)
	go func() {
		select {
		case <-t.Chan():
			select {
			case e.commands <- deactivateCmd{playerID: playerID, sessionID: sessionID}:
			case <-e.done:
			}
		case <-e.done:
			t.Stop()
		}
	}()
}

func (e *Engine) activePlayerCount() int {
	n := 0
	for _, p := range e.players {
		if p.active {
			n++
		}
	}
	return n
}

func (e *Engine) refreshPlayerCount() {
	e.mu.Lock()
	e.mPlayerCnt = e.activePlayerCount()
	e.mu.Unlock()
}

// answerProgress counts answers from players who can still answer. Players
// whose connection is gone are not waited on; the deadline covers them.
func (e *Engine) answerProgress() (answered, total int) {
	recs := e.answers[e.current]
	for pid, p := range e.players {
		if !p.active || !p.connected {
			continue
		}
		total++
		if _, ok := recs[pid]; ok {
			answered++
		}
	}
	return answered, total
}

func (e *Engine) allAnswered() bool {
	answered, total := e.answerProgress()
	return total > 0 && answered == total
}

func (e *Engine) leaderboard() []LeaderboardEntry {
	ranked := make([]rankable, 0, len(e.players))
	for _, p := range e.players {
		if !p.active {
			continue
		}
		ranked = append(ranked, rankable{
			playerID:  p.id,
			nickname:  p.nickname,
			score:     p.score,
			correct:   p.correct,
			joinOrder: p.joinOrder,
			isGuest:   strings.HasPrefix(p.nickname, models.GuestPrefix),
		})
	}
	return rankPlayers(ranked)
}

func (e *Engine) playerStats() []PlayerStats {
	stats := make([]PlayerStats, 0, len(e.players))
	for pid, p := range e.players {
		if !p.active {
			continue
		}
		answered, latencySum := 0, 0
		for _, recs := range e.answers {
			rec, ok := recs[pid]
			if !ok || rec.answer == "" {
				continue
			}
			answered++
			latencySum += rec.latencyMs
		}
		accuracy := 0.0
		avgLatency := 0
		if answered > 0 {
			accuracy = float64(p.correct) / float64(answered) * 100
			avgLatency = latencySum / answered
		}
		stats = append(stats, PlayerStats{
			PlayerID:          p.id,
			Nickname:          p.nickname,
			Score:             p.score,
			Answers:           answered,
			CorrectAnswers:    p.correct,
			Accuracy:          accuracy,
			AvgResponseTimeMs: avgLatency,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}

func (e *Engine) lobbyUpdate() Effect {
	players := make([]*playerState, 0, len(e.players))
	for _, p := range e.players {
		if p.active {
			players = append(players, p)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].joinOrder < players[j].joinOrder })

	entries := make([]LobbyPlayer, len(players))
	for i, p := range players {
		entries[i] = LobbyPlayer{
			PlayerID:  p.id,
			Nickname:  p.nickname,
			IsGuest:   strings.HasPrefix(p.nickname, models.GuestPrefix),
			Connected: p.connected,
		}
	}
	return BroadcastTo{GameCode: e.code, Msg: Message{Type: MsgLobbyUpdate, Payload: LobbyUpdatePayload{
		GameCode:    e.code,
		Players:     entries,
		PlayerCount: len(entries),
	}}}
}

func (e *Engine) questionPayload(q models.Question, idx int, withCorrect bool) QuestionStartPayload {
	payload := QuestionStartPayload{
		QuestionID:     q.ID,
		QuestionNumber: idx + 1,
		TotalQuestions: len(e.questions),
		Text:           q.Text,
		OptionA:        q.OptionA,
		OptionB:        q.OptionB,
		OptionC:        q.OptionC,
		OptionD:        q.OptionD,
		Points:         q.Points,
		TimeLimit:      q.TimeLimit,
		EndsAt:         e.questionEndsAt.UnixMilli(),
	}
	if withCorrect {
		payload.CorrectOption = q.CorrectOption
	}
	return payload
}

func (e *Engine) persistAnswer(p *playerState, questionID uint, answer string, correct bool, latencyMs, points int, at time.Time) {
	row := &models.PlayerAnswer{
		GameID:         e.gameID,
		PlayerID:       p.id,
		QuestionID:     questionID,
		Answer:         answer,
		IsCorrect:      correct,
		ResponseTimeMs: latencyMs,
		PointsEarned:   points,
		AnsweredAt:     at,
	}
	e.persist.enqueue("create_answer", func(ctx context.Context) error {
		return e.store.CreateAnswer(ctx, row)
	})
}

func (e *Engine) persistPlayer(p *playerState) {
	id, score, session, active := p.id, p.score, p.sessionID, p.active
	e.persist.enqueue("save_player", func(ctx context.Context) error {
		return e.store.SavePlayerState(ctx, id, score, session, active)
	})
}

func (e *Engine) persistGameState() {
	update := GameStateUpdate{
		Status:          e.dbStatus(),
		CurrentQuestion: e.current,
	}
	if !e.questionStartedAt.IsZero() {
		t := e.questionStartedAt
		update.QuestionStartedAt = &t
	}
	if !e.questionEndsAt.IsZero() {
		t := e.questionEndsAt
		update.QuestionEndsAt = &t
	}
	if !e.showResultsUntil.IsZero() {
		t := e.showResultsUntil
		update.ShowResultsUntil = &t
	}
	if !e.startedAt.IsZero() {
		t := e.startedAt
		update.StartedAt = &t
	}
	if !e.endedAt.IsZero() {
		t := e.endedAt
		update.EndedAt = &t
	}
	gameID := e.gameID
	e.persist.enqueue("save_game", func(ctx context.Context) error {
		return e.store.SaveGameState(ctx, gameID, update)
	})

	snap := GameSnapshot{
		Code:            e.code,
		Phase:           string(e.phase),
		CurrentQuestion: e.current,
		TotalQuestions:  len(e.questions),
		PlayerCount:     e.activePlayerCount(),
		UpdatedAt:       e.clock.Now(),
	}
	e.persist.enqueue("save_snapshot", func(ctx context.Context) error {
		return e.recovery.SaveSnapshot(ctx, snap)
	})
}

func (e *Engine) persistRecoveryEntry(oldSession, newSession, playerID string, now time.Time) {
	entry := RecoveryEntry{
		OldSessionID: oldSession,
		NewSessionID: newSession,
		PlayerID:     playerID,
		GameCode:     e.code,
		CreatedAt:    now,
	}
	e.persist.enqueue("save_recovery_entry", func(ctx context.Context) error {
		return e.recovery.SaveEntry(ctx, entry)
	})
}

func (e *Engine) dbStatus() string {
	switch e.phase {
	case PhaseLobby:
		return models.GameStatusLobby
	case PhaseCompleted:
		return models.GameStatusCompleted
	default:
		return models.GameStatusActive
	}
}
