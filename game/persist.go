package game

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/can61cebi/sorukayisi-backend/models"
)

// GameStateUpdate carries the durable slice of a transition. Nil time fields
// are left untouched.
type GameStateUpdate struct {
	Status            string
	CurrentQuestion   int
	QuestionStartedAt *time.Time
	QuestionEndsAt    *time.Time
	ShowResultsUntil  *time.Time
	StartedAt         *time.Time
	EndedAt           *time.Time
}

// Store is the persistence collaborator. Every write is issued from the
// persister queue, at least once, so implementations must be idempotent.
type Store interface {
	CreatePlayer(ctx context.Context, player *models.Player) error
	SavePlayerState(ctx context.Context, playerID string, score int, sessionID string, isActive bool) error
	CreateAnswer(ctx context.Context, answer *models.PlayerAnswer) error
	SaveGameState(ctx context.Context, gameID uint, update GameStateUpdate) error
}

const (
	persistQueueSize   = 256
	persistAttempts    = 3
	persistBackoffBase = 100 * time.Millisecond
	persistTimeout     = 5 * time.Second
)

type persistJob struct {
	name string
	fn   func(context.Context) error
}

// persister drains durable writes off the game path. One goroutine per game
// keeps transition writes ordered; failures are retried with backoff and
// finally dropped with a log line, never surfaced to players.
type persister struct {
	log  zerolog.Logger
	jobs chan persistJob
	done chan struct{}
}

func newPersister(log zerolog.Logger) *persister {
	p := &persister{
		log:  log,
		jobs: make(chan persistJob, persistQueueSize),
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) enqueue(name string, fn func(context.Context) error) {
	select {
	case p.jobs <- persistJob{name: name, fn: fn}:
	case <-p.done:
	default:
		p.log.Warn().Str("job", name).Msg("persist queue full, dropping write")
	}
}

func (p *persister) run() {
	for {
		select {
		case job := <-p.jobs:
			p.execute(job)
		case <-p.done:
			return
		}
	}
}

func (p *persister) execute(job persistJob) {
	backoff := persistBackoffBase
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := job.fn(ctx)
		cancel()
		if err == nil {
			return
		}
		if attempt == persistAttempts {
			p.log.Error().Err(err).Str("job", job.name).Msg("persist failed, giving up")
			return
		}
		p.log.Warn().Err(err).Str("job", job.name).Int("attempt", attempt).Msg("persist failed, retrying")
		select {
		case <-time.After(backoff):
		case <-p.done:
			return
		}
		backoff *= 2
	}
}

func (p *persister) close() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}
