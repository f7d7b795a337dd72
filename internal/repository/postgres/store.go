package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
)

// Store bundles the Postgres repositories and transaction scoping. The same
// repository implementations run against the pool directly or against an open
// transaction via WithinTx.
type Store struct {
	db *sqlx.DB
	repos
}

type repos struct {
	scores    *ScoreRepository
	queue     *QueueRepository
	sessions  *SessionRepository
	outcomes  *OutcomeRepository
	callbacks *CallbackRepository
	agents    *AgentRepository
}

func newRepos(ext sqlx.ExtContext) repos {
	return repos{
		scores:    NewScoreRepository(ext),
		queue:     NewQueueRepository(ext),
		sessions:  NewSessionRepository(ext),
		outcomes:  NewOutcomeRepository(ext),
		callbacks: NewCallbackRepository(ext),
		agents:    NewAgentRepository(ext),
	}
}

// NewStore constructs the store over a sqlx handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, repos: newRepos(db)}
}

func (r repos) Scores() repository.ScoreRepository         { return r.scores }
func (r repos) Queue() repository.QueueRepository          { return r.queue }
func (r repos) Sessions() repository.SessionRepository     { return r.sessions }
func (r repos) Outcomes() repository.OutcomeRepository     { return r.outcomes }
func (r repos) Callbacks() repository.CallbackRepository   { return r.callbacks }
func (r repos) Agents() repository.AgentRepository         { return r.agents }

// WithinTx runs fn against transaction-bound repositories. Any error rolls
// the whole transaction back.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.TxRepos) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin: %w", err)
	}

	if err := fn(newRepos(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx rollback: %v (original err: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	return nil
}
