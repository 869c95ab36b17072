package storage

import (
	"time"

	"therapy-bot/internal/evaluation"
	"therapy-bot/internal/history"
)

// Record is one completed session: the transcript and the user's ratings.
// Records are frozen once handed to a Store.
type Record struct {
	ID           string              `json:"id"`
	UserID       int64               `json:"user_id"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
	Conversation []history.Utterance `json:"conversation"`
	Evaluation   evaluation.Record   `json:"evaluation"`
}

// Store persists completed sessions.
// Append must be safe for concurrent use and must not lose updates.
// Load returns records in append order.
type Store interface {
	Append(record Record) error
	Load() ([]Record, error)
}
