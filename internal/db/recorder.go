package db

import (
	"context"
	"errors"

	"arcade/server/internal/logger"
	"arcade/server/internal/types"

	"go.uber.org/zap"
)

// Recorder persists the result of a finished lobby.
type Recorder interface {
	Record(ctx context.Context, result types.MatchResult) error
	Close() error
}

// ResultReader lists recently recorded matches, newest first.
type ResultReader interface {
	Recent(ctx context.Context, limit int) ([]types.MatchResult, error)
}

// LogRecorder only logs results. It is used when no database is configured.
type LogRecorder struct{}

func (LogRecorder) Record(_ context.Context, r types.MatchResult) error {
	logger.L.Info("match finished",
		zap.String("match_id", r.ID),
		zap.String("lobby", r.Lobby),
		zap.Uint16("score", r.Score),
		zap.Bool("boss_defeated", r.BossDefeated),
		zap.Int("peak_players", r.PeakPlayers),
		zap.Duration("duration", r.EndedAt.Sub(r.StartedAt)),
	)
	return nil
}

func (LogRecorder) Close() error { return nil }

// MultiRecorder fans a result out to every recorder and joins their errors.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, r types.MatchResult) error {
	var errs []error
	for _, rec := range m {
		if err := rec.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiRecorder) Close() error {
	var errs []error
	for _, rec := range m {
		if err := rec.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recent asks the first member that can read results.
func (m MultiRecorder) Recent(ctx context.Context, limit int) ([]types.MatchResult, error) {
	for _, rec := range m {
		if rr, ok := rec.(ResultReader); ok {
			return rr.Recent(ctx, limit)
		}
	}
	return nil, nil
}
