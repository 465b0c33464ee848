package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

// CleanupStale fails processing entries started more than timeout ago and
// compensates each reclaimed entry once. It returns how many were reclaimed.
func (s *Service) CleanupStale(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, nil
	}
	reason := fmt.Sprintf("processing exceeded %s", timeout)
	reclaimed, err := s.store.ReclaimStale(ctx, time.Now().Add(-timeout), reason)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "reclaim stale entries", Err: err}
	}

	for _, entry := range reclaimed {
		slog.Warn("stale queue entry reclaimed",
			"queue_id", entry.ID, "session_id", entry.SessionID, "user_id", entry.UserID)

		session, err := s.store.GetSession(ctx, entry.SessionID)
		if err != nil {
			slog.Error("failed to load session of stale entry", "session_id", entry.SessionID, "error", err)
		}
		s.settleFailure(ctx, entry.UserID, session, domain.NewBackendError(domain.BackendTimeout, errors.New(reason)))
	}
	return len(reclaimed), nil
}

// RunStaleMonitor periodically reclaims stale entries and purges old
// finished ones until ctx is done.
func (s *Service) RunStaleMonitor(ctx context.Context) {
	if s.config.StaleSweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.StaleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepQueue(ctx)
		}
	}
}

func (s *Service) sweepQueue(ctx context.Context) {
	if _, err := s.CleanupStale(ctx, s.config.StaleTimeout); err != nil {
		slog.Warn("stale sweep failed", "error", err)
	}
	if s.config.FinishedRetention <= 0 {
		return
	}
	n, err := s.store.PurgeFinished(ctx, time.Now().Add(-s.config.FinishedRetention))
	if err != nil {
		slog.Warn("finished entry purge failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("finished queue entries purged", "count", n)
	}
}
