package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

// Enqueue adds the session to the generation queue and makes sure the
// worker is running unless the queue is paused.
func (s *Service) Enqueue(ctx context.Context, sessionID string, userID int64, priority int) (int64, error) {
	id, err := s.store.Enqueue(ctx, sessionID, userID, priority)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyQueued) {
			return 0, err
		}
		return 0, &domain.PersistenceError{Op: "enqueue", Err: err}
	}
	slog.Info("generation queued", "queue_id", id, "session_id", sessionID, "user_id", userID, "priority", priority)
	s.EnsureWorker()
	return id, nil
}

// Position returns the 1-based rank of the session among pending entries.
// The second result is false once the session is no longer waiting.
func (s *Service) Position(ctx context.Context, sessionID string) (int, bool, error) {
	pos, ok, err := s.store.QueuePosition(ctx, sessionID)
	if err != nil {
		return 0, false, &domain.PersistenceError{Op: "queue position", Err: err}
	}
	return pos, ok, nil
}

// QueueStats counts entries per status and reports the runtime state.
func (s *Service) QueueStats(ctx context.Context) (*domain.QueueStats, error) {
	counts, err := s.store.CountQueue(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "count queue", Err: err}
	}
	s.mu.Lock()
	active := len(s.active)
	s.mu.Unlock()
	return &domain.QueueStats{
		Pending:    counts[domain.QueueStatusPending],
		Processing: counts[domain.QueueStatusProcessing],
		Completed:  counts[domain.QueueStatusCompleted],
		Failed:     counts[domain.QueueStatusFailed],
		Active:     active,
		Paused:     s.paused.Load(),
	}, nil
}

// UserQueueEntries lists the user's waiting and running entries.
func (s *Service) UserQueueEntries(ctx context.Context, userID int64) ([]domain.QueueEntry, error) {
	entries, err := s.store.ListUserQueueEntries(ctx, userID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list queue entries", Err: err}
	}
	return entries, nil
}

// Pause stops new claims. In-flight generations run to completion.
func (s *Service) Pause() {
	if !s.paused.Swap(true) {
		slog.Info("generation queue paused")
	}
}

// Resume re-enables claims and starts the worker if needed.
func (s *Service) Resume() {
	if s.paused.Swap(false) {
		slog.Info("generation queue resumed")
	}
	s.EnsureWorker()
}

// Paused reports whether claims are suspended.
func (s *Service) Paused() bool {
	return s.paused.Load()
}

// EnsureWorker starts the queue worker unless it is running, paused or shut down.
func (s *Service) EnsureWorker() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.workerCancel != nil || s.paused.Load() {
		return
	}
	ctx, cancel := context.WithCancel(s.rootCtx)
	done := make(chan struct{})
	s.workerCancel = cancel
	s.workerDone = done
	go s.run(ctx, done)
	slog.Info("generation worker started", "concurrency", s.config.ConcurrentLimit)
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := s.config.QueuePollInterval
	if interval <= 0 {
		interval = time.Second
	}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !s.paused.Load() {
			s.claimAvailable(ctx)
		}
		timer.Reset(interval)
	}
}

// claimAvailable dispatches pending entries while concurrency slots are free.
func (s *Service) claimAvailable(ctx context.Context) {
	for ctx.Err() == nil && !s.paused.Load() {
		if !s.limiter.TryAcquire(1) {
			return
		}
		entry, err := s.store.ClaimNext(ctx)
		if err != nil {
			s.limiter.Release(1)
			if ctx.Err() == nil {
				slog.Error("queue claim failed", "error", err)
			}
			return
		}
		if entry == nil {
			s.limiter.Release(1)
			return
		}
		if !s.dispatch(*entry) {
			s.limiter.Release(1)
			return
		}
	}
}

// Restore reclaims entries orphaned by a previous process and resumes
// processing when work is waiting.
func (s *Service) Restore(ctx context.Context) error {
	reclaimed, err := s.CleanupStale(ctx, s.config.StaleTimeout)
	if err != nil {
		return err
	}
	counts, err := s.store.CountQueue(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: "count queue", Err: err}
	}
	slog.Info("generation queue restored",
		"reclaimed", reclaimed,
		"pending", counts[domain.QueueStatusPending],
		"processing", counts[domain.QueueStatusProcessing])
	if counts[domain.QueueStatusPending] > 0 {
		s.EnsureWorker()
	}
	return nil
}

// Shutdown stops claiming, cancels in-flight generations and waits for them
// to unwind or for ctx to expire. Interrupted entries stay processing and
// are reclaimed by the next Restore.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	cancelWorker := s.workerCancel
	workerDone := s.workerDone
	s.workerCancel = nil
	s.workerDone = nil
	s.mu.Unlock()

	if cancelWorker != nil {
		cancelWorker()
		select {
		case <-workerDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	inFlight := len(s.active)
	for _, cancel := range s.active {
		cancel()
	}
	s.mu.Unlock()
	s.rootCancel()

	finished := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.active = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	slog.Info("generation queue stopped", "interrupted", inFlight)
	return nil
}
