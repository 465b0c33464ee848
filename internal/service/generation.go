package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

const maxStoredError = 500

// errReclaimed reports that the stale sweep failed the entry mid-dispatch.
var errReclaimed = errors.New("queue entry reclaimed")

// dispatch runs the claimed entry in its own goroutine, which owns one
// limiter slot. It returns false without starting anything after shutdown.
func (s *Service) dispatch(entry domain.QueueEntry) bool {
	taskCtx, cancel := context.WithCancel(s.rootCtx)
	if !s.track(entry.SessionID, cancel) {
		cancel()
		return false
	}

	go func() {
		defer s.tasks.Done()
		defer s.limiter.Release(1)
		defer s.untrack(entry.SessionID, cancel)
		s.processEntry(taskCtx, entry)
	}()
	return true
}

func (s *Service) track(sessionID string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active[sessionID] = cancel
	s.tasks.Add(1)
	return true
}

func (s *Service) untrack(sessionID string, cancel context.CancelFunc) {
	s.mu.Lock()
	delete(s.active, sessionID)
	s.mu.Unlock()
	cancel()
}

// dispatchBudget bounds a whole dispatch so it ends before the stale sweep
// may reclaim the entry.
func (s *Service) dispatchBudget() time.Duration {
	if s.config.StaleTimeout <= 0 {
		return 0
	}
	return s.config.StaleTimeout - s.config.StaleTimeout/10
}

func (s *Service) processEntry(taskCtx context.Context, entry domain.QueueEntry) {
	log := slog.With(
		"queue_id", entry.ID,
		"session_id", entry.SessionID,
		"user_id", entry.UserID,
		"attempt", uuid.NewString(),
	)
	log.Info("generation started")

	ctx := taskCtx
	budget := s.dispatchBudget()
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(taskCtx, budget)
		defer cancel()
	}
	// Bookkeeping outlives both the budget and shutdown.
	doneCtx := context.WithoutCancel(taskCtx)

	session, err := s.store.GetSession(ctx, entry.SessionID)
	if err == nil && session == nil {
		err = fmt.Errorf("session %s: %w", entry.SessionID, domain.ErrNotFound)
	}
	if err == nil {
		err = s.produce(ctx, session, entry.ID)
	}

	if err == nil {
		ok, uerr := s.store.UpdateQueueStatus(doneCtx, entry.ID, domain.QueueStatusCompleted, "")
		switch {
		case uerr != nil:
			log.Error("failed to mark queue entry completed", "error", uerr)
		case !ok:
			log.Error("image delivered but queue entry was no longer processing")
		}
		if derr := s.store.DeleteSession(doneCtx, entry.SessionID); derr != nil {
			log.Warn("failed to delete delivered session", "error", derr)
		}
		log.Info("generation completed")
		return
	}

	if errors.Is(err, errReclaimed) {
		log.Warn("queue entry reclaimed during generation, result discarded")
		return
	}
	if taskCtx.Err() != nil {
		log.Warn("generation interrupted, entry left for reclamation", "error", err)
		return
	}
	var berr *domain.BackendError
	if ctx.Err() != nil && !errors.As(err, &berr) {
		err = domain.NewBackendError(domain.BackendTimeout, fmt.Errorf("dispatch exceeded %s: %w", budget, err))
	}

	log.Error("generation failed", "error", err)
	ok, uerr := s.store.UpdateQueueStatus(doneCtx, entry.ID, domain.QueueStatusFailed, truncate(err.Error(), maxStoredError))
	if uerr != nil {
		log.Error("failed to mark queue entry failed", "error", uerr)
		return
	}
	if !ok {
		// Already reclaimed by the stale sweep, which compensated the user.
		log.Warn("queue entry no longer processing, skipping compensation")
		return
	}
	s.settleFailure(doneCtx, entry.UserID, session, err)
}

// stillProcessing fails with errReclaimed once the entry has left processing.
func (s *Service) stillProcessing(ctx context.Context, queueID int64) error {
	entry, err := s.store.GetQueueEntry(ctx, queueID)
	if err != nil {
		return &domain.PersistenceError{Op: "get queue entry", Err: err}
	}
	if entry == nil || entry.Status != domain.QueueStatusProcessing {
		return errReclaimed
	}
	return nil
}

// produce downloads the inputs, calls the backend and delivers the image.
// With a queue id the image is only sent while that entry is still processing.
// A panic anywhere in the pipeline is returned as a generic failure.
func (s *Service) produce(ctx context.Context, session *domain.Session, queueID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewBackendError(domain.BackendGeneric, fmt.Errorf("generation panicked: %v", r))
		}
	}()

	images := make([][]byte, 0, len(session.Images))
	for _, ref := range session.Images {
		data, err := s.messenger.DownloadImage(ctx, ref)
		if err != nil {
			return fmt.Errorf("download image: %w", err)
		}
		images = append(images, data)
	}

	genCtx := ctx
	if s.config.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.config.GenerationTimeout)
		defer cancel()
	}
	image, err := s.generator.Generate(genCtx, session.Prompt, images)
	if err != nil {
		var berr *domain.BackendError
		if !errors.As(err, &berr) && ctx.Err() == nil && errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return domain.NewBackendError(domain.BackendTimeout, err)
		}
		return err
	}

	if queueID != 0 {
		if err := s.stillProcessing(ctx, queueID); err != nil {
			return err
		}
	}
	if err := s.messenger.SendImage(ctx, session.UserID, image, MsgImageReady); err != nil {
		return fmt.Errorf("deliver image: %w", err)
	}
	return nil
}

// settleFailure marks the session failed, tells the user and compensates
// the funding of the session. Callers guarantee it runs once per entry.
func (s *Service) settleFailure(ctx context.Context, userID int64, session *domain.Session, cause error) {
	if session != nil {
		if _, err := s.store.UpdateSession(ctx, session.ID, domain.SessionUpdate{Status: statusPtr(domain.SessionStatusFailed)}); err != nil {
			slog.Error("failed to mark session failed", "session_id", session.ID, "error", err)
		}
	}
	s.notify(ctx, userID, UserMessage(cause))
	s.compensate(ctx, userID, session)
}

func (s *Service) compensate(ctx context.Context, userID int64, session *domain.Session) {
	switch {
	case session == nil:
		slog.Warn("cannot compensate failure without session", "user_id", userID)
	case session.PaymentChargeID != "":
		result, err := s.Refund(ctx, userID, session.PaymentChargeID)
		if err != nil {
			slog.Error("automatic refund failed", "user_id", userID, "charge_id", session.PaymentChargeID, "error", err)
			s.notify(ctx, userID, UserMessage(err))
			return
		}
		if !result.AlreadyRefunded {
			s.notify(ctx, userID, MsgRefunded)
		}
	case session.Status == domain.SessionStatusPaid:
		if _, err := s.AddBalance(ctx, userID, 1, "generation failed"); err != nil {
			slog.Error("failed to return balance credit", "user_id", userID, "session_id", session.ID, "error", err)
			return
		}
		s.notify(ctx, userID, MsgCreditReturned)
	}
}

func (s *Service) notify(ctx context.Context, userID int64, text string) {
	if err := s.messenger.SendText(ctx, userID, text); err != nil {
		slog.Warn("failed to notify user", "user_id", userID, "error", err)
	}
}

// GenerateDirect runs the pipeline for a session without a queue entry.
// It blocks until a concurrency slot is free.
func (s *Service) GenerateDirect(ctx context.Context, sessionID string) error {
	taskCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.rootCtx, cancel)
	defer stop()
	if !s.track(sessionID, cancel) {
		cancel()
		return errors.New("generation service is shut down")
	}
	defer s.tasks.Done()
	defer s.untrack(sessionID, cancel)

	if err := s.limiter.Acquire(taskCtx, 1); err != nil {
		return err
	}
	defer s.limiter.Release(1)

	session, err := s.GetSession(taskCtx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}

	if err := s.produce(taskCtx, session, 0); err != nil {
		if taskCtx.Err() != nil {
			return err
		}
		slog.Error("direct generation failed", "session_id", sessionID, "error", err)
		s.settleFailure(taskCtx, session.UserID, session, err)
		return err
	}
	if err := s.DeleteSession(taskCtx, sessionID); err != nil {
		slog.Warn("failed to delete delivered session", "session_id", sessionID, "error", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
