package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"sharemirror/internal/config"
	"sharemirror/internal/domain"
	"sharemirror/internal/events"
	"sharemirror/internal/metrics"
	"sharemirror/internal/models"
	"sharemirror/internal/share"
)

var (
	ErrTaskBusy    = errors.New("task is already running")
	ErrTaskStopped = errors.New("task is stopped")
)

// GuardKey identifies a task for the run guard.
func GuardKey(accountID, taskID string) string {
	return accountID + "/" + taskID
}

// Engine runs reconciliation attempts. At most one attempt per task runs at a time.
type Engine struct {
	tasks     domain.TaskRepository
	creds     domain.CredentialSource
	gateway   domain.TransferGateway
	guard     domain.RunGuard
	publisher domain.EventPublisher
	clock     clockwork.Clock
	cfg       config.GatewayConfig
	logger    *zerolog.Logger

	wg sync.WaitGroup
}

func New(
	tasks domain.TaskRepository,
	creds domain.CredentialSource,
	gateway domain.TransferGateway,
	guard domain.RunGuard,
	publisher domain.EventPublisher,
	clock clockwork.Clock,
	cfg config.GatewayConfig,
	logger *zerolog.Logger,
) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{
		tasks:     tasks,
		creds:     creds,
		gateway:   gateway,
		guard:     guard,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

func (e *Engine) acquire(ctx context.Context, key string) error {
	ok, err := e.guard.TryAcquire(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire run guard: %w", err)
	}
	if !ok {
		return ErrTaskBusy
	}
	return nil
}

func (e *Engine) release(key string) {
	if err := e.guard.Release(context.Background(), key); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("failed to release run guard")
	}
}

// Run performs one attempt synchronously. It fails with ErrTaskBusy when another
// attempt for the task is in progress.
func (e *Engine) Run(ctx context.Context, accountID, taskID string, trigger models.Trigger) (models.RunRecord, error) {
	key := GuardKey(accountID, taskID)
	if err := e.acquire(ctx, key); err != nil {
		return models.RunRecord{}, err
	}
	defer e.release(key)

	return e.reconcile(ctx, accountID, taskID, trigger)
}

// Dispatch starts a manual attempt in the background. The task is visibly running
// before Dispatch returns.
func (e *Engine) Dispatch(ctx context.Context, accountID, taskID string) error {
	key := GuardKey(accountID, taskID)
	if err := e.acquire(ctx, key); err != nil {
		return err
	}

	_, err := e.tasks.Update(accountID, taskID, func(t *models.Task) error {
		if t.Status == models.StatusStopped {
			return ErrTaskStopped
		}
		t.Transition(models.StatusRunning, MsgManualQueued, e.clock.Now())
		return nil
	})
	if err != nil {
		e.release(key)
		return err
	}

	// the attempt outlives the request that started it
	runCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release(key)
		if _, err := e.reconcile(runCtx, accountID, taskID, models.TriggerManual); err != nil {
			e.logger.Warn().Err(err).
				Str("account_id", accountID).
				Str("task_id", taskID).
				Msg("manual run aborted")
		}
	}()
	return nil
}

// Wait blocks until every dispatched attempt has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// result is what an attempt decided, before it is written back to the task.
type result struct {
	outcome     models.RunOutcome
	message     string
	fileCount   int
	transferred int
	// share is the link the attempt listed; an edit during the run replaces it.
	share models.ShareRef
}

func (e *Engine) reconcile(ctx context.Context, accountID, taskID string, trigger models.Trigger) (models.RunRecord, error) {
	rec := models.RunRecord{
		AccountID: accountID,
		TaskID:    taskID,
		Trigger:   trigger,
		StartedAt: e.clock.Now(),
	}
	log := e.logger.With().
		Str("account_id", accountID).
		Str("task_id", taskID).
		Str("trigger", string(trigger)).
		Logger()

	res, err := e.safeAttempt(ctx, accountID, taskID, trigger, &log)
	if err != nil {
		// the task vanished or is stopped; there is nothing to write back
		log.Info().Err(err).Msg("run abandoned")
		return rec, err
	}

	now := e.clock.Now()
	final, err := e.tasks.Update(accountID, taskID, func(t *models.Task) error {
		if res.outcome == models.OutcomeTransferred {
			if t.Share == res.share {
				t.LastSuccessDate = Today(now)
			}
			t.HistoryCount++
		}
		status := terminalStatus(trigger, res.outcome, t.Schedule)
		if t.Status == models.StatusStopped {
			status = models.StatusStopped
		}
		t.Transition(status, res.message, now)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("outcome", string(res.outcome)).Msg("failed to record run result")
		if errors.Is(err, domain.ErrTaskNotFound) {
			return rec, err
		}
	}

	rec.Outcome = res.outcome
	rec.Status = final.Status
	if err != nil {
		// the write-back failed; report the status the run would have left
		schedule := ""
		if current, terr := e.tasks.Task(accountID, taskID); terr == nil {
			schedule = current.Schedule
		}
		rec.Status = terminalStatus(trigger, res.outcome, schedule)
	}
	rec.Message = res.message
	rec.FileCount = res.fileCount
	rec.Transferred = res.transferred
	rec.FinishedAt = now

	metrics.ObserveRun(string(trigger), string(res.outcome), now.Sub(rec.StartedAt))
	if e.publisher != nil {
		if perr := e.publisher.PublishJSON(events.EventTaskRunFinished, rec); perr != nil {
			log.Warn().Err(perr).Msg("failed to publish run event")
		}
	}

	log.Info().
		Str("outcome", string(res.outcome)).
		Str("status", string(rec.Status)).
		Int("files", res.fileCount).
		Msg(res.message)
	return rec, err
}

// safeAttempt turns a panic anywhere in the attempt into an error outcome.
func (e *Engine) safeAttempt(ctx context.Context, accountID, taskID string, trigger models.Trigger, log *zerolog.Logger) (res result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("reconciliation panicked")
			res = result{outcome: models.OutcomeError, message: fmt.Sprintf(msgUnexpected, r)}
			err = nil
		}
	}()
	return e.attempt(ctx, accountID, taskID, trigger)
}

// attempt walks one reconciliation. A returned error means the attempt was abandoned
// without an outcome; every other failure is reported through the result.
func (e *Engine) attempt(ctx context.Context, accountID, taskID string, trigger models.Trigger) (result, error) {
	task, err := e.tasks.Task(accountID, taskID)
	if err != nil {
		return result{}, err
	}
	if trigger == models.TriggerScheduled && task.Status == models.StatusStopped {
		return result{}, ErrTaskStopped
	}

	credential, err := e.creds.Credential(accountID)
	if err != nil || credential == "" {
		return result{outcome: models.OutcomeNotConfigured, message: MsgNotConfigured}, nil
	}

	if lockedForToday(&task, trigger, e.clock.Now()) {
		return result{outcome: models.OutcomeSkippedToday, message: MsgSkippedToday}, nil
	}

	if _, err := e.tasks.Update(accountID, taskID, func(t *models.Task) error {
		t.Transition(models.StatusRunning, MsgChecking, e.clock.Now())
		return nil
	}); err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			return result{}, err
		}
		return result{outcome: models.OutcomeError, message: fmt.Sprintf(msgUnexpected, err)}, nil
	}

	listCtx, cancel := withTimeout(ctx, e.cfg.ListTimeout)
	listing, err := e.gateway.ListShare(listCtx, credential, task.Share)
	cancel()
	if err != nil {
		return result{outcome: models.OutcomeListFailed, message: fmt.Sprintf(msgListFailed, err)}, nil
	}
	if len(listing.FileIDs) == 0 {
		return result{outcome: models.OutcomeShareEmpty, message: MsgShareEmpty}, nil
	}

	fingerprint := share.Fingerprint(listing.FileIDs)
	res := result{fileCount: len(listing.FileIDs), share: task.Share}

	if unchanged(&task, trigger, fingerprint) {
		res.outcome, res.message = models.OutcomeUnchanged, MsgUnchanged
		return res, nil
	}

	if _, err := e.tasks.Update(accountID, taskID, func(t *models.Task) error {
		if t.Share != task.Share {
			return nil
		}
		fp := fingerprint
		t.ContentFingerprint = &fp
		return nil
	}); err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			return result{}, err
		}
		res.outcome, res.message = models.OutcomeError, fmt.Sprintf(msgUnexpected, err)
		return res, nil
	}

	transferCtx, cancel := withTimeout(ctx, e.cfg.TransferTimeout)
	transferred, err := e.gateway.Transfer(transferCtx, credential, task.Destination, task.Share, listing.FileIDs)
	cancel()
	if err != nil {
		res.outcome, res.message = models.OutcomeRejected, fmt.Sprintf(msgTransferFailed, err)
		return res, nil
	}

	res.outcome = models.OutcomeTransferred
	res.transferred = transferred.Count
	res.message = fmt.Sprintf(msgTransferred, transferred.Count)
	return res, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
