package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"sharemirror/internal/domain"
	"sharemirror/internal/engine"
	"sharemirror/internal/events"
	"sharemirror/internal/models"
	"sharemirror/internal/scheduler"
	"sharemirror/internal/share"
)

const defaultRunsLimit = 20

var defaultDestination = models.Destination{ID: "0", Name: "root"}

// TaskSpec is what a user supplies to create a task.
type TaskSpec struct {
	Name        string
	ShareURL    string
	Secret      string
	Schedule    string
	Destination models.Destination
}

// TaskPatch carries the fields an edit changes; nil means unchanged.
type TaskPatch struct {
	Name        *string
	ShareURL    *string
	Secret      *string
	Schedule    *string
	Destination *models.Destination
}

type TaskService struct {
	tasks     domain.TaskRepository
	creds     domain.CredentialSource
	gateway   domain.TransferGateway
	engine    domain.Reconciler
	scheduler domain.Scheduler
	history   domain.RunHistory
	publisher domain.EventPublisher
	clock     clockwork.Clock
	logger    *zerolog.Logger
}

func NewTaskService(
	tasks domain.TaskRepository,
	creds domain.CredentialSource,
	gateway domain.TransferGateway,
	eng domain.Reconciler,
	sched domain.Scheduler,
	history domain.RunHistory,
	publisher domain.EventPublisher,
	clock clockwork.Clock,
	logger *zerolog.Logger,
) *TaskService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TaskService{
		tasks:     tasks,
		creds:     creds,
		gateway:   gateway,
		engine:    eng,
		scheduler: sched,
		history:   history,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

func (s *TaskService) credential(accountID string) (string, error) {
	cred, err := s.creds.Credential(accountID)
	if err != nil {
		return "", err
	}
	if cred == "" {
		return "", ErrNotConfigured
	}
	return cred, nil
}

// CreateTask stores a new task, runs it once right away and arms its schedule.
// Link and listing problems are returned to the caller and nothing is stored.
func (s *TaskService) CreateTask(ctx context.Context, accountID string, spec TaskSpec) (models.Task, error) {
	cred, err := s.credential(accountID)
	if err != nil {
		return models.Task{}, err
	}
	ref, err := share.ParseLink(spec.ShareURL, spec.Secret)
	if err != nil {
		return models.Task{}, err
	}
	listing, err := s.gateway.ListShare(ctx, cred, ref)
	if err != nil {
		return models.Task{}, fmt.Errorf("read share: %w", err)
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = listing.Title
	}
	dest := spec.Destination
	if dest.ID == "" {
		dest = defaultDestination
	}

	now := s.clock.Now()
	task := models.Task{
		ID:          uuid.NewString(),
		Name:        name,
		Share:       ref,
		Destination: dest,
		Schedule:    strings.TrimSpace(spec.Schedule),
		Status:      models.StatusPending,
		CreatedAt:   now,
	}
	task.Transition(models.StatusPending, "task created", now)
	if err := s.tasks.Insert(accountID, task); err != nil {
		return models.Task{}, err
	}

	log := s.logger.With().Str("account_id", accountID).Str("task_id", task.ID).Logger()
	log.Info().Str("share_code", ref.Code).Str("schedule", task.Schedule).Msg("task created")

	if _, err := s.engine.Run(ctx, accountID, task.ID, models.TriggerManual); err != nil {
		log.Warn().Err(err).Msg("first run did not complete")
	}

	armed := s.arm(accountID, task.ID, task.Schedule)
	return s.tasks.Update(accountID, task.ID, func(t *models.Task) error {
		// the first run's message stays visible
		if armed {
			t.Status = models.StatusScheduled
		} else {
			t.Status = models.StatusPending
		}
		t.UpdatedAt = s.clock.Now()
		return nil
	})
}

// UpdateTask edits a task. A changed link forgets the fingerprint so the next run
// transfers unconditionally.
func (s *TaskService) UpdateTask(ctx context.Context, accountID, taskID string, patch TaskPatch) (models.Task, error) {
	current, err := s.tasks.Task(accountID, taskID)
	if err != nil {
		return models.Task{}, err
	}

	ref := current.Share
	linkChanged := false
	if patch.ShareURL != nil && strings.TrimSpace(*patch.ShareURL) != current.Share.URL {
		secret := ""
		if patch.Secret != nil {
			secret = *patch.Secret
		}
		if ref, err = share.ParseLink(*patch.ShareURL, secret); err != nil {
			return models.Task{}, err
		}
		linkChanged = true
	} else if patch.Secret != nil && strings.TrimSpace(*patch.Secret) != "" {
		ref.Secret = strings.TrimSpace(*patch.Secret)
	}

	s.scheduler.Disarm(engine.GuardKey(accountID, taskID))

	updated, err := s.tasks.Update(accountID, taskID, func(t *models.Task) error {
		if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
			t.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Destination != nil && patch.Destination.ID != "" {
			t.Destination = *patch.Destination
		}
		if patch.Schedule != nil {
			t.Schedule = strings.TrimSpace(*patch.Schedule)
		}
		t.Share = ref
		if linkChanged {
			t.ContentFingerprint = nil
		}

		// a stopped task only wakes up when its schedule is edited
		if t.Status == models.StatusRunning || (t.Status == models.StatusStopped && patch.Schedule == nil) {
			t.UpdatedAt = s.clock.Now()
			return nil
		}
		if scheduler.Valid(t.Schedule) {
			t.Transition(models.StatusScheduled, engine.MsgScheduled, s.clock.Now())
		} else {
			t.Transition(models.StatusPending, engine.MsgManualOnly, s.clock.Now())
		}
		return nil
	})
	if err != nil {
		return models.Task{}, err
	}

	if updated.Status != models.StatusStopped {
		s.arm(accountID, taskID, updated.Schedule)
	}
	s.logger.Info().
		Str("account_id", accountID).
		Str("task_id", taskID).
		Bool("link_changed", linkChanged).
		Str("status", string(updated.Status)).
		Msg("task updated")
	return updated, nil
}

// DeleteTask disarms and removes the task. Its run history goes with it.
func (s *TaskService) DeleteTask(ctx context.Context, accountID, taskID string) error {
	s.scheduler.Disarm(engine.GuardKey(accountID, taskID))
	if err := s.tasks.Delete(accountID, taskID); err != nil {
		return err
	}
	if s.publisher != nil {
		if err := s.publisher.PublishJSON(events.EventTaskRemoved, events.TaskRef{AccountID: accountID, TaskID: taskID}); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish task removal")
		}
	}
	s.logger.Info().Str("account_id", accountID).Str("task_id", taskID).Msg("task deleted")
	return nil
}

// RunTaskNow starts a manual run and returns without waiting for it.
func (s *TaskService) RunTaskNow(ctx context.Context, accountID, taskID string) error {
	return s.engine.Dispatch(ctx, accountID, taskID)
}

func (s *TaskService) ListTasks(accountID string) []models.Task {
	return s.tasks.Tasks(accountID)
}

func (s *TaskService) GetTask(accountID, taskID string) (models.Task, error) {
	return s.tasks.Task(accountID, taskID)
}

// StopTask disarms the task and keeps it out of the boot-time re-arm.
func (s *TaskService) StopTask(ctx context.Context, accountID, taskID string) (models.Task, error) {
	s.scheduler.Disarm(engine.GuardKey(accountID, taskID))
	return s.tasks.Update(accountID, taskID, func(t *models.Task) error {
		t.Transition(models.StatusStopped, engine.MsgStopped, s.clock.Now())
		return nil
	})
}

// StartTask brings a stopped task back to rest and re-arms it.
func (s *TaskService) StartTask(ctx context.Context, accountID, taskID string) (models.Task, error) {
	updated, err := s.tasks.Update(accountID, taskID, func(t *models.Task) error {
		if t.Status == models.StatusRunning {
			return engine.ErrTaskBusy
		}
		status := engine.IdleStatus(t.Schedule)
		msg := engine.MsgScheduled
		if status == models.StatusPending {
			msg = engine.MsgManualOnly
		}
		t.Transition(status, msg, s.clock.Now())
		return nil
	})
	if err != nil {
		return models.Task{}, err
	}
	s.arm(accountID, taskID, updated.Schedule)
	return updated, nil
}

// Restore re-arms persisted tasks after a restart. Safe to call more than once.
func (s *TaskService) Restore(ctx context.Context) (int, error) {
	armed := 0
	for _, accountID := range s.tasks.AccountIDs() {
		for _, task := range s.tasks.Tasks(accountID) {
			if task.Status == models.StatusRunning {
				resumed, err := s.tasks.Update(accountID, task.ID, func(t *models.Task) error {
					engine.Resume(t, s.clock.Now())
					return nil
				})
				if err != nil {
					return armed, fmt.Errorf("normalize task %s: %w", task.ID, err)
				}
				task = resumed
			}
			if task.Status == models.StatusStopped {
				continue
			}
			if s.arm(accountID, task.ID, task.Schedule) {
				armed++
			}
		}
	}
	s.logger.Info().Int("armed", armed).Msg("tasks restored")
	return armed, nil
}

// TaskRuns returns the most recent runs of a task, newest first.
func (s *TaskService) TaskRuns(ctx context.Context, accountID, taskID string, limit int) ([]models.RunRecord, error) {
	if _, err := s.tasks.Task(accountID, taskID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	return s.history.ListRuns(ctx, accountID, taskID, limit)
}

// arm reports whether a timer is now armed for the task.
func (s *TaskService) arm(accountID, taskID, schedule string) bool {
	key := engine.GuardKey(accountID, taskID)
	if !scheduler.Valid(schedule) {
		s.scheduler.Disarm(key)
		return false
	}
	if err := s.scheduler.Arm(key, schedule, s.fire(accountID, taskID)); err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to arm schedule")
		return false
	}
	return true
}

func (s *TaskService) fire(accountID, taskID string) func(ctx context.Context) {
	return func(ctx context.Context) {
		_, err := s.engine.Run(ctx, accountID, taskID, models.TriggerScheduled)
		switch {
		case err == nil:
		case errors.Is(err, engine.ErrTaskBusy):
			s.logger.Warn().Str("account_id", accountID).Str("task_id", taskID).Msg("scheduled firing dropped, task busy")
		case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, engine.ErrTaskStopped):
			s.scheduler.Disarm(engine.GuardKey(accountID, taskID))
		default:
			s.logger.Error().Err(err).Str("account_id", accountID).Str("task_id", taskID).Msg("scheduled firing failed")
		}
	}
}
