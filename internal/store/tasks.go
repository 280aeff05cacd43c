package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"sharemirror/internal/domain"
	"sharemirror/internal/models"
)

var (
	ErrTaskNotFound = domain.ErrTaskNotFound
	ErrTaskExists   = errors.New("task already exists")
)

const tasksFile = "tasks.json"

type accountTasks struct {
	mu    sync.Mutex
	tasks []models.Task
}

// TaskStore keeps every account's task list in memory and writes the whole list back on
// each mutation. Callers only ever see copies.
type TaskStore struct {
	fs     afero.Fs
	dir    string
	logger *zerolog.Logger

	mu       sync.RWMutex
	accounts map[string]*accountTasks
}

func NewTaskStore(fs afero.Fs, dataDir string, logger *zerolog.Logger) *TaskStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TaskStore{
		fs:       fs,
		dir:      dataDir,
		logger:   logger,
		accounts: make(map[string]*accountTasks),
	}
}

func (s *TaskStore) path(accountID string) string {
	return filepath.Join(s.dir, accountID, tasksFile)
}

// Load reads every <account>/tasks.json under the data directory.
func (s *TaskStore) Load() error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return fmt.Errorf("scan data dir: %w", err)
	}

	loaded := make(map[string]*accountTasks)
	total := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var tasks []models.Task
		found, err := readSnapshot(s.fs, s.path(e.Name()), &tasks)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		loaded[e.Name()] = &accountTasks{tasks: tasks}
		total += len(tasks)
	}

	s.mu.Lock()
	s.accounts = loaded
	s.mu.Unlock()

	s.logger.Info().Int("accounts", len(loaded)).Int("tasks", total).Msg("tasks loaded")
	return nil
}

func (s *TaskStore) account(accountID string, create bool) *accountTasks {
	s.mu.RLock()
	a := s.accounts[accountID]
	s.mu.RUnlock()
	if a != nil || !create {
		return a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a = s.accounts[accountID]; a == nil {
		a = &accountTasks{}
		s.accounts[accountID] = a
	}
	return a
}

// AccountIDs lists accounts that own at least one loaded or inserted task list.
func (s *TaskStore) AccountIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tasks returns the account's tasks, newest first.
func (s *TaskStore) Tasks(accountID string) []models.Task {
	out := []models.Task{}
	a := s.account(accountID, false)
	if a == nil {
		return out
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.tasks {
		out = append(out, a.tasks[i].Clone())
	}
	return out
}

func (s *TaskStore) Task(accountID, taskID string) (models.Task, error) {
	a := s.account(accountID, false)
	if a == nil {
		return models.Task{}, ErrTaskNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if i := indexOf(a.tasks, taskID); i >= 0 {
		return a.tasks[i].Clone(), nil
	}
	return models.Task{}, ErrTaskNotFound
}

// Insert puts task at the head of the account's list.
func (s *TaskStore) Insert(accountID string, task models.Task) error {
	a := s.account(accountID, true)
	a.mu.Lock()
	defer a.mu.Unlock()
	if indexOf(a.tasks, task.ID) >= 0 {
		return ErrTaskExists
	}

	next := make([]models.Task, 0, len(a.tasks)+1)
	next = append(next, task.Clone())
	next = append(next, a.tasks...)
	return s.commit(accountID, a, next)
}

// Update applies fn to a copy of the task and persists the result. When fn or the write
// fails the stored task is left as it was.
func (s *TaskStore) Update(accountID, taskID string, fn func(*models.Task) error) (models.Task, error) {
	a := s.account(accountID, false)
	if a == nil {
		return models.Task{}, ErrTaskNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	i := indexOf(a.tasks, taskID)
	if i < 0 {
		return models.Task{}, ErrTaskNotFound
	}
	updated := a.tasks[i].Clone()
	if err := fn(&updated); err != nil {
		return models.Task{}, err
	}
	updated.ID = taskID

	next := append([]models.Task(nil), a.tasks...)
	next[i] = updated
	if err := s.commit(accountID, a, next); err != nil {
		return models.Task{}, err
	}
	return updated.Clone(), nil
}

func (s *TaskStore) Delete(accountID, taskID string) error {
	a := s.account(accountID, false)
	if a == nil {
		return ErrTaskNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	i := indexOf(a.tasks, taskID)
	if i < 0 {
		return ErrTaskNotFound
	}
	next := make([]models.Task, 0, len(a.tasks)-1)
	next = append(next, a.tasks[:i]...)
	next = append(next, a.tasks[i+1:]...)
	return s.commit(accountID, a, next)
}

// commit must be called with a.mu held.
func (s *TaskStore) commit(accountID string, a *accountTasks, next []models.Task) error {
	if err := writeSnapshot(s.fs, s.path(accountID), next, 0o644); err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("failed to persist tasks")
		return fmt.Errorf("persist tasks: %w", err)
	}
	a.tasks = next
	return nil
}

func indexOf(tasks []models.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}
