package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharemirror/internal/models"
)

func newTask(id string) models.Task {
	return models.Task{
		ID:        id,
		Name:      "task " + id,
		Share:     models.ShareRef{URL: "https://115.com/s/" + id, Code: id},
		Status:    models.StatusPending,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestTaskStoreInsertNewestFirstAndPersist(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewTaskStore(fs, "data", nil)
	require.NoError(t, s.Load())

	require.NoError(t, s.Insert("acc1", newTask("a")))
	require.NoError(t, s.Insert("acc1", newTask("b")))

	tasks := s.Tasks("acc1")
	require.Len(t, tasks, 2)
	assert.Equal(t, "b", tasks[0].ID)
	assert.Equal(t, "a", tasks[1].ID)

	reloaded := NewTaskStore(fs, "data", nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, tasks, reloaded.Tasks("acc1"))
	assert.Equal(t, []string{"acc1"}, reloaded.AccountIDs())

	assert.ErrorIs(t, s.Insert("acc1", newTask("a")), ErrTaskExists)
}

func TestTaskStoreFileIsAlwaysValidJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewTaskStore(fs, "data", nil)
	require.NoError(t, s.Insert("acc1", newTask("a")))

	raw, err := afero.ReadFile(fs, filepath.Join("data", "acc1", tasksFile))
	require.NoError(t, err)
	var decoded []models.Task
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Len(t, decoded, 1)

	// no temp files left behind
	entries, err := afero.ReadDir(fs, filepath.Join("data", "acc1"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}

func TestTaskStoreReturnsCopies(t *testing.T) {
	s := NewTaskStore(afero.NewMemMapFs(), "data", nil)
	fp := "1,2"
	task := newTask("a")
	task.ContentFingerprint = &fp
	require.NoError(t, s.Insert("acc1", task))

	got, err := s.Task("acc1", "a")
	require.NoError(t, err)
	got.Name = "mutated"
	*got.ContentFingerprint = "mutated"

	again, err := s.Task("acc1", "a")
	require.NoError(t, err)
	assert.Equal(t, "task a", again.Name)
	assert.Equal(t, "1,2", *again.ContentFingerprint)
}

func TestTaskStoreUpdate(t *testing.T) {
	s := NewTaskStore(afero.NewMemMapFs(), "data", nil)
	require.NoError(t, s.Insert("acc1", newTask("a")))

	updated, err := s.Update("acc1", "a", func(task *models.Task) error {
		task.Status = models.StatusScheduled
		task.ID = "hijack"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, updated.Status)
	assert.Equal(t, "a", updated.ID)

	_, err = s.Update("acc1", "missing", func(*models.Task) error { return nil })
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = s.Update("nobody", "a", func(*models.Task) error { return nil })
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskStoreUpdateCallbackErrorLeavesTask(t *testing.T) {
	s := NewTaskStore(afero.NewMemMapFs(), "data", nil)
	require.NoError(t, s.Insert("acc1", newTask("a")))
	boom := errors.New("boom")

	_, err := s.Update("acc1", "a", func(task *models.Task) error {
		task.Status = models.StatusRunning
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.Task("acc1", "a")
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestTaskStoreWriteFailureLeavesTask(t *testing.T) {
	base := afero.NewMemMapFs()
	s := NewTaskStore(base, "data", nil)
	require.NoError(t, s.Insert("acc1", newTask("a")))

	s.fs = afero.NewReadOnlyFs(base)
	_, err := s.Update("acc1", "a", func(task *models.Task) error {
		task.Status = models.StatusSuccess
		return nil
	})
	require.Error(t, err)

	got, _ := s.Task("acc1", "a")
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestTaskStoreDelete(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewTaskStore(fs, "data", nil)
	require.NoError(t, s.Insert("acc1", newTask("a")))
	require.NoError(t, s.Insert("acc1", newTask("b")))

	require.NoError(t, s.Delete("acc1", "a"))
	assert.ErrorIs(t, s.Delete("acc1", "a"), ErrTaskNotFound)

	reloaded := NewTaskStore(fs, "data", nil)
	require.NoError(t, reloaded.Load())
	tasks := reloaded.Tasks("acc1")
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].ID)
}

func TestTaskStoreUnknownAccountIsEmpty(t *testing.T) {
	s := NewTaskStore(afero.NewMemMapFs(), "data", nil)
	assert.NotNil(t, s.Tasks("nobody"))
	assert.Empty(t, s.Tasks("nobody"))
	_, err := s.Task("nobody", "x")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskStoreLoadCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(filepath.Join("data", "acc1"), 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join("data", "acc1", tasksFile), []byte("{nope"), 0o644))

	s := NewTaskStore(fs, "data", nil)
	assert.Error(t, s.Load())
}

func TestTaskStoreConcurrentUpdates(t *testing.T) {
	s := NewTaskStore(afero.NewMemMapFs(), "data", nil)
	require.NoError(t, s.Insert("acc1", newTask("a")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update("acc1", "a", func(task *models.Task) error {
				task.HistoryCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := s.Task("acc1", "a")
	assert.Equal(t, 20, got.HistoryCount)
}

func TestAccountStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewAccountStore(fs, "data", nil)
	require.NoError(t, s.Load())

	acc := models.Account{ID: "u1", Username: "Alice", PasswordHash: "h"}
	require.NoError(t, s.CreateAccount(acc))
	assert.ErrorIs(t, s.CreateAccount(models.Account{ID: "u2", Username: "alice"}), ErrAccountExists)

	got, err := s.AccountByName("ALICE")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	cred, err := s.Credential("u1")
	require.NoError(t, err)
	assert.Equal(t, "", cred)

	require.NoError(t, s.SetConfig("u1", models.AccountConfig{Cookie: " UID=1; CID=2 ", RemoteName: "alice115"}))

	reloaded := NewAccountStore(fs, "data", nil)
	require.NoError(t, reloaded.Load())
	cred, err = reloaded.Credential("u1")
	require.NoError(t, err)
	assert.Equal(t, "UID=1; CID=2", cred)
	cfg, err := reloaded.Config("u1")
	require.NoError(t, err)
	assert.Equal(t, "alice115", cfg.RemoteName)

	_, err = reloaded.Credential("ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, reloaded.SetConfig("ghost", models.AccountConfig{}), ErrAccountNotFound)
}
