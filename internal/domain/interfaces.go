package domain

import (
	"context"

	"sharemirror/internal/models"
)

// TransferGateway is the remote cloud service: it lists shares and copies their files.
// Implementations never retry; callers own the retry policy.
type TransferGateway interface {
	ListShare(ctx context.Context, credential string, ref models.ShareRef) (*models.ShareListing, error)
	Transfer(ctx context.Context, credential string, dest models.Destination, ref models.ShareRef, fileIDs []string) (*models.TransferResult, error)
}

type AccountGateway interface {
	VerifyCredential(ctx context.Context, credential string) (string, error)
	ListFolders(ctx context.Context, credential, parentID string) ([]models.Folder, error)
}

type CredentialSource interface {
	Credential(accountID string) (string, error)
}

type TaskRepository interface {
	AccountIDs() []string
	Tasks(accountID string) []models.Task
	Task(accountID, taskID string) (models.Task, error)
	Insert(accountID string, task models.Task) error
	Update(accountID, taskID string, fn func(*models.Task) error) (models.Task, error)
	Delete(accountID, taskID string) error
}

type AccountRepository interface {
	CreateAccount(account models.Account) error
	AccountByName(username string) (models.Account, error)
	Account(accountID string) (models.Account, error)
	Config(accountID string) (models.AccountConfig, error)
	SetConfig(accountID string, cfg models.AccountConfig) error
	CredentialSource
}

// RunGuard gives at most one holder per key at a time.
type RunGuard interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Scheduler interface {
	Arm(key, expr string, fn func(ctx context.Context)) error
	Disarm(key string)
	Armed(key string) bool
}

type Reconciler interface {
	Run(ctx context.Context, accountID, taskID string, trigger models.Trigger) (models.RunRecord, error)
	Dispatch(ctx context.Context, accountID, taskID string) error
}

type RunHistory interface {
	ListRuns(ctx context.Context, accountID, taskID string, limit int) ([]models.RunRecord, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
