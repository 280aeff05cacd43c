package service

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sharemirror/internal/gateway"
	"sharemirror/internal/models"
	"sharemirror/internal/store"
)

func newAccountService(t *testing.T) (*AccountService, *mockGateway, *store.AccountStore) {
	t.Helper()
	accounts := store.NewAccountStore(afero.NewMemMapFs(), "data", nil)
	require.NoError(t, accounts.Load())
	gw := new(mockGateway)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 10, 30, 0, 0, time.UTC))
	return NewAccountService(accounts, gw, clock, nil), gw, accounts
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _, _ := newAccountService(t)

	account, err := svc.Register("  alice ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)
	assert.NotEmpty(t, account.ID)
	assert.NotEqual(t, "secret1", account.PasswordHash)

	_, err = svc.Register("ALICE", "another1")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	got, err := svc.Authenticate("alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	_, err = svc.Authenticate("alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidLogin)
	_, err = svc.Authenticate("bob", "secret1")
	assert.ErrorIs(t, err, ErrInvalidLogin)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newAccountService(t)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"short username", "al", "secret1"},
		{"long username", "abcdefghijklmnopqrstuvwxyz0123456", "secret1"},
		{"short password", "alice", "12345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(tt.username, tt.password)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestSetCredential(t *testing.T) {
	svc, gw, accounts := newAccountService(t)
	account, err := svc.Register("alice", "secret1")
	require.NoError(t, err)

	gw.On("VerifyCredential", mock.Anything, "UID=1; CID=2").Return("alice-drive", nil).Once()
	cfg, err := svc.SetCredential(context.Background(), account.ID, "  UID=1; CID=2 ")
	require.NoError(t, err)
	assert.Equal(t, "alice-drive", cfg.RemoteName)

	stored, err := svc.Config(account.ID)
	require.NoError(t, err)
	assert.Equal(t, "UID=1; CID=2", stored.Cookie)
	cred, err := accounts.Credential(account.ID)
	require.NoError(t, err)
	assert.Equal(t, "UID=1; CID=2", cred)

	gw.On("VerifyCredential", mock.Anything, "stale").Return("", gateway.ErrAuthExpired).Once()
	_, err = svc.SetCredential(context.Background(), account.ID, "stale")
	assert.ErrorIs(t, err, gateway.ErrAuthExpired)
	stored, err = svc.Config(account.ID)
	require.NoError(t, err)
	assert.Equal(t, "UID=1; CID=2", stored.Cookie, "rejected cookie is not stored")

	_, err = svc.SetCredential(context.Background(), account.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	gw.AssertExpectations(t)
}

func TestFolders(t *testing.T) {
	svc, gw, _ := newAccountService(t)
	account, err := svc.Register("alice", "secret1")
	require.NoError(t, err)

	_, err = svc.Folders(context.Background(), account.ID, "0")
	assert.ErrorIs(t, err, ErrNotConfigured)

	gw.On("VerifyCredential", mock.Anything, "UID=1").Return("drive", nil).Once()
	_, err = svc.SetCredential(context.Background(), account.ID, "UID=1")
	require.NoError(t, err)

	folders := []models.Folder{{ID: "42", Name: "Movies"}}
	gw.On("ListFolders", mock.Anything, "UID=1", "0").Return(folders, nil).Once()
	got, err := svc.Folders(context.Background(), account.ID, "0")
	require.NoError(t, err)
	assert.Equal(t, folders, got)
	gw.AssertExpectations(t)
}
