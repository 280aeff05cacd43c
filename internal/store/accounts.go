package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"sharemirror/internal/models"
)

var (
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
)

const (
	usersFile  = "users.json"
	configFile = "config.json"
)

// AccountStore persists accounts in users.json and each account's credential in
// <account>/config.json.
type AccountStore struct {
	fs     afero.Fs
	dir    string
	logger *zerolog.Logger

	mu       sync.RWMutex
	accounts []models.Account
	configs  map[string]models.AccountConfig
}

func NewAccountStore(fs afero.Fs, dataDir string, logger *zerolog.Logger) *AccountStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AccountStore{
		fs:      fs,
		dir:     dataDir,
		logger:  logger,
		configs: make(map[string]models.AccountConfig),
	}
}

func (s *AccountStore) Load() error {
	var accounts []models.Account
	if _, err := readSnapshot(s.fs, filepath.Join(s.dir, usersFile), &accounts); err != nil {
		return err
	}

	configs := make(map[string]models.AccountConfig, len(accounts))
	for _, a := range accounts {
		var cfg models.AccountConfig
		found, err := readSnapshot(s.fs, s.configPath(a.ID), &cfg)
		if err != nil {
			return err
		}
		if found {
			configs[a.ID] = cfg
		}
	}

	s.mu.Lock()
	s.accounts = accounts
	s.configs = configs
	s.mu.Unlock()

	s.logger.Info().Int("accounts", len(accounts)).Msg("accounts loaded")
	return nil
}

func (s *AccountStore) configPath(accountID string) string {
	return filepath.Join(s.dir, accountID, configFile)
}

// CreateAccount appends account; usernames are unique ignoring case.
func (s *AccountStore) CreateAccount(account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, account.Username) || a.ID == account.ID {
			return ErrAccountExists
		}
	}

	next := append(append([]models.Account(nil), s.accounts...), account)
	if err := writeSnapshot(s.fs, filepath.Join(s.dir, usersFile), next, 0o600); err != nil {
		return fmt.Errorf("persist accounts: %w", err)
	}
	s.accounts = next
	return nil
}

func (s *AccountStore) AccountByName(username string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, username) {
			return a, nil
		}
	}
	return models.Account{}, ErrAccountNotFound
}

func (s *AccountStore) Account(accountID string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.ID == accountID {
			return a, nil
		}
	}
	return models.Account{}, ErrAccountNotFound
}

// Config returns the stored remote configuration; an unconfigured account gets the zero value.
func (s *AccountStore) Config(accountID string) (models.AccountConfig, error) {
	if _, err := s.Account(accountID); err != nil {
		return models.AccountConfig{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configs[accountID], nil
}

func (s *AccountStore) SetConfig(accountID string, cfg models.AccountConfig) error {
	if _, err := s.Account(accountID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeSnapshot(s.fs, s.configPath(accountID), cfg, 0o600); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	s.configs[accountID] = cfg
	return nil
}

// Credential returns the account's cookie, "" when none is configured.
func (s *AccountStore) Credential(accountID string) (string, error) {
	cfg, err := s.Config(accountID)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(cfg.Cookie), nil
}
