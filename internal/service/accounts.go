package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"sharemirror/internal/domain"
	"sharemirror/internal/models"
	"sharemirror/internal/store"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 6
)

type AccountService struct {
	accounts domain.AccountRepository
	gateway  domain.AccountGateway
	clock    clockwork.Clock
	logger   *zerolog.Logger
}

func NewAccountService(accounts domain.AccountRepository, gateway domain.AccountGateway, clock clockwork.Clock, logger *zerolog.Logger) *AccountService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AccountService{accounts: accounts, gateway: gateway, clock: clock, logger: logger}
}

func (s *AccountService) Register(username, password string) (models.Account, error) {
	username = strings.TrimSpace(username)
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return models.Account{}, fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidInput, minUsernameLen, maxUsernameLen)
	}
	if len(password) < minPasswordLen {
		return models.Account{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	account := models.Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.clock.Now(),
	}
	if err := s.accounts.CreateAccount(account); err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			return models.Account{}, ErrUsernameTaken
		}
		return models.Account{}, err
	}

	s.logger.Info().Str("account_id", account.ID).Str("username", username).Msg("account registered")
	return account, nil
}

// Authenticate checks a username/password pair. Unknown users and wrong passwords
// fail the same way.
func (s *AccountService) Authenticate(username, password string) (models.Account, error) {
	account, err := s.accounts.AccountByName(strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return models.Account{}, ErrInvalidLogin
		}
		return models.Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return models.Account{}, ErrInvalidLogin
	}
	return account, nil
}

// SetCredential verifies the cookie against the remote before storing it.
func (s *AccountService) SetCredential(ctx context.Context, accountID, cookie string) (models.AccountConfig, error) {
	cookie = strings.TrimSpace(cookie)
	if cookie == "" {
		return models.AccountConfig{}, fmt.Errorf("%w: cookie is empty", ErrInvalidInput)
	}
	name, err := s.gateway.VerifyCredential(ctx, cookie)
	if err != nil {
		return models.AccountConfig{}, err
	}

	cfg := models.AccountConfig{Cookie: cookie, RemoteName: name, UpdatedAt: s.clock.Now()}
	if err := s.accounts.SetConfig(accountID, cfg); err != nil {
		return models.AccountConfig{}, err
	}
	s.logger.Info().Str("account_id", accountID).Str("remote_name", name).Msg("credential updated")
	return cfg, nil
}

func (s *AccountService) Config(accountID string) (models.AccountConfig, error) {
	return s.accounts.Config(accountID)
}

// Folders lists the sub-folders of parentID in the account's own drive.
func (s *AccountService) Folders(ctx context.Context, accountID, parentID string) ([]models.Folder, error) {
	cred, err := s.accounts.Credential(accountID)
	if err != nil {
		return nil, err
	}
	if cred == "" {
		return nil, ErrNotConfigured
	}
	return s.gateway.ListFolders(ctx, cred, parentID)
}
