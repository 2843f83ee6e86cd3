package credential

import (
	"sync"

	"github.com/google/uuid"
	snowyerr "github.com/turtacn/Snowy/pkg/errors"
	"github.com/turtacn/Snowy/pkg/logger"
)

// TokenKey is the prefs key holding the bearer token.
const TokenKey = "app_token"

// Store persists the bridge's bearer credential, generating it on first use.
type Store struct {
	prefs Prefs

	mu    sync.RWMutex
	token string
}

func NewStore(prefs Prefs) *Store {
	return &Store{prefs: prefs}
}

// Ensure returns the persisted token, generating and saving a new one if none exists.
func (s *Store) Ensure() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" {
		return s.token, nil
	}

	token, ok, err := s.prefs.Get(TokenKey)
	if err != nil {
		return "", snowyerr.New(snowyerr.ErrCodeCredentialFailed, "EnsureToken", "reading stored token", err)
	}
	if !ok || token == "" {
		token = uuid.NewString()
		if err := s.prefs.Set(TokenKey, token); err != nil {
			return "", snowyerr.New(snowyerr.ErrCodeCredentialFailed, "EnsureToken", "persisting new token", err)
		}
		logger.Component("credential").Info("Generated new app token")
	}
	s.token = token
	return token, nil
}

// Token returns the token if Ensure has already succeeded.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Personal.AI order the ending
