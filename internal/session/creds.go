package session

import (
	"errors"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/wtchat/wtchat/internal/lock"
)

type persistedCreds struct {
	UserID int64  `toml:"user_id"`
	Token  string `toml:"token"`
}

// SaveCredentials writes the current identity to the session directory so
// later wtctl invocations can reuse it. The session directory is flocked
// for the duration of the write.
func (s *Session) SaveCredentials() error {
	l, err := lock.Acquire(Dir(s.name))
	if err != nil {
		return err
	}
	defer func() { _ = l.Release() }()

	s.mu.RLock()
	creds := persistedCreds{UserID: s.userID, Token: s.token}
	s.mu.RUnlock()

	f, err := os.OpenFile(CredentialsPath(s.name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(creds)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadCredentials restores a persisted identity if one exists. A missing
// file is not an error; the session simply stays unauthenticated.
func (s *Session) LoadCredentials() error {
	var creds persistedCreds
	_, err := toml.DecodeFile(CredentialsPath(s.name), &creds)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if creds.Token != "" {
		s.mu.Lock()
		s.userID = creds.UserID
		s.token = creds.Token
		s.mu.Unlock()
	}
	return nil
}

// ClearCredentials removes the persisted credentials file.
func (s *Session) ClearCredentials() error {
	l, err := lock.Acquire(Dir(s.name))
	if err != nil {
		return err
	}
	defer func() { _ = l.Release() }()

	err = os.Remove(CredentialsPath(s.name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
