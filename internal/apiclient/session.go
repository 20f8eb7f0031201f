package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Credentials is what a Session persists between runs.
type Credentials struct {
	AccessToken string `json:"access_token"`
	TherapistID int64  `json:"therapist_id,omitempty"`
	Email       string `json:"email,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	// ReturnTo is where the user was when the session expired.
	ReturnTo string `json:"return_to,omitempty"`
}

type TokenStore interface {
	Load() (Credentials, error)
	Save(Credentials) error
	Clear() error
}

// Session is the only holder of the bearer token. Every request reads the
// token from it and every 401 ends it.
type Session struct {
	mu       sync.RWMutex
	creds    Credentials
	location string
	store    TokenStore
	onExpire func(returnTo string)
}

// NewSession restores persisted credentials from store. A nil store keeps
// the session in memory only.
func NewSession(store TokenStore) (*Session, error) {
	s := &Session{store: store}
	if store == nil {
		return s, nil
	}
	creds, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	s.creds = creds
	return s, nil
}

// OnExpire registers a callback run after a 401 ended the session.
func (s *Session) OnExpire(fn func(returnTo string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = fn
}

func (s *Session) Begin(c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.ReturnTo = s.creds.ReturnTo
	s.creds = c
	if s.store != nil {
		return s.store.Save(c)
	}
	return nil
}

// End logs out on purpose. Nothing is kept for a later redirect.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = Credentials{}
	if s.store != nil {
		return s.store.Clear()
	}
	return nil
}

// Expire drops the token after the server rejected it. It remembers the
// last visited location, or returnTo when nothing was visited.
func (s *Session) Expire(returnTo string) {
	s.mu.Lock()
	if s.location != "" {
		returnTo = s.location
	}
	s.creds = Credentials{ReturnTo: returnTo}
	store, fn := s.store, s.onExpire
	s.mu.Unlock()

	if store != nil {
		_ = store.Save(Credentials{ReturnTo: returnTo})
	}
	if fn != nil {
		fn(returnTo)
	}
}

// Visit records where the user currently is.
func (s *Session) Visit(location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = location
}

func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken, s.creds.AccessToken != ""
}

func (s *Session) Authenticated() bool {
	_, ok := s.Token()
	return ok
}

func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// ReturnTo returns the location saved by the last expiry and forgets it.
func (s *Session) ReturnTo() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.creds.ReturnTo
	if r == "" {
		return ""
	}
	s.creds.ReturnTo = ""
	if s.store != nil {
		_ = s.store.Save(s.creds)
	}
	return r
}

// FileStore keeps credentials in a JSON file readable only by the owner.
type FileStore struct {
	Path string
}

func (f FileStore) Load() (Credentials, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, err
	}
	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credentials{}, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	return c, nil
}

func (f FileStore) Save(c Credentials) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, raw, 0o600)
}

func (f FileStore) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
