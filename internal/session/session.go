package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/casaway/stories-service/pkg/config"
	"github.com/casaway/stories-service/pkg/logger"
	"go.uber.org/fx"
)

var ErrNoSession = errors.New("no stored session")

// Session holds the authenticated user's token and cached identity. The
// browser app kept these in ambient localStorage reads; here the session is an
// explicit object with a load/save/clear lifecycle.
type Session struct {
	Token    string    `json:"token"`
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	SavedAt  time.Time `json:"savedAt"`
}

type Store interface {
	Load() (*Session, error)
	Save(s *Session) error
	Clear() error

	// Token returns the bearer token of the loaded session, or "" when none.
	Token() string
	// CurrentUserID returns the user ID of the loaded session, or "" when none.
	CurrentUserID() string
}

type Opts struct {
	fx.In

	Config *config.Config
	Logger logger.Logger
}

// FileStore persists the session as a JSON file, mirroring how the parser bot
// keeps its Instagram session on disk.
type FileStore struct {
	path   string
	logger logger.Logger

	mu      sync.RWMutex
	current *Session
}

func NewFileStore(opts Opts) *FileStore {
	return &FileStore{
		path:   opts.Config.Session.Path,
		logger: opts.Logger,
	}
}

var _ Store = (*FileStore)(nil)

func (f *FileStore) Load() (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}

	f.current = &s
	return &s, nil
}

func (f *FileStore) Save(s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s.SavedAt = time.Now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	f.current = s
	return nil
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.current = nil
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (f *FileStore) Token() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current == nil {
		return ""
	}
	return f.current.Token
}

func (f *FileStore) CurrentUserID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current == nil {
		return ""
	}
	return f.current.UserID
}
