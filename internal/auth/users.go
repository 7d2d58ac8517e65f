// Package auth provides the user-credential store and JWT token handling.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lanshare/lanshare/internal/identity"
	"github.com/lanshare/lanshare/internal/logging"
)

var (
	// ErrUserExists is returned by Register for a taken username.
	ErrUserExists = errors.New("username already taken")
	// ErrInvalidCredentials is returned for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is a persisted account. The password field holds a bcrypt hash,
// never the plaintext.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the file-backed user store. Like the catalog it is a plain JSON
// array, rewritten wholesale under a lock, safe to hand-edit while the
// process is stopped.
type Store struct {
	mu    sync.Mutex
	path  string
	users []User
}

// OpenStore loads the user document at path, creating the parent directory
// if needed. Missing or unreadable documents yield an empty store.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("user store unreadable, starting empty",
				zap.String("path", path), zap.Error(err))
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.users); err != nil {
		logging.Warn("user store corrupt, starting empty",
			zap.String("path", path), zap.Error(err))
		s.users = nil
	}
	return s, nil
}

// Register creates a new account with a bcrypt-hashed password.
func (s *Store) Register(name, email, username, password, role string) (*User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return nil, ErrUserExists
		}
	}

	if role == "" {
		role = string(identity.RoleUser)
	}
	user := User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Username:  username,
		Password:  string(hashed),
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	s.users = append(s.users, user)

	if err := s.persist(); err != nil {
		s.users = s.users[:len(s.users)-1]
		return nil, err
	}

	logging.Info("user registered",
		zap.String("username", username), zap.String("role", role))
	return &user, nil
}

// Authenticate checks username and password and returns the account.
func (s *Store) Authenticate(username, password string) (*User, error) {
	s.mu.Lock()
	var found *User
	for i := range s.users {
		if s.users[i].Username == username {
			u := s.users[i]
			found = &u
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(found.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return found, nil
}

// Count returns the number of accounts.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// persist rewrites the whole user document. Callers hold s.mu.
func (s *Store) persist() error {
	users := s.users
	if users == nil {
		users = []User{}
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".users-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp users file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write users: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp users file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace users file: %w", err)
	}
	return nil
}
