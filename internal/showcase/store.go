package showcase

import (
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/switchyard/internal/errors"
)

// User is a registered user.
type User struct {
	ID      int       `json:"id" yaml:"id" msgpack:"id"`
	Name    string    `json:"name" yaml:"name" msgpack:"name"`
	Email   string    `json:"email" yaml:"email" msgpack:"email"`
	Created time.Time `json:"created" yaml:"created" msgpack:"created"`
}

// NewUser is the form accepted by POST /users.
type NewUser struct {
	Name  string
	Email string `param:"email"`
}

// Store keeps users and per-path visit counts in memory.
type Store struct {
	Clock Clock `inject:""`

	mu     sync.RWMutex
	users  map[int]*User
	nextID int
	visits map[string]int
}

func NewStore() (*Store, error) {
	return &Store{users: make(map[int]*User), visits: make(map[string]int)}, nil
}

// AddUser stores a new user.
func (s *Store) AddUser(name, email string) (*User, error) {
	if name == "" {
		return nil, errors.NewBindingError(errors.CodeMissingParam, "name is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := &User{ID: s.nextID, Name: name, Email: email, Created: s.Clock.Now().UTC()}
	s.users[u.ID] = u
	return u, nil
}

// User returns the user with id.
func (s *Store) User(id int) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Users returns every user by id.
func (s *Store) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Visit counts a visit to path.
func (s *Store) Visit(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits[path]++
}

// Visits returns a copy of the visit counts.
func (s *Store) Visits() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.visits))
	for k, v := range s.visits {
		out[k] = v
	}
	return out
}
