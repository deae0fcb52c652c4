package presence

import (
	"context"
	"sort"
	"sync"
)

// Entry is the presence record for one user.
type Entry struct {
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Online      bool   `json:"online"`
	Connections int    `json:"-"`
}

// Registry tracks which users are connected and their display info.
//
// Connect and Remove are reference counted per user: a user stays online until
// the last of their connections is removed. Offline users keep their entry so
// display info survives reconnects.
type Registry interface {
	// Connect records a new live connection. first is true when the user was offline.
	Connect(ctx context.Context, userID string) (entry Entry, first bool, err error)
	// Remove drops one live connection. last is true when the user went offline.
	Remove(ctx context.Context, userID string) (entry Entry, last bool, err error)
	// Upsert updates display info without touching connectivity. Empty fields are kept.
	Upsert(ctx context.Context, userID, name, email string) (Entry, error)
	Get(ctx context.Context, userID string) (Entry, bool, error)
	// List returns online entries ordered by user id.
	List(ctx context.Context) ([]Entry, error)
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]*Entry)}
}

func (r *MemoryRegistry) entry(userID string) *Entry {
	e, ok := r.entries[userID]
	if !ok {
		e = &Entry{UserID: userID}
		r.entries[userID] = e
	}
	return e
}

func (r *MemoryRegistry) Connect(_ context.Context, userID string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(userID)
	e.Connections++
	e.Online = true
	return *e, e.Connections == 1, nil
}

func (r *MemoryRegistry) Remove(_ context.Context, userID string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok || e.Connections == 0 {
		return Entry{UserID: userID}, false, nil
	}
	e.Connections--
	if e.Connections == 0 {
		e.Online = false
		return *e, true, nil
	}
	return *e, false, nil
}

func (r *MemoryRegistry) Upsert(_ context.Context, userID, name, email string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(userID)
	if name != "" {
		e.Name = name
	}
	if email != "" {
		e.Email = email
	}
	return *e, nil
}

func (r *MemoryRegistry) Get(_ context.Context, userID string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		return Entry{}, false, nil
	}
	return *e, true, nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Online {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
