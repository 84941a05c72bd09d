package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sparedes88/projector/pkg/broadcast"
)

type screenKey struct {
	tenant string
	id     string
}

type memoryWatcher struct {
	ch chan broadcast.Screen
}

// Memory is an in-process Store. It is the default backend for a single
// server and the reference backend in tests.
type Memory struct {
	mu       sync.Mutex
	screens  map[screenKey]*broadcast.Screen
	songs    map[screenKey]*broadcast.Song
	signals  map[screenKey][]broadcast.SignalEntry
	seqs     map[screenKey]int64
	watchers map[screenKey]map[*memoryWatcher]bool
	now      func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		screens:  make(map[screenKey]*broadcast.Screen),
		songs:    make(map[screenKey]*broadcast.Song),
		signals:  make(map[screenKey][]broadcast.SignalEntry),
		seqs:     make(map[screenKey]int64),
		watchers: make(map[screenKey]map[*memoryWatcher]bool),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateScreen stores a new screen at version 1
func (m *Memory) CreateScreen(ctx context.Context, screen broadcast.Screen) (broadcast.Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := screenKey{screen.Tenant, screen.ID}
	if _, exists := m.screens[key]; exists {
		return broadcast.Screen{}, fmt.Errorf("screen %s: %w", screen.ID, broadcast.ErrExists)
	}

	stored := screen.Clone()
	stored.Version = 1
	stored.UpdatedAt = m.now()
	m.screens[key] = &stored
	return stored.Clone(), nil
}

// GetScreen returns a copy of one screen
func (m *Memory) GetScreen(ctx context.Context, tenant, id string) (broadcast.Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	screen, exists := m.screens[screenKey{tenant, id}]
	if !exists {
		return broadcast.Screen{}, fmt.Errorf("screen %s: %w", id, broadcast.ErrNotFound)
	}
	return screen.Clone(), nil
}

// ListScreens returns the tenant's screens ordered by name
func (m *Memory) ListScreens(ctx context.Context, tenant string) ([]broadcast.Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	screens := make([]broadcast.Screen, 0)
	for key, screen := range m.screens {
		if key.tenant == tenant {
			screens = append(screens, screen.Clone())
		}
	}
	sortScreens(screens)
	return screens, nil
}

// DeleteScreen removes a screen and closes its watchers
func (m *Memory) DeleteScreen(ctx context.Context, tenant, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := screenKey{tenant, id}
	if _, exists := m.screens[key]; !exists {
		return fmt.Errorf("screen %s: %w", id, broadcast.ErrNotFound)
	}
	delete(m.screens, key)
	delete(m.signals, key)
	delete(m.seqs, key)
	for w := range m.watchers[key] {
		close(w.ch)
	}
	delete(m.watchers, key)
	return nil
}

// UpdateScreen applies fn under the store lock and notifies watchers
func (m *Memory) UpdateScreen(ctx context.Context, tenant, id string, expectedVersion int64, fn func(*broadcast.Screen) error) (broadcast.Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := screenKey{tenant, id}
	current, exists := m.screens[key]
	if !exists {
		return broadcast.Screen{}, fmt.Errorf("screen %s: %w", id, broadcast.ErrNotFound)
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		return broadcast.Screen{}, fmt.Errorf("screen %s at version %d, expected %d: %w",
			id, current.Version, expectedVersion, broadcast.ErrConflict)
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return broadcast.Screen{}, err
	}
	next.Tenant, next.ID = tenant, id
	next.Version = current.Version + 1
	next.UpdatedAt = m.now()
	m.screens[key] = &next

	for w := range m.watchers[key] {
		offerLatest(w.ch, next.Clone())
	}
	return next.Clone(), nil
}

// WatchScreen registers a coalescing watcher seeded with the current record
func (m *Memory) WatchScreen(ctx context.Context, tenant, id string) (<-chan broadcast.Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := screenKey{tenant, id}
	current, exists := m.screens[key]
	if !exists {
		return nil, fmt.Errorf("screen %s: %w", id, broadcast.ErrNotFound)
	}

	w := &memoryWatcher{ch: make(chan broadcast.Screen, 1)}
	w.ch <- current.Clone()
	if m.watchers[key] == nil {
		m.watchers[key] = make(map[*memoryWatcher]bool)
	}
	m.watchers[key][w] = true

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.watchers[key][w] {
			delete(m.watchers[key], w)
			close(w.ch)
		}
	}()
	return w.ch, nil
}

// CreateSong stores a song, assigning an id when empty
func (m *Memory) CreateSong(ctx context.Context, song broadcast.Song) (broadcast.Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	key := screenKey{song.Tenant, song.ID}
	if _, exists := m.songs[key]; exists {
		return broadcast.Song{}, fmt.Errorf("song %s: %w", song.ID, broadcast.ErrExists)
	}
	stored := song.Clone()
	stored.UpdatedAt = m.now()
	m.songs[key] = &stored
	return stored.Clone(), nil
}

// GetSong returns one song
func (m *Memory) GetSong(ctx context.Context, tenant, id string) (broadcast.Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	song, exists := m.songs[screenKey{tenant, id}]
	if !exists {
		return broadcast.Song{}, fmt.Errorf("song %s: %w", id, broadcast.ErrNotFound)
	}
	return song.Clone(), nil
}

// ListSongs returns the tenant's songs ordered by title
func (m *Memory) ListSongs(ctx context.Context, tenant string) ([]broadcast.Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	songs := make([]broadcast.Song, 0)
	for key, song := range m.songs {
		if key.tenant == tenant {
			songs = append(songs, song.Clone())
		}
	}
	sortSongs(songs)
	return songs, nil
}

// UpdateSong replaces an existing song
func (m *Memory) UpdateSong(ctx context.Context, song broadcast.Song) (broadcast.Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := screenKey{song.Tenant, song.ID}
	if _, exists := m.songs[key]; !exists {
		return broadcast.Song{}, fmt.Errorf("song %s: %w", song.ID, broadcast.ErrNotFound)
	}
	stored := song.Clone()
	stored.UpdatedAt = m.now()
	m.songs[key] = &stored
	return stored.Clone(), nil
}

// DeleteSong removes a song. Screens that reference it are left alone.
func (m *Memory) DeleteSong(ctx context.Context, tenant, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := screenKey{tenant, id}
	if _, exists := m.songs[key]; !exists {
		return fmt.Errorf("song %s: %w", id, broadcast.ErrNotFound)
	}
	delete(m.songs, key)
	return nil
}

// AppendSignal adds an entry with the next sequence number
func (m *Memory) AppendSignal(ctx context.Context, tenant, screenID string, entry broadcast.SignalEntry) (broadcast.SignalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := screenKey{tenant, screenID}
	m.seqs[key]++
	entry.Seq = m.seqs[key]
	if entry.At.IsZero() {
		entry.At = m.now()
	}
	m.signals[key] = append(m.signals[key], entry)
	return entry, nil
}

// Signals returns entries after since, in order
func (m *Memory) Signals(ctx context.Context, tenant, screenID string, since int64) ([]broadcast.SignalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]broadcast.SignalEntry, 0)
	for _, entry := range m.signals[screenKey{tenant, screenID}] {
		if entry.Seq > since {
			out = append(out, entry)
		}
	}
	return out, nil
}

// ClearSignals drops the log. Sequence numbers keep increasing afterwards.
func (m *Memory) ClearSignals(ctx context.Context, tenant, screenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.signals, screenKey{tenant, screenID})
	return nil
}

func sortScreens(screens []broadcast.Screen) {
	sort.Slice(screens, func(i, j int) bool {
		if screens[i].Name != screens[j].Name {
			return screens[i].Name < screens[j].Name
		}
		return screens[i].ID < screens[j].ID
	})
}

func sortSongs(songs []broadcast.Song) {
	sort.Slice(songs, func(i, j int) bool {
		if songs[i].Title != songs[j].Title {
			return songs[i].Title < songs[j].Title
		}
		return songs[i].ID < songs[j].ID
	})
}
