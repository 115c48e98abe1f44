package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maneesh/qrshare/internal/models"
)

// MemoryStore is an in-process MetadataStore for development and tests
type MemoryStore struct {
	mu            sync.RWMutex
	transfers     map[string]*models.Transfer
	sessions      []*models.TransferSession
	notifications map[string]*models.Notification
	profiles      map[string]*models.Profile
	uploads       map[string]*models.FileUpload
	chunks        map[string][]*models.Chunk
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transfers:     make(map[string]*models.Transfer),
		notifications: make(map[string]*models.Notification),
		profiles:      make(map[string]*models.Profile),
		uploads:       make(map[string]*models.FileUpload),
		chunks:        make(map[string][]*models.Chunk),
	}
}

// newestFirst orders by created_at descending, then id, as the SQL store does
func newestFirst[T any](items []T, created func(T) time.Time, id func(T) string) {
	slices.SortFunc(items, func(a, b T) int {
		if c := created(b).Compare(created(a)); c != 0 {
			return c
		}
		return strings.Compare(id(a), id(b))
	})
}

func (m *MemoryStore) CreateTransfer(_ context.Context, t *models.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transfers[t.ID]; ok {
		return fmt.Errorf("transfer %s already exists", t.ID)
	}
	cp := *t
	m.transfers[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTransfer(_ context.Context, id string) (*models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, fmt.Errorf("transfer %s: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpdateTransfer(_ context.Context, id string, u models.TransferUpdate, now time.Time) (*models.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, fmt.Errorf("transfer %s: %w", id, ErrNotFound)
	}
	next := *t
	if err := next.Apply(u, now); err != nil {
		return nil, err
	}
	m.transfers[id] = &next
	out := next
	return &out, nil
}

func (m *MemoryStore) ListTransfers(_ context.Context, deviceID string) ([]models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Transfer{}
	for _, t := range m.transfers {
		if t.Involves(deviceID) {
			out = append(out, *t)
		}
	}
	newestFirst(out,
		func(t models.Transfer) time.Time { return t.CreatedAt },
		func(t models.Transfer) string { return t.ID },
	)
	return out, nil
}

func (m *MemoryStore) LatestPendingTransfer(ctx context.Context, senderDeviceID string) (*models.Transfer, error) {
	all, _ := m.ListTransfers(ctx, senderDeviceID)
	for _, t := range all {
		if t.SenderDeviceID == senderDeviceID && t.Status == models.StatusPending {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("pending transfer from %s: %w", senderDeviceID, ErrNotFound)
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.TransferSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions = append(m.sessions, &cp)
	return nil
}

func (m *MemoryStore) ClaimSession(_ context.Context, code string, now time.Time) (*models.TransferSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.TransferSession
	for _, s := range m.sessions {
		if s.SessionCode != code || !s.Claimable(now) {
			continue
		}
		if found == nil || s.CreatedAt.After(found.CreatedAt) {
			found = s
		}
	}
	if found == nil {
		return nil, fmt.Errorf("session %s: %w", code, ErrNotFound)
	}
	found.IsActive = false
	cp := *found
	return &cp, nil
}

func (m *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, deviceID string) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Notification{}
	for _, n := range m.notifications {
		if n.DeviceID == deviceID {
			out = append(out, *n)
		}
	}
	newestFirst(out,
		func(n models.Notification) time.Time { return n.CreatedAt },
		func(n models.Notification) string { return n.ID },
	)
	return out, nil
}

func (m *MemoryStore) MarkNotificationRead(_ context.Context, id string) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	n.IsRead = true
	cp := *n
	return &cp, nil
}

func (m *MemoryStore) MarkAllNotificationsRead(_ context.Context, deviceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notifications {
		if n.DeviceID == deviceID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) UpsertProfile(_ context.Context, p *models.Profile) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[p.DeviceID]; ok {
		if p.DisplayName != nil {
			existing.DisplayName = p.DisplayName
		}
		existing.UpdatedAt = p.UpdatedAt
		cp := *existing
		return &cp, nil
	}
	cp := *p
	m.profiles[p.DeviceID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) SaveUpload(_ context.Context, u *models.FileUpload, chunks []*models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.uploads[u.TransferID]; ok {
		delete(m.chunks, prev.ID)
	}
	cp := *u
	m.uploads[u.TransferID] = &cp
	stored := make([]*models.Chunk, len(chunks))
	for i, c := range chunks {
		cc := *c
		stored[i] = &cc
	}
	slices.SortFunc(stored, func(a, b *models.Chunk) int { return a.ChunkNumber - b.ChunkNumber })
	m.chunks[u.ID] = stored
	return nil
}

func (m *MemoryStore) GetUpload(_ context.Context, transferID string) (*models.FileUpload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.uploads[transferID]
	if !ok {
		return nil, fmt.Errorf("upload for %s: %w", transferID, ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetChunks(_ context.Context, uploadID string) ([]*models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Chunk, 0, len(m.chunks[uploadID]))
	for _, c := range m.chunks[uploadID] {
		cc := *c
		out = append(out, &cc)
	}
	return out, nil
}

// MemoryBlobs is an in-process BlobStore
type MemoryBlobs struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryBlobs returns an empty MemoryBlobs
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{objects: make(map[string][]byte)}
}

func (b *MemoryBlobs) UploadChunk(_ context.Context, objectKey string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[objectKey] = slices.Clone(data)
	return nil
}

func (b *MemoryBlobs) DownloadChunk(_ context.Context, objectKey string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", objectKey, ErrNotFound)
	}
	return slices.Clone(data), nil
}

func (b *MemoryBlobs) DeleteChunk(_ context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, objectKey)
	return nil
}

// MemoryFeed is an in-process ChangeFeed
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[*memorySubscription]struct{}
}

// NewMemoryFeed returns a MemoryFeed with no subscribers
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[*memorySubscription]struct{})}
}

// Publish delivers ev to every subscriber of its table. A subscriber whose
// buffer is full misses the event.
func (f *MemoryFeed) Publish(_ context.Context, ev models.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		if sub.table != ev.Table {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(_ context.Context, table string) (Subscription, error) {
	sub := &memorySubscription{
		feed:   f,
		table:  table,
		events: make(chan models.ChangeEvent, 64),
	}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	feed   *MemoryFeed
	table  string
	events chan models.ChangeEvent
	once   sync.Once
}

func (s *memorySubscription) Events() <-chan models.ChangeEvent {
	return s.events
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		close(s.events)
		s.feed.mu.Unlock()
	})
	return nil
}
