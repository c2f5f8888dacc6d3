package notifications

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage. Suitable for development and testing.
type MemoryStorage struct {
	mu            sync.RWMutex
	notifications map[string]*Notification
	preferences   map[string]Preferences
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		notifications: make(map[string]*Notification),
		preferences:   make(map[string]Preferences),
	}
}

var _ Storage = (*MemoryStorage)(nil)

func (s *MemoryStorage) Create(_ context.Context, n Notification) error {
	if n.ID == "" || n.UserID == "" {
		return errors.New("notification id and user id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[n.ID]; ok {
		return errors.New("notification already exists")
	}
	stored := copyNotification(&n)
	stored.DeliveredChannels = intersectChannels(n.Channels, n.DeliveredChannels)
	s.notifications[n.ID] = &stored
	return nil
}

func (s *MemoryStorage) Get(_ context.Context, id string) (Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return Notification{}, ErrNotificationNotFound
	}
	return copyNotification(n), nil
}

func (s *MemoryStorage) List(_ context.Context, userID string, opts ListOptions) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Notification
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		if opts.OnlyUnread && n.Read {
			continue
		}
		if len(opts.Types) > 0 && !slices.Contains(opts.Types, n.Type) {
			continue
		}
		if opts.Category != "" && n.Category != opts.Category {
			continue
		}
		if opts.Since != nil && n.CreatedAt.Before(*opts.Since) {
			continue
		}
		out = append(out, copyNotification(n))
	}

	// newest first
	slices.SortFunc(out, func(a, b Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if opts.Offset >= len(out) {
		return []Notification{}, nil
	}
	end := len(out)
	if opts.Limit > 0 && opts.Offset+opts.Limit < end {
		end = opts.Offset + opts.Limit
	}
	return out[opts.Offset:end], nil
}

func (s *MemoryStorage) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) Stats(_ context.Context, userID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{ByType: make(map[Type]int)}
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		st.Total++
		st.ByType[n.Type]++
		if !n.Read {
			st.Unread++
		}
		if n.ScheduledFor != nil && n.DeliveredAt == nil {
			st.Scheduled++
		}
	}
	return st, nil
}

func (s *MemoryStorage) MarkDelivered(_ context.Context, id string, channels []Channel, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	if n.DeliveredAt != nil {
		return ErrAlreadyDelivered
	}
	n.MarkDelivered(channels, at)
	return nil
}

func (s *MemoryStorage) AddDeliveredChannel(_ context.Context, id string, ch Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.AddDelivered(ch)
	return nil
}

func (s *MemoryStorage) MarkRead(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return false, ErrNotificationNotFound
	}
	return n.MarkAsRead(at), nil
}

func (s *MemoryStorage) MarkAllRead(_ context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && n.MarkAsRead(at) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) ListDue(_ context.Context, now time.Time, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Notification
	for _, n := range s.notifications {
		if n.ScheduledFor != nil && n.DeliveredAt == nil && !n.ScheduledFor.After(now) {
			out = append(out, copyNotification(n))
		}
	}
	slices.SortFunc(out, func(a, b Notification) int {
		return a.ScheduledFor.Compare(*b.ScheduledFor)
	})
	return truncate(out, limit), nil
}

func (s *MemoryStorage) ListCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Notification
	for _, n := range s.notifications {
		if n.CreatedAt.Before(cutoff) {
			out = append(out, copyNotification(n))
		}
	}
	slices.SortFunc(out, func(a, b Notification) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return truncate(out, limit), nil
}

func (s *MemoryStorage) DeleteByIDs(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, id := range ids {
		if _, ok := s.notifications[id]; ok {
			delete(s.notifications, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, n := range s.notifications {
		if n.CreatedAt.Before(cutoff) {
			delete(s.notifications, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) GetPreferences(_ context.Context, userID string) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.preferences[userID]
	if !ok {
		return Preferences{}, ErrPreferencesNotFound
	}
	return p.clone(), nil
}

func (s *MemoryStorage) CreatePreferences(_ context.Context, p Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.preferences[p.UserID]; ok {
		return ErrPreferencesExist
	}
	s.preferences[p.UserID] = p.clone()
	return nil
}

func (s *MemoryStorage) UpdatePreferences(_ context.Context, p Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.preferences[p.UserID]; !ok {
		return ErrPreferencesNotFound
	}
	s.preferences[p.UserID] = p.clone()
	return nil
}

func (s *MemoryStorage) ListDigestPreferences(_ context.Context) ([]Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Preferences
	for _, p := range s.preferences {
		if p.Digest.Enabled {
			out = append(out, p.clone())
		}
	}
	slices.SortFunc(out, func(a, b Preferences) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

func copyNotification(n *Notification) Notification {
	out := *n
	out.Channels = slices.Clone(n.Channels)
	out.DeliveredChannels = slices.Clone(n.DeliveredChannels)
	out.Tags = slices.Clone(n.Tags)
	out.Metadata = cloneMetadata(n.Metadata)
	return out
}

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
