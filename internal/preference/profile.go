// Package preference maintains per-user and global preference vectors built
// from interaction events and content feature vectors.
package preference

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/interaction"
	"github.com/onnwee/tripfeed/internal/vector"
)

// Bucket separates sightseeing taste from food taste.
type Bucket string

// Buckets.
const (
	BucketExperience Bucket = "experience"
	BucketFood       Bucket = "food"
)

// Aggregation constants.
const (
	// UserDecayRate is the per-day exponential decay applied to events.
	UserDecayRate = 0.05
	// GlobalDecayRate is the per-day decay applied to profiles by staleness.
	GlobalDecayRate = 0.01
	// MinUsers is the profile count below which the global profile is not recomputed.
	MinUsers = 10

	TextSegmentScale     = vector.TextWeight
	CategorySegmentScale = vector.CategoryWeight
)

// ErrInsufficientData is returned by UpdateGlobalProfile when too few
// profiles exist. It is informational and callers should not surface it.
var ErrInsufficientData = errors.New("insufficient profiles for global aggregation")

// ErrProfileNotFound is returned when no profile is stored for a user.
var ErrProfileNotFound = errors.New("preference profile not found")

// ActionWeights is the base weight of each interaction action.
var ActionWeights = map[interaction.Action]float64{
	interaction.ActionClick:    0.1,
	interaction.ActionDuration: 0.2,
	interaction.ActionDislike:  0.6,
	interaction.ActionLike:     0.8,
	interaction.ActionBookmark: 1.0,
}

// DislikeImpact scales the negated category segment of a dislike per bucket.
var DislikeImpact = map[Bucket]float64{
	BucketExperience: 1.0,
	BucketFood:       0.7,
}

// BucketFor resolves the bucket of a content item from its top-level category.
// Unknown or missing categories fall into the experience bucket.
func BucketFor(category1 string) Bucket {
	if category1 == content.CategoryFood {
		return BucketFood
	}
	return BucketExperience
}

// UserProfile holds a user's normalized preference vectors.
type UserProfile struct {
	UserID     string    `json:"user_id"`
	Experience []float32 `json:"experience"`
	Food       []float32 `json:"food"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Vector returns the profile vector for b.
func (p *UserProfile) Vector(b Bucket) []float32 {
	if b == BucketFood {
		return p.Food
	}
	return p.Experience
}

// GlobalProfile is the decay-weighted average of all user profiles.
type GlobalProfile struct {
	Experience []float32 `json:"experience"`
	Food       []float32 `json:"food"`
	UpdatedAt  time.Time `json:"updated_at"`
	UserCount  int       `json:"user_count"`
}

// Vector returns the profile vector for b.
func (g *GlobalProfile) Vector(b Bucket) []float32 {
	if b == BucketFood {
		return g.Food
	}
	return g.Experience
}

// Store persists user and global profiles.
type Store interface {
	GetUser(ctx context.Context, userID string) (*UserProfile, error)
	SaveUser(ctx context.Context, p *UserProfile) error
	// EachUser calls fn for every stored user profile.
	EachUser(ctx context.Context, fn func(*UserProfile) error) error
	// GetGlobal returns the global profile, or a zero profile if none exists.
	GetGlobal(ctx context.Context) (*GlobalProfile, error)
	SaveGlobal(ctx context.Context, g *GlobalProfile) error
}

// InMemoryStore is an in-memory Store.
type InMemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*UserProfile
	global *GlobalProfile
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[string]*UserProfile)}
}

// GetUser returns a copy of the user's profile.
func (s *InMemoryStore) GetUser(ctx context.Context, userID string) (*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return copyUser(p), nil
}

// SaveUser stores a copy of p.
func (s *InMemoryStore) SaveUser(ctx context.Context, p *UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.UserID] = copyUser(p)
	return nil
}

// EachUser iterates profiles in user ID order.
func (s *InMemoryStore) EachUser(ctx context.Context, fn func(*UserProfile) error) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	profiles := make(map[string]*UserProfile, len(s.users))
	for id, p := range s.users {
		profiles[id] = copyUser(p)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := fn(profiles[id]); err != nil {
			return err
		}
	}
	return nil
}

// GetGlobal returns a copy of the global profile or a zero profile.
func (s *InMemoryStore) GetGlobal(ctx context.Context) (*GlobalProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.global == nil {
		return &GlobalProfile{Experience: vector.Zero(), Food: vector.Zero()}, nil
	}
	g := *s.global
	g.Experience = append([]float32(nil), s.global.Experience...)
	g.Food = append([]float32(nil), s.global.Food...)
	return &g, nil
}

// SaveGlobal stores a copy of g.
func (s *InMemoryStore) SaveGlobal(ctx context.Context, g *GlobalProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	cp.Experience = append([]float32(nil), g.Experience...)
	cp.Food = append([]float32(nil), g.Food...)
	s.global = &cp
	return nil
}

func copyUser(p *UserProfile) *UserProfile {
	cp := *p
	cp.Experience = append([]float32(nil), p.Experience...)
	cp.Food = append([]float32(nil), p.Food...)
	return &cp
}
