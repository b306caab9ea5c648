package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user in the gamification domain.
type UserID string

// CategoryID names a point category such as xp or credits.
type CategoryID string

const (
	CategoryXP      CategoryID = "xp"
	CategoryCredits CategoryID = "credits"
)

// Badge represents a named badge identifier.
type Badge string

// Trophy represents a named trophy identifier.
type Trophy string

// UserState is a snapshot of a user's aggregate gamification state.
// Storage implementations return deep copies; callers mutate their copy and
// hand it back through a commit.
type UserState struct {
	UserID   UserID               `json:"user_id"`
	Points   map[CategoryID]int64 `json:"points"`
	Badges   map[Badge]struct{}   `json:"badges"`
	Trophies map[Trophy]struct{}  `json:"trophies"`
	Levels   map[CategoryID]int64 `json:"levels"`
	Updated  time.Time            `json:"updated"`
}

// NewUserState returns an empty state for user.
func NewUserState(user UserID) UserState {
	return UserState{
		UserID:   user,
		Points:   map[CategoryID]int64{},
		Badges:   map[Badge]struct{}{},
		Trophies: map[Trophy]struct{}{},
		Levels:   map[CategoryID]int64{},
		Updated:  time.Now().UTC(),
	}
}

// Clone returns a deep copy of the state.
func (s UserState) Clone() UserState {
	cp := UserState{
		UserID:   s.UserID,
		Points:   make(map[CategoryID]int64, len(s.Points)),
		Badges:   make(map[Badge]struct{}, len(s.Badges)),
		Trophies: make(map[Trophy]struct{}, len(s.Trophies)),
		Levels:   make(map[CategoryID]int64, len(s.Levels)),
		Updated:  s.Updated,
	}
	for k, v := range s.Points {
		cp.Points[k] = v
	}
	for k := range s.Badges {
		cp.Badges[k] = struct{}{}
	}
	for k := range s.Trophies {
		cp.Trophies[k] = struct{}{}
	}
	for k, v := range s.Levels {
		cp.Levels[k] = v
	}
	return cp
}

// Normalize ensures every map is allocated, which matters for states decoded from JSON.
func (s *UserState) Normalize() {
	if s.Points == nil {
		s.Points = map[CategoryID]int64{}
	}
	if s.Badges == nil {
		s.Badges = map[Badge]struct{}{}
	}
	if s.Trophies == nil {
		s.Trophies = map[Trophy]struct{}{}
	}
	if s.Levels == nil {
		s.Levels = map[CategoryID]int64{}
	}
}

// HasBadge reports whether the badge was already awarded.
func (s UserState) HasBadge(b Badge) bool {
	_, ok := s.Badges[b]
	return ok
}

// HasTrophy reports whether the trophy was already awarded.
func (s UserState) HasTrophy(t Trophy) bool {
	_, ok := s.Trophies[t]
	return ok
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateAwardID ensures a non-empty badge or trophy id with a simple charset check.
func ValidateAwardID(id string) error {
	s := strings.TrimSpace(id)
	if s == "" {
		return errors.New("empty award id")
	}
	// simple check: alnum, dash, underscore
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return errors.New("invalid award id")
	}
	return nil
}

// DefaultLevel computes a level from a category total using a sublinear curve.
// level = floor(sqrt(total)/10) + 1, ensuring at least 1.
func DefaultLevel(total int64) int64 {
	if total <= 0 {
		return 1
	}
	lvl := int64(math.Floor(math.Sqrt(float64(total))/10.0)) + 1
	if lvl < 1 {
		return 1
	}
	return lvl
}
