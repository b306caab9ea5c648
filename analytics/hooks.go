package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rewardkit/core"
)

// Hook receives domain events for KPI aggregation. Its signature matches
// engine.Handler so hooks subscribe directly to the event bus.
type Hook interface {
	OnEvent(ctx context.Context, e core.DomainEvent)
}

// DAU tracks daily active users.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(_ context.Context, e core.DomainEvent) {
	day := dayKey(e.Time)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

type userSet map[core.UserID]struct{}

func (s userSet) add(u core.UserID) { s[u] = struct{}{} }

// Metrics tracks reward and spending KPIs from the domain event stream.
type Metrics struct {
	mu sync.RWMutex

	dailyActive   map[string]userSet
	weeklyActive  map[string]userSet
	monthlyActive map[string]userSet

	awardedByDay      map[string]int64
	awardedByCategory map[core.CategoryID]int64
	spentByDay        map[string]int64
	spentByCategory   map[core.CategoryID]int64

	badgesByDay   map[string]int64
	badgesByType  map[core.Badge]int64
	badgeHolders  map[core.Badge]userSet
	trophiesByDay map[string]int64

	levelUpsByDay      map[string]int64
	levelDistribution  map[core.CategoryID]map[int64]int
	penaltiesByDay     map[string]int64
	transfersCompleted int64
	transfersFailed    int64
	failuresByDay      map[string]int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		dailyActive:       map[string]userSet{},
		weeklyActive:      map[string]userSet{},
		monthlyActive:     map[string]userSet{},
		awardedByDay:      map[string]int64{},
		awardedByCategory: map[core.CategoryID]int64{},
		spentByDay:        map[string]int64{},
		spentByCategory:   map[core.CategoryID]int64{},
		badgesByDay:       map[string]int64{},
		badgesByType:      map[core.Badge]int64{},
		badgeHolders:      map[core.Badge]userSet{},
		trophiesByDay:     map[string]int64{},
		levelUpsByDay:     map[string]int64{},
		levelDistribution: map[core.CategoryID]map[int64]int{},
		penaltiesByDay:    map[string]int64{},
		failuresByDay:     map[string]int64{},
	}
}

func (m *Metrics) OnEvent(_ context.Context, e core.DomainEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := dayKey(e.Time)
	setFor(m.dailyActive, day).add(e.UserID)
	setFor(m.weeklyActive, weekKey(e.Time)).add(e.UserID)
	setFor(m.monthlyActive, monthKey(e.Time)).add(e.UserID)

	switch e.Type {
	case core.EventPointsAdded:
		if e.Delta > 0 {
			m.awardedByDay[day] += e.Delta
			m.awardedByCategory[e.Category] += e.Delta
		}
	case core.EventPointsSpent:
		if e.Delta < 0 {
			m.spentByDay[day] -= e.Delta
			m.spentByCategory[e.Category] -= e.Delta
		}
	case core.EventBadgeAwarded:
		m.badgesByDay[day]++
		m.badgesByType[e.Badge]++
		setFor(m.badgeHolders, e.Badge).add(e.UserID)
	case core.EventTrophyAwarded:
		m.trophiesByDay[day]++
	case core.EventLevelUp:
		m.levelUpsByDay[day]++
		if m.levelDistribution[e.Category] == nil {
			m.levelDistribution[e.Category] = map[int64]int{}
		}
		m.levelDistribution[e.Category][e.Level]++
	case core.EventPenaltyApplied:
		m.penaltiesByDay[day]++
	case core.EventTransferCompleted:
		m.transfersCompleted++
	case core.EventTransferFailed:
		m.transfersFailed++
		m.failuresByDay[day]++
	case core.EventRewardFailed:
		m.failuresByDay[day]++
	}
}

func setFor[K comparable](sets map[K]userSet, key K) userSet {
	s := sets[key]
	if s == nil {
		s = userSet{}
		sets[key] = s
	}
	return s
}

// DailyActiveUsers returns the distinct users seen on day (YYYY-MM-DD).
func (m *Metrics) DailyActiveUsers(day string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dailyActive[day])
}

// WeeklyActiveUsers takes an ISO week key such as 2024-W05.
func (m *Metrics) WeeklyActiveUsers(week string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.weeklyActive[week])
}

// MonthlyActiveUsers takes a month key such as 2024-01.
func (m *Metrics) MonthlyActiveUsers(month string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.monthlyActive[month])
}

func (m *Metrics) PointsAwarded(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.awardedByDay[day]
}

func (m *Metrics) PointsSpent(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spentByDay[day]
}

func (m *Metrics) PointsAwardedIn(category core.CategoryID) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.awardedByCategory[category]
}

func (m *Metrics) PointsSpentIn(category core.CategoryID) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spentByCategory[category]
}

func (m *Metrics) BadgesAwarded(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.badgesByDay[day]
}

func (m *Metrics) BadgeHolders(badge core.Badge) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.badgeHolders[badge])
}

// LevelCount returns how many level-ups landed on level in category.
func (m *Metrics) LevelCount(category core.CategoryID, level int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levelDistribution[category][level]
}

// Failures counts failed rewards and transfers on day.
func (m *Metrics) Failures(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failuresByDay[day]
}

// Transfers returns completed and failed transfer counts.
func (m *Metrics) Transfers() (completed, failed int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transfersCompleted, m.transfersFailed
}

// CategoryTotal is one row of Summary.TopCategories.
type CategoryTotal struct {
	Category core.CategoryID `json:"category"`
	Awarded  int64           `json:"awarded"`
	Spent    int64           `json:"spent"`
}

// Summary is a point-in-time report across all days.
type Summary struct {
	TopCategories      []CategoryTotal `json:"top_categories"`
	TotalAwarded       int64           `json:"total_awarded"`
	TotalSpent         int64           `json:"total_spent"`
	TotalBadges        int64           `json:"total_badges"`
	TransfersCompleted int64           `json:"transfers_completed"`
	TransfersFailed    int64           `json:"transfers_failed"`
}

// Summary ranks categories by points awarded and returns at most limit of them.
func (m *Metrics) Summary(limit int) Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[core.CategoryID]bool{}
	var rows []CategoryTotal
	for c := range m.awardedByCategory {
		seen[c] = true
	}
	for c := range m.spentByCategory {
		seen[c] = true
	}
	var s Summary
	for c := range seen {
		row := CategoryTotal{Category: c, Awarded: m.awardedByCategory[c], Spent: m.spentByCategory[c]}
		s.TotalAwarded += row.Awarded
		s.TotalSpent += row.Spent
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Awarded != rows[j].Awarded {
			return rows[i].Awarded > rows[j].Awarded
		}
		return rows[i].Category < rows[j].Category
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	s.TopCategories = rows
	for _, n := range m.badgesByType {
		s.TotalBadges += n
	}
	s.TransfersCompleted, s.TransfersFailed = m.transfersCompleted, m.transfersFailed
	return s
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }
