package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// AggregationPeriod represents different time periods for aggregation
type AggregationPeriod string

const (
	PeriodDaily   AggregationPeriod = "daily"
	PeriodWeekly  AggregationPeriod = "weekly"
	PeriodMonthly AggregationPeriod = "monthly"
)

// AggregatedData is a rollup of Metrics over one period.
type AggregatedData struct {
	Period    AggregationPeriod `json:"period"`
	Key       string            `json:"key"` // e.g., "2024-01-01" for daily, "2024-W01" for weekly
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`

	ActiveUsers   int   `json:"active_users"`
	PointsAwarded int64 `json:"points_awarded"`
	PointsSpent   int64 `json:"points_spent"`
	BadgesAwarded int64 `json:"badges_awarded"`
	Failures      int64 `json:"failures"`

	CreatedAt time.Time `json:"created_at"`
}

// Aggregator periodically rolls Metrics up into daily, weekly and monthly
// records and hands them to an Exporter.
type Aggregator struct {
	mu       sync.RWMutex
	metrics  *Metrics
	exporter Exporter
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	rollups map[AggregationPeriod]map[string]*AggregatedData
}

// NewAggregator creates an aggregator; exporter may be nil.
func NewAggregator(metrics *Metrics, exporter Exporter, interval time.Duration, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		metrics:  metrics,
		exporter: exporter,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		rollups: map[AggregationPeriod]map[string]*AggregatedData{
			PeriodDaily:   {},
			PeriodWeekly:  {},
			PeriodMonthly: {},
		},
	}
}

// AggregateNow computes the rollups for the current day, week and month
// and exports them.
func (a *Aggregator) AggregateNow(ctx context.Context) error {
	now := a.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekday := (int(day.Weekday()) + 6) % 7 // Monday = 0
	weekStart := day.AddDate(0, 0, -weekday)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	out := []*AggregatedData{
		a.rollup(PeriodDaily, dayKey(day), day, day.AddDate(0, 0, 1), a.metrics.DailyActiveUsers(dayKey(day)), now),
		a.rollup(PeriodWeekly, weekKey(day), weekStart, weekStart.AddDate(0, 0, 7), a.metrics.WeeklyActiveUsers(weekKey(day)), now),
		a.rollup(PeriodMonthly, monthKey(day), monthStart, monthStart.AddDate(0, 1, 0), a.metrics.MonthlyActiveUsers(monthKey(day)), now),
	}

	a.mu.Lock()
	for _, d := range out {
		a.rollups[d.Period][d.Key] = d
	}
	a.mu.Unlock()

	if a.exporter == nil {
		return nil
	}
	for _, d := range out {
		if err := a.exporter.Export(ctx, d); err != nil {
			return fmt.Errorf("export %s %s: %w", d.Period, d.Key, err)
		}
	}
	return a.exporter.Flush(ctx)
}

func (a *Aggregator) rollup(p AggregationPeriod, key string, start, end time.Time, active int, now time.Time) *AggregatedData {
	d := &AggregatedData{Period: p, Key: key, StartTime: start, EndTime: end, ActiveUsers: active, CreatedAt: now}
	for t := start; t.Before(end); t = t.AddDate(0, 0, 1) {
		k := dayKey(t)
		d.PointsAwarded += a.metrics.PointsAwarded(k)
		d.PointsSpent += a.metrics.PointsSpent(k)
		d.BadgesAwarded += a.metrics.BadgesAwarded(k)
		d.Failures += a.metrics.Failures(k)
	}
	return d
}

// Get returns the rollup for a period key.
func (a *Aggregator) Get(period AggregationPeriod, key string) (*AggregatedData, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d, ok := a.rollups[period][key]
	return d, ok
}

// All returns every rollup of a period ordered by key.
func (a *Aggregator) All(period AggregationPeriod) []*AggregatedData {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*AggregatedData, 0, len(a.rollups[period]))
	for _, d := range a.rollups[period] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ExportJSON encodes every rollup of a period.
func (a *Aggregator) ExportJSON(period AggregationPeriod) ([]byte, error) {
	return json.MarshalIndent(a.All(period), "", "  ")
}

// Start aggregates on every tick until ctx is done.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	if err := a.AggregateNow(ctx); err != nil {
		a.logger.Warn("initial aggregation failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.AggregateNow(ctx); err != nil {
				a.logger.Warn("periodic aggregation failed", "error", err)
			}
		}
	}
}
