package services

import (
	"context"
	"fmt"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

// StatsService serves the dashboard queries. Balance and category stats come
// straight from the ledger; historical series come from the pre-aggregated
// buckets, densified so charts always get a contiguous axis.
type StatsService struct {
	store storage.Store
}

func NewStatsService(store storage.Store) *StatsService {
	return &StatsService{store: store}
}

func (s *StatsService) Balance(ctx context.Context, userID string, from, to core.Date) (core.Balance, error) {
	if from.After(to) {
		return core.Balance{}, core.ErrInvalidDate
	}
	return s.store.GetBalance(ctx, userID, from, to)
}

func (s *StatsService) Categories(ctx context.Context, userID string, from, to core.Date) ([]core.CategorySum, error) {
	if from.After(to) {
		return nil, core.ErrInvalidDate
	}
	return s.store.GetCategorySums(ctx, userID, from, to)
}

// HistoricalData returns one bucket per day of the month, or per month of
// the year. Days with no transactions appear as explicit zero buckets.
func (s *StatsService) HistoricalData(ctx context.Context, q storage.HistoricalQuery) ([]core.HistoryBucket, error) {
	if !q.Timeframe.Valid() {
		return nil, core.ErrInvalidTimeframe
	}
	if q.Timeframe == core.TimeframeMonth && (q.Month < 1 || q.Month > 12) {
		return nil, fmt.Errorf("%w: month %d", core.ErrInvalidDate, q.Month)
	}

	stored, err := s.store.GetHistoryBuckets(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get history buckets: %w", err)
	}

	if q.Timeframe == core.TimeframeMonth {
		return denseMonth(q.Year, q.Month, stored), nil
	}
	return denseYear(q.Year, stored), nil
}

// HistoryYears lists the years that have any ledger activity. A brand-new
// account still gets the current year so period pickers have something to
// show.
func (s *StatsService) HistoryYears(ctx context.Context, userID string) ([]int, error) {
	years, err := s.store.GetHistoryYears(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get history years: %w", err)
	}
	if len(years) == 0 {
		return []int{time.Now().UTC().Year()}, nil
	}
	return years, nil
}

func denseMonth(year, month int, stored []core.HistoryBucket) []core.HistoryBucket {
	byDay := make(map[int]core.HistoryBucket, len(stored))
	for _, b := range stored {
		byDay[b.Day] = b
	}

	days := daysInMonth(year, month)
	out := make([]core.HistoryBucket, 0, days)
	for day := 1; day <= days; day++ {
		if b, ok := byDay[day]; ok {
			out = append(out, b)
			continue
		}
		out = append(out, core.HistoryBucket{Year: year, Month: month, Day: day})
	}
	return out
}

func denseYear(year int, stored []core.HistoryBucket) []core.HistoryBucket {
	byMonth := make(map[int]core.HistoryBucket, len(stored))
	for _, b := range stored {
		byMonth[b.Month] = b
	}

	out := make([]core.HistoryBucket, 0, 12)
	for month := 1; month <= 12; month++ {
		if b, ok := byMonth[month]; ok {
			out = append(out, b)
			continue
		}
		out = append(out, core.HistoryBucket{Year: year, Month: month})
	}
	return out
}

// daysInMonth uses the day-zero trick: day 0 of the next month is the last
// day of this one.
func daysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
