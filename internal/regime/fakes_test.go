package regime

import (
	"context"
	"sort"
	"time"

	"canslim-monitor/internal/models"
	"canslim-monitor/internal/store"
)

// fakeStore is an in-memory stand-in for *store.SQLiteStore, mirroring its
// query semantics closely enough for the trackers.
type fakeStore struct {
	dds        []models.DistributionDay
	counts     []models.DistributionDayCount
	overrides  []models.DistributionDayOverride
	rallies    []models.RallyAttempt
	ftds       []models.FollowThroughDay
	phases     []models.PhaseChange
	snaps      []models.RegimeSnapshot
	overnights []models.OvernightTrend
	nextID     int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) SaveDistributionDay(_ context.Context, dd *models.DistributionDay) error {
	for _, existing := range f.dds {
		if existing.Symbol == dd.Symbol && existing.Date.Equal(dd.Date) {
			return nil
		}
	}
	dd.ID = f.id()
	f.dds = append(f.dds, *dd)
	return nil
}

func (f *fakeStore) GetDistributionDays(_ context.Context, filter store.DistributionDayFilter) ([]models.DistributionDay, error) {
	var out []models.DistributionDay
	for _, d := range f.dds {
		if filter.Symbol != "" && d.Symbol != filter.Symbol {
			continue
		}
		if filter.ActiveOnly && d.Expired {
			continue
		}
		if !filter.StartDate.IsZero() && d.Date.Before(filter.StartDate) {
			continue
		}
		if !filter.EndDate.IsZero() && d.Date.After(filter.EndDate) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) ExpireDistributionDay(_ context.Context, id int64, reason models.ExpiryReason, date time.Time) error {
	for i := range f.dds {
		if f.dds[i].ID == id {
			f.dds[i].Expired = true
			f.dds[i].ExpiryReason = reason
			d := date
			f.dds[i].ExpiryDate = &d
			return nil
		}
	}
	return nil
}

func (f *fakeStore) SaveDailyCount(_ context.Context, count *models.DistributionDayCount) error {
	for i := range f.counts {
		if f.counts[i].Date.Equal(count.Date) {
			count.ID = f.counts[i].ID
			f.counts[i] = *count
			return nil
		}
	}
	count.ID = f.id()
	f.counts = append(f.counts, *count)
	return nil
}

func (f *fakeStore) GetDailyCount(_ context.Context, date time.Time) (*models.DistributionDayCount, error) {
	for _, c := range f.counts {
		if c.Date.Equal(date) {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetCountOnOrBefore(_ context.Context, date time.Time) (*models.DistributionDayCount, error) {
	var best *models.DistributionDayCount
	for i := range f.counts {
		c := f.counts[i]
		if c.Date.After(date) {
			continue
		}
		if best == nil || c.Date.After(best.Date) {
			out := c
			best = &out
		}
	}
	return best, nil
}

func (f *fakeStore) SaveOverride(_ context.Context, ov *models.DistributionDayOverride) error {
	ov.ID = f.id()
	f.overrides = append(f.overrides, *ov)
	return nil
}

func (f *fakeStore) GetOverrides(_ context.Context, date time.Time, symbol string) ([]models.DistributionDayOverride, error) {
	var out []models.DistributionDayOverride
	for _, ov := range f.overrides {
		if !ov.Date.Equal(date) {
			continue
		}
		if symbol != "" && ov.Symbol != symbol {
			continue
		}
		out = append(out, ov)
	}
	// Newest first
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) SaveRallyAttempt(_ context.Context, ra *models.RallyAttempt) error {
	ra.ID = f.id()
	f.rallies = append(f.rallies, *ra)
	return nil
}

func (f *fakeStore) UpdateRallyAttempt(_ context.Context, ra *models.RallyAttempt) error {
	for i := range f.rallies {
		if f.rallies[i].ID == ra.ID {
			f.rallies[i] = *ra
			return nil
		}
	}
	return nil
}

func (f *fakeStore) GetActiveRallyAttempt(_ context.Context, symbol string) (*models.RallyAttempt, error) {
	for i := len(f.rallies) - 1; i >= 0; i-- {
		if f.rallies[i].Symbol == symbol && f.rallies[i].Active {
			out := f.rallies[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetRallyAttempts(_ context.Context, filter store.RallyFilter) ([]models.RallyAttempt, error) {
	var out []models.RallyAttempt
	for _, ra := range f.rallies {
		if filter.Symbol != "" && ra.Symbol != filter.Symbol {
			continue
		}
		if filter.ActiveOnly && !ra.Active {
			continue
		}
		out = append(out, ra)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) SaveFollowThroughDay(_ context.Context, ftd *models.FollowThroughDay) error {
	ftd.ID = f.id()
	f.ftds = append(f.ftds, *ftd)
	return nil
}

func (f *fakeStore) GetLatestConfirmedFTD(_ context.Context, symbol string) (*models.FollowThroughDay, error) {
	var best *models.FollowThroughDay
	for i := range f.ftds {
		ftd := f.ftds[i]
		if ftd.Symbol != symbol || !ftd.Confirmed {
			continue
		}
		if best == nil || ftd.Date.After(best.Date) {
			out := ftd
			best = &out
		}
	}
	return best, nil
}

func (f *fakeStore) MarkFTDFailed(_ context.Context, id int64, date time.Time, reason string) error {
	for i := range f.ftds {
		if f.ftds[i].ID == id {
			f.ftds[i].Failed = true
			f.ftds[i].Confirmed = false
			d := date
			f.ftds[i].FailureDate = &d
			f.ftds[i].FailureReason = reason
			return nil
		}
	}
	return nil
}

func (f *fakeStore) GetFollowThroughDays(_ context.Context, filter store.FTDFilter) ([]models.FollowThroughDay, error) {
	var out []models.FollowThroughDay
	for _, ftd := range f.ftds {
		if filter.Symbol != "" && ftd.Symbol != filter.Symbol {
			continue
		}
		if filter.ConfirmedOnly && !ftd.Confirmed {
			continue
		}
		out = append(out, ftd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) SavePhaseChange(_ context.Context, pc *models.PhaseChange) error {
	pc.ID = f.id()
	f.phases = append(f.phases, *pc)
	return nil
}

func (f *fakeStore) GetCurrentPhase(_ context.Context) (*models.PhaseChange, error) {
	if len(f.phases) == 0 {
		return nil, nil
	}
	out := f.phases[len(f.phases)-1]
	return &out, nil
}

func (f *fakeStore) GetPhaseHistory(_ context.Context, limit int) ([]models.PhaseChange, error) {
	out := make([]models.PhaseChange, 0, len(f.phases))
	for i := len(f.phases) - 1; i >= 0; i-- {
		out = append(out, f.phases[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) SaveSnapshot(_ context.Context, snap *models.RegimeSnapshot) error {
	for i := range f.snaps {
		if f.snaps[i].Date.Equal(snap.Date) {
			snap.ID = f.snaps[i].ID
			snap.AlertSent = f.snaps[i].AlertSent
			snap.AlertSentAt = f.snaps[i].AlertSentAt
			f.snaps[i] = *snap
			return nil
		}
	}
	snap.ID = f.id()
	f.snaps = append(f.snaps, *snap)
	return nil
}

func (f *fakeStore) GetSnapshot(_ context.Context, date time.Time) (*models.RegimeSnapshot, error) {
	for i := range f.snaps {
		if f.snaps[i].Date.Equal(date) {
			out := f.snaps[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetLatestSnapshotBefore(_ context.Context, date time.Time) (*models.RegimeSnapshot, error) {
	var best *models.RegimeSnapshot
	for i := range f.snaps {
		s := f.snaps[i]
		if !s.Date.Before(date) {
			continue
		}
		if best == nil || s.Date.After(best.Date) {
			out := s
			best = &out
		}
	}
	return best, nil
}

func (f *fakeStore) SaveOvernightTrend(_ context.Context, ot *models.OvernightTrend) error {
	ot.ID = f.id()
	f.overnights = append(f.overnights, *ot)
	return nil
}

func (f *fakeStore) GetOvernightTrend(_ context.Context, date time.Time) (*models.OvernightTrend, error) {
	for i := range f.overnights {
		if f.overnights[i].Date.Equal(date) {
			out := f.overnights[i]
			return &out, nil
		}
	}
	return nil, nil
}

// Bar-building helpers shared by the tracker tests.

func testDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nextTradingDay(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func testBar(date time.Time, close float64, volume int64) models.Bar {
	return models.Bar{
		Date:   date,
		Open:   close,
		High:   close * 1.005,
		Low:    close * 0.995,
		Close:  close,
		Volume: volume,
	}
}

// flatBars builds n consecutive weekday bars at the same price and volume.
func flatBars(start time.Time, n int, close float64, volume int64) []models.Bar {
	bars := make([]models.Bar, 0, n)
	d := start
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	for i := 0; i < n; i++ {
		bars = append(bars, testBar(d, close, volume))
		d = nextTradingDay(d)
	}
	return bars
}

// appendBar extends a series by one trading day at the given close and
// volume.
func appendBar(bars []models.Bar, close float64, volume int64) []models.Bar {
	next := nextTradingDay(bars[len(bars)-1].Date)
	return append(bars, testBar(next, close, volume))
}

func lastDate(bars []models.Bar) time.Time {
	return models.Day(bars[len(bars)-1].Date)
}
