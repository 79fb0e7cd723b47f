package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"canslim-monitor/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Daily OHLCV bars per symbol
	CREATE TABLE IF NOT EXISTS bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		date TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, date)
	);

	-- Raw distribution day detections. Rows are never deleted; expiration
	-- flips expired and records the reason.
	CREATE TABLE IF NOT EXISTS distribution_days (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		date TEXT NOT NULL,
		close_price REAL NOT NULL,
		volume INTEGER NOT NULL,
		pct_change REAL NOT NULL,
		expired INTEGER DEFAULT 0,
		expiry_reason TEXT DEFAULT '',
		expiry_date TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, date)
	);

	-- Daily snapshot of active counts, one row per calendar date
	CREATE TABLE IF NOT EXISTS distribution_day_counts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL UNIQUE,
		sp_count INTEGER NOT NULL,
		nas_count INTEGER NOT NULL,
		sp_dates TEXT DEFAULT '',
		nas_dates TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Manual corrections applied to displayed counts only
	CREATE TABLE IF NOT EXISTS distribution_day_overrides (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		symbol TEXT NOT NULL,
		adjustment INTEGER NOT NULL,
		action TEXT NOT NULL,
		reason TEXT DEFAULT '',
		reference_count INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Rally attempts after corrections
	CREATE TABLE IF NOT EXISTS rally_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		start_date TEXT NOT NULL,
		rally_low REAL NOT NULL,
		rally_low_date TEXT NOT NULL,
		day_count INTEGER NOT NULL,
		active INTEGER DEFAULT 1,
		succeeded INTEGER,
		ftd_date TEXT,
		ftd_gain_pct REAL DEFAULT 0,
		ftd_volume_ratio REAL DEFAULT 0,
		failure_date TEXT,
		failure_reason TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Confirmed follow-through days; failed FTDs stay with failed=1
	CREATE TABLE IF NOT EXISTS follow_through_days (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		date TEXT NOT NULL,
		rally_day INTEGER NOT NULL,
		gain_pct REAL NOT NULL,
		volume INTEGER NOT NULL,
		prior_volume INTEGER NOT NULL,
		volume_ratio REAL NOT NULL,
		close_price REAL NOT NULL,
		rally_low REAL NOT NULL,
		ftd_low REAL NOT NULL,
		confirmed INTEGER DEFAULT 1,
		failed INTEGER DEFAULT 0,
		failure_date TEXT,
		failure_reason TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, date)
	);

	-- Append-only market phase transition log
	CREATE TABLE IF NOT EXISTS market_phase_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		previous_phase TEXT NOT NULL,
		new_phase TEXT NOT NULL,
		change_type TEXT NOT NULL,
		trigger_reason TEXT DEFAULT '',
		sp_dday_count INTEGER DEFAULT 0,
		nas_dday_count INTEGER DEFAULT 0,
		ftd_active INTEGER DEFAULT 0,
		rally_day INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Daily regime snapshots, one row per calendar date
	CREATE TABLE IF NOT EXISTS regime_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL UNIQUE,
		sp_count INTEGER DEFAULT 0,
		nas_count INTEGER DEFAULT 0,
		sp_5day_delta INTEGER DEFAULT 0,
		nas_5day_delta INTEGER DEFAULT 0,
		trend TEXT DEFAULT '',
		sp_dates TEXT DEFAULT '',
		nas_dates TEXT DEFAULT '',
		es_change_pct REAL DEFAULT 0,
		nq_change_pct REAL DEFAULT 0,
		ym_change_pct REAL DEFAULT 0,
		composite_score REAL NOT NULL,
		regime TEXT NOT NULL,
		market_phase TEXT DEFAULT '',
		in_rally_attempt INTEGER DEFAULT 0,
		rally_day INTEGER DEFAULT 0,
		has_confirmed_ftd INTEGER DEFAULT 0,
		ftd_date TEXT,
		days_since_ftd INTEGER,
		component_json TEXT DEFAULT '',
		prior_regime TEXT DEFAULT '',
		prior_score REAL,
		regime_trend TEXT DEFAULT '',
		entry_risk_score REAL DEFAULT 0,
		entry_risk_level TEXT DEFAULT '',
		alert_sent INTEGER DEFAULT 0,
		alert_sent_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Overnight futures captures, one row per calendar date
	CREATE TABLE IF NOT EXISTS overnight_trends (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL UNIQUE,
		es_change_pct REAL DEFAULT 0,
		es_trend TEXT DEFAULT '',
		nq_change_pct REAL DEFAULT 0,
		nq_trend TEXT DEFAULT '',
		ym_change_pct REAL DEFAULT 0,
		ym_trend TEXT DEFAULT '',
		captured_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_bars_symbol_date ON bars(symbol, date);
	CREATE INDEX IF NOT EXISTS idx_ddays_symbol ON distribution_days(symbol);
	CREATE INDEX IF NOT EXISTS idx_ddays_date ON distribution_days(date);
	CREATE INDEX IF NOT EXISTS idx_ddays_expired ON distribution_days(expired);
	CREATE INDEX IF NOT EXISTS idx_dday_counts_date ON distribution_day_counts(date);
	CREATE INDEX IF NOT EXISTS idx_overrides_date ON distribution_day_overrides(date);
	CREATE INDEX IF NOT EXISTS idx_rally_symbol_active ON rally_attempts(symbol, active);
	CREATE INDEX IF NOT EXISTS idx_ftd_symbol ON follow_through_days(symbol);
	CREATE INDEX IF NOT EXISTS idx_phase_date ON market_phase_history(date);
	CREATE INDEX IF NOT EXISTS idx_snapshots_date ON regime_snapshots(date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const dateLayout = "2006-01-02"

func dateStr(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func nullDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return dateStr(*t)
}

func scanDate(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseDate(ns.String)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ============================================================================
// Bars Methods
// ============================================================================

// SaveBars saves daily bars to the database.
func (s *SQLiteStore) SaveBars(ctx context.Context, symbol string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, symbol, dateStr(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetBars retrieves daily bars ordered by date ascending.
func (s *SQLiteStore) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, symbol, dateStr(from), dateStr(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		var date string
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Date = parseDate(date)
		bars = append(bars, b)
	}

	return bars, rows.Err()
}

// LatestBarDate returns the date of the most recent bar for a symbol.
func (s *SQLiteStore) LatestBarDate(ctx context.Context, symbol string) (time.Time, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(date) FROM bars WHERE symbol = ?
	`, symbol).Scan(&date)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("failed to get latest bar date: %w", err)
	}
	if !date.Valid {
		return time.Time{}, nil
	}
	return parseDate(date.String), nil
}

// ============================================================================
// Distribution Days Methods
// ============================================================================

// SaveDistributionDay saves a distribution day detection. Duplicate
// symbol+date detections are ignored so re-scans are idempotent.
func (s *SQLiteStore) SaveDistributionDay(ctx context.Context, dd *models.DistributionDay) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO distribution_days (symbol, date, close_price, volume, pct_change, expired, expiry_reason, expiry_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, dd.Symbol, dateStr(dd.Date), dd.ClosePrice, dd.Volume, dd.PctChange, boolInt(dd.Expired), string(dd.ExpiryReason), nullDate(dd.ExpiryDate))
	if err != nil {
		return fmt.Errorf("failed to save distribution day: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		dd.ID = id
	}
	return nil
}

// GetDistributionDays retrieves distribution days matching a filter,
// ordered by date ascending.
func (s *SQLiteStore) GetDistributionDays(ctx context.Context, filter DistributionDayFilter) ([]models.DistributionDay, error) {
	query := `SELECT id, symbol, date, close_price, volume, pct_change, expired, expiry_reason, expiry_date, created_at
		FROM distribution_days WHERE 1=1`
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.ActiveOnly {
		query += " AND expired = 0"
	}
	if !filter.StartDate.IsZero() {
		query += " AND date >= ?"
		args = append(args, dateStr(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		query += " AND date <= ?"
		args = append(args, dateStr(filter.EndDate))
	}

	query += " ORDER BY date ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution days: %w", err)
	}
	defer rows.Close()

	var days []models.DistributionDay
	for rows.Next() {
		var d models.DistributionDay
		var date, reason string
		var expired int
		var expiryDate sql.NullString
		if err := rows.Scan(&d.ID, &d.Symbol, &date, &d.ClosePrice, &d.Volume, &d.PctChange, &expired, &reason, &expiryDate, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan distribution day: %w", err)
		}
		d.Date = parseDate(date)
		d.Expired = expired == 1
		d.ExpiryReason = models.ExpiryReason(reason)
		d.ExpiryDate = scanDate(expiryDate)
		days = append(days, d)
	}

	return days, rows.Err()
}

// ExpireDistributionDay marks a distribution day as expired.
func (s *SQLiteStore) ExpireDistributionDay(ctx context.Context, id int64, reason models.ExpiryReason, date time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE distribution_days SET expired = 1, expiry_reason = ?, expiry_date = ? WHERE id = ?
	`, string(reason), dateStr(date), id)
	if err != nil {
		return fmt.Errorf("failed to expire distribution day: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("distribution day not found: %d", id)
	}

	return nil
}

// SaveDailyCount upserts the daily count snapshot for its date.
func (s *SQLiteStore) SaveDailyCount(ctx context.Context, count *models.DistributionDayCount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO distribution_day_counts (date, sp_count, nas_count, sp_dates, nas_dates)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			sp_count = excluded.sp_count,
			nas_count = excluded.nas_count,
			sp_dates = excluded.sp_dates,
			nas_dates = excluded.nas_dates
	`, dateStr(count.Date), count.SPCount, count.NasCount, count.SPDates, count.NasDates)
	if err != nil {
		return fmt.Errorf("failed to save daily count: %w", err)
	}
	return nil
}

// GetDailyCount retrieves the count snapshot for an exact date.
func (s *SQLiteStore) GetDailyCount(ctx context.Context, date time.Time) (*models.DistributionDayCount, error) {
	return s.queryCount(ctx, `
		SELECT id, date, sp_count, nas_count, sp_dates, nas_dates, created_at
		FROM distribution_day_counts WHERE date = ?
	`, dateStr(date))
}

// GetCountOnOrBefore retrieves the most recent count snapshot at or before
// the given date.
func (s *SQLiteStore) GetCountOnOrBefore(ctx context.Context, date time.Time) (*models.DistributionDayCount, error) {
	return s.queryCount(ctx, `
		SELECT id, date, sp_count, nas_count, sp_dates, nas_dates, created_at
		FROM distribution_day_counts WHERE date <= ? ORDER BY date DESC LIMIT 1
	`, dateStr(date))
}

func (s *SQLiteStore) queryCount(ctx context.Context, query string, args ...interface{}) (*models.DistributionDayCount, error) {
	var c models.DistributionDayCount
	var date string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &date, &c.SPCount, &c.NasCount, &c.SPDates, &c.NasDates, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily count: %w", err)
	}
	c.Date = parseDate(date)
	return &c, nil
}

// SaveOverride saves a manual count override.
func (s *SQLiteStore) SaveOverride(ctx context.Context, ov *models.DistributionDayOverride) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO distribution_day_overrides (date, symbol, adjustment, action, reason, reference_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, dateStr(ov.Date), ov.Symbol, ov.Adjustment, string(ov.Action), ov.Reason, ov.ReferenceCount)
	if err != nil {
		return fmt.Errorf("failed to save override: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ov.ID = id
	}
	return nil
}

// GetOverrides retrieves overrides for a date, most recent first. Symbol is
// optional; an empty string matches all symbols.
func (s *SQLiteStore) GetOverrides(ctx context.Context, date time.Time, symbol string) ([]models.DistributionDayOverride, error) {
	query := `SELECT id, date, symbol, adjustment, action, reason, reference_count, created_at
		FROM distribution_day_overrides WHERE date = ?`
	args := []interface{}{dateStr(date)}

	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []models.DistributionDayOverride
	for rows.Next() {
		var o models.DistributionDayOverride
		var dateS, action string
		if err := rows.Scan(&o.ID, &dateS, &o.Symbol, &o.Adjustment, &action, &o.Reason, &o.ReferenceCount, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		o.Date = parseDate(dateS)
		o.Action = models.OverrideAction(action)
		overrides = append(overrides, o)
	}

	return overrides, rows.Err()
}

// ============================================================================
// Rally Attempts Methods
// ============================================================================

// SaveRallyAttempt inserts a new rally attempt and assigns its ID.
func (s *SQLiteStore) SaveRallyAttempt(ctx context.Context, ra *models.RallyAttempt) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rally_attempts (symbol, start_date, rally_low, rally_low_date, day_count, active, succeeded, ftd_date, ftd_gain_pct, ftd_volume_ratio, failure_date, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ra.Symbol, dateStr(ra.StartDate), ra.RallyLow, dateStr(ra.RallyLowDate), ra.DayCount,
		boolInt(ra.Active), nullBool(ra.Succeeded), nullDate(ra.FTDDate), ra.FTDGainPct, ra.FTDVolumeRatio,
		nullDate(ra.FailureDate), ra.FailureReason)
	if err != nil {
		return fmt.Errorf("failed to save rally attempt: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ra.ID = id
	}
	return nil
}

// UpdateRallyAttempt updates an existing rally attempt by ID.
func (s *SQLiteStore) UpdateRallyAttempt(ctx context.Context, ra *models.RallyAttempt) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rally_attempts SET
			rally_low = ?, rally_low_date = ?, day_count = ?, active = ?, succeeded = ?,
			ftd_date = ?, ftd_gain_pct = ?, ftd_volume_ratio = ?,
			failure_date = ?, failure_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, ra.RallyLow, dateStr(ra.RallyLowDate), ra.DayCount, boolInt(ra.Active), nullBool(ra.Succeeded),
		nullDate(ra.FTDDate), ra.FTDGainPct, ra.FTDVolumeRatio,
		nullDate(ra.FailureDate), ra.FailureReason, ra.ID)
	if err != nil {
		return fmt.Errorf("failed to update rally attempt: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rally attempt not found: %d", ra.ID)
	}

	return nil
}

// GetActiveRallyAttempt retrieves the active rally attempt for a symbol,
// or nil when none is active.
func (s *SQLiteStore) GetActiveRallyAttempt(ctx context.Context, symbol string) (*models.RallyAttempt, error) {
	rows, err := s.db.QueryContext(ctx, rallySelect+` WHERE symbol = ? AND active = 1 ORDER BY start_date DESC LIMIT 1`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rally attempt: %w", err)
	}
	defer rows.Close()

	attempts, err := scanRallyAttempts(rows)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, nil
	}
	return &attempts[0], nil
}

// GetRallyAttempts retrieves rally attempts matching a filter, most recent
// first.
func (s *SQLiteStore) GetRallyAttempts(ctx context.Context, filter RallyFilter) ([]models.RallyAttempt, error) {
	query := rallySelect + ` WHERE 1=1`
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.ActiveOnly {
		query += " AND active = 1"
	}
	if !filter.StartDate.IsZero() {
		query += " AND start_date >= ?"
		args = append(args, dateStr(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		query += " AND start_date <= ?"
		args = append(args, dateStr(filter.EndDate))
	}

	query += " ORDER BY start_date DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rally attempts: %w", err)
	}
	defer rows.Close()

	return scanRallyAttempts(rows)
}

const rallySelect = `SELECT id, symbol, start_date, rally_low, rally_low_date, day_count, active, succeeded, ftd_date, ftd_gain_pct, ftd_volume_ratio, failure_date, failure_reason, created_at, updated_at
	FROM rally_attempts`

func scanRallyAttempts(rows *sql.Rows) ([]models.RallyAttempt, error) {
	var attempts []models.RallyAttempt
	for rows.Next() {
		var r models.RallyAttempt
		var startDate, rallyLowDate string
		var active int
		var succeeded sql.NullInt64
		var ftdDate, failureDate sql.NullString
		if err := rows.Scan(&r.ID, &r.Symbol, &startDate, &r.RallyLow, &rallyLowDate, &r.DayCount, &active, &succeeded, &ftdDate, &r.FTDGainPct, &r.FTDVolumeRatio, &failureDate, &r.FailureReason, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rally attempt: %w", err)
		}
		r.StartDate = parseDate(startDate)
		r.RallyLowDate = parseDate(rallyLowDate)
		r.Active = active == 1
		if succeeded.Valid {
			v := succeeded.Int64 == 1
			r.Succeeded = &v
		}
		r.FTDDate = scanDate(ftdDate)
		r.FailureDate = scanDate(failureDate)
		attempts = append(attempts, r)
	}
	return attempts, rows.Err()
}

func nullBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return boolInt(*b)
}

// ============================================================================
// Follow-Through Days Methods
// ============================================================================

// SaveFollowThroughDay saves a follow-through day and assigns its ID.
func (s *SQLiteStore) SaveFollowThroughDay(ctx context.Context, ftd *models.FollowThroughDay) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO follow_through_days (symbol, date, rally_day, gain_pct, volume, prior_volume, volume_ratio, close_price, rally_low, ftd_low, confirmed, failed, failure_date, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ftd.Symbol, dateStr(ftd.Date), ftd.RallyDay, ftd.GainPct, ftd.Volume, ftd.PriorVolume, ftd.VolumeRatio,
		ftd.ClosePrice, ftd.RallyLow, ftd.FTDLow, boolInt(ftd.Confirmed), boolInt(ftd.Failed),
		nullDate(ftd.FailureDate), ftd.FailureReason)
	if err != nil {
		return fmt.Errorf("failed to save follow-through day: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ftd.ID = id
	}
	return nil
}

// GetLatestConfirmedFTD retrieves the most recent confirmed, unfailed FTD
// for a symbol, or nil when none exists.
func (s *SQLiteStore) GetLatestConfirmedFTD(ctx context.Context, symbol string) (*models.FollowThroughDay, error) {
	rows, err := s.db.QueryContext(ctx, ftdSelect+` WHERE symbol = ? AND confirmed = 1 AND failed = 0 ORDER BY date DESC LIMIT 1`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest FTD: %w", err)
	}
	defer rows.Close()

	ftds, err := scanFTDs(rows)
	if err != nil {
		return nil, err
	}
	if len(ftds) == 0 {
		return nil, nil
	}
	return &ftds[0], nil
}

// MarkFTDFailed flips an FTD to failed. The record stays for audit.
func (s *SQLiteStore) MarkFTDFailed(ctx context.Context, id int64, date time.Time, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE follow_through_days SET failed = 1, confirmed = 0, failure_date = ?, failure_reason = ? WHERE id = ?
	`, dateStr(date), reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark FTD failed: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("follow-through day not found: %d", id)
	}

	return nil
}

// GetFollowThroughDays retrieves follow-through days matching a filter,
// most recent first.
func (s *SQLiteStore) GetFollowThroughDays(ctx context.Context, filter FTDFilter) ([]models.FollowThroughDay, error) {
	query := ftdSelect + ` WHERE 1=1`
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.ConfirmedOnly {
		query += " AND confirmed = 1 AND failed = 0"
	}
	if !filter.StartDate.IsZero() {
		query += " AND date >= ?"
		args = append(args, dateStr(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		query += " AND date <= ?"
		args = append(args, dateStr(filter.EndDate))
	}

	query += " ORDER BY date DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query follow-through days: %w", err)
	}
	defer rows.Close()

	return scanFTDs(rows)
}

const ftdSelect = `SELECT id, symbol, date, rally_day, gain_pct, volume, prior_volume, volume_ratio, close_price, rally_low, ftd_low, confirmed, failed, failure_date, failure_reason, created_at
	FROM follow_through_days`

func scanFTDs(rows *sql.Rows) ([]models.FollowThroughDay, error) {
	var ftds []models.FollowThroughDay
	for rows.Next() {
		var f models.FollowThroughDay
		var date string
		var confirmed, failed int
		var failureDate sql.NullString
		if err := rows.Scan(&f.ID, &f.Symbol, &date, &f.RallyDay, &f.GainPct, &f.Volume, &f.PriorVolume, &f.VolumeRatio, &f.ClosePrice, &f.RallyLow, &f.FTDLow, &confirmed, &failed, &failureDate, &f.FailureReason, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan follow-through day: %w", err)
		}
		f.Date = parseDate(date)
		f.Confirmed = confirmed == 1
		f.Failed = failed == 1
		f.FailureDate = scanDate(failureDate)
		ftds = append(ftds, f)
	}
	return ftds, rows.Err()
}

// ============================================================================
// Market Phase Methods
// ============================================================================

// SavePhaseChange appends a phase transition record.
func (s *SQLiteStore) SavePhaseChange(ctx context.Context, pc *models.PhaseChange) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO market_phase_history (date, previous_phase, new_phase, change_type, trigger_reason, sp_dday_count, nas_dday_count, ftd_active, rally_day)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dateStr(pc.Date), string(pc.PreviousPhase), string(pc.NewPhase), string(pc.ChangeType), pc.TriggerReason,
		pc.SPDDayCount, pc.NasDDayCount, boolInt(pc.FTDActive), pc.RallyDay)
	if err != nil {
		return fmt.Errorf("failed to save phase change: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		pc.ID = id
	}
	return nil
}

// GetCurrentPhase retrieves the most recent phase transition, or nil when
// the history is empty.
func (s *SQLiteStore) GetCurrentPhase(ctx context.Context) (*models.PhaseChange, error) {
	rows, err := s.db.QueryContext(ctx, phaseSelect+` ORDER BY date DESC, id DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query current phase: %w", err)
	}
	defer rows.Close()

	changes, err := scanPhaseChanges(rows)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return &changes[0], nil
}

// GetPhaseHistory retrieves phase transitions, most recent first.
func (s *SQLiteStore) GetPhaseHistory(ctx context.Context, limit int) ([]models.PhaseChange, error) {
	query := phaseSelect + ` ORDER BY date DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase history: %w", err)
	}
	defer rows.Close()

	return scanPhaseChanges(rows)
}

const phaseSelect = `SELECT id, date, previous_phase, new_phase, change_type, trigger_reason, sp_dday_count, nas_dday_count, ftd_active, rally_day, created_at
	FROM market_phase_history`

func scanPhaseChanges(rows *sql.Rows) ([]models.PhaseChange, error) {
	var changes []models.PhaseChange
	for rows.Next() {
		var p models.PhaseChange
		var date, prev, next, changeType string
		var ftdActive int
		if err := rows.Scan(&p.ID, &date, &prev, &next, &changeType, &p.TriggerReason, &p.SPDDayCount, &p.NasDDayCount, &ftdActive, &p.RallyDay, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phase change: %w", err)
		}
		p.Date = parseDate(date)
		p.PreviousPhase = models.MarketPhase(prev)
		p.NewPhase = models.MarketPhase(next)
		p.ChangeType = models.PhaseChangeType(changeType)
		p.FTDActive = ftdActive == 1
		changes = append(changes, p)
	}
	return changes, rows.Err()
}

// ============================================================================
// Regime Snapshots Methods
// ============================================================================

// SaveSnapshot upserts the regime snapshot for its date. AlertSent is
// preserved on update so recalculation cannot re-arm a sent alert.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *models.RegimeSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO regime_snapshots (
			date, sp_count, nas_count, sp_5day_delta, nas_5day_delta, trend, sp_dates, nas_dates,
			es_change_pct, nq_change_pct, ym_change_pct, composite_score, regime, market_phase,
			in_rally_attempt, rally_day, has_confirmed_ftd, ftd_date, days_since_ftd, component_json,
			prior_regime, prior_score, regime_trend, entry_risk_score, entry_risk_level, alert_sent, alert_sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			sp_count = excluded.sp_count,
			nas_count = excluded.nas_count,
			sp_5day_delta = excluded.sp_5day_delta,
			nas_5day_delta = excluded.nas_5day_delta,
			trend = excluded.trend,
			sp_dates = excluded.sp_dates,
			nas_dates = excluded.nas_dates,
			es_change_pct = excluded.es_change_pct,
			nq_change_pct = excluded.nq_change_pct,
			ym_change_pct = excluded.ym_change_pct,
			composite_score = excluded.composite_score,
			regime = excluded.regime,
			market_phase = excluded.market_phase,
			in_rally_attempt = excluded.in_rally_attempt,
			rally_day = excluded.rally_day,
			has_confirmed_ftd = excluded.has_confirmed_ftd,
			ftd_date = excluded.ftd_date,
			days_since_ftd = excluded.days_since_ftd,
			component_json = excluded.component_json,
			prior_regime = excluded.prior_regime,
			prior_score = excluded.prior_score,
			regime_trend = excluded.regime_trend,
			entry_risk_score = excluded.entry_risk_score,
			entry_risk_level = excluded.entry_risk_level,
			updated_at = CURRENT_TIMESTAMP
	`, dateStr(snap.Date), snap.SPCount, snap.NasCount, snap.SP5DayDelta, snap.Nas5DayDelta, string(snap.Trend),
		snap.SPDates, snap.NasDates, snap.ESChangePct, snap.NQChangePct, snap.YMChangePct,
		snap.CompositeScore, string(snap.Regime), string(snap.MarketPhase),
		boolInt(snap.InRallyAttempt), snap.RallyDay, boolInt(snap.HasConfirmedFTD),
		nullDate(snap.FTDDate), nullInt(snap.DaysSinceFTD), snap.ComponentJSON,
		string(snap.PriorRegime), nullFloat(snap.PriorScore), snap.RegimeTrend,
		snap.EntryRiskScore, string(snap.EntryRiskLevel), boolInt(snap.AlertSent), snap.AlertSentAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the snapshot for an exact date, or nil.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, date time.Time) (*models.RegimeSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, snapshotSelect+` WHERE date = ?`, dateStr(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// GetLatestSnapshotBefore retrieves the most recent snapshot strictly
// before the given date, or nil.
func (s *SQLiteStore) GetLatestSnapshotBefore(ctx context.Context, date time.Time) (*models.RegimeSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, snapshotSelect+` WHERE date < ? ORDER BY date DESC LIMIT 1`, dateStr(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// GetSnapshots retrieves snapshots in a date range, ordered by date
// ascending.
func (s *SQLiteStore) GetSnapshots(ctx context.Context, from, to time.Time) ([]models.RegimeSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, snapshotSelect+` WHERE date >= ? AND date <= ? ORDER BY date ASC`, dateStr(from), dateStr(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// MarkAlertSent marks the snapshot for a date as alerted.
func (s *SQLiteStore) MarkAlertSent(ctx context.Context, date time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE regime_snapshots SET alert_sent = 1, alert_sent_at = ? WHERE date = ?
	`, time.Now(), dateStr(date))
	if err != nil {
		return fmt.Errorf("failed to mark alert sent: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("snapshot not found for date: %s", dateStr(date))
	}

	return nil
}

const snapshotSelect = `SELECT id, date, sp_count, nas_count, sp_5day_delta, nas_5day_delta, trend, sp_dates, nas_dates,
	es_change_pct, nq_change_pct, ym_change_pct, composite_score, regime, market_phase,
	in_rally_attempt, rally_day, has_confirmed_ftd, ftd_date, days_since_ftd, component_json,
	prior_regime, prior_score, regime_trend, entry_risk_score, entry_risk_level, alert_sent, alert_sent_at, created_at, updated_at
	FROM regime_snapshots`

func scanSnapshots(rows *sql.Rows) ([]models.RegimeSnapshot, error) {
	var snaps []models.RegimeSnapshot
	for rows.Next() {
		var sn models.RegimeSnapshot
		var date, trend, regime, phase, priorRegime, riskLevel string
		var inRally, hasFTD, alertSent int
		var ftdDate sql.NullString
		var daysSinceFTD sql.NullInt64
		var priorScore sql.NullFloat64
		var alertSentAt sql.NullTime
		if err := rows.Scan(&sn.ID, &date, &sn.SPCount, &sn.NasCount, &sn.SP5DayDelta, &sn.Nas5DayDelta, &trend,
			&sn.SPDates, &sn.NasDates, &sn.ESChangePct, &sn.NQChangePct, &sn.YMChangePct,
			&sn.CompositeScore, &regime, &phase, &inRally, &sn.RallyDay, &hasFTD, &ftdDate, &daysSinceFTD,
			&sn.ComponentJSON, &priorRegime, &priorScore, &sn.RegimeTrend, &sn.EntryRiskScore, &riskLevel,
			&alertSent, &alertSentAt, &sn.CreatedAt, &sn.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		sn.Date = parseDate(date)
		sn.Trend = models.DDayTrend(trend)
		sn.Regime = models.RegimeType(regime)
		sn.MarketPhase = models.MarketPhase(phase)
		sn.InRallyAttempt = inRally == 1
		sn.HasConfirmedFTD = hasFTD == 1
		sn.FTDDate = scanDate(ftdDate)
		if daysSinceFTD.Valid {
			v := int(daysSinceFTD.Int64)
			sn.DaysSinceFTD = &v
		}
		sn.PriorRegime = models.RegimeType(priorRegime)
		if priorScore.Valid {
			v := priorScore.Float64
			sn.PriorScore = &v
		}
		sn.EntryRiskLevel = models.EntryRiskLevel(riskLevel)
		sn.AlertSent = alertSent == 1
		if alertSentAt.Valid {
			t := alertSentAt.Time
			sn.AlertSentAt = &t
		}
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

func nullInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// ============================================================================
// Overnight Trends Methods
// ============================================================================

// SaveOvernightTrend upserts the overnight futures capture for its date.
func (s *SQLiteStore) SaveOvernightTrend(ctx context.Context, ot *models.OvernightTrend) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO overnight_trends (date, es_change_pct, es_trend, nq_change_pct, nq_trend, ym_change_pct, ym_trend, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			es_change_pct = excluded.es_change_pct,
			es_trend = excluded.es_trend,
			nq_change_pct = excluded.nq_change_pct,
			nq_trend = excluded.nq_trend,
			ym_change_pct = excluded.ym_change_pct,
			ym_trend = excluded.ym_trend,
			captured_at = excluded.captured_at
	`, dateStr(ot.Date), ot.ESChangePct, string(ot.ESTrend), ot.NQChangePct, string(ot.NQTrend),
		ot.YMChangePct, string(ot.YMTrend), ot.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to save overnight trend: %w", err)
	}
	return nil
}

// GetOvernightTrend retrieves the overnight capture for a date, or nil.
func (s *SQLiteStore) GetOvernightTrend(ctx context.Context, date time.Time) (*models.OvernightTrend, error) {
	var ot models.OvernightTrend
	var dateS, esTrend, nqTrend, ymTrend string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, date, es_change_pct, es_trend, nq_change_pct, nq_trend, ym_change_pct, ym_trend, captured_at, created_at
		FROM overnight_trends WHERE date = ?
	`, dateStr(date)).Scan(&ot.ID, &dateS, &ot.ESChangePct, &esTrend, &ot.NQChangePct, &nqTrend, &ot.YMChangePct, &ymTrend, &ot.CapturedAt, &ot.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get overnight trend: %w", err)
	}
	ot.Date = parseDate(dateS)
	ot.ESTrend = models.TrendType(esTrend)
	ot.NQTrend = models.TrendType(nqTrend)
	ot.YMTrend = models.TrendType(ymTrend)
	return &ot, nil
}
