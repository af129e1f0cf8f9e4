package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/beacon/beacon/internal/analytics"
	"github.com/beacon/beacon/internal/model"
)

const dateLayout = "2006-01-02"

// EventRepository provides database access for accepted events.
type EventRepository struct {
	repo *Repository
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(repo *Repository) *EventRepository {
	return &EventRepository{repo: repo}
}

// BulkInsert inserts events with idempotency via ON CONFLICT DO NOTHING on
// the stream ID.
func (r *EventRepository) BulkInsert(ctx context.Context, events []model.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO events (
			id, stream_id, tracking_id, visitor_id, session_id, event_type,
			page_url, page_title, referrer, referrer_domain, custom_data,
			user_agent, ip_address, client_timestamp, occurred_at, received_at,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (stream_id) DO NOTHING
	`

	for i, stored := range events {
		ev := stored.Event
		customData, err := encodeCustomData(ev.CustomData)
		if err != nil {
			return fmt.Errorf("encode custom data for event %d: %w", i, err)
		}
		batch.Queue(query,
			stored.ID,
			stored.StreamID,
			ev.TrackingID,
			ev.VisitorID,
			ev.SessionID,
			ev.EventType,
			ev.PageURL,
			nullableString(ev.PageTitle),
			nullableString(ev.Referrer),
			analytics.ExtractReferrerDomain(ev.Referrer),
			customData,
			nullableString(analytics.TruncateUserAgent(ev.UserAgent)),
			nullableString(ev.IPAddress),
			nullableString(ev.Timestamp),
			stored.OccurredAt,
			ev.ReceivedAt,
		)
	}

	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(events); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert event %d: %w", i, err)
		}
	}

	return nil
}

// UpdateDailyStats recalculates the daily_tracking_stats rows touched by
// events. Recalculating from the events table keeps the rollup correct when a
// batch is redelivered.
func (r *EventRepository) UpdateDailyStats(ctx context.Context, events []model.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, key := range uniqueDailyKeys(events) {
		acc, err := r.recalculateDailyStat(ctx, key.trackingID, key.date)
		if err != nil {
			return fmt.Errorf("recalculate daily stat %s:%s: %w", key.trackingID, key.date.Format(dateLayout), err)
		}
		if err := r.upsertDailyStat(ctx, acc); err != nil {
			return fmt.Errorf("upsert daily stat %s:%s: %w", key.trackingID, key.date.Format(dateLayout), err)
		}
	}

	return nil
}

type dailyStatsKey struct {
	trackingID string
	date       time.Time
}

func uniqueDailyKeys(events []model.StoredEvent) []dailyStatsKey {
	seen := make(map[dailyStatsKey]struct{})
	keys := make([]dailyStatsKey, 0, len(events))
	for _, stored := range events {
		key := dailyStatsKey{
			trackingID: stored.Event.TrackingID,
			date:       stored.OccurredAt.UTC().Truncate(24 * time.Hour),
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// dailyRow is the subset of an events row the rollup needs.
type dailyRow struct {
	visitorID      string
	sessionID      string
	eventType      string
	referrerDomain string
}

// dailyStatsAccumulator accumulates stats for a single tenant/date.
type dailyStatsAccumulator struct {
	trackingID     string
	date           time.Time
	totalEvents    int64
	uniqueVisitors int64
	uniqueSessions int64
	eventTypes     map[string]int64
	referrers      map[string]int64
}

func accumulateDailyStats(rows []dailyRow) *dailyStatsAccumulator {
	acc := &dailyStatsAccumulator{
		eventTypes: make(map[string]int64),
		referrers:  make(map[string]int64),
	}
	visitors := make(map[string]struct{})
	sessions := make(map[string]struct{})

	for _, row := range rows {
		acc.totalEvents++
		acc.eventTypes[row.eventType]++

		if _, ok := visitors[row.visitorID]; !ok && row.visitorID != "" {
			visitors[row.visitorID] = struct{}{}
			acc.uniqueVisitors++
		}
		if _, ok := sessions[row.sessionID]; !ok && row.sessionID != "" {
			sessions[row.sessionID] = struct{}{}
			acc.uniqueSessions++
		}

		// Only page views say where a visit came from.
		if row.eventType == model.EventPageView {
			domain := row.referrerDomain
			if domain == "" {
				domain = "(direct)"
			}
			acc.referrers[domain]++
		}
	}

	return acc
}

func (r *EventRepository) recalculateDailyStat(ctx context.Context, trackingID string, date time.Time) (*dailyStatsAccumulator, error) {
	start := date.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	query := `
		SELECT visitor_id, session_id, event_type, referrer_domain
		FROM events
		WHERE tracking_id = $1 AND occurred_at >= $2 AND occurred_at < $3
	`

	rows, err := r.repo.pool.Query(ctx, query, trackingID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var scanned []dailyRow
	for rows.Next() {
		var row dailyRow
		if err := rows.Scan(&row.visitorID, &row.sessionID, &row.eventType, &row.referrerDomain); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		scanned = append(scanned, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	acc := accumulateDailyStats(scanned)
	acc.trackingID = trackingID
	acc.date = start
	return acc, nil
}

// upsertDailyStat inserts or updates a daily_tracking_stats row.
func (r *EventRepository) upsertDailyStat(ctx context.Context, acc *dailyStatsAccumulator) error {
	eventTypeJSON, err := json.Marshal(acc.eventTypes)
	if err != nil {
		return fmt.Errorf("marshal event types: %w", err)
	}
	referrerJSON, err := json.Marshal(acc.referrers)
	if err != nil {
		return fmt.Errorf("marshal referrers: %w", err)
	}

	query := `
		INSERT INTO daily_tracking_stats (
			id, tracking_id, date, total_events, unique_visitors, unique_sessions,
			event_type_breakdown, referrer_breakdown, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (tracking_id, date) DO UPDATE SET
			total_events = EXCLUDED.total_events,
			unique_visitors = EXCLUDED.unique_visitors,
			unique_sessions = EXCLUDED.unique_sessions,
			event_type_breakdown = EXCLUDED.event_type_breakdown,
			referrer_breakdown = EXCLUDED.referrer_breakdown,
			updated_at = NOW()
	`

	_, err = r.repo.pool.Exec(ctx, query,
		dailyStatID(acc.trackingID, acc.date),
		acc.trackingID,
		acc.date,
		acc.totalEvents,
		acc.uniqueVisitors,
		acc.uniqueSessions,
		eventTypeJSON,
		referrerJSON,
	)
	return err
}

// GetDailyStats retrieves daily stats for a tenant within a date range,
// newest first.
func (r *EventRepository) GetDailyStats(ctx context.Context, trackingID string, from, to time.Time) ([]model.DailyStats, error) {
	query := `
		SELECT id, tracking_id, date, total_events, unique_visitors, unique_sessions,
			   event_type_breakdown, referrer_breakdown, created_at, updated_at
		FROM daily_tracking_stats
		WHERE tracking_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date DESC
	`

	rows, err := r.repo.pool.Query(ctx, query, trackingID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []model.DailyStats
	for rows.Next() {
		stat, err := scanDailyStat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		stats = append(stats, stat)
	}

	return stats, rows.Err()
}

// CountByTypes counts a tenant's events of the given types within
// [from, to). An empty types slice counts every type.
func (r *EventRepository) CountByTypes(ctx context.Context, trackingID string, types []string, from, to time.Time) ([]model.EventTypeCount, error) {
	query := `
		SELECT event_type, COUNT(*)
		FROM events
		WHERE tracking_id = $1
		  AND occurred_at >= $2 AND occurred_at < $3
		  AND (cardinality($4::text[]) = 0 OR event_type = ANY($4::text[]))
		GROUP BY event_type
		ORDER BY COUNT(*) DESC, event_type
	`

	if types == nil {
		types = []string{}
	}

	rows, err := r.repo.pool.Query(ctx, query, trackingID, from, to, pq.Array(types))
	if err != nil {
		return nil, fmt.Errorf("query event counts: %w", err)
	}
	defer rows.Close()

	var counts []model.EventTypeCount
	for rows.Next() {
		var c model.EventTypeCount
		if err := rows.Scan(&c.EventType, &c.Count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

func scanDailyStat(rows pgx.Rows) (model.DailyStats, error) {
	var stat model.DailyStats
	var eventTypeJSON, referrerJSON []byte

	err := rows.Scan(
		&stat.ID,
		&stat.TrackingID,
		&stat.Date,
		&stat.TotalEvents,
		&stat.UniqueVisitors,
		&stat.UniqueSessions,
		&eventTypeJSON,
		&referrerJSON,
		&stat.CreatedAt,
		&stat.UpdatedAt,
	)
	if err != nil {
		return model.DailyStats{}, err
	}

	if len(eventTypeJSON) > 0 {
		if err := json.Unmarshal(eventTypeJSON, &stat.EventTypeBreakdown); err != nil {
			return model.DailyStats{}, fmt.Errorf("decode event_type_breakdown: %w", err)
		}
	}
	if len(referrerJSON) > 0 {
		if err := json.Unmarshal(referrerJSON, &stat.ReferrerBreakdown); err != nil {
			return model.DailyStats{}, fmt.Errorf("decode referrer_breakdown: %w", err)
		}
	}

	return stat, nil
}

func dailyStatID(trackingID string, date time.Time) string {
	return trackingID + ":" + date.Format(dateLayout)
}

// encodeCustomData renders custom data for the JSONB column; absent data is
// stored as an empty object.
func encodeCustomData(data model.Data) ([]byte, error) {
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(data)
}

// nullableString returns nil for empty strings.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
