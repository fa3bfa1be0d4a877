// Package mysql provides the MySQL RecordStore implementation.
//
// It is compatible with MySQL 5.7+ and MySQL-protocol databases.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/store"
)

// Store implements store.RecordStore using MySQL as the backend.
type Store struct {
	db     *sql.DB
	prefix string
}

// Config contains configuration for creating a MySQL store.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	TablePrefix string
}

// NewStore creates a new MySQL store and initializes the schema.
func NewStore(cfg *Config) (*Store, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLStore: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLStore: %w", err)
	}

	s := &Store{db: db, prefix: cfg.TablePrefix}
	if err := s.initTables(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) table(name string) string {
	return s.prefix + name
}

func (s *Store) initTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGINT PRIMARY KEY,
				tier VARCHAR(4) NOT NULL,
				topic VARCHAR(255),
				content TEXT NOT NULL,
				embedding LONGTEXT,
				permanent TINYINT(1) NOT NULL DEFAULT 0,
				created_at DATETIME(6) NOT NULL,
				last_transitioned_at DATETIME(6) NOT NULL,
				compressed_at DATETIME(6),
				INDEX idx_tier_topic (tier, topic)
			)
		`, s.table("records")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGINT PRIMARY KEY,
				record_id BIGINT NOT NULL,
				topic VARCHAR(255) NOT NULL,
				query TEXT NOT NULL,
				relevance_score DOUBLE NOT NULL,
				tier_at_recall VARCHAR(4) NOT NULL,
				timestamp DATETIME(6) NOT NULL,
				INDEX idx_topic_ts (topic, timestamp)
			)
		`, s.table("recall_events")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				topic VARCHAR(255) PRIMARY KEY,
				current_tier VARCHAR(4) NOT NULL,
				recall_count_window INT NOT NULL DEFAULT 0,
				last_recall_at DATETIME(6),
				last_transition_at DATETIME(6),
				cooldown_until DATETIME(6)
			)
		`, s.table("tier_manifests")),
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}

	return nil
}

// Put inserts a record.
func (s *Store) Put(ctx context.Context, rec *record.Record) error {
	embeddingJSON, err := marshalEmbedding(rec.Embedding)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, tier, topic, content, embedding, permanent, created_at, last_transitioned_at, compressed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.table("records"))

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, string(rec.Tier), rec.Topic, rec.Content, embeddingJSON,
		rec.Permanent, rec.CreatedAt, rec.LastTransitionedAt, rec.CompressedAt)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id int64) (*record.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, tier, topic, content, embedding, permanent,
		       created_at, last_transitioned_at, compressed_at
		FROM %s WHERE id = ?
	`, s.table("records"))

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return rec, nil
}

// UpdateContent replaces a record's content and embedding in place.
func (s *Store) UpdateContent(ctx context.Context, id int64, content string, embedding []float64) error {
	embeddingJSON, err := marshalEmbedding(embedding)
	if err != nil {
		return fmt.Errorf("UpdateContent: %w", err)
	}

	query := fmt.Sprintf(`UPDATE %s SET content = ?, embedding = ? WHERE id = ?`, s.table("records"))

	result, err := s.db.ExecContext(ctx, query, content, embeddingJSON, id)
	if err != nil {
		return fmt.Errorf("UpdateContent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return store.ErrNotFound
		}
	}
	return nil
}

// ListByTier returns all records in the given tier, oldest first.
func (s *Store) ListByTier(ctx context.Context, tier record.Tier) ([]*record.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, tier, topic, content, embedding, permanent,
		       created_at, last_transitioned_at, compressed_at
		FROM %s WHERE tier = ? ORDER BY created_at, id
	`, s.table("records"))

	return s.queryRecords(ctx, "ListByTier", query, string(tier))
}

// ListByTopic returns all records for a topic in the given tier, oldest first.
func (s *Store) ListByTopic(ctx context.Context, topic string, tier record.Tier) ([]*record.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, tier, topic, content, embedding, permanent,
		       created_at, last_transitioned_at, compressed_at
		FROM %s WHERE topic = ? AND tier = ? ORDER BY created_at, id
	`, s.table("records"))

	return s.queryRecords(ctx, "ListByTopic", query, topic, string(tier))
}

// MoveTier atomically moves a record between tiers via a conditional UPDATE.
func (s *Store) MoveTier(ctx context.Context, id int64, from, to record.Tier, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET tier = ?, last_transitioned_at = ?
		WHERE id = ? AND tier = ?
	`, s.table("records"))

	result, err := s.db.ExecContext(ctx, query, string(to), at, id, string(from))
	if err != nil {
		return fmt.Errorf("MoveTier: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("MoveTier: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return store.ErrNotFound
		}
		return store.ErrTierMismatch
	}
	return nil
}

// MergeIntoTopic upserts the single record for (topic, tier).
func (s *Store) MergeIntoTopic(ctx context.Context, id int64, topic string, tier record.Tier, content string, embedding []float64, at time.Time) (*record.Record, error) {
	embeddingJSON, err := marshalEmbedding(embedding)
	if err != nil {
		return nil, fmt.Errorf("MergeIntoTopic: %w", err)
	}

	update := fmt.Sprintf(`
		UPDATE %s SET content = ?, embedding = ?, last_transitioned_at = ?
		WHERE topic = ? AND tier = ?
	`, s.table("records"))

	result, err := s.db.ExecContext(ctx, update, content, embeddingJSON, at, topic, string(tier))
	if err != nil {
		return nil, fmt.Errorf("MergeIntoTopic: %w", err)
	}

	matched := false
	if n, _ := result.RowsAffected(); n > 0 {
		matched = true
	} else {
		// MySQL reports zero affected rows when the new content equals the
		// old, so check for an existing row before inserting.
		recs, err := s.ListByTopic(ctx, topic, tier)
		if err != nil {
			return nil, fmt.Errorf("MergeIntoTopic: %w", err)
		}
		matched = len(recs) > 0
	}

	if !matched {
		rec := &record.Record{
			ID:                 id,
			Tier:               tier,
			Topic:              topic,
			Content:            content,
			Embedding:          embedding,
			CreatedAt:          at,
			LastTransitionedAt: at,
		}
		if err := s.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("MergeIntoTopic: %w", err)
		}
		return rec, nil
	}

	recs, err := s.ListByTopic(ctx, topic, tier)
	if err != nil {
		return nil, fmt.Errorf("MergeIntoTopic: %w", err)
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	return recs[0], nil
}

// MarkCompressed stamps a record as folded into its topic summary.
func (s *Store) MarkCompressed(ctx context.Context, id int64, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET compressed_at = ? WHERE id = ?`, s.table("records"))

	result, err := s.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("MarkCompressed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return store.ErrNotFound
		}
	}
	return nil
}

// Delete removes a record by ID.
func (s *Store) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table("records"))

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteCompressedBefore removes T2 records compressed before cutoff.
func (s *Store) DeleteCompressedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE tier = ? AND compressed_at IS NOT NULL AND compressed_at < ?
	`, s.table("records"))

	result, err := s.db.ExecContext(ctx, query, string(record.TierEpisodic), cutoff)
	if err != nil {
		return 0, fmt.Errorf("DeleteCompressedBefore: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteCompressedBefore: %w", err)
	}
	return int(n), nil
}

// AppendRecall appends an event to the recall log.
func (s *Store) AppendRecall(ctx context.Context, ev *record.RecallEvent) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, record_id, topic, query, relevance_score, tier_at_recall, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.table("recall_events"))

	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.RecordID, ev.Topic, ev.Query, ev.RelevanceScore,
		string(ev.TierAtRecall), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("AppendRecall: %w", err)
	}
	return nil
}

// CountRecallsSince counts recall events for a topic at or after since.
func (s *Store) CountRecallsSince(ctx context.Context, topic string, since time.Time) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE topic = ? AND timestamp >= ?
	`, s.table("recall_events"))

	var count int
	if err := s.db.QueryRowContext(ctx, query, topic, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("CountRecallsSince: %w", err)
	}
	return count, nil
}

// RecallsSince returns recall events for a topic at or after since.
func (s *Store) RecallsSince(ctx context.Context, topic string, since time.Time) ([]*record.RecallEvent, error) {
	query := fmt.Sprintf(`
		SELECT id, record_id, topic, query, relevance_score, tier_at_recall, timestamp
		FROM %s WHERE topic = ? AND timestamp >= ? ORDER BY timestamp, id
	`, s.table("recall_events"))

	rows, err := s.db.QueryContext(ctx, query, topic, since)
	if err != nil {
		return nil, fmt.Errorf("RecallsSince: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*record.RecallEvent
	for rows.Next() {
		ev := &record.RecallEvent{}
		var tier string
		if err := rows.Scan(&ev.ID, &ev.RecordID, &ev.Topic, &ev.Query, &ev.RelevanceScore, &tier, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("RecallsSince: %w", err)
		}
		ev.TierAtRecall = record.Tier(tier)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("RecallsSince: %w", err)
	}
	return events, nil
}

// GetManifest retrieves the manifest for a topic.
func (s *Store) GetManifest(ctx context.Context, topic string) (*record.Manifest, error) {
	query := fmt.Sprintf(`
		SELECT topic, current_tier, recall_count_window, last_recall_at, last_transition_at, cooldown_until
		FROM %s WHERE topic = ?
	`, s.table("tier_manifests"))

	m, err := scanManifest(s.db.QueryRowContext(ctx, query, topic))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetManifest: %w", err)
	}
	return m, nil
}

// UpsertManifest creates or replaces a topic manifest.
func (s *Store) UpsertManifest(ctx context.Context, m *record.Manifest) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(topic, current_tier, recall_count_window, last_recall_at, last_transition_at, cooldown_until)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			current_tier = VALUES(current_tier),
			recall_count_window = VALUES(recall_count_window),
			last_recall_at = VALUES(last_recall_at),
			last_transition_at = VALUES(last_transition_at),
			cooldown_until = VALUES(cooldown_until)
	`, s.table("tier_manifests"))

	_, err := s.db.ExecContext(ctx, query,
		m.Topic, string(m.CurrentTier), m.RecallCountWindow,
		nullableTime(m.LastRecallAt), nullableTime(m.LastTransitionAt), nullableTime(m.CooldownUntil))
	if err != nil {
		return fmt.Errorf("UpsertManifest: %w", err)
	}
	return nil
}

// ListManifests returns every topic manifest.
func (s *Store) ListManifests(ctx context.Context) ([]*record.Manifest, error) {
	query := fmt.Sprintf(`
		SELECT topic, current_tier, recall_count_window, last_recall_at, last_transition_at, cooldown_until
		FROM %s ORDER BY topic
	`, s.table("tier_manifests"))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ListManifests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var manifests []*record.Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("ListManifests: %w", err)
		}
		manifests = append(manifests, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListManifests: %w", err)
	}
	return manifests, nil
}

// DeleteManifest removes a topic manifest.
func (s *Store) DeleteManifest(ctx context.Context, topic string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE topic = ?", s.table("tier_manifests"))
	if _, err := s.db.ExecContext(ctx, query, topic); err != nil {
		return fmt.Errorf("DeleteManifest: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryRecords(ctx context.Context, op, query string, args ...interface{}) ([]*record.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var records []*record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return records, nil
}

func marshalEmbedding(embedding []float64) (string, error) {
	if len(embedding) == 0 {
		return "", nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*record.Record, error) {
	rec := &record.Record{}
	var (
		tier          string
		topic         sql.NullString
		embeddingJSON sql.NullString
		compressedAt  sql.NullTime
	)

	err := row.Scan(&rec.ID, &tier, &topic, &rec.Content, &embeddingJSON,
		&rec.Permanent, &rec.CreatedAt, &rec.LastTransitionedAt, &compressedAt)
	if err != nil {
		return nil, err
	}

	rec.Tier = record.Tier(tier)
	rec.Topic = topic.String
	if compressedAt.Valid {
		t := compressedAt.Time
		rec.CompressedAt = &t
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &rec.Embedding); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

func scanManifest(row rowScanner) (*record.Manifest, error) {
	m := &record.Manifest{}
	var (
		tier           string
		lastRecall     sql.NullTime
		lastTransition sql.NullTime
		cooldownUntil  sql.NullTime
	)

	err := row.Scan(&m.Topic, &tier, &m.RecallCountWindow, &lastRecall, &lastTransition, &cooldownUntil)
	if err != nil {
		return nil, err
	}

	m.CurrentTier = record.Tier(tier)
	if lastRecall.Valid {
		m.LastRecallAt = lastRecall.Time
	}
	if lastTransition.Valid {
		m.LastTransitionAt = lastTransition.Time
	}
	if cooldownUntil.Valid {
		m.CooldownUntil = cooldownUntil.Time
	}

	return m, nil
}
