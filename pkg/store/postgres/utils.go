package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/stratamem/stratamem-go/pkg/record"
)

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

	err := row.Scan(
		&rec.ID,
		&tier,
		&topic,
		&rec.Content,
		&embeddingJSON,
		&rec.Permanent,
		&rec.CreatedAt,
		&rec.LastTransitionedAt,
		&compressedAt,
	)
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

	err := row.Scan(
		&m.Topic,
		&tier,
		&m.RecallCountWindow,
		&lastRecall,
		&lastTransition,
		&cooldownUntil,
	)
	if err != nil {
		return nil, err
	}

	m.CurrentTier = record.Tier(tier)
	m.LastRecallAt = timeOrZero(lastRecall)
	m.LastTransitionAt = timeOrZero(lastTransition)
	m.CooldownUntil = timeOrZero(cooldownUntil)

	return m, nil
}

func timeOrZero(t sql.NullTime) time.Time {
	if t.Valid {
		return t.Time
	}
	return time.Time{}
}
