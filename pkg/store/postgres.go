package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRegistry is a Registry backed by postgres with keyset pagination.
// Unlike redis SCAN, the cursor here walks a real ordering (the key column),
// so page sizes are exact and a listing of N entries takes ceil(N/P) pages.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry connects a pool and ensures the backing table exists.
func NewPostgresRegistry(ctx context.Context, dsn string) (*PostgresRegistry, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres registry: %w", err)
	}
	r := &PostgresRegistry{pool: pool}
	if err := r.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresRegistry) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mitigation_records (
			key          TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			rule_id      TEXT NOT NULL DEFAULT '',
			attack_type  TEXT NOT NULL,
			risk_score   INT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			expires_at   TIMESTAMPTZ NOT NULL,
			retain_until TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure mitigation schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *PostgresRegistry) Close() {
	r.pool.Close()
}

func (r *PostgresRegistry) Put(ctx context.Context, source string, rec MitigationRecord, ttl time.Duration) error {
	retainUntil := time.Now().Add(ttl)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mitigation_records
			(key, source, rule_id, attack_type, risk_score, created_at, expires_at, retain_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			rule_id = EXCLUDED.rule_id,
			attack_type = EXCLUDED.attack_type,
			risk_score = EXCLUDED.risk_score,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			retain_until = EXCLUDED.retain_until`,
		MitigationPrefix+source, rec.SourceIdentifier, rec.RuleID, rec.AttackType,
		rec.RiskScore, rec.CreatedAt, rec.ExpiresAt, retainUntil)
	if err != nil {
		return fmt.Errorf("store mitigation record: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) Get(ctx context.Context, key string) (*MitigationRecord, bool, error) {
	var rec MitigationRecord
	err := r.pool.QueryRow(ctx, `
		SELECT source, rule_id, attack_type, risk_score, created_at, expires_at
		FROM mitigation_records
		WHERE key = $1 AND retain_until > now()`, key).
		Scan(&rec.SourceIdentifier, &rec.RuleID, &rec.AttackType,
			&rec.RiskScore, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read mitigation record %s: %w", key, err)
	}
	return &rec, true, nil
}

func (r *PostgresRegistry) List(ctx context.Context, prefix, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 1000
	}

	// Redis drops past-retention records via TTL; postgres has no such
	// mechanism, so purge them at the start of each listing pass or they
	// accumulate as invisible rows behind the retain_until filter.
	if cursor == "" {
		if _, err := r.pool.Exec(ctx, `DELETE FROM mitigation_records WHERE retain_until <= now()`); err != nil {
			log.Printf("[WARN] stale mitigation record purge failed: %v", err)
		}
	}

	// Fetch one extra row to know whether another page exists without a
	// second round trip.
	rows, err := r.pool.Query(ctx, `
		SELECT key, source, rule_id, attack_type, risk_score, created_at, expires_at
		FROM mitigation_records
		WHERE key LIKE $1 || '%' AND key > $2 AND retain_until > now()
		ORDER BY key
		LIMIT $3`,
		prefix, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list mitigation records: %w", err)
	}
	defer rows.Close()

	var entries []RegistryEntry
	for rows.Next() {
		var e RegistryEntry
		if err := rows.Scan(&e.Key, &e.Record.SourceIdentifier, &e.Record.RuleID,
			&e.Record.AttackType, &e.Record.RiskScore,
			&e.Record.CreatedAt, &e.Record.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan mitigation record: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list mitigation records: %w", err)
	}

	page := &Page{Complete: len(entries) <= limit}
	if !page.Complete {
		entries = entries[:limit]
		page.NextCursor = entries[len(entries)-1].Key
	}
	page.Entries = entries
	return page, nil
}

func (r *PostgresRegistry) Delete(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM mitigation_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete mitigation record %s: %w", key, err)
	}
	return nil
}
