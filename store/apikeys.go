package store

import (
	"database/sql"
	"fmt"
)

// APIKey mirrors the API key record of spec §3.
type APIKey struct {
	ID         int64
	Owner      string
	ProviderID int64
	IsActive   bool
	Secret     string
}

func scanAPIKey(s scanner) (APIKey, error) {
	var k APIKey
	var isActive int
	if err := s.Scan(&k.ID, &k.Owner, &k.ProviderID, &isActive, &k.Secret); err != nil {
		return APIKey{}, err
	}
	k.IsActive = isActive != 0
	return k, nil
}

// ListAPIKeysByOwner returns every key owned by owner ("global" for
// administrator-managed keys not scoped to a single user).
func (d *DB) ListAPIKeysByOwner(owner string) ([]APIKey, error) {
	rows, err := d.conn.Query(`SELECT id, owner, provider_id, is_active, secret FROM api_keys WHERE owner = ?`, owner)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpsertAPIKey inserts a new key row (keys are not updated in place — only
// activated/deactivated — since the secret is opaque and owner-scoped).
func (d *DB) UpsertAPIKey(k APIKey) (int64, error) {
	res, err := d.conn.Exec(`INSERT INTO api_keys (owner, provider_id, is_active, secret) VALUES (?, ?, ?, ?)`,
		k.Owner, k.ProviderID, boolInt(k.IsActive), k.Secret)
	if err != nil {
		return 0, fmt.Errorf("insert api key: %w", err)
	}
	return res.LastInsertId()
}

// SetAPIKeysActiveByCategory flips is_active for every key whose provider is
// in category. Deactivating a provider category implies deactivating all
// keys for providers in that category (spec §3 invariant). Callers that need
// this alongside provider/model mutations in the same cascade (the Policy
// Engine) pass the same *sql.Tx so all three updates commit atomically.
func SetAPIKeysActiveByCategory(tx *sql.Tx, category string, active bool) error {
	_, err := tx.Exec(`UPDATE api_keys SET is_active = ? WHERE provider_id IN (
		SELECT id FROM providers WHERE category = ?
	)`, boolInt(active), category)
	if err != nil {
		return fmt.Errorf("set api keys active for category %s: %w", category, err)
	}
	return nil
}

// SetGlobalAPIKeysActiveByCategory flips is_active only for owner="global"
// keys whose provider is in category. Reactivation (spec §3: "reactivate
// global keys in those categories") must not resurrect a user-scoped key
// that was individually deactivated, so the toggle-off/reactivate path calls
// this instead of SetAPIKeysActiveByCategory.
func SetGlobalAPIKeysActiveByCategory(tx *sql.Tx, category string, active bool) error {
	_, err := tx.Exec(`UPDATE api_keys SET is_active = ? WHERE owner = 'global' AND provider_id IN (
		SELECT id FROM providers WHERE category = ?
	)`, boolInt(active), category)
	if err != nil {
		return fmt.Errorf("set global api keys active for category %s: %w", category, err)
	}
	return nil
}
