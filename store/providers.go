package store

import (
	"database/sql"
	"fmt"
)

// Provider categories recognized by the Policy Engine (spec §3/§4.4).
const (
	CategoryExtLLM  = "ext_llm"
	CategoryHF      = "hf"
	CategorySearch  = "search"
	CategoryInternal = "internal"
)

// Provider mirrors the Provider record of spec §3.
type Provider struct {
	ID       int64
	Name     string
	Category string
	IsActive bool
}

func scanProvider(s scanner) (Provider, error) {
	var p Provider
	var isActive int
	if err := s.Scan(&p.ID, &p.Name, &p.Category, &isActive); err != nil {
		return Provider{}, err
	}
	p.IsActive = isActive != 0
	return p, nil
}

// ListProvidersByCategory returns every provider in category.
func (d *DB) ListProvidersByCategory(category string) ([]Provider, error) {
	rows, err := d.conn.Query(`SELECT id, name, category, is_active FROM providers WHERE category = ?`, category)
	if err != nil {
		return nil, fmt.Errorf("list providers by category: %w", err)
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProvider fetches a provider by id.
func (d *DB) GetProvider(id int64) (Provider, error) {
	row := d.conn.QueryRow(`SELECT id, name, category, is_active FROM providers WHERE id = ?`, id)
	p, err := scanProvider(row)
	if err != nil {
		return Provider{}, fmt.Errorf("get provider %d: %w", id, err)
	}
	return p, nil
}

// GetProviderByName fetches a provider by its unique name.
func (d *DB) GetProviderByName(name string) (Provider, error) {
	row := d.conn.QueryRow(`SELECT id, name, category, is_active FROM providers WHERE name = ?`, name)
	p, err := scanProvider(row)
	if err != nil {
		return Provider{}, fmt.Errorf("get provider %s: %w", name, err)
	}
	return p, nil
}

// UpsertProvider inserts or updates a provider by name.
func (d *DB) UpsertProvider(p Provider) (int64, error) {
	_, err := d.conn.Exec(`
		INSERT INTO providers (name, category, is_active) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET category=excluded.category, is_active=excluded.is_active
	`, p.Name, p.Category, boolInt(p.IsActive))
	if err != nil {
		return 0, fmt.Errorf("upsert provider %s: %w", p.Name, err)
	}
	// LastInsertId is not used: an upsert that takes the UPDATE path leaves
	// it at the rowid of an earlier insert, not this provider's id.
	row := d.conn.QueryRow(`SELECT id FROM providers WHERE name = ?`, p.Name)
	var id int64
	return id, row.Scan(&id)
}

// SetProvidersActiveByCategory flips is_active for every provider in
// category, inside the caller's transaction (the Policy Engine's cascade).
func SetProvidersActiveByCategory(tx *sql.Tx, category string, active bool) error {
	_, err := tx.Exec(`UPDATE providers SET is_active = ? WHERE category = ?`, boolInt(active), category)
	if err != nil {
		return fmt.Errorf("set providers active for category %s: %w", category, err)
	}
	return nil
}
