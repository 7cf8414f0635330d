package store

import (
	"database/sql"
	"fmt"
)

// Model mirrors the Model record of spec §3.
type Model struct {
	ID                  int64
	Name                string
	ModelPath           string
	ModelFormat         string
	ContextWindow       int
	IsActive            bool
	IsDefault           bool
	IsEmbeddingModel    bool
	ExternalProviderID  *int64
	TensorParallelSize  int
	Config              string // opaque merged config blob, JSON
}

func scanModel(s scanner) (Model, error) {
	var m Model
	var extProvider sql.NullInt64
	var isActive, isDefault, isEmbedding int
	if err := s.Scan(&m.ID, &m.Name, &m.ModelPath, &m.ModelFormat, &m.ContextWindow,
		&isActive, &isDefault, &isEmbedding, &extProvider, &m.TensorParallelSize, &m.Config); err != nil {
		return Model{}, err
	}
	m.IsActive = isActive != 0
	m.IsDefault = isDefault != 0
	m.IsEmbeddingModel = isEmbedding != 0
	if extProvider.Valid {
		v := extProvider.Int64
		m.ExternalProviderID = &v
	}
	return m, nil
}

const modelColumns = `id, name, model_path, model_format, context_window, is_active, is_default, is_embedding_model, external_provider_id, tensor_parallel_size, config`

// GetModel fetches a model by id.
func (d *DB) GetModel(id int64) (Model, error) {
	row := d.conn.QueryRow(`SELECT `+modelColumns+` FROM models WHERE id = ?`, id)
	m, err := scanModel(row)
	if err != nil {
		return Model{}, fmt.Errorf("get model %d: %w", id, err)
	}
	return m, nil
}

// ListModels returns every model row.
func (d *DB) ListModels() ([]Model, error) {
	rows, err := d.conn.Query(`SELECT ` + modelColumns + ` FROM models ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListModelsByProviderCategory returns models whose external_provider_id
// belongs to a provider in category.
func (d *DB) ListModelsByProviderCategory(category string) ([]Model, error) {
	rows, err := d.conn.Query(`SELECT `+modelColumns+` FROM models m
		JOIN providers p ON p.id = m.external_provider_id
		WHERE p.category = ?`, category)
	if err != nil {
		return nil, fmt.Errorf("list models by category: %w", err)
	}
	defer rows.Close()

	var out []Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertModel inserts or updates a model by name.
func (d *DB) UpsertModel(m Model) (int64, error) {
	_, err := d.conn.Exec(`
		INSERT INTO models (name, model_path, model_format, context_window, is_active, is_default, is_embedding_model, external_provider_id, tensor_parallel_size, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			model_path=excluded.model_path,
			model_format=excluded.model_format,
			context_window=excluded.context_window,
			is_embedding_model=excluded.is_embedding_model,
			external_provider_id=excluded.external_provider_id,
			tensor_parallel_size=excluded.tensor_parallel_size,
			config=excluded.config
	`, m.Name, m.ModelPath, m.ModelFormat, m.ContextWindow, boolInt(m.IsActive), boolInt(m.IsDefault),
		boolInt(m.IsEmbeddingModel), m.ExternalProviderID, m.TensorParallelSize, m.Config)
	if err != nil {
		return 0, fmt.Errorf("upsert model %s: %w", m.Name, err)
	}
	// LastInsertId is not used: an upsert that takes the UPDATE path leaves
	// it at the rowid of an earlier insert, not this model's id.
	row := d.conn.QueryRow(`SELECT id FROM models WHERE name = ?`, m.Name)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve upserted model id: %w", err)
	}
	return id, nil
}

// ActivateModelExclusively clears is_active on every non-embedding model and
// sets it on modelID, inside one transaction — the two-step "clear all then
// set this" of spec §4.6/§5, so readers never observe more than one active
// non-embedding model.
func (d *DB) ActivateModelExclusively(modelID int64) error {
	return d.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE models SET is_active = 0 WHERE is_embedding_model = 0`); err != nil {
			return fmt.Errorf("clear active models: %w", err)
		}
		if _, err := tx.Exec(`UPDATE models SET is_active = 1 WHERE id = ?`, modelID); err != nil {
			return fmt.Errorf("set active model %d: %w", modelID, err)
		}
		return nil
	})
}

// SetEmbeddingModelActive sets is_active on a single embedding model. Unlike
// ActivateModelExclusively, embedding models aren't subject to the
// at-most-one-active invariant (spec §3 only bounds non-embedding models),
// so no other rows are cleared.
func (d *DB) SetEmbeddingModelActive(modelID int64, active bool) error {
	_, err := d.conn.Exec(`UPDATE models SET is_active = ? WHERE id = ? AND is_embedding_model = 1`, boolInt(active), modelID)
	if err != nil {
		return fmt.Errorf("set embedding model %d active: %w", modelID, err)
	}
	return nil
}

// DeactivateModel sets is_active=false for a single model id. Used
// unconditionally by the subprocess exit handler (spec §4.6).
func (d *DB) DeactivateModel(modelID int64) error {
	_, err := d.conn.Exec(`UPDATE models SET is_active = 0 WHERE id = ?`, modelID)
	if err != nil {
		return fmt.Errorf("deactivate model %d: %w", modelID, err)
	}
	return nil
}

// SetModelsActiveByCategory flips is_active for every model whose external
// provider is in category, used inside Policy Engine transactions.
func SetModelsActiveByCategory(tx *sql.Tx, category string, active bool) error {
	_, err := tx.Exec(`UPDATE models SET is_active = ? WHERE external_provider_id IN (
		SELECT id FROM providers WHERE category = ?
	)`, boolInt(active), category)
	if err != nil {
		return fmt.Errorf("set models active for category %s: %w", category, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
