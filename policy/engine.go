// Package policy implements the Privacy/Air-Gap Policy Engine (C4): a
// declarative resolver that turns the two admin toggles into provider/
// key/model activation mutations inside a single transaction (spec §4.4).
package policy

import (
	"database/sql"
	"fmt"

	"github.com/scalytics/core-orchestrator/store"
)

// Categories affected by privacy/air-gap toggles (spec §4.4).
var toggledCategories = []string{store.CategoryExtLLM, store.CategoryHF, store.CategorySearch}

// Engine resolves (privacy, airGap) state against the database.
type Engine struct {
	db *store.DB
}

// New returns an Engine backed by db.
func New(db *store.DB) *Engine {
	return &Engine{db: db}
}

// ApplyProviderAndKeyRules is the engine's single public operation (spec
// §4.4). It is idempotent: calling it twice with the same arguments leaves
// the same end state (spec §8 round-trip law).
//
// Coupling rules (enable air-gap implies enable privacy; disable privacy
// implies disable air-gap) are the caller's responsibility, not this
// engine's — it resolves the pair it's given (spec §4.4), except that the
// persisted global_privacy_mode is stored as targetPrivacy || targetAirGap.
func (e *Engine) ApplyProviderAndKeyRules(targetPrivacy, targetAirGap bool) error {
	return e.db.WithTx(func(tx *sql.Tx) error {
		// A single *sql.Tx is not safe for concurrent use (database/sql), and
		// this process's sqlite connection pool is already pinned to one
		// connection (store.Open), so every step below runs sequentially
		// within the one transaction rather than fanned out across goroutines.
		switch {
		case targetAirGap:
			for _, cat := range toggledCategories {
				if err := store.SetAPIKeysActiveByCategory(tx, cat, false); err != nil {
					return err
				}
				if err := store.SetProvidersActiveByCategory(tx, cat, false); err != nil {
					return err
				}
				if err := store.SetModelsActiveByCategory(tx, cat, false); err != nil {
					return err
				}
			}

		case targetPrivacy:
			if err := store.SetAPIKeysActiveByCategory(tx, store.CategoryExtLLM, false); err != nil {
				return err
			}
			if err := store.SetProvidersActiveByCategory(tx, store.CategoryExtLLM, false); err != nil {
				return err
			}
			if err := store.SetModelsActiveByCategory(tx, store.CategoryExtLLM, false); err != nil {
				return err
			}
			for _, cat := range []string{store.CategorySearch, store.CategoryHF} {
				if err := store.SetProvidersActiveByCategory(tx, cat, true); err != nil {
					return err
				}
				if err := store.SetModelsActiveByCategory(tx, cat, true); err != nil {
					return err
				}
				if err := store.SetGlobalAPIKeysActiveByCategory(tx, cat, true); err != nil {
					return err
				}
			}

		default:
			for _, cat := range toggledCategories {
				if err := store.SetProvidersActiveByCategory(tx, cat, true); err != nil {
					return err
				}
				if err := store.SetModelsActiveByCategory(tx, cat, true); err != nil {
					return err
				}
				if err := store.SetGlobalAPIKeysActiveByCategory(tx, cat, true); err != nil {
					return err
				}
			}
		}

		_, err := tx.Exec(`
			INSERT INTO system_settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value
		`, store.SettingGlobalPrivacyMode, boolStr(targetPrivacy || targetAirGap))
		if err != nil {
			return fmt.Errorf("persist privacy setting: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO system_settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value
		`, store.SettingAirGappedMode, boolStr(targetAirGap))
		if err != nil {
			return fmt.Errorf("persist air-gap setting: %w", err)
		}
		return nil
	})
}

// ErrPreconditionFailed is returned by ActivateSearchTool when a dependency
// precondition (spec §4.4's embedding-model requirement) isn't met.
type ErrPreconditionFailed struct {
	Reason string
}

func (e ErrPreconditionFailed) Error() string { return "precondition_failed: " + e.Reason }

// ActivateSearchTool enforces the additional policy from spec §4.4:
// activating "scalytics_search" requires a configured, active,
// embedding-capable model referenced by preferred_local_embedding_model_id.
func (e *Engine) ActivateSearchTool() error {
	raw, ok, err := e.db.GetSetting(store.SettingPreferredLocalEmbeddingModel)
	if err != nil {
		return fmt.Errorf("read preferred embedding model setting: %w", err)
	}
	if !ok || raw == "" {
		return ErrPreconditionFailed{Reason: "no preferred_local_embedding_model_id configured"}
	}

	var modelID int64
	if _, err := fmt.Sscanf(raw, "%d", &modelID); err != nil {
		return ErrPreconditionFailed{Reason: "preferred_local_embedding_model_id is not a valid id"}
	}

	m, err := e.db.GetModel(modelID)
	if err != nil {
		return ErrPreconditionFailed{Reason: "preferred embedding model not found"}
	}
	if !m.IsEmbeddingModel || !m.IsActive {
		return ErrPreconditionFailed{Reason: "preferred embedding model is not active and embedding-capable"}
	}
	return nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
