package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.migrate())
}

func TestUpsertAndGetModel(t *testing.T) {
	db := openTestDB(t)
	id, err := db.UpsertModel(Model{Name: "llama3-8b", ModelPath: "/data/llama3", ModelFormat: "torch", ContextWindow: 8192, TensorParallelSize: 1, Config: "{}"})
	require.NoError(t, err)
	require.NotZero(t, id)

	m, err := db.GetModel(id)
	require.NoError(t, err)
	require.Equal(t, "llama3-8b", m.Name)
	require.False(t, m.IsActive)
}

func TestActivateModelExclusively(t *testing.T) {
	db := openTestDB(t)
	id1, _ := db.UpsertModel(Model{Name: "a", ModelFormat: "torch", Config: "{}"})
	id2, _ := db.UpsertModel(Model{Name: "b", ModelFormat: "torch", Config: "{}"})

	require.NoError(t, db.ActivateModelExclusively(id1))
	m1, _ := db.GetModel(id1)
	require.True(t, m1.IsActive)

	require.NoError(t, db.ActivateModelExclusively(id2))
	m1Again, _ := db.GetModel(id1)
	m2, _ := db.GetModel(id2)
	require.False(t, m1Again.IsActive)
	require.True(t, m2.IsActive)
}

func TestActivateModelExclusivelyIgnoresEmbeddingModels(t *testing.T) {
	db := openTestDB(t)
	embedID, _ := db.UpsertModel(Model{Name: "embed", ModelFormat: "torch", IsEmbeddingModel: true, Config: "{}"})
	_, err := db.conn.Exec(`UPDATE models SET is_active = 1 WHERE id = ?`, embedID)
	require.NoError(t, err)

	chatID, _ := db.UpsertModel(Model{Name: "chat", ModelFormat: "torch", Config: "{}"})
	require.NoError(t, db.ActivateModelExclusively(chatID))

	embed, _ := db.GetModel(embedID)
	require.True(t, embed.IsActive, "embedding models must not be cleared by exclusive chat-model activation")
}

func TestSettingsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	_, ok, err := db.GetSetting(SettingGlobalPrivacyMode)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.SetSetting(SettingGlobalPrivacyMode, "true"))
	v, ok, err := db.GetSetting(SettingGlobalPrivacyMode)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", v)

	b, err := db.GetBoolSetting(SettingGlobalPrivacyMode, false)
	require.NoError(t, err)
	require.True(t, b)
}

func TestProviderAndAPIKeyCascadeHelpers(t *testing.T) {
	db := openTestDB(t)
	provID, err := db.UpsertProvider(Provider{Name: "openai", Category: CategoryExtLLM, IsActive: true})
	require.NoError(t, err)
	_, err = db.UpsertAPIKey(APIKey{Owner: "global", ProviderID: provID, IsActive: true, Secret: "sk-x"})
	require.NoError(t, err)

	err = db.WithTx(func(tx *sql.Tx) error {
		if err := SetProvidersActiveByCategory(tx, CategoryExtLLM, false); err != nil {
			return err
		}
		return SetAPIKeysActiveByCategory(tx, CategoryExtLLM, false)
	})
	require.NoError(t, err)

	p, _ := db.GetProvider(provID)
	require.False(t, p.IsActive)

	keys, _ := db.ListAPIKeysByOwner("global")
	require.Len(t, keys, 1)
	require.False(t, keys[0].IsActive)
}
