package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PMS_BASE_URL", "https://pms.example.com/api")
	t.Setenv("PMS_API_TOKEN", "tok")
	t.Setenv("MONGO_CONNECTION_STRING", "mongodb://localhost:27017")
	t.Setenv("SQL_CONNECTION_STRING", "sqlserver://sa@localhost")
	t.Setenv("PMS_BRANCH_IDS", "1, 2,9")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 9}, cfg.Branches)
	assert.Equal(t, "pipeline", cfg.MongoDatabase)
	assert.Equal(t, "configs/datasets.yaml", cfg.DatasetsFile)
	assert.False(t, cfg.BackupConfigured())
}

func TestLoadConfigRequiredVars(t *testing.T) {
	for _, key := range []string{"PMS_BASE_URL", "PMS_API_TOKEN", "MONGO_CONNECTION_STRING", "SQL_CONNECTION_STRING", "PMS_BRANCH_IDS"} {
		t.Run(key, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(key, "")
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadConfigRejectsBadBranchID(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PMS_BRANCH_IDS", "1,xyz")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid branch id")
}

func TestBackupConfigured(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MINIO_ENDPOINT", "minio.internal:9000")
	t.Setenv("MINIO_ACCESS_KEY", "ak")
	t.Setenv("MINIO_SECRET_KEY", "sk")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.BackupConfigured())
	assert.True(t, cfg.MinioUseSSL)
	assert.Equal(t, "snapshot-backups", cfg.MinioBucket)
}
