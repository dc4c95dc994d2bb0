// Package config loads the application settings from the environment and
// the dataset descriptors from the datasets file. Both are read once at
// startup and treated as read-only for the run's duration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all process-level settings, populated from environment
// variables (the .env file is loaded in main).
type Config struct {
	PMSBaseURL string
	PMSToken   string

	MongoConnString string
	MongoDatabase   string

	SQLConnString string

	// Branches the pipeline fans out to, e.g. "1,2,3,9".
	Branches []int

	DatasetsFile string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// LoadConfig reads settings from the environment. Connection strings and
// the branch list are required; backup settings are optional.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		PMSBaseURL:      os.Getenv("PMS_BASE_URL"),
		PMSToken:        os.Getenv("PMS_API_TOKEN"),
		MongoConnString: os.Getenv("MONGO_CONNECTION_STRING"),
		MongoDatabase:   envDefault("MONGO_DATABASE", "pipeline"),
		SQLConnString:   os.Getenv("SQL_CONNECTION_STRING"),
		DatasetsFile:    envDefault("DATASETS_FILE", "configs/datasets.yaml"),
		MinioEndpoint:   os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:  os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:     envDefault("MINIO_BUCKET", "snapshot-backups"),
		MinioUseSSL:     os.Getenv("MINIO_USE_SSL") == "true",
	}

	if cfg.PMSBaseURL == "" {
		return nil, errors.New("PMS_BASE_URL environment variable not set")
	}
	if cfg.PMSToken == "" {
		return nil, errors.New("PMS_API_TOKEN environment variable not set")
	}
	if cfg.MongoConnString == "" {
		return nil, errors.New("MONGO_CONNECTION_STRING environment variable not set")
	}
	if cfg.SQLConnString == "" {
		return nil, errors.New("SQL_CONNECTION_STRING environment variable not set")
	}

	branches, err := parseBranches(os.Getenv("PMS_BRANCH_IDS"))
	if err != nil {
		return nil, err
	}
	cfg.Branches = branches
	return cfg, nil
}

// BackupConfigured reports whether the optional object-storage backup
// settings are present.
func (c *Config) BackupConfigured() bool {
	return c.MinioEndpoint != "" && c.MinioAccessKey != "" && c.MinioSecretKey != ""
}

func parseBranches(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("PMS_BRANCH_IDS environment variable not set")
	}
	parts := strings.Split(raw, ",")
	branches := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid branch id %q in PMS_BRANCH_IDS", part)
		}
		branches = append(branches, id)
	}
	return branches, nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
