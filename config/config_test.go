package config

import (
	"testing"

	"github.com/Gobusters/ectoenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/database"
)

func TestBindEnvDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, ectoenv.BindEnv(&cfg))

	assert.Equal(t, "digital-specimen-processor", cfg.AppName)
	assert.Equal(t, 3005, cfg.Port)
	assert.Equal(t, "db/pg", cfg.DatabaseMigrationFolderPath)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "digital-specimen-events", cfg.KafkaInputTopic)
	assert.Equal(t, "digital-media-events", cfg.KafkaMediaRetryTopic)
}

func TestMigrationVersionBindsToMigrationConfig(t *testing.T) {
	t.Setenv("DB_MIGRATION_VERSION", "3")

	var cfg Config
	require.NoError(t, ectoenv.BindEnv(&cfg))

	mc := database.MigrationConfig{
		FolderPath: cfg.DatabaseMigrationFolderPath,
		Version:    cfg.DatabaseMigrationVersion,
	}
	assert.Equal(t, uint(3), mc.Version)
}
