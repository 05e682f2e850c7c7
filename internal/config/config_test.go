package rewards

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.HTTP.Port)
	require.Equal(t, MaxBatchSize, cfg.Promo.ChunkSize)
	require.Equal(t, 50, cfg.Push.ChunkSize)
	require.Equal(t, uint64(3), cfg.DB.Retries)
	rate, err := cfg.PointsPerUnit()
	require.NoError(t, err)
	require.Equal(t, "1", rate.String())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "http:\n  port: 9000\npromo:\n  chunk_size: 2000\npush:\n  interval: 250ms\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("REWARDS_POINTS_PER_UNIT", "1.5")
	t.Setenv("REWARDS_DB_DSN", "postgres://u:p@localhost:5432/rewards")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.HTTP.Port)
	// выше лимита пакета - обрезается
	require.Equal(t, MaxBatchSize, cfg.Promo.ChunkSize)
	require.Equal(t, 250*time.Millisecond, cfg.Push.Interval)
	require.Equal(t, "postgres://u:p@localhost:5432/rewards", cfg.DB.DSN)
	rate, err := cfg.PointsPerUnit()
	require.NoError(t, err)
	require.Equal(t, "1.5", rate.String())
}

func TestLoadConfigBadRate(t *testing.T) {
	t.Setenv("REWARDS_POINTS_PER_UNIT", "-2")
	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
}
