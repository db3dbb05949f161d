package global

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "msg_gw-1", cfg.GatewayID)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Empty(t, cfg.Mongo.URI)

	// 调参项回落设计值
	assert.Equal(t, 5*time.Minute, cfg.Tuning.HeartbeatTimeout)
	assert.Equal(t, 5, cfg.Tuning.MaxPerUser)
	assert.Equal(t, 30*time.Minute, cfg.Tuning.DedupTTL)
	assert.Equal(t, 10000, cfg.Tuning.OfflineCap)
	assert.Equal(t, 7*24*time.Hour, cfg.Tuning.OfflineTTL)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gateway_id: gw-7
http_port: 9000
tuning:
  heartbeat_timeout: 90s
  max_per_user: 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gw-7", cfg.GatewayID)
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.Tuning.HeartbeatTimeout)
	assert.Equal(t, 2, cfg.Tuning.MaxPerUser)
	// 没写的仍是默认
	assert.Equal(t, 10*time.Second, cfg.Tuning.SweepEvery)
	assert.Equal(t, "im-gateway", cfg.Nats.Name)
}

func TestTuningNormIdempotent(t *testing.T) {
	tu := TuningConfig{SweepEvery: 3 * time.Second}
	tu.Norm()
	tu.Norm()
	assert.Equal(t, 3*time.Second, tu.SweepEvery)
	assert.Equal(t, 5*time.Minute, tu.HeartbeatTimeout)
}
