package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Station.Count)
	assert.Equal(t, 50, cfg.Station.ProbeTimeoutMs)
	assert.Equal(t, 500, cfg.Station.AssocTimeoutMs)
	assert.Equal(t, 10, cfg.Station.MaxMissedBeacons)
	assert.Equal(t, 100, cfg.AP.BeaconIntervalMs)
	assert.Equal(t, "send-history", cfg.RAW.Assigner)
	assert.Equal(t, 100, cfg.Gate.StandardSlotMs)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rawsim.yaml")
	body := `
station:
  count: 3
  ssid: lab
raw:
  slot_count: 4
  start_aid: 10
  end_aid: 20
  auth_control:
    enabled: true
    threshold: 200
ap:
  static_aids:
    "02:00:00:00:00:01": 42
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Station.Count)
	assert.Equal(t, "lab", cfg.Station.SSID)
	assert.Equal(t, 4, cfg.RAW.SlotCount)
	assert.Equal(t, 200, cfg.RAW.AuthControl.Threshold)
	assert.True(t, cfg.RAW.AuthControl.Enabled)
	assert.Equal(t, uint16(42), cfg.AP.StaticAIDs["02:00:00:00:00:01"])
	assert.Equal(t, 500, cfg.Station.AssocTimeoutMs, "untouched keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadWithViper_FlagOverride(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("simulation.duration_ms", 2500)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, 2500, cfg.Simulation.DurationMs)
	assert.Equal(t, 2500*time.Millisecond, Ms(cfg.Simulation.DurationMs))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Station.Count = 0
	cfg.RAW.SlotCount = 0
	cfg.RAW.StartAID = 30
	cfg.RAW.EndAID = 20
	cfg.Logging.Level = "loud"

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "station.count")
	assert.Contains(t, msg, "raw.slot_count")
	assert.Contains(t, msg, "raw AID range")
	assert.Contains(t, msg, "logging.level")
}

func TestValidate_SlotFormatBounds(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.RAW.SlotFormat = 1
	cfg.RAW.SlotCount = 8
	assert.ErrorContains(t, cfg.Validate(), "between 1 and 7")

	cfg.RAW.SlotCount = 7
	cfg.RAW.SlotDurationCount = 2047
	assert.NoError(t, cfg.Validate())

	cfg.RAW.Enabled = false
	cfg.RAW.SlotCount = 0
	assert.NoError(t, cfg.Validate(), "RAW settings ignored while disabled")
}

func TestConfig_YAMLRoundTrip(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, out, "beacon_interval_ms: 100")

	var back Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &back))
	assert.Equal(t, cfg.RAW, back.RAW)
}

func TestConfig_Summary(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	s := cfg.Summary()
	assert.Contains(t, s, "Stations:")
	assert.Contains(t, s, "assigner=send-history")

	cfg.RAW.Enabled = false
	assert.Contains(t, cfg.Summary(), "RAW:           disabled")
}
