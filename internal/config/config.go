package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the RAW simulator.
type Config struct {
	Station    StationConfig    `yaml:"station"    mapstructure:"station"`
	AP         APConfig         `yaml:"ap"         mapstructure:"ap"`
	RAW        RAWConfig        `yaml:"raw"        mapstructure:"raw"`
	Gate       GateConfig       `yaml:"gate"       mapstructure:"gate"`
	Traffic    TrafficConfig    `yaml:"traffic"    mapstructure:"traffic"`
	Simulation SimulationConfig `yaml:"simulation" mapstructure:"simulation"`
	Trace      TraceConfig      `yaml:"trace"      mapstructure:"trace"`
	Logging    LoggingConfig    `yaml:"logging"    mapstructure:"logging"`
	Stats      StatsConfig      `yaml:"stats"      mapstructure:"stats"`
}

type StationConfig struct {
	Count            int    `yaml:"count"              mapstructure:"count"`
	AddressBase      string `yaml:"address_base"       mapstructure:"address_base"`
	SSID             string `yaml:"ssid"               mapstructure:"ssid"`
	ActiveProbing    bool   `yaml:"active_probing"     mapstructure:"active_probing"`
	StartStaggerMs   int    `yaml:"start_stagger_ms"   mapstructure:"start_stagger_ms"`
	ProbeTimeoutMs   int    `yaml:"probe_timeout_ms"   mapstructure:"probe_timeout_ms"`
	AssocTimeoutMs   int    `yaml:"assoc_timeout_ms"   mapstructure:"assoc_timeout_ms"`
	MaxMissedBeacons int    `yaml:"max_missed_beacons" mapstructure:"max_missed_beacons"`
	QoS              bool   `yaml:"qos"                mapstructure:"qos"`
	HT               bool   `yaml:"ht"                 mapstructure:"ht"`
	S1G              bool   `yaml:"s1g"                mapstructure:"s1g"`
	ListenInterval   int    `yaml:"listen_interval"    mapstructure:"listen_interval"`
	QueueCapacity    int    `yaml:"queue_capacity"     mapstructure:"queue_capacity"`
	DataRateBps      uint64 `yaml:"data_rate_bps"      mapstructure:"data_rate_bps"`
}

type APConfig struct {
	Address          string            `yaml:"address"            mapstructure:"address"`
	SSID             string            `yaml:"ssid"               mapstructure:"ssid"`
	BeaconIntervalMs int               `yaml:"beacon_interval_ms" mapstructure:"beacon_interval_ms"`
	MaxStations      int               `yaml:"max_stations"       mapstructure:"max_stations"`
	AIDStrategy      string            `yaml:"aid_strategy"       mapstructure:"aid_strategy"`
	AIDStart         int               `yaml:"aid_start"          mapstructure:"aid_start"`
	StaticAIDs       map[string]uint16 `yaml:"static_aids"        mapstructure:"static_aids"`
	HT               bool              `yaml:"ht"                 mapstructure:"ht"`
}

type RAWConfig struct {
	Enabled           bool              `yaml:"enabled"             mapstructure:"enabled"`
	RawType           int               `yaml:"raw_type"            mapstructure:"raw_type"`
	SlotFormat        int               `yaml:"slot_format"         mapstructure:"slot_format"`
	CrossBoundary     bool              `yaml:"cross_boundary"      mapstructure:"cross_boundary"`
	SlotCount         int               `yaml:"slot_count"          mapstructure:"slot_count"`
	SlotDurationCount int               `yaml:"slot_duration_count" mapstructure:"slot_duration_count"`
	SlotDurationMs    int               `yaml:"slot_duration_ms"    mapstructure:"slot_duration_ms"`
	Page              int               `yaml:"page"                mapstructure:"page"`
	StartAID          int               `yaml:"start_aid"           mapstructure:"start_aid"`
	EndAID            int               `yaml:"end_aid"             mapstructure:"end_aid"`
	Assigner          string            `yaml:"assigner"            mapstructure:"assigner"`
	ModuloOffset      int               `yaml:"modulo_offset"       mapstructure:"modulo_offset"`
	AuthControl       AuthControlConfig `yaml:"auth_control"        mapstructure:"auth_control"`
}

type AuthControlConfig struct {
	Enabled     bool `yaml:"enabled"     mapstructure:"enabled"`
	Distributed bool `yaml:"distributed" mapstructure:"distributed"`
	Threshold   int  `yaml:"threshold"   mapstructure:"threshold"`
}

type GateConfig struct {
	StandardSlotMs int `yaml:"standard_slot_ms" mapstructure:"standard_slot_ms"`
}

type TrafficConfig struct {
	Enabled            bool `yaml:"enabled"              mapstructure:"enabled"`
	IntervalMs         int  `yaml:"interval_ms"          mapstructure:"interval_ms"`
	PayloadSize        int  `yaml:"payload_size"         mapstructure:"payload_size"`
	TID                int  `yaml:"tid"                  mapstructure:"tid"`
	StartMs            int  `yaml:"start_ms"             mapstructure:"start_ms"`
	DownlinkIntervalMs int  `yaml:"downlink_interval_ms" mapstructure:"downlink_interval_ms"`
}

type SimulationConfig struct {
	DurationMs         int   `yaml:"duration_ms"          mapstructure:"duration_ms"`
	Seed               int64 `yaml:"seed"                 mapstructure:"seed"`
	PropagationDelayUs int   `yaml:"propagation_delay_us" mapstructure:"propagation_delay_us"`
}

type TraceConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"   mapstructure:"level"`
	File    string `yaml:"file"    mapstructure:"file"`
	Console bool   `yaml:"console" mapstructure:"console"`
}

type StatsConfig struct {
	Enabled           bool   `yaml:"enabled"             mapstructure:"enabled"`
	ReportIntervalSec int    `yaml:"report_interval_sec" mapstructure:"report_interval_sec"`
	ExportFile        string `yaml:"export_file"         mapstructure:"export_file"`
	MetricsFile       string `yaml:"metrics_file"        mapstructure:"metrics_file"`
}

// Ms converts a millisecond config value.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// SetDefaults configures default values for the configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("station.count", 10)
	v.SetDefault("station.address_base", "02:00:00:00:00:00")
	v.SetDefault("station.ssid", "rawsim")
	v.SetDefault("station.active_probing", true)
	v.SetDefault("station.start_stagger_ms", 10)
	v.SetDefault("station.probe_timeout_ms", 50)
	v.SetDefault("station.assoc_timeout_ms", 500)
	v.SetDefault("station.max_missed_beacons", 10)
	v.SetDefault("station.qos", true)
	v.SetDefault("station.s1g", true)
	v.SetDefault("station.listen_interval", 10)
	v.SetDefault("station.queue_capacity", 400)
	v.SetDefault("station.data_rate_bps", 6000000)
	v.SetDefault("ap.address", "02:00:00:00:a0:01")
	v.SetDefault("ap.ssid", "rawsim")
	v.SetDefault("ap.beacon_interval_ms", 100)
	v.SetDefault("ap.aid_strategy", "sequential")
	v.SetDefault("ap.aid_start", 1)
	v.SetDefault("raw.enabled", true)
	v.SetDefault("raw.raw_type", 1)
	v.SetDefault("raw.slot_count", 2)
	v.SetDefault("raw.slot_duration_count", 0)
	v.SetDefault("raw.slot_duration_ms", 40)
	v.SetDefault("raw.start_aid", 1)
	v.SetDefault("raw.end_aid", 63)
	v.SetDefault("raw.assigner", "send-history")
	v.SetDefault("raw.auth_control.threshold", 1023)
	v.SetDefault("gate.standard_slot_ms", 100)
	v.SetDefault("traffic.enabled", true)
	v.SetDefault("traffic.interval_ms", 250)
	v.SetDefault("traffic.payload_size", 64)
	v.SetDefault("traffic.start_ms", 1000)
	v.SetDefault("simulation.duration_ms", 10000)
	v.SetDefault("simulation.seed", 1)
	v.SetDefault("simulation.propagation_delay_us", 1)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.report_interval_sec", 0)
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithViper reads configuration using an existing viper instance (for CLI flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(out), nil
}

// Summary returns a human-readable summary of the configuration.
func (c *Config) Summary() string {
	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  Stations:      %d (ssid=%q, probing=%v, qos=%v)\n",
		c.Station.Count, c.Station.SSID, c.Station.ActiveProbing, c.Station.QoS))
	sb.WriteString(fmt.Sprintf("  AP:            %s beacon=%dms aid=%s\n",
		c.AP.Address, c.AP.BeaconIntervalMs, c.AP.AIDStrategy))
	if c.RAW.Enabled {
		sb.WriteString(fmt.Sprintf("  RAW:           page=%d aids=[%d,%d] slots=%d x %dms type=%d assigner=%s\n",
			c.RAW.Page, c.RAW.StartAID, c.RAW.EndAID, c.RAW.SlotCount, c.RAW.SlotDurationMs, c.RAW.RawType, c.RAW.Assigner))
	} else {
		sb.WriteString("  RAW:           disabled\n")
	}
	if c.RAW.AuthControl.Enabled {
		sb.WriteString(fmt.Sprintf("  Auth Control:  threshold=%d distributed=%v\n",
			c.RAW.AuthControl.Threshold, c.RAW.AuthControl.Distributed))
	}
	sb.WriteString(fmt.Sprintf("  Timeouts:      probe=%dms assoc=%dms missed=%d\n",
		c.Station.ProbeTimeoutMs, c.Station.AssocTimeoutMs, c.Station.MaxMissedBeacons))
	if c.Traffic.Enabled {
		sb.WriteString(fmt.Sprintf("  Traffic:       every %dms, %d bytes, tid=%d\n",
			c.Traffic.IntervalMs, c.Traffic.PayloadSize, c.Traffic.TID))
	}
	sb.WriteString(fmt.Sprintf("  Duration:      %dms (seed %d)\n", c.Simulation.DurationMs, c.Simulation.Seed))
	if c.Trace.File != "" {
		sb.WriteString(fmt.Sprintf("  Trace:         %s\n", c.Trace.File))
	}
	return sb.String()
}
