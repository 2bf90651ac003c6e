package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Station.Count < 1 {
		errs = append(errs, fmt.Sprintf("station.count must be >= 1, got %d", c.Station.Count))
	}
	if hw, err := net.ParseMAC(c.Station.AddressBase); err != nil || len(hw) != 6 {
		errs = append(errs, fmt.Sprintf("station.address_base must be a MAC-48 address, got %q", c.Station.AddressBase))
	}
	if c.Station.ProbeTimeoutMs <= 0 {
		errs = append(errs, "station.probe_timeout_ms must be > 0")
	}
	if c.Station.AssocTimeoutMs <= 0 {
		errs = append(errs, "station.assoc_timeout_ms must be > 0")
	}
	if c.Station.MaxMissedBeacons <= 0 {
		errs = append(errs, "station.max_missed_beacons must be > 0")
	}
	if c.Station.StartStaggerMs < 0 {
		errs = append(errs, "station.start_stagger_ms must be >= 0")
	}
	if c.Station.DataRateBps == 0 {
		errs = append(errs, "station.data_rate_bps must be > 0")
	}

	if hw, err := net.ParseMAC(c.AP.Address); err != nil || len(hw) != 6 {
		errs = append(errs, fmt.Sprintf("ap.address must be a MAC-48 address, got %q", c.AP.Address))
	}
	if c.AP.BeaconIntervalMs <= 0 {
		errs = append(errs, "ap.beacon_interval_ms must be > 0")
	}
	if c.AP.AIDStrategy != "sequential" && c.AP.AIDStrategy != "random" {
		errs = append(errs, fmt.Sprintf("ap.aid_strategy must be 'sequential' or 'random', got %q", c.AP.AIDStrategy))
	}
	if c.AP.AIDStart < 1 || c.AP.AIDStart > 8191 {
		errs = append(errs, fmt.Sprintf("ap.aid_start must be between 1 and 8191, got %d", c.AP.AIDStart))
	}
	for addr, aid := range c.AP.StaticAIDs {
		if _, err := net.ParseMAC(addr); err != nil {
			errs = append(errs, fmt.Sprintf("ap.static_aids key %q is not a MAC address", addr))
		}
		if aid < 1 || aid > 8191 {
			errs = append(errs, fmt.Sprintf("ap.static_aids[%s] must be between 1 and 8191, got %d", addr, aid))
		}
	}

	if c.RAW.Enabled {
		errs = append(errs, c.RAW.validate()...)
	}
	if c.RAW.AuthControl.Threshold < 0 || c.RAW.AuthControl.Threshold > 1023 {
		errs = append(errs, fmt.Sprintf("raw.auth_control.threshold must be between 0 and 1023, got %d", c.RAW.AuthControl.Threshold))
	}

	if c.Gate.StandardSlotMs < 0 {
		errs = append(errs, "gate.standard_slot_ms must be >= 0")
	}

	if c.Traffic.Enabled {
		if c.Traffic.IntervalMs <= 0 {
			errs = append(errs, "traffic.interval_ms must be > 0")
		}
		if c.Traffic.TID < 0 || c.Traffic.TID > 15 {
			errs = append(errs, fmt.Sprintf("traffic.tid must be between 0 and 15, got %d", c.Traffic.TID))
		}
		if c.Traffic.PayloadSize > 2304 {
			errs = append(errs, fmt.Sprintf("traffic.payload_size must be <= 2304, got %d", c.Traffic.PayloadSize))
		}
	}
	if c.Traffic.DownlinkIntervalMs < 0 {
		errs = append(errs, "traffic.downlink_interval_ms must be >= 0")
	}

	if c.Simulation.DurationMs <= 0 {
		errs = append(errs, "simulation.duration_ms must be > 0")
	}
	if c.Simulation.PropagationDelayUs < 0 {
		errs = append(errs, "simulation.propagation_delay_us must be >= 0")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (r RAWConfig) validate() []string {
	var errs []string
	if r.RawType < 0 || r.RawType > 7 {
		errs = append(errs, fmt.Sprintf("raw.raw_type must be between 0 and 7, got %d", r.RawType))
	}
	maxCount, maxDuration := 63, 255
	switch r.SlotFormat {
	case 0:
	case 1:
		maxCount, maxDuration = 7, 2047
	default:
		errs = append(errs, fmt.Sprintf("raw.slot_format must be 0 or 1, got %d", r.SlotFormat))
	}
	if r.SlotCount < 1 || r.SlotCount > maxCount {
		errs = append(errs, fmt.Sprintf("raw.slot_count must be between 1 and %d, got %d", maxCount, r.SlotCount))
	}
	if r.SlotDurationCount < 0 || r.SlotDurationCount > maxDuration {
		errs = append(errs, fmt.Sprintf("raw.slot_duration_count must be between 0 and %d, got %d", maxDuration, r.SlotDurationCount))
	}
	if r.SlotDurationMs < 0 || r.SlotDurationMs > 255 {
		errs = append(errs, fmt.Sprintf("raw.slot_duration_ms must be between 0 and 255, got %d", r.SlotDurationMs))
	}
	if r.Page < 0 || r.Page > 3 {
		errs = append(errs, fmt.Sprintf("raw.page must be between 0 and 3, got %d", r.Page))
	}
	if r.StartAID < 0 || r.EndAID > 1023 || r.StartAID > r.EndAID {
		errs = append(errs, fmt.Sprintf("raw AID range [%d, %d] must satisfy 0 <= start <= end <= 1023", r.StartAID, r.EndAID))
	}
	switch r.Assigner {
	case "", "send-history", "modulo", "block":
	default:
		errs = append(errs, fmt.Sprintf("raw.assigner must be send-history, modulo or block, got %q", r.Assigner))
	}
	return errs
}
