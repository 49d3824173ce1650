// Package config loads and saves the combined MAC/6LoWPAN parameter set
// as a single YAML document.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/doismellburning/lpwan/mac"
	"github.com/doismellburning/lpwan/sixlo"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Combined stack configuration (spec.md section 9, "host-side
 *		CLI/config is out of scope" - this is the typed structure
 *		such a caller would load, not the CLI itself).
 *
 * Description:	Grounded on the teacher's deviceid.go, which loads
 *		tocalls.yaml via gopkg.in/yaml.v3 at startup. That file
 *		unmarshals into map[string]interface{} because its schema
 *		is externally defined (the aprs-deviceid project's format);
 *		this config has no such constraint, so it unmarshals
 *		directly into tagged structs instead.
 *
 *------------------------------------------------------------------*/

// MAC mirrors mac.Config with YAML field names (spec.md section 3).
type MAC struct {
	PANCoordinator bool   `yaml:"pan_coordinator"`
	PANID          uint16 `yaml:"pan_id"`

	BaseSuperframeDurationMs uint32 `yaml:"base_superframe_duration_ms"`
	BaseSlotDurationMs       uint32 `yaml:"base_slot_duration_ms"`

	MACBeaconOrder     uint8 `yaml:"mac_beacon_order"`
	MACSuperframeOrder uint8 `yaml:"mac_superframe_order"`

	MaxBeaconMisses uint32 `yaml:"max_beacon_misses"`
	AssocTimeoutMs  uint64 `yaml:"assoc_timeout_ms"`
	MaxRetries      uint8  `yaml:"max_retries"`
	AckDelayMs      uint64 `yaml:"ack_delay_ms"`
	AckTimeoutMs    uint64 `yaml:"ack_timeout_ms"`

	MinBE                 uint8 `yaml:"min_be"`
	MaxBE                 uint8 `yaml:"max_be"`
	CSMAMaxBackoffs       uint8 `yaml:"csma_max_backoffs"`
	ChannelClearThreshold int16 `yaml:"channel_clear_threshold"`
	BatteryLifeExtension  bool  `yaml:"battery_life_extension"`

	MACDeadlineMs uint32 `yaml:"mac_deadline_ms"`
}

// ToMac converts the YAML-shaped MAC config into mac.Config.
func (c MAC) ToMac() mac.Config {
	return mac.Config{
		PANCoordinator:           c.PANCoordinator,
		PANID:                    c.PANID,
		BaseSuperframeDurationMs: c.BaseSuperframeDurationMs,
		BaseSlotDurationMs:       c.BaseSlotDurationMs,
		MACBeaconOrder:           c.MACBeaconOrder,
		MACSuperframeOrder:       c.MACSuperframeOrder,
		MaxBeaconMisses:          c.MaxBeaconMisses,
		AssocTimeoutMs:           c.AssocTimeoutMs,
		MaxRetries:               c.MaxRetries,
		AckDelayMs:               c.AckDelayMs,
		AckTimeoutMs:             c.AckTimeoutMs,
		MinBE:                    c.MinBE,
		MaxBE:                    c.MaxBE,
		CSMAMaxBackoffs:          c.CSMAMaxBackoffs,
		ChannelClearThreshold:    c.ChannelClearThreshold,
		BatteryLifeExtension:     c.BatteryLifeExtension,
		MACDeadlineMs:            c.MACDeadlineMs,
	}
}

// MACFromConfig builds the YAML-shaped form from a mac.Config, the
// inverse of ToMac, used by Save.
func MACFromConfig(c mac.Config) MAC {
	return MAC{
		PANCoordinator:           c.PANCoordinator,
		PANID:                    c.PANID,
		BaseSuperframeDurationMs: c.BaseSuperframeDurationMs,
		BaseSlotDurationMs:       c.BaseSlotDurationMs,
		MACBeaconOrder:           c.MACBeaconOrder,
		MACSuperframeOrder:       c.MACSuperframeOrder,
		MaxBeaconMisses:          c.MaxBeaconMisses,
		AssocTimeoutMs:           c.AssocTimeoutMs,
		MaxRetries:               c.MaxRetries,
		AckDelayMs:               c.AckDelayMs,
		AckTimeoutMs:             c.AckTimeoutMs,
		MinBE:                    c.MinBE,
		MaxBE:                    c.MaxBE,
		CSMAMaxBackoffs:          c.CSMAMaxBackoffs,
		ChannelClearThreshold:    c.ChannelClearThreshold,
		BatteryLifeExtension:     c.BatteryLifeExtension,
		MACDeadlineMs:            c.MACDeadlineMs,
	}
}

// Frag mirrors sixlo.FragConfig with YAML field names (spec.md section 4.3).
type Frag struct {
	RxTimeoutMs uint64 `yaml:"rx_timeout_ms"`
	TxTimeoutMs uint64 `yaml:"tx_timeout_ms"`
}

// ToSixLo converts the YAML-shaped fragmentation config into sixlo.Config.
func (f Frag) ToSixLo() sixlo.Config {
	return sixlo.Config{Frag: sixlo.FragConfig{RxTimeoutMs: f.RxTimeoutMs, TxTimeoutMs: f.TxTimeoutMs}}
}

// Stack is the top-level on-disk configuration document.
type Stack struct {
	Address uint64 `yaml:"address"`
	MAC     MAC    `yaml:"mac"`
	Frag    Frag   `yaml:"frag"`
}

// Default returns the Stack equivalent of mac.DefaultConfig/sixlo.DefaultConfig.
func Default(address uint64) Stack {
	d := sixlo.DefaultConfig()
	return Stack{
		Address: address,
		MAC:     MACFromConfig(mac.DefaultConfig()),
		Frag:    Frag{RxTimeoutMs: d.Frag.RxTimeoutMs, TxTimeoutMs: d.Frag.TxTimeoutMs},
	}
}

// Load reads and parses a Stack document from path.
func Load(path string) (Stack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stack{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var s Stack
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Stack{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return s, nil
}

// Save serialises a Stack document to path.
func Save(path string, s Stack) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
