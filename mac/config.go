package mac

/*------------------------------------------------------------------
 *
 * Purpose:	MAC configuration and slot arithmetic (spec.md section 3,
 *		"Config" and "Slot arithmetic").
 *
 * Description:	Ported from original_source/src/mac_802154/config.rs.
 *		BeaconOrder/SuperframeOrder 15 means "disabled" there; this
 *		port keeps that convention as a plain uint8 with the same
 *		magic value, since Go has no sum-type equivalent worth the
 *		ceremony for two cases.
 *
 *------------------------------------------------------------------*/

// OrderDisabled is the magic beacon/superframe order value (15) meaning
// "do not send beacons" / "superframe has no active portion".
const OrderDisabled = 15

// Config holds the immutable-after-construction MAC parameters.
type Config struct {
	PANCoordinator bool
	PANID          uint16

	// BaseSuperframeDurationMs is the base superframe duration in ms.
	BaseSuperframeDurationMs uint32
	// BaseSlotDurationMs is the base slot duration in ms.
	BaseSlotDurationMs uint32

	// MACBeaconOrder and MACSuperframeOrder are encoded 0..15, 15 meaning
	// "on demand"/disabled. Effective beacon period is
	// BaseSuperframeDurationMs * 2^MACBeaconOrder.
	MACBeaconOrder     uint8
	MACSuperframeOrder uint8

	MaxBeaconMisses  uint32
	AssocTimeoutMs   uint64
	MaxRetries       uint8
	AckDelayMs       uint64
	AckTimeoutMs     uint64

	// CSMA-CA parameters.
	MinBE                 uint8
	MaxBE                 uint8
	CSMAMaxBackoffs       uint8
	ChannelClearThreshold int16
	BatteryLifeExtension  bool

	// MACDeadlineMs bounds the tolerated schedule slip.
	MACDeadlineMs uint32
}

// DefaultConfig returns the parameter set documented in spec.md section 3,
// matching original_source/src/mac_802154/config.rs::Config::default.
func DefaultConfig() Config {
	return Config{
		PANCoordinator:           false,
		PANID:                    0x0100,
		BaseSuperframeDurationMs: 1000,
		BaseSlotDurationMs:       100,
		MACBeaconOrder:           1,
		MACSuperframeOrder:       0,
		MaxBeaconMisses:          10,
		AssocTimeoutMs:           10_000,
		MaxRetries:               5,
		AckDelayMs:               50,
		AckTimeoutMs:             200,
		MinBE:                    2,
		MaxBE:                    5,
		CSMAMaxBackoffs:          3,
		ChannelClearThreshold:    -50,
		BatteryLifeExtension:     true,
		MACDeadlineMs:            10,
	}
}

// SuperframeDurationMs returns 0 when beacons are disabled (order 15),
// else BaseSuperframeDurationMs * 2^MACBeaconOrder.
func (c Config) SuperframeDurationMs() uint32 {
	if c.MACBeaconOrder == OrderDisabled {
		return 0
	}
	return c.BaseSuperframeDurationMs << c.MACBeaconOrder
}

// SlotsPerSuperframe returns the number of base slots in one superframe.
func (c Config) SlotsPerSuperframe() uint64 {
	return uint64(c.BaseSuperframeDurationMs / c.BaseSlotDurationMs)
}

// SFN computes the Superframe Number at time now with the given sync offset.
func (c Config) SFN(now uint64, offset uint64) uint64 {
	d := uint64(c.SuperframeDurationMs())
	if d == 0 {
		return 0
	}
	return (now + offset) / d
}

// ASN computes the Absolute Slot Number at time now with the given sync offset.
func (c Config) ASN(now uint64, offset uint64) uint64 {
	return (now + offset) / uint64(c.BaseSlotDurationMs)
}

// RSN computes the Relative Slot Number (slot within the current superframe).
func (c Config) RSN(now uint64, offset uint64) uint64 {
	return c.ASN(now, offset) % c.SlotsPerSuperframe()
}

// SuperframeSpec builds the beacon superframe specification fields this
// config implies (spec.md section 6.3). battery_life_extension and
// association_permit mirror the original's placeholder constants
// (config.rs::superframe_spec: "TODO: these values are placeholders").
func (c Config) SuperframeSpec() SuperframeSpecification {
	return SuperframeSpecification{
		BeaconOrder:           c.MACBeaconOrder,
		SuperframeOrder:       c.MACSuperframeOrder,
		PANCoordinator:        c.PANCoordinator,
		BatteryLifeExtension:  false,
		AssociationPermit:     true,
		FinalCAPSlot:          0,
	}
}
