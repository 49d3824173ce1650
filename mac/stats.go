package mac

/*------------------------------------------------------------------
 *
 * Purpose:	MAC statistics counters (spec.md section 3, "Statistics
 *		counters"): deadline misses, CSMA failures, TX failures,
 *		sync failures, decode errors.
 *
 *------------------------------------------------------------------*/

// Stats accumulates the engine's lifetime counters. Grounded on
// original_source/src/mac_802154/mod.rs's MacStats.
type Stats struct {
	TxDeadlineMisses  uint32
	AckDeadlineMisses uint32
	CSMAFailures      uint32
	TxFailures        uint32
	SyncFailures      uint32
	DecodeErrors      uint32
	RxQueueDrops      uint32
}
