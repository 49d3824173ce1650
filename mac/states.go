package mac

/*------------------------------------------------------------------
 *
 * Purpose:	MAC sub-state-machine types (spec.md section 3, "MAC
 *		state" and section 4.2.6).
 *
 *------------------------------------------------------------------*/

// SyncKind distinguishes whether the node is beacon-synchronised.
type SyncKind int

const (
	SyncUnsynced SyncKind = iota
	SyncSynced
)

// Sync is Unsynced or Synced(parent).
type Sync struct {
	Kind   SyncKind
	Parent Address
}

// AssocKind distinguishes the association sub-states.
type AssocKind int

const (
	AssocUnassociated AssocKind = iota
	AssocPending
	AssocAssociated
)

// Assoc is Unassociated, Pending(parent, expiry) or Associated(pan).
type Assoc struct {
	Kind   AssocKind
	Parent Address
	Expiry uint64
	PAN    uint16
}

// CsmaKind distinguishes whether a CSMA backoff is in flight.
type CsmaKind int

const (
	CsmaNone CsmaKind = iota
	CsmaPending
)

// Csma is None or Pending{packet, target_asn, retries}.
type Csma struct {
	Kind      CsmaKind
	Packet    Packet
	TargetASN uint64
	Retries   uint64
}

// AckKind distinguishes whether an ACK transmission is scheduled.
type AckKind int

const (
	AckNone AckKind = iota
	AckPending
)

// AckSched is None or Pending{ack_packet, tx_time}.
type AckSched struct {
	Kind   AckKind
	Packet Packet
	TxTime uint64
}

// State is the MAC's public state() contract (spec.md section 4.2.1):
// Disconnected, Synced(parent), or Associated(parent).
type State int

const (
	StateDisconnected State = iota
	StateSynced
	StateAssociated
)
