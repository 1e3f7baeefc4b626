// Package model holds the data types shared across pipeline stages:
// ValidatorInfo, VoteTransactionEvent, VoteLatencyRecord and the dedup key.
package model

import "time"

// ValidatorInfo is a discovery-owned, read-only-to-everyone-else record.
// VoteAccount is unique within an epoch.
type ValidatorInfo struct {
	IdentityPubkey    string
	VoteAccountPubkey string
	ActivatedStake    uint64
	Delinquent        bool
	Epoch             uint64
}

// VoteTransactionEvent is the transient hand-off from C5 to C4 to C6.
// It never outlives a single pipeline pass.
type VoteTransactionEvent struct {
	LandedSlot        uint64
	Signature         []byte
	IdentityPubkey    string
	VoteAccountPubkey string
	ReceiveTime       time.Time
	Instructions      []InstructionPayload
}

// InstructionPayload is one opaque vote-program instruction awaiting decode.
type InstructionPayload struct {
	ProgramID string
	Data      []byte
}

// VoteLatencyRecord is one measured (voted_slot, landed_slot) pair, the
// unit C7 batches, deduplicates and writes.
type VoteLatencyRecord struct {
	Timestamp         time.Time
	IdentityPubkey    string
	VoteAccountPubkey string
	VotedSlot         uint64
	LandedSlot        uint64
	LatencySlots      uint64
	ConfirmationCount *uint32
}

// DedupKey identifies a record for LRU-based suppression of at-least-once
// redelivery.
type DedupKey struct {
	VoteAccountPubkey string
	VotedSlot         uint64
	LandedSlot        uint64
}
