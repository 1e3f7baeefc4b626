// Package yellowstone models the de-facto "Yellowstone/Geyser" push-feed
// wire schema (§6): SubscribeRequest{slots,accounts,transactions,commitment}
// and SubscribeUpdate{slot|transaction|account|ping}.
//
// The upstream schema is normally consumed through protoc-generated stubs
// from yellowstone-grpc's .proto sources. No protobuf codegen tool is
// available in this environment, so these are plain Go structs carrying
// the same fields, marshaled by codec.go's JSON codec rather than
// generated protobuf marshaling. Swapping in real generated stubs means
// replacing this file and codec.go and updating grpcstream.go, which builds
// and reads these messages; subscription.go does not depend on the wire
// format.
package yellowstone

// CommitmentLevel mirrors the push feed's consistency levels (§GLOSSARY).
type CommitmentLevel int32

const (
	CommitmentProcessed CommitmentLevel = iota
	CommitmentConfirmed
	CommitmentFinalized
)

// SubscribeRequestFilterSlots requests slot updates.
type SubscribeRequestFilterSlots struct{}

// SubscribeRequestFilterTransactions requests vote transactions only,
// excluding failed ones, restricted to the given vote accounts (§4.5).
type SubscribeRequestFilterTransactions struct {
	Vote           bool     `json:"vote"`
	Failed         bool     `json:"failed"`
	AccountInclude []string `json:"account_include"`
}

// SubscribeRequestFilterAccounts optionally requests account updates for
// monitored vote accounts; never used to compute latency (§9).
type SubscribeRequestFilterAccounts struct {
	Account []string `json:"account"`
}

// SubscribeRequest is the client's opening (and, on reconfiguration,
// resent) filter description.
type SubscribeRequest struct {
	Slots        map[string]SubscribeRequestFilterSlots        `json:"slots,omitempty"`
	Accounts     map[string]SubscribeRequestFilterAccounts     `json:"accounts,omitempty"`
	Transactions map[string]SubscribeRequestFilterTransactions `json:"transactions,omitempty"`
	Commitment   CommitmentLevel                               `json:"commitment"`
}

// SubscribeUpdateSlot carries a newly observed slot.
type SubscribeUpdateSlot struct {
	Slot uint64 `json:"slot"`
}

// SubscribeUpdateTransactionInstruction is one opaque vote-program
// instruction payload attached to a transaction update.
type SubscribeUpdateTransactionInstruction struct {
	ProgramID string `json:"program_id"`
	Data      []byte `json:"data"`
}

// SubscribeUpdateTransaction carries a landed transaction.
type SubscribeUpdateTransaction struct {
	Slot              uint64                                  `json:"slot"`
	Signature         []byte                                  `json:"signature"`
	IdentityPubkey    string                                  `json:"identity_pubkey"`
	VoteAccountPubkey string                                  `json:"vote_account_pubkey"`
	Instructions      []SubscribeUpdateTransactionInstruction `json:"instructions"`
}

// SubscribeUpdateAccount carries an account update; telemetry-only (§9).
type SubscribeUpdateAccount struct {
	Slot    uint64 `json:"slot"`
	Pubkey  string `json:"pubkey"`
	DataLen int    `json:"data_len"`
}

// SubscribeUpdate is the server's push message; exactly one of the
// pointer fields is set per the wire schema's oneof semantics.
type SubscribeUpdate struct {
	Slot        *SubscribeUpdateSlot        `json:"slot,omitempty"`
	Transaction *SubscribeUpdateTransaction `json:"transaction,omitempty"`
	Account     *SubscribeUpdateAccount     `json:"account,omitempty"`
	Ping        *struct{}                   `json:"ping,omitempty"`
}
