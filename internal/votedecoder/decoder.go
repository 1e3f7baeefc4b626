// Package votedecoder extracts voted slots from vote-program instruction
// payloads (§4.4). It never fails a whole transaction: malformed or
// unrecognized instructions are logged and skipped, per the decoder's
// failure semantics.
package votedecoder

import (
	"log/slog"
	"sort"

	bin "github.com/gagliardetto/binary"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/model"
)

// VoteProgramID is the well-known vote program address instructions must
// target to be considered by the decoder.
const VoteProgramID = "Vote111111111111111111111111111111111111111"

// Discriminant values from the vote-program instruction enum. Only the
// variants named in §4.4 are decoded; anything else is skipped.
const (
	discVote                   = 2
	discVoteSwitch             = 6
	discUpdateVoteState        = 8
	discUpdateVoteStateSwitch  = 9
	discCompactUpdateVoteState = 12
	discTowerSync              = 14
	discTowerSyncSwitch        = 15
)

// ParseErrorCounter is notified once per instruction that fails to decode
// or carries an unrecognized discriminant, satisfied by
// internal/metrics.Collector.
type ParseErrorCounter interface {
	IncParseError()
}

// Decoder turns instruction payloads into voted-slot lists.
type Decoder struct {
	log     *slog.Logger
	errCntr ParseErrorCounter
}

// New constructs a Decoder. errCntr may be nil.
func New(log *slog.Logger, errCntr ParseErrorCounter) *Decoder {
	return &Decoder{log: log, errCntr: errCntr}
}

// Decode filters ix for the vote program and decodes each recognized
// instruction. Per §4.4.4, de-duplication and the landed-slot ceiling apply
// within a single instruction only; a transaction carrying multiple vote
// instructions has its per-instruction results concatenated with no
// cross-instruction dedup, so two distinct instructions voting the same
// slot each produce a record. It never returns an error: parse failures are
// logged and contribute an empty slot list for that instruction.
func (d *Decoder) Decode(ix []model.InstructionPayload, landedSlot uint64) []uint64 {
	var all []uint64
	for _, inst := range ix {
		if inst.ProgramID != VoteProgramID {
			continue
		}
		all = append(all, d.decodeOne(inst.Data, landedSlot)...)
	}
	return all
}

func (d *Decoder) decodeOne(data []byte, landedSlot uint64) []uint64 {
	r := NewReader(data)
	disc, err := r.ReadU32()
	if err != nil {
		d.parseError("vote instruction payload too short for discriminant", err)
		return nil
	}

	var slots []uint64
	switch disc {
	case discVote, discVoteSwitch:
		slots, err = decodeLegacyVote(r.Rest())
		if err != nil {
			d.parseError("malformed legacy vote instruction", err)
			return nil
		}
	case discUpdateVoteState, discUpdateVoteStateSwitch, discCompactUpdateVoteState:
		slots, err = decodeUpdateVoteState(r.Rest())
		if err != nil {
			d.parseError("malformed update-vote-state instruction", err)
			return nil
		}
	case discTowerSync, discTowerSyncSwitch:
		slots, err = decodeTowerSync(r)
		if err != nil {
			d.parseError("malformed tower-sync instruction", err)
			return nil
		}
	default:
		d.log.Debug("unknown vote instruction discriminant", slog.Any("discriminant", disc))
		if d.errCntr != nil {
			d.errCntr.IncParseError()
		}
		return nil
	}
	return dedupFilterSort(slots, landedSlot)
}

func (d *Decoder) parseError(msg string, err error) {
	d.log.Debug(msg, slog.Any("error", err))
	if d.errCntr != nil {
		d.errCntr.IncParseError()
	}
}

// legacyVotePayload mirrors the leading fields of Vote{ slots: Vec<u64>,
// hash: [32]byte, timestamp: Option<u64> }; VoteSwitch carries the same
// leading Vote struct with an extra trailing hash the caller doesn't need.
// BorshDecode stops once the declared fields are filled, so the unread
// trailing hash/timestamp bytes are simply left on the wire.
type legacyVotePayload struct {
	Slots []uint64
}

// decodeLegacyVote borsh-decodes Vote/VoteSwitch payload bytes (past the
// discriminant) via gagliardetto/binary's struct-tag decoder.
func decodeLegacyVote(data []byte) ([]uint64, error) {
	var payload legacyVotePayload
	if err := bin.NewBorshDecoder(data).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Slots, nil
}

// lockout mirrors the vote-program's Lockout{slot, confirmation_count}.
type lockout struct {
	Slot              uint64
	ConfirmationCount uint32
}

// updateVoteStatePayload mirrors the leading field of UpdateVoteStateData{
// lockouts: Vec<Lockout>, root: Option<u64>, ... }.
type updateVoteStatePayload struct {
	Lockouts []lockout
}

// decodeUpdateVoteState borsh-decodes UpdateVoteState/Switch/Compact
// payload bytes (past the discriminant) via gagliardetto/binary.
func decodeUpdateVoteState(data []byte) ([]uint64, error) {
	var payload updateVoteStatePayload
	if err := bin.NewBorshDecoder(data).Decode(&payload); err != nil {
		return nil, err
	}
	slots := make([]uint64, 0, len(payload.Lockouts))
	for _, l := range payload.Lockouts {
		slots = append(slots, l.Slot)
	}
	return slots, nil
}

// decodeTowerSync reads the compact TowerSync payload: a root slot followed
// by a run-length-encoded offset list, each entry (offset_from_previous u64,
// confirmation_count u8). Absolute slots are reconstructed by walking the
// offsets forward from root. This reconstructs the FULL slot list, not just
// the most recent one — see SPEC_FULL.md §1 for why that differs from the
// original's single-slot shortcut.
//
// The exact on-chain wire width of offset_from_previous is protocol-defined
// and left open by design (see DESIGN.md); this reader treats it as a fixed
// little-endian u64, matching the other fixed-width fields in this payload
// family rather than guessing at a variable-length encoding.
func decodeTowerSync(r *Reader) ([]uint64, error) {
	root, err := r.ReadOptionU64()
	if err != nil {
		return nil, err
	}

	n, err := r.ReadVecLen()
	if err != nil {
		return nil, err
	}

	var cursor uint64
	if root != nil {
		cursor = *root
	}

	slots := make([]uint64, 0, n)
	for i := uint32(0); i < n; i++ {
		offset, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		if _, err := r.ReadU8(); err != nil { // confirmation_count
			return nil, err
		}
		cursor += offset
		slots = append(slots, cursor)
	}
	return slots, nil
}

// dedupFilterSort removes duplicate slots, drops any slot greater than
// landedSlot, and returns the remainder sorted ascending for determinism.
func dedupFilterSort(slots []uint64, landedSlot uint64) []uint64 {
	if len(slots) == 0 {
		return nil
	}
	seen := make(map[uint64]struct{}, len(slots))
	out := make([]uint64, 0, len(slots))
	for _, s := range slots {
		if s > landedSlot {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
