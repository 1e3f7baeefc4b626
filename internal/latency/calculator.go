// Package latency implements C6: a pure, synchronous transform from decoded
// voted slots to VoteLatencyRecord values, plus the rolling metrics window
// carried over from original_source/src/modules/calculator.rs as read-only
// telemetry (never fed back into dedup or the write path, per §9).
package latency

import (
	"container/ring"
	"sync"
	"time"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/model"
)

// SkewCounter is incremented whenever a voted slot exceeds the landed slot.
type SkewCounter interface {
	IncSkew()
}

// Calculator is C6.
type Calculator struct {
	skew SkewCounter

	mu         sync.Mutex
	windowSize int
	global     *ring.Ring
	perValidator map[string]*ring.Ring
}

// New constructs a Calculator with the given rolling-window size for the
// telemetry-only aggregates.
func New(skew SkewCounter, windowSize int) *Calculator {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Calculator{
		skew:         skew,
		windowSize:   windowSize,
		global:       ring.New(windowSize),
		perValidator: make(map[string]*ring.Ring),
	}
}

// Calculate emits one VoteLatencyRecord per voted slot not exceeding
// landedSlot; slots above landedSlot are dropped and counted as skew (§4.6,
// invariants 2-3).
func (c *Calculator) Calculate(votedSlots []uint64, landedSlot uint64, identity, voteAccount string, receiveTime time.Time) []model.VoteLatencyRecord {
	records := make([]model.VoteLatencyRecord, 0, len(votedSlots))
	for _, voted := range votedSlots {
		if voted > landedSlot {
			if c.skew != nil {
				c.skew.IncSkew()
			}
			continue
		}
		rec := model.VoteLatencyRecord{
			Timestamp:         receiveTime,
			IdentityPubkey:    identity,
			VoteAccountPubkey: voteAccount,
			VotedSlot:         voted,
			LandedSlot:        landedSlot,
			LatencySlots:      landedSlot - voted,
		}
		records = append(records, rec)
		c.recordRolling(voteAccount, rec.LatencySlots)
	}
	return records
}

func (c *Calculator) recordRolling(voteAccount string, latency uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.global.Value = latency
	c.global = c.global.Next()

	r, ok := c.perValidator[voteAccount]
	if !ok {
		r = ring.New(c.windowSize)
		c.perValidator[voteAccount] = r
	}
	r.Value = latency
	c.perValidator[voteAccount] = r.Next()
}

// ValidatorMetrics reports rolling-window mean latency for one vote
// account; it has no bearing on dedup or persistence, and it is not
// exported as a Prometheus gauge.
func (c *Calculator) ValidatorMetrics(voteAccount string) (mean float64, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.perValidator[voteAccount]
	if !ok {
		return 0, 0
	}
	return ringMean(r)
}

// GlobalMetrics reports the rolling-window mean latency across all
// validators.
func (c *Calculator) GlobalMetrics() (mean float64, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ringMean(c.global)
}

func ringMean(r *ring.Ring) (float64, int) {
	var sum float64
	var n int
	r.Do(func(v any) {
		if v == nil {
			return
		}
		sum += float64(v.(uint64))
		n++
	})
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
