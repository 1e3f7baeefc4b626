package writepipeline

import (
	"context"
	"strings"

	influxdb3 "github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/mr-tron/base58"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/model"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/verrors"
)

// InfluxStore writes batches to InfluxDB 3 as the `vote_latency`
// measurement (§6): tags {validator_id, vote_account, network}, with the two
// pubkey tags shortened by shortID for cardinality, fields {latency_slots,
// voted_slot, landed_slot}.
type InfluxStore struct {
	client  *influxdb3.Client
	network string
}

// NewInfluxStore dials an InfluxDB 3 endpoint.
func NewInfluxStore(host, token, database, network string) (*InfluxStore, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     host,
		Token:    token,
		Database: database,
	})
	if err != nil {
		return nil, verrors.New(verrors.KindConfiguration, "InfluxStore.New", "failed to construct influxdb3 client", err)
	}
	return &InfluxStore{client: client, network: network}, nil
}

// WriteBatch serializes records to line protocol points and issues a single
// write request, per the worker contract in §4.7.
func (s *InfluxStore) WriteBatch(ctx context.Context, records []model.VoteLatencyRecord) error {
	points := make([]*influxdb3.Point, 0, len(records))
	for _, r := range records {
		p := influxdb3.NewPoint("vote_latency",
			map[string]string{
				"validator_id": shortID(r.IdentityPubkey),
				"vote_account": shortID(r.VoteAccountPubkey),
				"network":      s.network,
			},
			map[string]interface{}{
				"latency_slots": int64(r.LatencySlots),
				"voted_slot":    int64(r.VotedSlot),
				"landed_slot":   int64(r.LandedSlot),
			},
			r.Timestamp,
		)
		points = append(points, p)
	}

	if err := s.client.WritePoints(ctx, points); err != nil {
		return classifyStoreError(err)
	}
	return nil
}

// Close releases the underlying client.
func (s *InfluxStore) Close() error {
	return s.client.Close()
}

// shortID truncates a base58-encoded pubkey to a low-cardinality tag value
// by decoding it to raw bytes, keeping the first 6, and re-encoding — this
// keeps the tag itself valid base58 rather than an arbitrary string slice.
// Falls back to a plain prefix if the input isn't valid base58 (e.g. a
// synthetic identifier in tests).
func shortID(pubkey string) string {
	raw, err := base58.Decode(pubkey)
	if err != nil || len(raw) == 0 {
		if len(pubkey) <= 8 {
			return pubkey
		}
		return pubkey[:8]
	}
	n := 6
	if len(raw) < n {
		n = len(raw)
	}
	return base58.Encode(raw[:n])
}

// classifyStoreError maps a store error to the retryable transient-
// transport kind for 429/5xx/timeout conditions, and to the protocol kind
// otherwise, per §7's taxonomy.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	if isRetryableStoreStatus(err) {
		return verrors.New(verrors.KindTransientTransport, "store.WriteBatch", "retryable store error", err)
	}
	return verrors.New(verrors.KindProtocol, "store.WriteBatch", "non-retryable store error", err)
}

// isRetryableStoreStatus inspects the error string for the status markers
// the upstream InfluxDB/ClickHouse clients surface, since both wrap HTTP
// responses without a uniform typed status. 429 counts as retryable per
// §4.7.
func isRetryableStoreStatus(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"429", "500", "502", "503", "504", "timeout", "connection reset", "EOF"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
