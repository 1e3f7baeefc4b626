package writepipeline

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/model"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/verrors"
)

// ClickHouseStore is the alternate backend behind the same StoreWriter
// capability, demonstrating the store is genuinely pluggable (§9).
type ClickHouseStore struct {
	conn    clickhouse.Conn
	table   string
	network string
}

// NewClickHouseStore dials a ClickHouse endpoint and targets table for
// vote_latency rows.
func NewClickHouseStore(addr, database, username, password, table, network string) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, verrors.New(verrors.KindConfiguration, "ClickHouseStore.New", "failed to open clickhouse connection", err)
	}
	return &ClickHouseStore{conn: conn, table: table, network: network}, nil
}

// WriteBatch issues one batched INSERT per call, per the worker contract.
func (s *ClickHouseStore) WriteBatch(ctx context.Context, records []model.VoteLatencyRecord) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table+
		" (ts, validator_id, vote_account, network, voted_slot, landed_slot, latency_slots)")
	if err != nil {
		return classifyStoreError(err)
	}

	for _, r := range records {
		if err := batch.Append(
			r.Timestamp,
			shortID(r.IdentityPubkey),
			shortID(r.VoteAccountPubkey),
			s.network,
			r.VotedSlot,
			r.LandedSlot,
			r.LatencySlots,
		); err != nil {
			return classifyStoreError(err)
		}
	}

	if err := batch.Send(); err != nil {
		return classifyStoreError(err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}
