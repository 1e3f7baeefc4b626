// Package writepipeline implements C7: a bounded ingress queue, an LRU
// deduplicator, a size-or-time batcher, and a worker pool writing batches to
// a pluggable time-series store with retry/backoff. Grounded on
// internet-latency-collector's buffer.go (bounded backpressure),
// ledger.go (validate + enqueue), and submitter.go (ticker + retry loop),
// with the dedup LRU grounded on ristretto usage from
// tools/solana/pkg/epoch/finder.go.
package writepipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/dgraph-io/ristretto"
	"github.com/jonboulle/clockwork"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/config"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/model"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/verrors"
)

// StoreWriter is the narrow capability any time-series backend must
// satisfy (§9's "dynamic dispatch over storage backend").
type StoreWriter interface {
	WriteBatch(ctx context.Context, records []model.VoteLatencyRecord) error
	Close() error
}

// Metrics is the subset of counters the pipeline reports; satisfied by
// internal/metrics.Collector.
type Metrics interface {
	IncDedupHit()
	IncEnqueued()
	IncDropped(reason string)
	IncBatchWritten(size int)
	IncBatchDropped(size int)
	IncRetry()
	SetQueueDepth(n int)
}

// Pipeline is C7.
type Pipeline struct {
	log   *slog.Logger
	cfg   config.WritePipeConfig
	store StoreWriter
	dedup *ristretto.Cache
	clock clockwork.Clock
	mtr   Metrics

	queue chan model.VoteLatencyRecord

	batchMu      sync.Mutex
	batch        []model.VoteLatencyRecord
	batchStarted time.Time

	pool      pond.Pool
	closeOnce sync.Once
}

// New constructs a write pipeline. Call Run to start the batcher and
// workers, and Enqueue to submit records.
func New(log *slog.Logger, cfg config.WritePipeConfig, store StoreWriter, mtr Metrics, clock clockwork.Clock) (*Pipeline, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	dedup, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(cfg.DedupCapacity) * 10,
		MaxCost:     int64(cfg.DedupCapacity),
		BufferItems: 64,
	})
	if err != nil {
		return nil, verrors.New(verrors.KindConfiguration, "writepipeline.New", "failed to construct dedup cache", err)
	}

	return &Pipeline{
		log:   log,
		cfg:   cfg,
		store: store,
		dedup: dedup,
		clock: clock,
		mtr:   mtr,
		queue: make(chan model.VoteLatencyRecord, cfg.QueueCapacity),
		pool:  pond.NewPool(cfg.NumWorkers),
	}, nil
}

// Enqueue submits a record, blocking up to cfg.EnqueueTimeout under
// backpressure before dropping it (§4.7).
func (p *Pipeline) Enqueue(ctx context.Context, rec model.VoteLatencyRecord) {
	timer := p.clock.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case p.queue <- rec:
		if p.mtr != nil {
			p.mtr.IncEnqueued()
			p.mtr.SetQueueDepth(len(p.queue))
		}
	case <-ctx.Done():
	case <-timer.Chan():
		p.log.Warn("write pipeline ingress full, dropping record", slog.String("vote_account", rec.VoteAccountPubkey))
		if p.mtr != nil {
			p.mtr.IncDropped("capacity")
		}
	}
}

// Run drives the batcher until ctx is cancelled, then drains whatever is
// still sitting in the ingress queue, flushes the final partial batch, and
// waits for the worker pool to finish outstanding writes. The drain itself
// is bounded by cfg.ShutdownGrace (§4.7: "workers drain the queue with a
// bounded grace period (default 30s), then exit") — it does not depend on
// ctx, which is already cancelled by the time this runs.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drainAndFlush()
			p.pool.StopAndWait()
			return nil
		case rec := <-p.queue:
			p.ingest(ctx, rec)
			if p.mtr != nil {
				p.mtr.SetQueueDepth(len(p.queue))
			}
		case <-ticker.Chan():
			p.flushIfDue(ctx)
		}
	}
}

// drainAndFlush ingests whatever records are already sitting in p.queue —
// submitted by a producer before shutdown but never pulled into a batch —
// then flushes the final partial batch. Bounded by cfg.ShutdownGrace so a
// producer that keeps enqueueing past shutdown can't wedge Run forever.
func (p *Pipeline) drainAndFlush() {
	// Not cancelled on return: the final flush runs on a pool worker after
	// this function returns, and its write must not see a cancelled context.
	drainCtx := context.Background()

	deadline := p.clock.Now().Add(p.cfg.ShutdownGrace)
drain:
	for {
		select {
		case rec := <-p.queue:
			p.ingest(drainCtx, rec)
			if p.clock.Now().After(deadline) {
				break drain
			}
		default:
			break drain
		}
	}

	if n := len(p.queue); n > 0 {
		p.log.Warn("shutdown grace period elapsed, dropping undrained records", slog.Int("count", n))
		if p.mtr != nil {
			for i := 0; i < n; i++ {
				p.mtr.IncDropped("shutdown_grace")
			}
		}
	}
	p.flushLocked(drainCtx)
}

func (p *Pipeline) ingest(ctx context.Context, rec model.VoteLatencyRecord) {
	key := dedupKeyString(rec)
	if _, found := p.dedup.Get(key); found {
		if p.mtr != nil {
			p.mtr.IncDedupHit()
		}
		return
	}
	p.dedup.Set(key, struct{}{}, 1)
	p.dedup.Wait() // Set is buffered; make the key visible to the next Get

	p.batchMu.Lock()
	if len(p.batch) == 0 {
		p.batchStarted = p.clock.Now()
	}
	p.batch = append(p.batch, rec)
	full := len(p.batch) >= p.cfg.BatchSize
	p.batchMu.Unlock()

	if full {
		p.flushLocked(ctx)
	}
}

func (p *Pipeline) flushIfDue(ctx context.Context) {
	p.batchMu.Lock()
	due := len(p.batch) > 0 && p.clock.Now().Sub(p.batchStarted) >= p.cfg.FlushInterval
	p.batchMu.Unlock()
	if due {
		p.flushLocked(ctx)
	}
}

// flushLocked hands the current batch to an idle pool worker.
func (p *Pipeline) flushLocked(ctx context.Context) {
	p.batchMu.Lock()
	if len(p.batch) == 0 {
		p.batchMu.Unlock()
		return
	}
	batch := p.batch
	p.batch = nil
	p.batchMu.Unlock()

	p.pool.Submit(func() {
		p.writeWithRetry(ctx, batch)
	})
}

// writeWithRetry drives store.WriteBatch through an exponential-jittered
// backoff distinct from the stream reconnect backoff in
// internal/subscription (§5's per-component backoff parameters differ), via
// backoff/v5's generic Retry helper rather than a hand-rolled loop.
func (p *Pipeline) writeWithRetry(ctx context.Context, batch []model.VoteLatencyRecord) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryBase
	b.MaxInterval = p.cfg.RetryCap
	b.Multiplier = p.cfg.RetryFactor
	b.RandomizationFactor = p.cfg.RetryJitterFrac

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if attempts > 1 && p.mtr != nil {
			p.mtr.IncRetry()
		}
		werr := p.store.WriteBatch(ctx, batch)
		if werr != nil && !verrors.Retryable(werr) {
			return struct{}{}, backoff.Permanent(werr)
		}
		return struct{}{}, werr
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.cfg.MaxAttempts)))

	if err != nil {
		var permErr *backoff.PermanentError
		if errors.As(err, &permErr) {
			p.log.Error("non-retryable batch write failure, dropping batch",
				slog.Int("count", len(batch)), slog.Any("error", err))
		} else {
			p.log.Error("batch write exhausted retries, dropping batch",
				slog.Int("count", len(batch)), slog.Any("error", err))
		}
		if p.mtr != nil {
			p.mtr.IncBatchDropped(len(batch))
		}
		return
	}
	if p.mtr != nil {
		p.mtr.IncBatchWritten(len(batch))
	}
}

// Close releases the dedup cache and the underlying store.
func (p *Pipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.dedup.Close()
		err = p.store.Close()
	})
	return err
}

func dedupKeyString(rec model.VoteLatencyRecord) string {
	return rec.VoteAccountPubkey + "|" + uitoa(rec.VotedSlot) + "|" + uitoa(rec.LandedSlot)
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

