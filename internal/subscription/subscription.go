// Package subscription implements C5: one or more long-lived push-feed
// streams, sharded over the validator set, each driven through an
// IDLE→CONNECTING→READY⇄DEGRADED→BACKOFF→CONNECTING/CLOSED lifecycle.
// Grounded on controlplane/telemetry/internal/gnmitunnel/client.go's
// reconnect loop (cenkalti/backoff/v4, TLS-by-scheme) generalized from one
// tunnel connection to N sharded subscription streams.
package subscription

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jellydator/ttlcache/v3"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/config"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/model"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/registry"
)

// State is a stream's lifecycle state (§4.5).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateDegraded
	StateBackoff
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SlotObserver receives slot updates; satisfied by *slotclock.Clock.
type SlotObserver interface {
	Observe(slot uint64) uint64
}

// Decoder turns a transaction's instruction payloads plus landed slot into
// voted slots; satisfied by *votedecoder.Decoder.
type Decoder interface {
	Decode(ix []model.InstructionPayload, landedSlot uint64) []uint64
}

// Calculator turns voted slots into latency records; satisfied by
// *latency.Calculator.
type Calculator interface {
	Calculate(votedSlots []uint64, landedSlot uint64, identity, voteAccount string, receiveTime time.Time) []model.VoteLatencyRecord
}

// Sink receives latency records for write-pipeline ingestion; satisfied by
// *writepipeline.Pipeline.
type Sink interface {
	Enqueue(ctx context.Context, rec model.VoteLatencyRecord)
}

// StreamFactory opens one raw push-feed connection for a shard's filter.
// Implementations own the wire protocol (gRPC dial, SubscribeRequest
// construction, SubscribeUpdate decoding); kept as an interface so the
// lifecycle/backoff logic here is independently testable.
type StreamFactory interface {
	Open(ctx context.Context, endpoint string, tlsConfig *tls.Config, token string, voteAccounts []string) (RawStream, error)
}

// RawStream is one open push-feed connection.
type RawStream interface {
	// Recv blocks until the next update or an error (including ctx
	// cancellation propagated by the implementation).
	Recv() (Update, error)
	Close() error
}

// UpdateKind classifies an incoming push-feed message (§4.5).
type UpdateKind int

const (
	UpdateSlot UpdateKind = iota
	UpdateTransaction
	UpdateAccount
	UpdatePing
)

// Update is a dispatched push-feed message.
type Update struct {
	Kind  UpdateKind
	Slot  uint64 // valid for UpdateSlot and as the landed slot for UpdateTransaction
	Event model.VoteTransactionEvent
}

// Manager is C5.
type Manager struct {
	log     *slog.Logger
	cfg     config.StreamConfig
	pushCfg config.PushFeedConfig
	factory StreamFactory
	reg     *registry.Registry
	clock   SlotObserver
	decoder Decoder
	calc    Calculator
	sink    Sink

	mu        sync.Mutex
	shards    map[int]*shard
	reconfigT *time.Timer
	closing   bool
	wg        sync.WaitGroup

	// warnCache suppresses repeat "stream connect failed" log lines for the
	// same shard within a short window, so a tight reconnect loop against a
	// down endpoint doesn't spam identical warnings every retry.
	warnCache *ttlcache.Cache[int, struct{}]
}

// New constructs the subscription manager.
func New(log *slog.Logger, cfg config.StreamConfig, pushCfg config.PushFeedConfig, factory StreamFactory, reg *registry.Registry, clock SlotObserver, decoder Decoder, calc Calculator, sink Sink) *Manager {
	return &Manager{
		log:       log,
		cfg:       cfg,
		pushCfg:   pushCfg,
		factory:   factory,
		reg:       reg,
		clock:     clock,
		decoder:   decoder,
		calc:      calc,
		sink:      sink,
		shards:    make(map[int]*shard),
		warnCache: ttlcache.New[int, struct{}](ttlcache.WithTTL[int, struct{}](30 * time.Second)),
	}
}

// Start shards the current registry and launches one stream goroutine per
// shard.
func (m *Manager) Start(ctx context.Context) {
	accounts := m.reg.VoteAccounts()
	sort.Strings(accounts) // deterministic shard membership across restarts
	m.rebuildShards(ctx, accounts)
}

// Stop closes every shard's stream and waits, without a time bound, for
// every shard goroutine to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.closing = true
	for _, s := range m.shards {
		s.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// NotifyRegistryChanged implements discovery.ChangeNotifier. Changes are
// coalesced over cfg.ReconfigWindow to damp a reconfiguration storm (§4.5).
func (m *Manager) NotifyRegistryChanged(added, removed []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return
	}
	if m.reconfigT != nil {
		m.reconfigT.Stop()
	}
	m.reconfigT = time.AfterFunc(m.cfg.ReconfigWindow, func() {
		m.mu.Lock()
		closing := m.closing
		m.mu.Unlock()
		if closing {
			return
		}
		accounts := m.reg.VoteAccounts()
		sort.Strings(accounts)
		m.rebuildShards(context.Background(), accounts)
	})
}

func (m *Manager) rebuildShards(ctx context.Context, accounts []string) {
	m.mu.Lock()
	for _, s := range m.shards {
		s.cancel()
	}
	m.shards = make(map[int]*shard)
	m.mu.Unlock()

	max := m.cfg.MaxSubscriptions
	if max <= 0 {
		max = 50
	}
	n := (len(accounts) + max - 1) / max
	for i := 0; i < n; i++ {
		lo := i * max
		hi := lo + max
		if hi > len(accounts) {
			hi = len(accounts)
		}
		m.launchShard(ctx, i, accounts[lo:hi])
	}
}

func (m *Manager) launchShard(ctx context.Context, id int, voteAccounts []string) {
	sctx, cancel := context.WithCancel(ctx)
	s := &shard{id: id, voteAccounts: voteAccounts, cancel: cancel, state: StateIdle}

	m.mu.Lock()
	m.shards[id] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runShard(sctx, s)
}

// runShard drives one stream's lifecycle. Backoff and TLS match
// gnmitunnel.Client.Run/connect.
func (m *Manager) runShard(ctx context.Context, s *shard) {
	defer m.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.BackoffBase
	bo.MaxInterval = m.cfg.BackoffCap
	bo.Multiplier = m.cfg.BackoffFactor
	bo.MaxElapsedTime = 0 // retry forever until ctx is cancelled

	for {
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return
		}

		s.setState(StateConnecting)
		stream, err := m.connect(ctx, s.voteAccounts)
		if err != nil {
			if m.warnCache.Get(s.id) == nil {
				m.log.Warn("subscription stream connect failed", slog.Int("shard", s.id), slog.Any("error", err))
				m.warnCache.Set(s.id, struct{}{}, ttlcache.DefaultTTL)
			}
			s.setState(StateBackoff)
			if !m.sleepBackoff(ctx, bo) {
				return
			}
			continue
		}

		s.setState(StateReady)
		bo.Reset()
		degraded := m.pump(ctx, stream, s)
		stream.Close()
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return
		}
		if degraded {
			s.setState(StateBackoff)
			if !m.sleepBackoff(ctx, bo) {
				return
			}
		}
	}
}

func (m *Manager) connect(ctx context.Context, voteAccounts []string) (RawStream, error) {
	cctx, cancel := context.WithTimeout(ctx, m.pushCfg.ConnectTimeout)
	defer cancel()

	var tlsConfig *tls.Config
	u, err := url.Parse(m.pushCfg.URL)
	if err == nil && u.Scheme == "https" {
		tlsConfig = &tls.Config{}
	}
	return m.factory.Open(cctx, m.pushCfg.URL, tlsConfig, m.pushCfg.Token, voteAccounts)
}

// stallProbeThreshold is the wall-clock duration an Enqueue call must take
// before it's treated as evidence the downstream write-pipeline queue is
// currently full, rather than ordinary scheduling jitter.
const stallProbeThreshold = 10 * time.Millisecond

// pump reads from stream until a fatal error, a keepalive timeout, ctx
// cancellation, or a sustained downstream stall; returns true if the
// stream should be retried (degraded).
func (m *Manager) pump(ctx context.Context, stream RawStream, s *shard) bool {
	type recvResult struct {
		update Update
		err    error
	}
	updates := make(chan recvResult, 1)

	go func() {
		for {
			u, err := stream.Recv()
			updates <- recvResult{u, err}
			if err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTimer(m.pushCfg.KeepaliveTimeout)
	defer keepalive.Stop()
	s.clearStall()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-keepalive.C:
			m.log.Warn("subscription stream keepalive timeout")
			return true
		case r := <-updates:
			if r.err != nil {
				m.log.Debug("subscription stream recv error", slog.Any("error", r.err))
				return true
			}
			if !keepalive.Stop() {
				<-keepalive.C
			}
			keepalive.Reset(m.pushCfg.KeepaliveTimeout)
			if m.dispatch(ctx, r.update, s) {
				s.setState(StateDegraded)
				m.log.Warn("write pipeline backpressure exceeded stall timeout, reconnecting stream",
					slog.Int("shard", s.id), slog.Duration("stall_timeout", m.cfg.StallTimeout))
				return true
			}
		}
	}
}

// dispatch routes one push-feed update. For UpdateTransaction it tracks how
// long Enqueue is taking; if the downstream queue stays apparently full
// (§4.5's back-pressure requirement) for longer than cfg.StallTimeout, it
// reports the shard as stalled so pump can force a reconnect rather than
// leaving a wedged stream in place indefinitely.
func (m *Manager) dispatch(ctx context.Context, u Update, s *shard) bool {
	switch u.Kind {
	case UpdateSlot:
		m.clock.Observe(u.Slot)
	case UpdateTransaction:
		votedSlots := m.decoder.Decode(u.Event.Instructions, u.Event.LandedSlot)
		if len(votedSlots) == 0 {
			return false
		}
		records := m.calc.Calculate(votedSlots, u.Event.LandedSlot, u.Event.IdentityPubkey, u.Event.VoteAccountPubkey, u.Event.ReceiveTime)
		for _, rec := range records {
			start := time.Now()
			m.sink.Enqueue(ctx, rec)
			if time.Since(start) < stallProbeThreshold {
				s.clearStall()
				continue
			}
			if s.stalledFor(time.Now()) >= m.cfg.StallTimeout {
				return true
			}
		}
	case UpdateAccount:
		m.log.Debug("account update observed (telemetry only, not used for latency)", slog.String("vote_account", u.Event.VoteAccountPubkey))
	case UpdatePing:
	}
	return false
}

func (m *Manager) sleepBackoff(ctx context.Context, bo backoff.BackOff) bool {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type shard struct {
	id           int
	voteAccounts []string
	cancel       context.CancelFunc

	mu         sync.Mutex
	state      State
	stallSince time.Time
}

func (s *shard) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// stalledFor records the first observed stall instant and reports how long
// the shard has been stalled continuously since then.
func (s *shard) stalledFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stallSince.IsZero() {
		s.stallSince = now
		return 0
	}
	return now.Sub(s.stallSince)
}

// clearStall resets the stall clock once Enqueue is observed keeping up
// again.
func (s *shard) clearStall() {
	s.mu.Lock()
	s.stallSince = time.Time{}
	s.mu.Unlock()
}
