package subscription

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/config"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/model"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/registry"
)

type fakeFactory struct {
	mu      sync.Mutex
	opened  int
	streams []*fakeStream
}

func (f *fakeFactory) Open(ctx context.Context, endpoint string, tlsConfig *tls.Config, token string, voteAccounts []string) (RawStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	s := &fakeStream{closed: make(chan struct{})}
	f.streams = append(f.streams, s)
	return s, nil
}

type fakeStream struct {
	closed chan struct{}
}

func (s *fakeStream) Recv() (Update, error) {
	<-s.closed
	return Update{}, fmt.Errorf("stream closed")
}

func (s *fakeStream) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

type fakeClock struct{}

func (fakeClock) Observe(slot uint64) uint64 { return slot }

type fakeDecoder struct{}

func (fakeDecoder) Decode(ix []model.InstructionPayload, landedSlot uint64) []uint64 { return nil }

type fakeCalc struct{}

func (fakeCalc) Calculate(votedSlots []uint64, landedSlot uint64, identity, voteAccount string, receiveTime time.Time) []model.VoteLatencyRecord {
	return nil
}

type fakeSink struct{}

func (fakeSink) Enqueue(ctx context.Context, rec model.VoteLatencyRecord) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stallingStream struct {
	closed chan struct{}
	once   sync.Once
}

func newStallingStream() *stallingStream {
	return &stallingStream{closed: make(chan struct{})}
}

func (s *stallingStream) Recv() (Update, error) {
	select {
	case <-s.closed:
		return Update{}, fmt.Errorf("stream closed")
	default:
		return Update{Kind: UpdateTransaction, Event: model.VoteTransactionEvent{LandedSlot: 1}}, nil
	}
}

func (s *stallingStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type stallFactory struct {
	mu     sync.Mutex
	opened int
}

func (f *stallFactory) Open(ctx context.Context, endpoint string, tlsConfig *tls.Config, token string, voteAccounts []string) (RawStream, error) {
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	return newStallingStream(), nil
}

type oneSlotDecoder struct{}

func (oneSlotDecoder) Decode(ix []model.InstructionPayload, landedSlot uint64) []uint64 {
	return []uint64{landedSlot}
}

type oneRecordCalc struct{}

func (oneRecordCalc) Calculate(votedSlots []uint64, landedSlot uint64, identity, voteAccount string, receiveTime time.Time) []model.VoteLatencyRecord {
	return []model.VoteLatencyRecord{{VotedSlot: votedSlots[0], LandedSlot: landedSlot}}
}

type slowSink struct{ delay time.Duration }

func (s slowSink) Enqueue(ctx context.Context, rec model.VoteLatencyRecord) {
	time.Sleep(s.delay)
}

// TestStallTimeoutForcesReconnect exercises §4.5's back-pressure path: once
// Enqueue keeps taking longer than the stall probe threshold for cfg.
// StallTimeout, the stream must be torn down and reopened rather than left
// wedged indefinitely.
func TestStallTimeoutForcesReconnect(t *testing.T) {
	reg := registry.New()
	reg.Replace(registry.Snapshot{"vote1": model.ValidatorInfo{VoteAccountPubkey: "vote1"}})

	factory := &stallFactory{}
	cfg := config.StreamConfig{
		MaxSubscriptions: 50,
		StallTimeout:     20 * time.Millisecond,
		ReconfigWindow:   5 * time.Second,
		BackoffBase:      time.Millisecond,
		BackoffCap:       5 * time.Millisecond,
		BackoffFactor:    2,
	}
	pushCfg := config.PushFeedConfig{
		URL:              "https://example.invalid",
		ConnectTimeout:   time.Second,
		KeepaliveTimeout: time.Second,
	}

	mgr := New(testLogger(), cfg, pushCfg, factory, reg, fakeClock{}, oneSlotDecoder{}, oneRecordCalc{}, slowSink{delay: 15 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	require.Eventually(t, func() bool {
		factory.mu.Lock()
		defer factory.mu.Unlock()
		return factory.opened >= 2
	}, 2*time.Second, 5*time.Millisecond, "sustained stall must force at least one reconnect")

	cancel()
	mgr.Stop()
}

func TestShardingOpensExpectedStreamsE5(t *testing.T) {
	reg := registry.New()
	snap := registry.Snapshot{}
	for i := 0; i < 1200; i++ {
		key := fmt.Sprintf("vote%d", i)
		snap[key] = model.ValidatorInfo{VoteAccountPubkey: key}
	}
	reg.Replace(snap)

	factory := &fakeFactory{}
	cfg := config.StreamConfig{
		MaxSubscriptions: 50,
		StallTimeout:     30 * time.Second,
		ReconfigWindow:   5 * time.Second,
		BackoffBase:      10 * time.Millisecond,
		BackoffCap:       100 * time.Millisecond,
		BackoffFactor:    2,
	}
	pushCfg := config.PushFeedConfig{
		URL:              "https://example.invalid",
		ConnectTimeout:   time.Second,
		KeepaliveTimeout: time.Second,
	}

	mgr := New(testLogger(), cfg, pushCfg, factory, reg, fakeClock{}, fakeDecoder{}, fakeCalc{}, fakeSink{})
	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	require.Eventually(t, func() bool {
		factory.mu.Lock()
		defer factory.mu.Unlock()
		return factory.opened == 24 // ceil(1200/50)
	}, time.Second, 5*time.Millisecond)

	cancel()
	mgr.Stop()
}
