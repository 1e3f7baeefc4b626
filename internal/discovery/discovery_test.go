package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/config"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRPC struct {
	result *rpc.GetVoteAccountsResult
	err    error
	calls  int
	failN  int
}

func (f *fakeRPC) GetVoteAccounts(ctx context.Context, opts *rpc.GetVoteAccountsOpts) (*rpc.GetVoteAccountsResult, error) {
	f.calls++
	if f.failN > 0 {
		f.failN--
		return nil, f.err
	}
	return f.result, nil
}

type noopNotifier struct {
	added, removed [][]string
}

func (n *noopNotifier) NotifyRegistryChanged(added, removed []string) {
	n.added = append(n.added, added)
	n.removed = append(n.removed, removed)
}

func baseConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		RefreshInterval:    time.Hour,
		IncludeDelinquent:  true,
		BackoffBase:        time.Millisecond,
		BackoffCap:         10 * time.Millisecond,
		BackoffFactor:      2,
		MaxRetriesPerCycle: 3,
	}
}

// Distinct test pubkeys: the active entry borrows two well-known program
// IDs as stand-in pubkeys, the delinquent entry uses fresh wallet pubkeys
// (solana.NewWallet().PublicKey()).
var (
	activeIdentity     = solana.SystemProgramID
	activeVote         = solana.TokenProgramID
	delinquentIdentity = solana.NewWallet().PublicKey()
	delinquentVote     = solana.NewWallet().PublicKey()
)

func sampleResult() *rpc.GetVoteAccountsResult {
	return &rpc.GetVoteAccountsResult{
		Current: []rpc.VoteAccountsResult{
			{NodePubkey: activeIdentity, VotePubkey: activeVote, ActivatedStake: 1_000_000},
		},
		Delinquent: []rpc.VoteAccountsResult{
			{NodePubkey: delinquentIdentity, VotePubkey: delinquentVote, ActivatedStake: 500},
		},
	}
}

func TestRefreshOncePopulatesRegistryIncludingDelinquent(t *testing.T) {
	client := &fakeRPC{result: sampleResult()}
	reg := registry.New()
	notifier := &noopNotifier{}
	w := New(testLogger(), baseConfig(), client, reg, notifier, clockwork.NewFakeClock())

	w.refreshOnce(context.Background())

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	require.True(t, snap[delinquentVote.String()].Delinquent)
	require.False(t, snap[activeVote.String()].Delinquent)
}

func TestRefreshOnceExcludesDelinquentWhenConfigured(t *testing.T) {
	cfg := baseConfig()
	cfg.IncludeDelinquent = false
	client := &fakeRPC{result: sampleResult()}
	reg := registry.New()
	w := New(testLogger(), cfg, client, reg, &noopNotifier{}, clockwork.NewFakeClock())

	w.refreshOnce(context.Background())

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	_, ok := snap[delinquentVote.String()]
	require.False(t, ok)
}

func TestRefreshOnceAppliesMinStakeFilter(t *testing.T) {
	cfg := baseConfig()
	cfg.MinStakeLamports = 1_000
	client := &fakeRPC{result: sampleResult()}
	reg := registry.New()
	w := New(testLogger(), cfg, client, reg, &noopNotifier{}, clockwork.NewFakeClock())

	w.refreshOnce(context.Background())

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	_, ok := snap[activeVote.String()]
	require.True(t, ok)
}

func TestRefreshOnceWhitelistMatchesEitherPubkey(t *testing.T) {
	cfg := baseConfig()
	cfg.Whitelist = []string{delinquentIdentity.String()} // matches the delinquent entry's identity pubkey
	client := &fakeRPC{result: sampleResult()}
	reg := registry.New()
	w := New(testLogger(), cfg, client, reg, &noopNotifier{}, clockwork.NewFakeClock())

	w.refreshOnce(context.Background())

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	_, ok := snap[delinquentVote.String()]
	require.True(t, ok)
}

func TestRefreshOnceBlacklistDropsMatch(t *testing.T) {
	cfg := baseConfig()
	cfg.Blacklist = []string{activeVote.String()}
	client := &fakeRPC{result: sampleResult()}
	reg := registry.New()
	w := New(testLogger(), cfg, client, reg, &noopNotifier{}, clockwork.NewFakeClock())

	w.refreshOnce(context.Background())

	snap := reg.Snapshot()
	_, ok := snap[activeVote.String()]
	require.False(t, ok)
}

func TestRefreshOnceNotifiesOnDelta(t *testing.T) {
	client := &fakeRPC{result: sampleResult()}
	reg := registry.New()
	notifier := &noopNotifier{}
	w := New(testLogger(), baseConfig(), client, reg, notifier, clockwork.NewFakeClock())

	w.refreshOnce(context.Background())

	require.Len(t, notifier.added, 1)
	require.Len(t, notifier.added[0], 2)
}

func TestRefreshOnceRetainsSnapshotOnRPCFailure(t *testing.T) {
	client := &fakeRPC{result: sampleResult()}
	reg := registry.New()
	w := New(testLogger(), baseConfig(), client, reg, &noopNotifier{}, clockwork.NewFakeClock())
	w.refreshOnce(context.Background())
	before := reg.Snapshot()

	failing := &fakeRPC{err: errors.New("rpc unavailable"), failN: 10}
	cfg := baseConfig()
	cfg.MaxRetriesPerCycle = 1
	w2 := New(testLogger(), cfg, failing, reg, &noopNotifier{}, clockwork.NewRealClock())
	w2.refreshOnce(context.Background())

	require.Equal(t, before, reg.Snapshot())
}

func TestCallWithBackoffRetriesThenSucceeds(t *testing.T) {
	client := &fakeRPC{result: sampleResult(), err: errors.New("transient"), failN: 2}
	cfg := baseConfig()
	cfg.MaxRetriesPerCycle = 5
	w := New(testLogger(), cfg, client, registry.New(), &noopNotifier{}, clockwork.NewRealClock())

	result, err := w.callWithBackoff(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 3, client.calls)
}
