// Package discovery periodically refreshes the validator registry from the
// upstream getVoteAccounts JSON-RPC call, applying the stake/whitelist/
// blacklist/delinquency filter chain before swapping the registry's
// contents. Grounded on SolanaView.GetGossipNodesAndValidatorsByNodePubkey
// for the RPC-to-registry shape and on original_source's discovery.rs for
// the exact filter ordering and either-pubkey whitelist/blacklist matching.
package discovery

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/config"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/model"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/registry"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/verrors"
)

// RPCClient is the narrow surface this worker needs from solana-go's
// rpc.Client, kept as an interface so tests can fake it.
type RPCClient interface {
	GetVoteAccounts(ctx context.Context, opts *rpc.GetVoteAccountsOpts) (*rpc.GetVoteAccountsResult, error)
}

// ChangeNotifier is implemented by the subscription manager: C3 publishes
// registry deltas, C5 subscribes. Neither owns the other (§9).
type ChangeNotifier interface {
	NotifyRegistryChanged(added, removed []string)
}

// Worker is C3.
type Worker struct {
	log    *slog.Logger
	cfg    config.DiscoveryConfig
	rpc    RPCClient
	reg    *registry.Registry
	notify ChangeNotifier
	clock  clockwork.Clock
	epoch  uint64

	refreshErrors int
}

// New constructs a discovery worker.
func New(log *slog.Logger, cfg config.DiscoveryConfig, rpcClient RPCClient, reg *registry.Registry, notify ChangeNotifier, clock clockwork.Clock) *Worker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{log: log, cfg: cfg, rpc: rpcClient, reg: reg, notify: notify, clock: clock}
}

// Run refreshes once immediately, then on cfg.RefreshInterval until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.refreshOnce(ctx)

	ticker := w.clock.NewTicker(w.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			w.refreshOnce(ctx)
		}
	}
}

func (w *Worker) refreshOnce(ctx context.Context) {
	result, err := w.callWithBackoff(ctx)
	if err != nil {
		w.log.Warn("discovery refresh failed, retaining previous snapshot", slog.Any("error", err))
		return
	}

	next := registry.Snapshot{}
	w.epoch++

	consider := make([]rpc.VoteAccountsResult, 0, len(result.Current)+len(result.Delinquent))
	consider = append(consider, result.Current...)
	if w.cfg.IncludeDelinquent {
		consider = append(consider, result.Delinquent...)
	}

	for _, va := range consider {
		if va.ActivatedStake < w.cfg.MinStakeLamports {
			continue
		}
		if len(w.cfg.Whitelist) > 0 && !matchesEither(w.cfg.Whitelist, va.NodePubkey.String(), va.VotePubkey.String()) {
			continue
		}
		if matchesEither(w.cfg.Blacklist, va.NodePubkey.String(), va.VotePubkey.String()) {
			continue
		}
		delinquent := isDelinquent(result, va.VotePubkey.String())
		next[va.VotePubkey.String()] = toValidatorInfo(va, delinquent, w.epoch)
	}

	added, removed := w.reg.Diff(next)
	w.reg.Replace(next)
	w.refreshErrors = 0

	if w.notify != nil && (len(added) > 0 || len(removed) > 0) {
		w.notify.NotifyRegistryChanged(added, removed)
	}
	w.log.Info("discovery refresh complete",
		slog.Int("validators", len(next)),
		slog.Int("added", len(added)),
		slog.Int("removed", len(removed)))
}

func isDelinquent(result *rpc.GetVoteAccountsResult, votePubkey string) bool {
	for _, d := range result.Delinquent {
		if d.VotePubkey.String() == votePubkey {
			return true
		}
	}
	return false
}

func toValidatorInfo(va rpc.VoteAccountsResult, delinquent bool, epoch uint64) model.ValidatorInfo {
	return model.ValidatorInfo{
		IdentityPubkey:    va.NodePubkey.String(),
		VoteAccountPubkey: va.VotePubkey.String(),
		ActivatedStake:    va.ActivatedStake,
		Delinquent:        delinquent,
		Epoch:             epoch,
	}
}

// matchesEither reports whether identity or vote matches any entry in list,
// mirroring the original's "either pubkey" whitelist/blacklist semantics.
func matchesEither(list []string, identity, vote string) bool {
	for _, entry := range list {
		if entry == identity || entry == vote {
			return true
		}
	}
	return false
}

// callWithBackoff retries getVoteAccounts with exponential backoff and
// jitter, bounded per cycle, per §4.3.
func (w *Worker) callWithBackoff(ctx context.Context) (*rpc.GetVoteAccountsResult, error) {
	delay := w.cfg.BackoffBase
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetriesPerCycle; attempt++ {
		if attempt > 0 {
			jittered := addJitter(delay, w.cfg.BackoffJitterFrac)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-w.clock.After(jittered):
			}
			delay = time.Duration(float64(delay) * w.cfg.BackoffFactor)
			if delay > w.cfg.BackoffCap {
				delay = w.cfg.BackoffCap
			}
		}
		result, err := w.rpc.GetVoteAccounts(ctx, &rpc.GetVoteAccountsOpts{})
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, verrors.New(verrors.KindTransientTransport, "discovery.callWithBackoff", "getVoteAccounts exhausted retries", lastErr)
}

func addJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
