package holder

import (
	"context"
	"fmt"
)

// Source is one tiered holder-enumeration fetcher. RPC is cheapest and
// least complete; Complete is most expensive but paginates to
// exhaustiveness. Rate limiting is done by the orchestrator, not by the
// Source implementation: it waits on its limiter once per tiered fetch,
// keyed by FetchOptions.PreferredSource (empty unless set), and the
// individual Source calls of a fallback walk are not limited separately.
type Source interface {
	Tier() SourceTier
	FetchHolders(ctx context.Context, mint string, opts FetchOptions) ([]Balance, error)
}

// Classifier labels a wallet's behavioral category.
type Classifier interface {
	Classify(ctx context.Context, wallet string) (WalletCategory, float64, error)
}

// TieredFetcher tries sources in preference order, falling back on error
// when opts.EnableFallback is set (§4.12 step 2).
type TieredFetcher struct {
	bySource map[SourceTier]Source
	order    []SourceTier
}

// NewTieredFetcher builds a fetcher from RPC -> enhanced -> complete, the
// default preference order; nil sources for unavailable tiers are skipped.
func NewTieredFetcher(rpc, enhanced, complete Source) *TieredFetcher {
	f := &TieredFetcher{bySource: make(map[SourceTier]Source)}
	for _, s := range []Source{rpc, enhanced, complete} {
		if s == nil {
			continue
		}
		f.bySource[s.Tier()] = s
		f.order = append(f.order, s.Tier())
	}
	return f
}

// Fetch tries opts.PreferredSource first (if configured and available),
// then walks the remaining tiers in default order when EnableFallback is
// set. Returns the first successful result along with which tier served it.
func (f *TieredFetcher) Fetch(ctx context.Context, mint string, opts FetchOptions) ([]Balance, SourceTier, error) {
	tiers := f.tryOrder(opts)

	var lastErr error
	for i, tier := range tiers {
		src, ok := f.bySource[tier]
		if !ok {
			continue
		}
		balances, err := src.FetchHolders(ctx, mint, opts)
		if err == nil {
			return balances, tier, nil
		}
		lastErr = err
		if !opts.EnableFallback {
			break
		}
		_ = i
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("holder: no source configured for any tier")
	}
	return nil, "", fmt.Errorf("holder: tiered fetch exhausted: %w", lastErr)
}

func (f *TieredFetcher) tryOrder(opts FetchOptions) []SourceTier {
	if opts.PreferredSource == "" {
		return f.order
	}
	out := []SourceTier{opts.PreferredSource}
	for _, t := range f.order {
		if t != opts.PreferredSource {
			out = append(out, t)
		}
	}
	return out
}
