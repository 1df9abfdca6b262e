package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	fetchCount int
	txs        map[string]TxMeta
	sigs       []SignatureInfo
	sigsErr    error
}

func (f *fakeFetcher) GetTransaction(ctx context.Context, signature string) (TxMeta, error) {
	f.fetchCount++
	if f.txs != nil {
		if tx, ok := f.txs[signature]; ok {
			return tx, nil
		}
	}
	return TxMeta{}, nil
}

func (f *fakeFetcher) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	return f.sigs, f.sigsErr
}

func TestResolveSettlement_InferredPrefixShortCircuits(t *testing.T) {
	r := New(&fakeFetcher{}, zerolog.Nop())
	result := r.ResolveSettlement(context.Background(), "INFERRED_abc123", "wallet1")
	require.Equal(t, SourceEstimated, result.Source)
	require.Zero(t, result.SolDeltaLamports)
}

func TestResolveSettlement_OnchainComputesDelta(t *testing.T) {
	f := &fakeFetcher{
		txs: map[string]TxMeta{
			"sig1": {
				Found:        true,
				AccountKeys:  []string{"other", "wallet1"},
				PreBalances:  []uint64{0, 1_000_000_000},
				PostBalances: []uint64{0, 1_050_000_000},
				FeeLamports:  5000,
			},
		},
	}
	r := New(f, zerolog.Nop())
	r.sleep = func(_ time.Duration) {}

	result := r.ResolveSettlement(context.Background(), "sig1", "wallet1")
	require.Equal(t, SourceOnchain, result.Source)
	require.Equal(t, int64(50_000_000), result.SolDeltaLamports)
	require.Equal(t, uint64(5000), result.GasLamports)
}

func TestResolveSettlement_RetriesThenFallsBackToEstimated(t *testing.T) {
	f := &fakeFetcher{} // every GetTransaction returns Found: false
	r := New(f, zerolog.Nop())
	r.sleep = func(_ time.Duration) {}

	result := r.ResolveSettlement(context.Background(), "sig-never-indexed", "wallet1")
	require.Equal(t, SourceEstimated, result.Source)
	require.Equal(t, maxRetries, f.fetchCount)
}

func TestResolveSettlement_WalletNotFoundFallsBackToEstimated(t *testing.T) {
	f := &fakeFetcher{
		txs: map[string]TxMeta{
			"sig1": {Found: true, AccountKeys: []string{"someone-else"}},
		},
	}
	r := New(f, zerolog.Nop())
	r.sleep = func(_ time.Duration) {}

	result := r.ResolveSettlement(context.Background(), "sig1", "wallet1")
	require.Equal(t, SourceEstimated, result.Source)
}

func TestResolveInferredSettlement_FindsPositiveDeltaAmongTokenMatches(t *testing.T) {
	f := &fakeFetcher{
		sigs: []SignatureInfo{
			{Signature: "sig-neg"},
			{Signature: "sig-wrong-token"},
			{Signature: "sig-sell"},
		},
		txs: map[string]TxMeta{
			"sig-neg": {
				Found: true, AccountKeys: []string{"wallet1", "tokenMintX"},
				PreBalances: []uint64{1_000_000_000, 0}, PostBalances: []uint64{900_000_000, 0},
			},
			"sig-wrong-token": {
				Found: true, AccountKeys: []string{"wallet1", "otherMint"},
				PreBalances: []uint64{900_000_000, 0}, PostBalances: []uint64{1_000_000_000, 0},
			},
			"sig-sell": {
				Found: true, AccountKeys: []string{"wallet1", "tokenMintX"},
				PreBalances: []uint64{900_000_000, 0}, PostBalances: []uint64{1_200_000_000, 0}, FeeLamports: 5000,
			},
		},
	}
	r := New(f, zerolog.Nop())

	result := r.ResolveInferredSettlement(context.Background(), "wallet1", 0.5, "tokenMintX")
	require.Equal(t, SourceInferredOnchain, result.Source)
	require.Equal(t, int64(300_000_000), result.SolDeltaLamports)
}

func TestResolveInferredSettlement_NoRecentSignaturesIsUnknown(t *testing.T) {
	f := &fakeFetcher{sigs: nil}
	r := New(f, zerolog.Nop())

	result := r.ResolveInferredSettlement(context.Background(), "wallet1", 0.5, "tokenMintX")
	require.Equal(t, SourceUnknown, result.Source)
}

func TestResolveInferredSettlement_NoPositiveDeltaFoundIsUnknown(t *testing.T) {
	f := &fakeFetcher{
		sigs: []SignatureInfo{{Signature: "sig1"}},
		txs: map[string]TxMeta{
			"sig1": {
				Found: true, AccountKeys: []string{"wallet1", "tokenMintX"},
				PreBalances: []uint64{1_000_000_000, 0}, PostBalances: []uint64{900_000_000, 0},
			},
		},
	}
	r := New(f, zerolog.Nop())

	result := r.ResolveInferredSettlement(context.Background(), "wallet1", 0.5, "tokenMintX")
	require.Equal(t, SourceUnknown, result.Source)
}
