// Package settlement resolves a submitted edge's realized PnL, preferring
// on-chain confirmation and falling back to inference or a zero estimate.
package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxRetries      = 3
	retryDelay      = 2 * time.Second
	inferredFanOut  = 15
	signatureWindow = 30
	inferredPrefix  = "INFERRED_"
)

// Source identifies how a Settlement's delta was determined.
type Source string

const (
	SourceOnchain        Source = "onchain"
	SourceInferredOnchain Source = "inferred-onchain"
	SourceEstimated       Source = "estimated"
	SourceUnknown         Source = "unknown"
)

// Settlement is the resolved economic outcome of one submitted transaction.
type Settlement struct {
	SolDeltaLamports int64
	GasLamports      uint64
	Source           Source
}

// SolDeltaSOL converts the lamport delta to SOL.
func (s Settlement) SolDeltaSOL() float64 {
	return float64(s.SolDeltaLamports) / 1e9
}

func estimatedFallback() Settlement {
	return Settlement{Source: SourceEstimated}
}

func unknownFallback() Settlement {
	return Settlement{Source: SourceUnknown}
}

// TxMeta mirrors the subset of a confirmed transaction's metadata needed
// to compute a wallet's balance delta.
type TxMeta struct {
	AccountKeys  []string
	PreBalances  []uint64
	PostBalances []uint64
	FeeLamports  uint64
	Found        bool
}

// SignatureInfo is one entry from a wallet's recent signature history.
type SignatureInfo struct {
	Signature string
	Failed    bool
}

// TransactionFetcher is the narrow RPC surface the resolver needs; a
// Helius-backed implementation lives behind this interface so the resolver
// itself stays provider-agnostic.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, signature string) (TxMeta, error)
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error)
}

// Resolver computes settlements from on-chain data, with the inferred and
// estimated fallbacks the spec requires.
type Resolver struct {
	fetcher TransactionFetcher
	log     zerolog.Logger
	sleep   func(time.Duration)
}

// New constructs a Resolver over fetcher.
func New(fetcher TransactionFetcher, log zerolog.Logger) *Resolver {
	return &Resolver{fetcher: fetcher, log: log, sleep: time.Sleep}
}

// ResolveSettlement fetches the confirmed transaction for signature (with
// retry) and computes the wallet's balance delta; an INFERRED_-prefixed
// signature short-circuits straight to the estimated fallback.
func (r *Resolver) ResolveSettlement(ctx context.Context, signature, walletPubkey string) Settlement {
	if strings.HasPrefix(signature, inferredPrefix) {
		r.log.Debug().Str("signature", signature).Msg("skipping settlement for inferred signature")
		return estimatedFallback()
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			r.sleep(retryDelay)
		}

		meta, err := r.fetcher.GetTransaction(ctx, signature)
		if err != nil {
			r.log.Warn().Err(err).Str("signature", signature).Int("attempt", attempt+1).Msg("failed to fetch transaction")
			continue
		}
		if !meta.Found {
			r.log.Debug().Str("signature", signature).Int("attempt", attempt+1).Msg("transaction not indexed yet")
			continue
		}

		idx := indexOf(meta.AccountKeys, walletPubkey)
		if idx < 0 {
			r.log.Warn().Str("signature", signature).Msg("wallet not found in transaction account keys")
			return estimatedFallback()
		}
		if idx >= len(meta.PreBalances) || idx >= len(meta.PostBalances) {
			r.log.Warn().Str("signature", signature).Int("wallet_index", idx).Msg("wallet index out of bounds")
			return estimatedFallback()
		}

		delta := int64(meta.PostBalances[idx]) - int64(meta.PreBalances[idx])
		r.log.Info().
			Str("signature", signature).
			Int64("delta_lamports", delta).
			Uint64("fee_lamports", meta.FeeLamports).
			Msg("resolved on-chain settlement")

		return Settlement{SolDeltaLamports: delta, GasLamports: meta.FeeLamports, Source: SourceOnchain}
	}

	r.log.Warn().Str("signature", signature).Int("max_retries", maxRetries).Msg("could not resolve on-chain settlement")
	return estimatedFallback()
}

// ResolveInferredSettlement searches the wallet's recent transaction
// history for one involving tokenMint with a positive balance delta, used
// when no signature is available to resolve directly (e.g. an
// externally-executed trade the system only observed indirectly).
func (r *Resolver) ResolveInferredSettlement(ctx context.Context, walletPubkey string, entryAmountSOL float64, tokenMint string) Settlement {
	sigs, err := r.fetcher.GetSignaturesForAddress(ctx, walletPubkey, signatureWindow)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to search wallet transactions")
		return unknownFallback()
	}

	var recent []SignatureInfo
	for _, s := range sigs {
		if !s.Failed {
			recent = append(recent, s)
		}
	}
	if len(recent) == 0 {
		r.log.Warn().Msg("no recent successful transactions found for wallet")
		return unknownFallback()
	}

	fanOut := recent
	if len(fanOut) > inferredFanOut {
		fanOut = fanOut[:inferredFanOut]
	}

	for _, sigInfo := range fanOut {
		meta, err := r.fetcher.GetTransaction(ctx, sigInfo.Signature)
		if err != nil || !meta.Found {
			continue
		}
		if tokenMint != "" && !contains(meta.AccountKeys, tokenMint) {
			continue
		}

		idx := indexOf(meta.AccountKeys, walletPubkey)
		if idx < 0 || idx >= len(meta.PreBalances) || idx >= len(meta.PostBalances) {
			continue
		}

		delta := int64(meta.PostBalances[idx]) - int64(meta.PreBalances[idx])
		if delta <= 0 {
			continue
		}

		r.log.Info().
			Str("signature", sigInfo.Signature).
			Int64("delta_lamports", delta).
			Msg("found inferred settlement transaction")

		return Settlement{SolDeltaLamports: delta, GasLamports: meta.FeeLamports, Source: SourceInferredOnchain}
	}

	r.log.Warn().Str("token_mint", tokenMint).Msg("no positive-delta transaction found in recent history")
	return unknownFallback()
}

func indexOf(keys []string, target string) int {
	for i, k := range keys {
		if k == target {
			return i
		}
	}
	return -1
}

func contains(keys []string, target string) bool {
	return indexOf(keys, target) >= 0
}
