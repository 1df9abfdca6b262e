// Package txbuilder turns a surviving Edge into a signable Solana
// transaction by quoting and building a swap through a Jupiter-style
// aggregator, backed by a shared blockhash cache.
package txbuilder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/mevengine/internal/mev/models"
)

// nativeSOLMint is the wrapped-SOL mint used as the universal quote leg.
const nativeSOLMint = "So11111111111111111111111111111111111111112"

var (
	ErrNoSwapMints  = errors.New("txbuilder: cannot extract swap mints from edge")
	ErrNoSwapAmount = errors.New("txbuilder: cannot extract swap amount from edge")
)

// SwapParams is the resolved input to a quote/build cycle.
type SwapParams struct {
	InputMint     string
	OutputMint    string
	AmountLamports uint64
	SlippageBps   int
	UserPublicKey string
}

// RouteInfo describes the aggregator route a BuildResult was built from.
type RouteInfo struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	PriceImpactBps int
	RoutePlan      json.RawMessage
}

// BuildResult is a signable, unsigned swap transaction plus its metadata.
type BuildResult struct {
	EdgeID                 string
	TransactionBase64      string
	LastValidBlockHeight   uint64
	PriorityFeeLamports    uint64
	EstimatedComputeUnits  uint64
	Route                  RouteInfo
}

type quoteResponse struct {
	InputMint        string          `json:"inputMint"`
	OutputMint       string          `json:"outputMint"`
	InAmount         string          `json:"inAmount"`
	OutAmount        string          `json:"outAmount"`
	PriceImpactPct   string          `json:"priceImpactPct"`
	RoutePlan        json.RawMessage `json:"routePlan"`
	SlippageBps      int             `json:"slippageBps"`
}

type swapRequest struct {
	UserPublicKey               string         `json:"userPublicKey"`
	QuoteResponse                quoteResponse `json:"quoteResponse"`
	WrapAndUnwrapSol             bool          `json:"wrapAndUnwrapSol"`
	UseSharedAccounts            bool          `json:"useSharedAccounts"`
	ComputeUnitPriceMicroLamports int64         `json:"computeUnitPriceMicroLamports"`
	DynamicComputeUnitLimit      bool          `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	PriorityFeeLamports  uint64 `json:"prioritizationFeeLamports"`
	ComputeUnitLimit     uint64 `json:"computeUnitLimit"`
}

// Builder quotes and assembles swap transactions against a Jupiter-style
// aggregator HTTP API.
type Builder struct {
	httpClient     *http.Client
	aggregatorURL  string
	blockhashCache *BlockhashCache
	log            zerolog.Logger
}

// New constructs a Builder against aggregatorURL (e.g. the Jupiter quote
// API base), using cache for blockhash lookups.
func New(aggregatorURL string, cache *BlockhashCache, log zerolog.Logger) *Builder {
	return &Builder{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		aggregatorURL: aggregatorURL,
		blockhashCache: cache,
		log:           log,
	}
}

// BuildSwap resolves an edge into swap parameters and builds the resulting
// transaction, retrying exactly once if the first build used a now-stale
// cached blockhash.
func (b *Builder) BuildSwap(ctx context.Context, edge models.Edge, userPublicKey string, slippageBps int) (BuildResult, error) {
	inputMint, outputMint, err := extractSwapMints(edge)
	if err != nil {
		return BuildResult{}, err
	}
	amount, err := extractSwapAmount(edge)
	if err != nil {
		return BuildResult{}, err
	}

	params := SwapParams{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		AmountLamports: amount,
		SlippageBps:    slippageBps,
		UserPublicKey:  userPublicKey,
	}

	result, err := b.buildJupiterSwap(ctx, params, edge.ID.String())
	if err != nil && errors.Is(err, errStaleBlockhash) {
		b.blockhashCache.Invalidate(ctx)
		return b.buildJupiterSwap(ctx, params, edge.ID.String())
	}
	return result, err
}

var errStaleBlockhash = errors.New("txbuilder: blockhash no longer valid")

func (b *Builder) buildJupiterSwap(ctx context.Context, params SwapParams, edgeID string) (BuildResult, error) {
	quote, err := b.getQuote(ctx, params)
	if err != nil {
		return BuildResult{}, fmt.Errorf("txbuilder: quote: %w", err)
	}

	swap, err := b.getSwapTransaction(ctx, quote, params.UserPublicKey)
	if err != nil {
		return BuildResult{}, fmt.Errorf("txbuilder: build swap tx: %w", err)
	}

	bh, err := b.blockhashCache.GetBlockhash(ctx)
	if err != nil {
		return BuildResult{}, fmt.Errorf("txbuilder: blockhash: %w", err)
	}

	inAmount, _ := strconv.ParseUint(quote.InAmount, 10, 64)
	if inAmount == 0 {
		inAmount = params.AmountLamports
	}
	outAmount, _ := strconv.ParseUint(quote.OutAmount, 10, 64)
	priceImpact, _ := strconv.ParseFloat(quote.PriceImpactPct, 64)

	lastValid := swap.LastValidBlockHeight
	if lastValid == 0 {
		lastValid = bh.LastValidBlockHeight
	}
	if lastValid < bh.LastValidBlockHeight {
		return BuildResult{}, errStaleBlockhash
	}

	computeUnits := swap.ComputeUnitLimit
	if computeUnits == 0 {
		computeUnits = 200_000
	}

	return BuildResult{
		EdgeID:                edgeID,
		TransactionBase64:     swap.SwapTransaction,
		LastValidBlockHeight:  lastValid,
		PriorityFeeLamports:   swap.PriorityFeeLamports,
		EstimatedComputeUnits: computeUnits,
		Route: RouteInfo{
			InputMint:      quote.InputMint,
			OutputMint:     quote.OutputMint,
			InAmount:       inAmount,
			OutAmount:      outAmount,
			PriceImpactBps: int(priceImpact * 10000),
			RoutePlan:      quote.RoutePlan,
		},
	}, nil
}

func (b *Builder) getQuote(ctx context.Context, params SwapParams) (quoteResponse, error) {
	q := url.Values{}
	q.Set("inputMint", params.InputMint)
	q.Set("outputMint", params.OutputMint)
	q.Set("amount", strconv.FormatUint(params.AmountLamports, 10))
	q.Set("slippageBps", strconv.Itoa(params.SlippageBps))
	q.Set("onlyDirectRoutes", "false")

	reqURL := b.aggregatorURL + "/quote?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return quoteResponse{}, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return quoteResponse{}, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return quoteResponse{}, fmt.Errorf("quote error: HTTP %d", resp.StatusCode)
	}

	var out quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return quoteResponse{}, fmt.Errorf("decode quote: %w", err)
	}
	return out, nil
}

func (b *Builder) getSwapTransaction(ctx context.Context, quote quoteResponse, userPublicKey string) (swapResponse, error) {
	body, err := json.Marshal(swapRequest{
		UserPublicKey:                 userPublicKey,
		QuoteResponse:                 quote,
		WrapAndUnwrapSol:              true,
		UseSharedAccounts:             true,
		ComputeUnitPriceMicroLamports: 100_000,
		DynamicComputeUnitLimit:       true,
	})
	if err != nil {
		return swapResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.aggregatorURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return swapResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return swapResponse{}, fmt.Errorf("swap request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return swapResponse{}, fmt.Errorf("swap error: HTTP %d", resp.StatusCode)
	}

	var out swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return swapResponse{}, fmt.Errorf("decode swap: %w", err)
	}
	return out, nil
}

// extractSwapMints derives (input, output) mints from the edge's signal
// metadata, falling back to the SOL->token pattern for arbitrage edges.
func extractSwapMints(edge models.Edge) (string, string, error) {
	if edge.SignalData != nil && edge.SignalData.Metadata != nil {
		input, iok := edge.SignalData.Metadata["input_mint"].(string)
		output, ook := edge.SignalData.Metadata["output_mint"].(string)
		if iok && ook && input != "" && output != "" {
			return input, output, nil
		}
	}

	if edge.Kind == "arbitrage" || edge.Kind == "dex_swap" {
		if edge.TokenMint != "" {
			return nativeSOLMint, edge.TokenMint, nil
		}
	}

	return "", "", ErrNoSwapMints
}

// extractSwapAmount derives a lamport amount from signal metadata, falling
// back to the |profit|*10 proxy heuristic the spec calls out as a known
// approximation (see DESIGN.md Open Question 1).
func extractSwapAmount(edge models.Edge) (uint64, error) {
	if edge.SignalData != nil && edge.SignalData.Metadata != nil {
		if amt, ok := edge.SignalData.Metadata["amount_lamports"].(float64); ok && amt > 0 {
			return uint64(amt), nil
		}
		if amt, ok := edge.SignalData.Metadata["in_amount"].(float64); ok && amt > 0 {
			return uint64(amt), nil
		}
	}

	if edge.EstimatedProfitLamports != 0 {
		profit := edge.EstimatedProfitLamports
		if profit < 0 {
			profit = -profit
		}
		return uint64(profit) * 10, nil
	}

	return 0, ErrNoSwapAmount
}
