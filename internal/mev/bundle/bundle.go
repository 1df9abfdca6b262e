// Package bundle implements the block-engine bundle submitter: tip
// calculation, bundle send, status polling, and tip-account discovery.
package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sawpanic/mevengine/internal/mev/models"
)

// bundleStatusTTL bounds how long a polled bundle status is trusted before
// GetStatus re-fetches from the block engine. At the default 500ms
// PollInterval it spans several polls, so a cached status can be up to 2s old.
const bundleStatusTTL = 2 * time.Second

func bundleStatusCacheKey(bundleID string) string {
	return "mevengine:bundle_status:" + bundleID
}

type cachedBundleStatus struct {
	Status     models.BundleState `json:"status"`
	LandedSlot *uint64            `json:"landed_slot"`
}

// Config tunes tip sizing and polling behavior.
type Config struct {
	MaxTipLamports        uint64
	BaseTipLamports       uint64
	TipPercentageOfProfit float64
	PollInterval          time.Duration
}

// DefaultConfig mirrors the original's BundleConfig defaults.
func DefaultConfig() Config {
	return Config{
		MaxTipLamports:        100_000,
		BaseTipLamports:       1_000,
		TipPercentageOfProfit: 0.1,
		PollInterval:          500 * time.Millisecond,
	}
}

// CalculateTip implements clamp(base_tip, profit*tip_pct, max_tip) as
// max(base, profit*pct) capped at max_tip (spec §4.9 exactly).
func (c Config) CalculateTip(estimatedProfitLamports int64) uint64 {
	profitBased := uint64(0)
	if estimatedProfitLamports > 0 {
		profitBased = uint64(float64(estimatedProfitLamports) * c.TipPercentageOfProfit)
	}
	tip := c.BaseTipLamports
	if profitBased > tip {
		tip = profitBased
	}
	if tip > c.MaxTipLamports {
		tip = c.MaxTipLamports
	}
	return tip
}

type sendBundleRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      int        `json:"id"`
	Method  string     `json:"method"`
	Params  [][]string `json:"params"`
}

type jitoError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type sendBundleResponse struct {
	Result *string    `json:"result"`
	Error  *jitoError `json:"error"`
}

type getStatusRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int      `json:"id"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
}

type bundleStatusResult struct {
	BundleID   string  `json:"bundle_id"`
	Status     string  `json:"status"`
	LandedSlot *uint64 `json:"landed_slot"`
}

type getStatusResponse struct {
	Result *bundleStatusResult `json:"result"`
	Error  *jitoError          `json:"error"`
}

// WaitOutcome distinguishes a landed/failed/dropped terminal status from a
// timeout, which is its own failure class and never reported as landed.
type WaitOutcome struct {
	Status  models.BundleState
	TimedOut bool
}

// Submitter talks to a Jito-style block-engine bundle endpoint.
type Submitter struct {
	httpClient     *http.Client
	blockEngineURL string
	config         Config
	log            zerolog.Logger
	rdb            *redis.Client

	mu          sync.Mutex
	tipAccounts []string
	nextTipIdx  int
}

// New constructs a Submitter against blockEngineURL. rdb is optional: a nil
// client disables status caching and every GetStatus call hits the block
// engine directly, same as before caching existed.
func New(blockEngineURL string, config Config, log zerolog.Logger, rdb *redis.Client) *Submitter {
	return &Submitter{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		blockEngineURL: blockEngineURL,
		config:         config,
		log:            log,
		rdb:            rdb,
	}
}

// RefreshTipAccounts fetches the current list of block-engine tip accounts.
func (s *Submitter) RefreshTipAccounts(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.blockEngineURL+"/api/v1/bundles/tip_accounts", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bundle: tip accounts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bundle: tip accounts error: HTTP %d", resp.StatusCode)
	}

	var accounts []string
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return fmt.Errorf("bundle: decode tip accounts: %w", err)
	}

	s.mu.Lock()
	s.tipAccounts = accounts
	s.nextTipIdx = 0
	s.mu.Unlock()
	return nil
}

// NextTipAccount round-robins over the last-refreshed tip account list;
// returns false if none have been discovered yet.
func (s *Submitter) NextTipAccount() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tipAccounts) == 0 {
		return "", false
	}
	account := s.tipAccounts[s.nextTipIdx%len(s.tipAccounts)]
	s.nextTipIdx++
	return account, true
}

// SendBundle submits transactions with the given tip and returns the
// assigned bundle id immediately (does not wait for a terminal status).
func (s *Submitter) SendBundle(ctx context.Context, transactions []string, tipLamports uint64) (models.BundleSubmission, error) {
	request := sendBundleRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendBundle",
		Params:  [][]string{transactions},
	}

	body, err := json.Marshal(request)
	if err != nil {
		return models.BundleSubmission{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.blockEngineURL+"/api/v1/bundles", bytes.NewReader(body))
	if err != nil {
		return models.BundleSubmission{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return models.BundleSubmission{}, fmt.Errorf("bundle: submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return models.BundleSubmission{}, fmt.Errorf("bundle: submission error status: HTTP %d", resp.StatusCode)
	}

	var result sendBundleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.BundleSubmission{}, fmt.Errorf("bundle: decode response: %w", err)
	}
	if result.Error != nil {
		return models.BundleSubmission{}, fmt.Errorf("bundle: error %d: %s", result.Error.Code, result.Error.Message)
	}

	return models.BundleSubmission{
		ID:           uuid.New(),
		Transactions: transactions,
		TipLamports:  int64(tipLamports),
		Status:       models.BundlePending,
		SubmittedAt:  time.Now(),
	}, nil
}

// GetStatus fetches the current status of a submitted bundle, preferring a
// fresh cached result over a block-engine round trip between polls.
func (s *Submitter) GetStatus(ctx context.Context, bundleID string) (models.BundleState, *uint64, error) {
	if cached, ok := s.readCachedStatus(ctx, bundleID); ok {
		return cached.Status, cached.LandedSlot, nil
	}

	status, landedSlot, err := s.fetchStatus(ctx, bundleID)
	if err != nil {
		return "", nil, err
	}

	s.writeCachedStatus(ctx, bundleID, cachedBundleStatus{Status: status, LandedSlot: landedSlot})
	return status, landedSlot, nil
}

func (s *Submitter) readCachedStatus(ctx context.Context, bundleID string) (cachedBundleStatus, bool) {
	if s.rdb == nil {
		return cachedBundleStatus{}, false
	}
	data, err := s.rdb.Get(ctx, bundleStatusCacheKey(bundleID)).Bytes()
	if err != nil {
		return cachedBundleStatus{}, false
	}
	var cached cachedBundleStatus
	if err := json.Unmarshal(data, &cached); err != nil {
		return cachedBundleStatus{}, false
	}
	return cached, true
}

func (s *Submitter) writeCachedStatus(ctx context.Context, bundleID string, status cachedBundleStatus) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, bundleStatusCacheKey(bundleID), data, bundleStatusTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("bundle_id", bundleID).Msg("bundle status cache write failed")
	}
}

func (s *Submitter) fetchStatus(ctx context.Context, bundleID string) (models.BundleState, *uint64, error) {
	request := getStatusRequest{JSONRPC: "2.0", ID: 1, Method: "getBundleStatus", Params: []string{bundleID}}
	body, err := json.Marshal(request)
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.blockEngineURL+"/api/v1/bundles", bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("bundle: status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", nil, fmt.Errorf("bundle: status error: HTTP %d", resp.StatusCode)
	}

	var result getStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", nil, fmt.Errorf("bundle: decode status: %w", err)
	}
	if result.Error != nil {
		return "", nil, fmt.Errorf("bundle: status error %d: %s", result.Error.Code, result.Error.Message)
	}

	if result.Result == nil {
		return models.BundlePending, nil, nil
	}

	return mapState(result.Result.Status), result.Result.LandedSlot, nil
}

func mapState(raw string) models.BundleState {
	switch raw {
	case "Landed", "landed":
		return models.BundleLanded
	case "Failed", "failed":
		return models.BundleFailed
	case "Pending", "pending":
		return models.BundlePending
	default:
		return models.BundleDropped
	}
}

// WaitForBundle polls GetStatus at Config.PollInterval until a terminal
// state is observed or timeout elapses; a timeout is its own failure
// class, never reported as landed.
func (s *Submitter) WaitForBundle(ctx context.Context, bundleID string, timeout time.Duration) (WaitOutcome, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return WaitOutcome{TimedOut: true}, nil
		}

		state, _, err := s.GetStatus(ctx, bundleID)
		if err != nil {
			return WaitOutcome{}, err
		}

		switch state {
		case models.BundleLanded, models.BundleFailed, models.BundleDropped:
			return WaitOutcome{Status: state}, nil
		}

		select {
		case <-ctx.Done():
			return WaitOutcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
