package wallet

import (
	"encoding/base64"
	"sync"

	"github.com/sawpanic/mevengine/internal/mev/clock"
)

// SpendingPolicy bounds what a wallet signer will sign for.
type SpendingPolicy struct {
	MaxSingleTxLamports      int64
	DailyCapLamports         int64
	MinProfitThresholdLamports int64
	MaxConcurrentTx          int
	AllowedProgramIDs        map[string]bool
}

// DefaultSpendingPolicy is a conservative dev-mode starting point.
func DefaultSpendingPolicy() SpendingPolicy {
	return SpendingPolicy{
		MaxSingleTxLamports:        1_000_000_000, // 1 SOL
		DailyCapLamports:           10_000_000_000, // 10 SOL
		MinProfitThresholdLamports: 100_000,
		MaxConcurrentTx:            3,
		AllowedProgramIDs:          make(map[string]bool),
	}
}

// ViolationType classifies why a spend was rejected.
type ViolationType string

const (
	ViolationAmountExceeded        ViolationType = "amount_exceeded"
	ViolationDailyCapExceeded      ViolationType = "daily_cap_exceeded"
	ViolationProfitBelowThreshold  ViolationType = "profit_below_threshold"
	ViolationConcurrencyExceeded   ViolationType = "concurrency_exceeded"
	ViolationProgramNotAllowed     ViolationType = "program_not_allowed"
)

// PolicyViolation is a structured, non-throwing rejection reason.
type PolicyViolation struct {
	Type    ViolationType
	Message string
	Details map[string]any
}

func (v PolicyViolation) Error() string { return v.Message }

// dailyUsage tracks per-calendar-day spend and is lazily reset on read,
// matching the risk manager's and approval manager's rollover pattern.
type dailyUsage struct {
	date            string
	spentLamports   int64
	inFlightTxCount int
}

func (d *dailyUsage) resetIfNewDay(today string) {
	if d.date != today {
		d.date = today
		d.spentLamports = 0
		// in-flight count is not calendar-scoped; it reflects concurrently
		// outstanding signs, so it survives a day rollover untouched.
	}
}

// usageTracker is the mutable, lock-protected state a Signer consults
// during validate() and mutates after a successful sign().
type usageTracker struct {
	mu    sync.Mutex
	clock clock.Clock
	usage dailyUsage
}

func newUsageTracker(clk clock.Clock) *usageTracker {
	return &usageTracker{clock: clk, usage: dailyUsage{date: clock.UTCDate(clk.Now())}}
}

func (u *usageTracker) snapshot() dailyUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.resetIfNewDay(clock.UTCDate(u.clock.Now()))
	return u.usage
}

func (u *usageTracker) beginTx() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.resetIfNewDay(clock.UTCDate(u.clock.Now()))
	u.usage.inFlightTxCount++
}

func (u *usageTracker) endTx(spentLamports int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.usage.inFlightTxCount > 0 {
		u.usage.inFlightTxCount--
	}
	u.usage.resetIfNewDay(clock.UTCDate(u.clock.Now()))
	u.usage.spentLamports += spentLamports
}

func (u *usageTracker) abortTx() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.usage.inFlightTxCount > 0 {
		u.usage.inFlightTxCount--
	}
}

// decodeBase64 centralizes the transaction-bytes decode step so Sign's
// error path stays uniform.
func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
