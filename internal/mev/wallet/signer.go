// Package wallet implements the policy-gated transaction signer: a
// long-lived keypair plus a mutable SpendingPolicy checked before every
// sign, with daily usage tracked and reset at UTC midnight.
package wallet

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/bin"
	"github.com/rs/zerolog"

	"github.com/sawpanic/mevengine/internal/mev/clock"
)

// SignRequest is the input to Sign: an unsigned transaction plus the
// context the policy needs to evaluate it.
type SignRequest struct {
	TransactionBase64        string
	EstimatedAmountLamports  int64
	EstimatedProfitLamports  *int64
	ProgramIDs                []string
}

// SignResultKind distinguishes a successful sign from a policy rejection
// or a hard failure; Sign never returns a Go error for expected outcomes.
type SignResultKind string

const (
	SignSuccess     SignResultKind = "success"
	SignPolicyError SignResultKind = "policy_error"
	SignError       SignResultKind = "error"
)

// SignResult is the structured, always-returned outcome of Sign.
type SignResult struct {
	Kind             SignResultKind
	SignedTxBase64   string
	Signature        string
	Violation        *PolicyViolation
	ErrorMessage     string
}

func successResult(txBase64, signature string) SignResult {
	return SignResult{Kind: SignSuccess, SignedTxBase64: txBase64, Signature: signature}
}

func policyErrorResult(v PolicyViolation) SignResult {
	return SignResult{Kind: SignPolicyError, Violation: &v}
}

func errorResult(msg string) SignResult {
	return SignResult{Kind: SignError, ErrorMessage: msg}
}

// Signer holds the private key and the mutable policy gating its use.
type Signer struct {
	mu        sync.RWMutex
	keypair   solana.PrivateKey
	configured bool
	address   string
	connected bool
	policy    SpendingPolicy
	usage     *usageTracker
	clock     clock.Clock
	log       zerolog.Logger
}

// New constructs a Signer. privateKeyBase58 may be empty, in which case
// the signer reports IsConfigured() == false and every Sign call returns
// a SignError result rather than panicking.
func New(privateKeyBase58 string, policy SpendingPolicy, clk clock.Clock, log zerolog.Logger) (*Signer, error) {
	s := &Signer{
		policy: policy,
		usage:  newUsageTracker(clk),
		clock:  clk,
		log:    log,
	}

	if privateKeyBase58 == "" {
		log.Warn().Msg("no private key provided; dev signer not available")
		return s, nil
	}

	kp, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, err
	}

	s.keypair = kp
	s.configured = true
	s.address = kp.PublicKey().String()
	log.Info().Str("wallet_address", s.address).Msg("wallet signer initialized")
	return s, nil
}

// IsConfigured reports whether a usable private key was supplied.
func (s *Signer) IsConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configured
}

// Address returns the wallet's public key, empty if unconfigured.
func (s *Signer) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// Connect marks the wallet ready to sign; fails if no key was configured.
func (s *Signer) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return ErrNotConfigured
	}
	s.connected = true
	return nil
}

// Disconnect revokes the wallet's ability to sign until reconnected.
func (s *Signer) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// UpdatePolicy swaps the active spending policy.
func (s *Signer) UpdatePolicy(policy SpendingPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = policy
}

// ErrNotConfigured is returned by Connect when no private key was supplied.
var ErrNotConfigured = policyConfigError("wallet: private key not configured")

type policyConfigError string

func (e policyConfigError) Error() string { return string(e) }

// validate runs the ordered policy checks (spec §4.8) against req,
// against a snapshot of today's usage.
func (s *Signer) validate(req SignRequest) *PolicyViolation {
	s.mu.RLock()
	policy := s.policy
	s.mu.RUnlock()

	if req.EstimatedAmountLamports > policy.MaxSingleTxLamports {
		return &PolicyViolation{
			Type:    ViolationAmountExceeded,
			Message: "estimated amount exceeds max single transaction amount",
			Details: map[string]any{"amount": req.EstimatedAmountLamports, "max": policy.MaxSingleTxLamports},
		}
	}

	usage := s.usage.snapshot()
	if usage.spentLamports+req.EstimatedAmountLamports > policy.DailyCapLamports {
		return &PolicyViolation{
			Type:    ViolationDailyCapExceeded,
			Message: "transaction would exceed daily spending cap",
			Details: map[string]any{"spent_today": usage.spentLamports, "amount": req.EstimatedAmountLamports, "cap": policy.DailyCapLamports},
		}
	}

	if policy.MaxConcurrentTx > 0 && usage.inFlightTxCount >= policy.MaxConcurrentTx {
		return &PolicyViolation{
			Type:    ViolationConcurrencyExceeded,
			Message: "too many concurrent in-flight transactions",
			Details: map[string]any{"in_flight": usage.inFlightTxCount, "max": policy.MaxConcurrentTx},
		}
	}

	if len(policy.AllowedProgramIDs) > 0 {
		for _, id := range req.ProgramIDs {
			if !policy.AllowedProgramIDs[id] {
				return &PolicyViolation{
					Type:    ViolationProgramNotAllowed,
					Message: "transaction references a program id not on the allow-list",
					Details: map[string]any{"program_id": id},
				}
			}
		}
	}

	if req.EstimatedProfitLamports != nil {
		profit := *req.EstimatedProfitLamports
		if profit > 0 && profit < policy.MinProfitThresholdLamports {
			return &PolicyViolation{
				Type:    ViolationProfitBelowThreshold,
				Message: "estimated profit below minimum threshold",
				Details: map[string]any{"profit": profit, "threshold": policy.MinProfitThresholdLamports},
			}
		}
		// Zero-or-negative profit is passed through deliberately: the
		// caller (approval/risk layers) decides what to do with a loss-
		// making sign, this gate only screens sub-threshold positive profit.
	}

	return nil
}

// Sign validates req against policy, signs the transaction, and records
// the spend. Every outcome — including policy rejection and decode/parse
// failure — is returned as a SignResult, never as a Go error.
func (s *Signer) Sign(ctx context.Context, req SignRequest) SignResult {
	if v := s.validate(req); v != nil {
		return policyErrorResult(*v)
	}

	s.mu.RLock()
	configured := s.configured
	connected := s.connected
	keypair := s.keypair
	s.mu.RUnlock()

	if !configured {
		return errorResult("wallet signer private key not configured")
	}
	if !connected {
		return errorResult("wallet signer not connected")
	}

	txBytes, err := decodeBase64(req.TransactionBase64)
	if err != nil {
		return errorResult("invalid transaction base64: " + err.Error())
	}

	s.usage.beginTx()

	signed, signature, err := signRawTransaction(keypair, txBytes)
	if err != nil {
		s.usage.abortTx()
		return errorResult("failed to sign transaction: " + err.Error())
	}

	s.usage.endTx(req.EstimatedAmountLamports)

	s.log.Info().
		Str("signature", signature).
		Int64("amount_lamports", req.EstimatedAmountLamports).
		Msg("transaction signed")

	return successResult(base64.StdEncoding.EncodeToString(signed), signature)
}

// signRawTransaction signs the message portion of a raw (versioned or
// legacy) Solana transaction and overwrites its first signature slot,
// mirroring the original's try-versioned-then-legacy fallback.
func signRawTransaction(kp solana.PrivateKey, txBytes []byte) ([]byte, string, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(txBytes))
	if err != nil {
		return nil, "", err
	}

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, "", err
	}

	sig, err := kp.Sign(messageBytes)
	if err != nil {
		return nil, "", err
	}

	if len(tx.Signatures) == 0 {
		tx.Signatures = append(tx.Signatures, sig)
	} else {
		tx.Signatures[0] = sig
	}

	out, err := tx.MarshalBinary()
	if err != nil {
		return nil, "", err
	}
	return out, sig.String(), nil
}
