package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Authenticity verdicts as produced by the AI analyzer.
const (
	VerdictAuthentic  = "authentic"
	VerdictSuspicious = "suspicious"
	VerdictRejected   = "rejected"
)

// SignalKind is the closed set of value kinds an analyzer signal can carry.
type SignalKind int

const (
	SignalString SignalKind = iota
	SignalNumber
	SignalBool
)

// SignalValue is one analyzer signal. It serializes as the bare JSON value
// (string, number or bool) so stored records stay readable.
type SignalValue struct {
	Kind SignalKind
	Str  string
	Num  float64
	Bool bool
}

func StringSignal(v string) SignalValue  { return SignalValue{Kind: SignalString, Str: v} }
func NumberSignal(v float64) SignalValue { return SignalValue{Kind: SignalNumber, Num: v} }
func BoolSignal(v bool) SignalValue      { return SignalValue{Kind: SignalBool, Bool: v} }

func (v SignalValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case SignalNumber:
		return json.Marshal(v.Num)
	case SignalBool:
		return json.Marshal(v.Bool)
	default:
		return json.Marshal(v.Str)
	}
}

func (v *SignalValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = BoolSignal(b)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = NumberSignal(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = StringSignal(s)
		return nil
	}
	return fmt.Errorf("signal value must be string, number or bool, got %s", string(data))
}

// AuthenticityResult is the verdict of the AI authenticity analyzer together
// with its supporting signals (score, model name, per-check outcomes, ...).
type AuthenticityResult struct {
	Status  string                 `json:"status"`
	Signals map[string]SignalValue `json:"signals"`
}

// Ledger receipt tags.
const (
	ReceiptSimulated = "simulated"
	ReceiptSuccess   = "success"
	ReceiptError     = "error"
)

// LedgerReceipt is the outcome of the ledger recording step. Exactly one of
// the three tags is set in Status; TxHash/BlockNumber are only meaningful for
// success receipts and Message only for error receipts.
type LedgerReceipt struct {
	Status      string    `json:"status"`
	TxHash      string    `json:"tx_hash,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func SimulatedReceipt(now time.Time) LedgerReceipt {
	return LedgerReceipt{Status: ReceiptSimulated, Timestamp: now}
}

func SuccessReceipt(txHash string, block uint64, now time.Time) LedgerReceipt {
	return LedgerReceipt{Status: ReceiptSuccess, TxHash: txHash, BlockNumber: block, Timestamp: now}
}

func ErrorReceipt(msg string, now time.Time) LedgerReceipt {
	return LedgerReceipt{Status: ReceiptError, Message: msg, Timestamp: now}
}

// VerificationRecord is the aggregate outcome of one verification attempt.
// It is owned by its document: the latest record replaces the previous one,
// history is retrievable from the ledger only.
type VerificationRecord struct {
	ExtractedText   string             `json:"extracted_text"`
	ConfidenceScore float64            `json:"confidence_score"`
	Authenticity    AuthenticityResult `json:"authenticity"`
	ContentFlags    []string           `json:"content_flags"`
	Ledger          LedgerReceipt      `json:"ledger_receipt"`
	Timestamp       time.Time          `json:"timestamp"`
	// FailureReason preserves the cause of a fatal step failure for
	// diagnostics. Empty on successful runs.
	FailureReason string `json:"failure_reason,omitempty"`
}

// LedgerPayload is the aggregate of the analysis steps committed to the
// ledger. The recorder digests it; raw text never leaves the backend.
type LedgerPayload struct {
	ExtractedText   string             `json:"extracted_text"`
	ConfidenceScore float64            `json:"confidence_score"`
	Authenticity    AuthenticityResult `json:"authenticity"`
	ContentFlags    []string           `json:"content_flags"`
}

// LedgerEntry is one historical verification commit read back from the ledger.
type LedgerEntry struct {
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	Digest      string    `json:"digest"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// StatusFromVerdict derives the document status persisted after a successful
// run. The authentic verdict verifies the document, every other verdict the
// analyzer can produce rejects it.
func StatusFromVerdict(verdict string) VerificationStatus {
	if verdict == VerdictAuthentic {
		return StatusVerified
	}
	return StatusRejected
}
