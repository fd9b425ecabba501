package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"veritrust/internal/models"
	"veritrust/pkg/config"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

// verificationRecordedEvent is the signature of the contract event emitted
// for each committed verification.
const verificationRecordedEvent = "VerificationRecorded(bytes32,bytes32)"

// LedgerService commits verification digests to an Ethereum-compatible
// ledger over JSON-RPC. Recording is an audit side-effect, not a correctness
// gate: Record always returns a receipt value and never an error. With the
// ledger disabled it returns simulated receipts and an empty history.
type LedgerService struct {
	cfg        config.LedgerConfig
	httpClient *http.Client
	logger     *zap.Logger
	reqID      atomic.Int64
}

func NewLedgerService(cfg *config.LedgerConfig, logger *zap.Logger) *LedgerService {
	if !cfg.Enabled {
		logger.Info("Ledger recording disabled, receipts will be simulated")
	}
	return &LedgerService{
		cfg:        *cfg,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Record commits a digest of the verification outcome for a document.
func (s *LedgerService) Record(ctx context.Context, documentID string, payload models.LedgerPayload) models.LedgerReceipt {
	now := time.Now().UTC()
	if !s.cfg.Enabled {
		return models.SimulatedReceipt(now)
	}

	digest, err := payloadDigest(payload)
	if err != nil {
		s.logger.Error("Failed to digest verification payload", zap.Error(err))
		return models.ErrorReceipt(err.Error(), now)
	}

	txHash, err := s.sendRecordTransaction(ctx, documentID, digest)
	if err != nil {
		s.logger.Error("Failed to record verification on ledger",
			zap.String("document_id", documentID),
			zap.Error(err),
		)
		return models.ErrorReceipt(err.Error(), now)
	}

	block, err := s.waitForReceipt(ctx, txHash)
	if err != nil {
		s.logger.Error("Failed to confirm ledger transaction",
			zap.String("tx_hash", txHash),
			zap.Error(err),
		)
		return models.ErrorReceipt(err.Error(), now)
	}

	s.logger.Info("Verification recorded on ledger",
		zap.String("document_id", documentID),
		zap.String("tx_hash", txHash),
		zap.Uint64("block", block),
	)

	return models.SuccessReceipt(txHash, block, time.Now().UTC())
}

// History returns past verification commits for a document, oldest first.
func (s *LedgerService) History(ctx context.Context, documentID string) ([]models.LedgerEntry, error) {
	if !s.cfg.Enabled {
		return []models.LedgerEntry{}, nil
	}

	params := []interface{}{map[string]interface{}{
		"fromBlock": "0x0",
		"toBlock":   "latest",
		"address":   s.cfg.ContractAddress,
		"topics": []string{
			eventTopic(verificationRecordedEvent),
			documentTopic(documentID),
		},
	}}

	var logs []struct {
		TransactionHash string `json:"transactionHash"`
		BlockNumber     string `json:"blockNumber"`
		Data            string `json:"data"`
	}
	if err := s.rpcCall(ctx, "eth_getLogs", params, &logs); err != nil {
		return nil, fmt.Errorf("failed to read ledger history: %w", err)
	}

	entries := make([]models.LedgerEntry, 0, len(logs))
	for _, lg := range logs {
		block, err := parseHexUint(lg.BlockNumber)
		if err != nil {
			s.logger.Warn("Skipping ledger log with bad block number",
				zap.String("block", lg.BlockNumber),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, models.LedgerEntry{
			TxHash:      lg.TransactionHash,
			BlockNumber: block,
			Digest:      strings.TrimPrefix(lg.Data, "0x"),
		})
	}

	return entries, nil
}

// sendRecordTransaction submits the digest to the verification contract. The
// transaction data is the event topic's selector followed by the document
// topic and the digest, which is what the contract's recordVerification
// entrypoint expects.
func (s *LedgerService) sendRecordTransaction(ctx context.Context, documentID, digest string) (string, error) {
	docTopic := strings.TrimPrefix(documentTopic(documentID), "0x")
	selector := strings.TrimPrefix(eventTopic(verificationRecordedEvent), "0x")[:8]
	data := "0x" + selector + docTopic + digest

	params := []interface{}{map[string]interface{}{
		"from": s.cfg.AccountAddress,
		"to":   s.cfg.ContractAddress,
		"data": data,
	}}

	var txHash string
	if err := s.rpcCall(ctx, "eth_sendTransaction", params, &txHash); err != nil {
		return "", err
	}
	if txHash == "" {
		return "", fmt.Errorf("empty transaction hash from ledger")
	}
	return txHash, nil
}

// waitForReceipt polls for the transaction receipt until the context expires.
func (s *LedgerService) waitForReceipt(ctx context.Context, txHash string) (uint64, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		var receipt *struct {
			BlockNumber string `json:"blockNumber"`
		}
		if err := s.rpcCall(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &receipt); err != nil {
			return 0, err
		}
		if receipt != nil && receipt.BlockNumber != "" {
			return parseHexUint(receipt.BlockNumber)
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("timed out waiting for ledger receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *LedgerService) rpcCall(ctx context.Context, method string, params interface{}, result interface{}) error {
	reqBody, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      s.reqID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.ProviderURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create RPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("RPC request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("RPC request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to decode RPC result: %w", err)
		}
	}
	return nil
}

// payloadDigest produces the hex sha256 digest of the canonical JSON payload.
func payloadDigest(payload models.LedgerPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode ledger payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func eventTopic(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func documentTopic(documentID string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(documentID))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func parseHexUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
