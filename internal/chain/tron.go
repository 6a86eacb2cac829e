package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/meridian/internal/model"
)

// TronClient talks to a Tron full node's HTTP API for reads (TRC20
// balances, finality) and to an external signer service for payouts.
//
// Signing and broadcast are deliberately not done in-process: the signer
// service holds the same relayer keys the registry derives addresses from
// and owns nonce/energy management. The engine only identifies the paying
// account and the transfer parameters.
type TronClient struct {
	endpoint      string // full node HTTP API, e.g. https://api.trongrid.io
	signerURL     string // payout signer service
	tokenContract string // TRC20 token contract (base58)
	http          *http.Client
}

// NewTronClient creates a destination-ledger client.
func NewTronClient(endpoint, signerURL, tokenContract string) *TronClient {
	return &TronClient{
		endpoint:      endpoint,
		signerURL:     signerURL,
		tokenContract: tokenContract,
		http:          &http.Client{Timeout: 15 * time.Second},
	}
}

// GetBalance implements DestinationClient: a constant balanceOf(address)
// call against the configured TRC20 contract.
func (c *TronClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	raw, err := TronAddressBytes(address)
	if err != nil {
		return decimal.Zero, err
	}
	// ABI-encode the single address argument, left-padded to 32 bytes.
	param := make([]byte, 32)
	copy(param[32-len(raw):], raw)

	req := map[string]any{
		"owner_address":     address,
		"contract_address":  c.tokenContract,
		"function_selector": "balanceOf(address)",
		"parameter":         hex.EncodeToString(param),
		"visible":           true,
	}
	var resp struct {
		ConstantResult []string `json:"constant_result"`
		Result         struct {
			Message string `json:"message"`
		} `json:"result"`
	}
	if err := c.post(ctx, c.endpoint+"/wallet/triggerconstantcontract", req, &resp); err != nil {
		return decimal.Zero, err
	}
	if len(resp.ConstantResult) == 0 {
		return decimal.Zero, &TransientError{
			Op:       "get balance",
			Endpoint: c.endpoint,
			Err:      fmt.Errorf("empty constant_result for %s: %s", address, resp.Result.Message),
		}
	}

	word, err := hex.DecodeString(resp.ConstantResult[0])
	if err != nil {
		return decimal.Zero, &TransientError{Op: "get balance", Endpoint: c.endpoint, Err: fmt.Errorf("decode constant_result: %w", err)}
	}
	return decimal.NewFromBigInt(new(big.Int).SetBytes(word), 0), nil
}

// SendPayout implements DestinationClient via the signer service.
func (c *TronClient) SendPayout(ctx context.Context, from model.RelayerCredential, to string, amount decimal.Decimal) (string, error) {
	req := map[string]any{
		"from_address":   from.Address,
		"to_address":     to,
		"token_contract": c.tokenContract,
		"amount":         amount.String(),
	}
	var resp struct {
		TxID  string `json:"txid"`
		Error string `json:"error"`
	}
	if err := c.post(ctx, c.signerURL+"/payout", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &TransientError{Op: "send payout", Endpoint: c.signerURL, Err: fmt.Errorf("signer rejected: %s", resp.Error)}
	}
	if resp.TxID == "" {
		return "", &TransientError{Op: "send payout", Endpoint: c.signerURL, Err: fmt.Errorf("signer returned no txid")}
	}
	return resp.TxID, nil
}

// GetFinality implements DestinationClient against the solidified-state
// API: a transaction reported there has passed the ledger's finality rule.
// An empty response means "not final yet", which is a normal polling
// outcome, not an error.
func (c *TronClient) GetFinality(ctx context.Context, txHash string) (bool, error) {
	req := map[string]any{"value": txHash, "visible": true}
	var resp struct {
		BlockNumber int64 `json:"blockNumber"`
		Receipt     struct {
			Result string `json:"result"`
		} `json:"receipt"`
	}
	if err := c.post(ctx, c.endpoint+"/walletsolidity/gettransactioninfobyid", req, &resp); err != nil {
		return false, err
	}
	if resp.BlockNumber == 0 {
		return false, nil
	}
	if resp.Receipt.Result != "" && resp.Receipt.Result != "SUCCESS" {
		return false, &RevertError{Chain: "destination", TxHash: txHash}
	}
	return true, nil
}

func (c *TronClient) post(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Op: "post", Endpoint: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Op: "read response", Endpoint: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &TransientError{Op: "post", Endpoint: url, Err: fmt.Errorf("status %d: %s", resp.StatusCode, data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransientError{Op: "decode response", Endpoint: url, Err: err}
	}
	return nil
}
