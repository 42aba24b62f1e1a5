package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/imthegoodboy/Paylink/internal/domain"
)

// Client is a minimal JSON-RPC client for the handful of node methods
// this system needs. No websocket subscription: the watcher polls
// eth_getLogs, which survives node restarts with plain re-reads.
type Client struct {
	url        string
	httpClient *http.Client
	idCounter  uint64
	address    string
	topic0     string
}

type Config struct {
	URL string
	// Address and Topic0 scope FetchLogs to the gateway contract's
	// Payment event.
	Address string
	Topic0  string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{},
		address:    strings.ToLower(cfg.Address),
		topic0:     strings.ToLower(cfg.Topic0),
	}, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_chainId", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) FetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]domain.EventLog, error) {
	filter := map[string]any{
		"fromBlock": formatHexUint(fromBlock),
		"toBlock":   formatHexUint(toBlock),
	}
	if c.address != "" {
		filter["address"] = c.address
	}
	if c.topic0 != "" {
		filter["topics"] = []any{c.topic0}
	}

	var result []rpcLog
	if err := c.call(ctx, "eth_getLogs", []any{filter}, &result); err != nil {
		return nil, err
	}

	logs := make([]domain.EventLog, 0, len(result))
	for _, log := range result {
		blockNumber, err := parseHexUint(log.BlockNumber)
		if err != nil {
			return nil, err
		}
		logIndex, err := parseHexUint(log.LogIndex)
		if err != nil {
			return nil, err
		}
		logs = append(logs, domain.EventLog{
			BlockNumber: blockNumber,
			TxHash:      log.TxHash,
			LogIndex:    logIndex,
			Address:     strings.ToLower(log.Address),
			Data:        log.Data,
			Topics:      log.Topics,
			Removed:     log.Removed,
		})
	}

	return logs, nil
}

// Code returns the bytecode at address, "0x" when none.
func (c *Client) Code(ctx context.Context, address string) (string, error) {
	var result string
	if err := c.call(ctx, "eth_getCode", []any{strings.ToLower(address), "latest"}, &result); err != nil {
		return "", err
	}
	return result, nil
}

// Accounts lists the node-managed accounts available for signing.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	var result []string
	if err := c.call(ctx, "eth_accounts", []any{}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SendTransaction asks the node to sign and broadcast with one of its
// managed accounts, returning the transaction hash.
func (c *Client) SendTransaction(ctx context.Context, params map[string]any) (string, error) {
	var result string
	if err := c.call(ctx, "eth_sendTransaction", []any{params}, &result); err != nil {
		return "", err
	}
	return result, nil
}

// TransactionConfirmed reports whether the transaction has been mined.
// A mined-but-reverted transaction is surfaced as an error, not as a
// pending state.
func (c *Client) TransactionConfirmed(ctx context.Context, txHash string) (bool, error) {
	var result *rpcReceipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &result); err != nil {
		if errors.Is(err, errEmptyResult) {
			return false, nil
		}
		return false, err
	}
	if result == nil || result.BlockNumber == "" {
		return false, nil
	}
	if result.Status != "" {
		status, err := parseHexUint(result.Status)
		if err != nil {
			return false, err
		}
		if status == 0 {
			return false, fmt.Errorf("transaction %s reverted", txHash)
		}
	}
	return true, nil
}

type rpcLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

type rpcReceipt struct {
	BlockNumber string `json:"blockNumber"`
	Status      string `json:"status"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var errEmptyResult = errors.New("rpc result is empty")

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return errEmptyResult
	}
	return json.Unmarshal(decoded.Result, result)
}

func parseHexUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}

func formatHexUint(value uint64) string {
	return fmt.Sprintf("0x%x", value)
}
