package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/imthegoodboy/Paylink/internal/application"
)

// NodeWallet funds transfers from a node-managed account (a dev or
// operator node with unlocked accounts). Approval is delegated to a
// caller-supplied prompt so user intent stays an explicit step.
type NodeWallet struct {
	client  *Client
	gateway string
	// Prompt is invoked once per submission before broadcasting. A nil
	// Prompt approves silently; returning an error rejects the
	// submission.
	Prompt func(req application.TransferRequest) error

	mu   sync.Mutex
	from string
}

func NewNodeWallet(client *Client, gateway string) (*NodeWallet, error) {
	if client == nil {
		return nil, errors.New("rpc client is required")
	}
	if strings.TrimSpace(gateway) == "" {
		return nil, errors.New("gateway contract address is required")
	}
	return &NodeWallet{client: client, gateway: strings.ToLower(gateway)}, nil
}

func (w *NodeWallet) Connected(ctx context.Context) bool {
	_, err := w.fundingAccount(ctx)
	return err == nil
}

func (w *NodeWallet) ChainID(ctx context.Context) (uint64, error) {
	return w.client.ChainID(ctx)
}

func (w *NodeWallet) Approve(ctx context.Context, req application.TransferRequest) error {
	if w.Prompt == nil {
		return nil
	}
	return w.Prompt(req)
}

func (w *NodeWallet) SendNative(ctx context.Context, req application.TransferRequest) (string, error) {
	from, err := w.fundingAccount(ctx)
	if err != nil {
		return "", err
	}
	data, err := payNativeCalldata(req.Receiver, req.Slug, req.Memo)
	if err != nil {
		return "", err
	}
	return w.client.SendTransaction(ctx, map[string]any{
		"from":  from,
		"to":    w.gateway,
		"value": "0x" + req.AmountWei.Text(16),
		"data":  data,
	})
}

func (w *NodeWallet) fundingAccount(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.from != "" {
		return w.from, nil
	}
	accounts, err := w.client.Accounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("node manages no accounts")
	}
	w.from = strings.ToLower(accounts[0])
	return w.from, nil
}
