package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/imthegoodboy/Paylink/internal/application"
	"github.com/imthegoodboy/Paylink/internal/config"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/ethrpc"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/logging"

	"github.com/shopspring/decimal"
)

func main() {
	var (
		slug     = flag.String("slug", "", "payee slug to resolve through the ledger API")
		receiver = flag.String("to", "", "receiver address (overrides -slug resolution)")
		amount   = flag.String("amount", "", "amount of the native asset, e.g. 0.5")
		memo     = flag.String("memo", "", "optional memo recorded with the payment")
		token    = flag.String("token", "", "token address; empty means the native asset")
		apiURL   = flag.String("api", "http://localhost:8080", "ledger API base URL")
		yes      = flag.Bool("yes", false, "skip the approval prompt")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if _, err := logging.Init(logging.Config{Level: cfg.LogLevel}); err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
	}

	if *amount == "" {
		fmt.Fprintln(os.Stderr, "-amount is required")
		os.Exit(2)
	}
	if *receiver == "" && *slug == "" {
		fmt.Fprintln(os.Stderr, "either -to or -slug is required")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	to := *receiver
	if to == "" {
		resolved, err := resolveSlug(ctx, *apiURL, *slug)
		if err != nil {
			fmt.Fprintln(os.Stderr, "slug resolution failed:", err)
			os.Exit(1)
		}
		to = resolved
		fmt.Printf("resolved %q to %s\n", *slug, to)
	}

	rpcClient, err := ethrpc.NewClient(ethrpc.Config{URL: cfg.RPCURL})
	if err != nil {
		fmt.Fprintln(os.Stderr, "rpc error:", err)
		os.Exit(1)
	}

	wallet, err := ethrpc.NewNodeWallet(rpcClient, cfg.GatewayAddress)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wallet error:", err)
		os.Exit(1)
	}
	if !*yes {
		wallet.Prompt = promptApproval
	}

	pipeline, err := application.NewPipeline(wallet, rpcClient, rpcConfirmer{rpcClient}, application.PipelineConfig{
		ChainID:        cfg.ChainID,
		ConfirmTimeout: cfg.ConfirmTimeout,
		ConfirmPoll:    cfg.ConfirmPoll,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "pipeline error:", err)
		os.Exit(1)
	}

	submission, err := pipeline.Submit(ctx, application.SubmissionRequest{
		Receiver: to,
		Amount:   *amount,
		Slug:     *slug,
		Memo:     *memo,
		Token:    *token,
	})
	if err != nil {
		slog.Error("submission failed", "state", submission.State, "err", err)
		if submission.TxHash != "" {
			fmt.Fprintln(os.Stderr, "tx hash:", submission.TxHash)
		}
		if errors.Is(err, application.ErrConfirmationTimeout) {
			os.Exit(3)
		}
		os.Exit(1)
	}

	fmt.Println("confirmed:", submission.TxHash)
}

// rpcConfirmer adapts the client's receipt lookup to the pipeline's
// confirmation check.
type rpcConfirmer struct {
	client *ethrpc.Client
}

func (c rpcConfirmer) Confirmed(ctx context.Context, txHash string) (bool, error) {
	return c.client.TransactionConfirmed(ctx, txHash)
}

func promptApproval(req application.TransferRequest) error {
	eth := decimal.NewFromBigInt(req.AmountWei, -18)
	fmt.Printf("send %s to %s", eth.String(), req.Receiver)
	if req.Memo != "" {
		fmt.Printf(" (memo: %s)", req.Memo)
	}
	fmt.Print("? [y/N] ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return errors.New("rejected at the approval prompt")
	}
}

func resolveSlug(ctx context.Context, apiURL, slug string) (string, error) {
	url := strings.TrimSuffix(apiURL, "/") + "/accounts/" + slug
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("unknown slug %q", slug)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api status %d", resp.StatusCode)
	}

	var payload struct {
		WalletAddress string `json:"wallet_address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.WalletAddress == "" {
		return "", fmt.Errorf("no wallet address for slug %q", slug)
	}
	return payload.WalletAddress, nil
}
