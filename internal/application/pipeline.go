package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/imthegoodboy/Paylink/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is the payer's funding connection. Approve models the explicit
// user confirmation step; SendNative broadcasts the gateway call with
// the value attached and returns the transaction hash.
type Wallet interface {
	Connected(ctx context.Context) bool
	ChainID(ctx context.Context) (uint64, error)
	Approve(ctx context.Context, req TransferRequest) error
	SendNative(ctx context.Context, req TransferRequest) (string, error)
}

// CodeReader reports the bytecode at an address ("0x" for none).
type CodeReader interface {
	Code(ctx context.Context, address string) (string, error)
}

// Confirmer reports whether a broadcast transaction has been mined.
type Confirmer interface {
	Confirmed(ctx context.Context, txHash string) (bool, error)
}

type TransferRequest struct {
	Receiver  string
	Slug      string
	Memo      string
	AmountWei *big.Int
}

type SubmissionRequest struct {
	Receiver string
	Amount   string
	Slug     string
	Memo     string
	// Token selects the asset; empty or the zero address means the
	// chain's native asset. Anything else is refused.
	Token string
}

var (
	ErrWalletUnavailable   = errors.New("no funding connection available")
	ErrWrongNetwork        = errors.New("wallet is connected to an unsupported network")
	ErrBadReceiver         = errors.New("receiver is not a well-formed account address")
	ErrBadAmount           = errors.New("amount must be a finite, positive decimal")
	ErrContractReceiver    = errors.New("receiver is contract code, not an externally-owned account")
	ErrUnsupportedToken    = errors.New("only native-asset transfers are supported")
	ErrSubmissionInFlight  = errors.New("a submission is already in flight")
	ErrConfirmationTimeout = errors.New("timed out waiting for confirmation; the transfer may still be mined")
)

// ValidationError pairs a failed pre-flight check with the stage that
// refused it. errors.Is sees through to the sentinel.
type ValidationError struct {
	Stage string
	Err   error
}

func (e *ValidationError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

const nativeDecimals = 18

type PipelineConfig struct {
	// ChainID is the single supported network.
	ChainID uint64
	// ConfirmTimeout bounds the receipt wait. Expiry surfaces as an
	// error without implying the transfer failed on-chain.
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
}

// Pipeline runs one payer-side transfer attempt through its state
// machine. It is single-flight: a new Submit is rejected while an
// earlier one has not reached a terminal state, and the pipeline never
// retries on its own once Broadcasting has begun.
type Pipeline struct {
	wallet    Wallet
	code      CodeReader
	confirmer Confirmer
	cfg       PipelineConfig

	mu         sync.Mutex
	state      domain.SubmissionState
	submission domain.Submission
}

func NewPipeline(wallet Wallet, code CodeReader, confirmer Confirmer, cfg PipelineConfig) (*Pipeline, error) {
	if wallet == nil || code == nil || confirmer == nil {
		return nil, errors.New("pipeline dependencies must not be nil")
	}
	if cfg.ChainID == 0 {
		return nil, errors.New("chain id is required")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = 2 * time.Second
	}
	return &Pipeline{
		wallet:    wallet,
		code:      code,
		confirmer: confirmer,
		cfg:       cfg,
		state:     domain.SubmissionIdle,
	}, nil
}

func (p *Pipeline) State() domain.SubmissionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Submission returns a snapshot of the current or last attempt.
func (p *Pipeline) Submission() domain.Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submission
}

// Reset returns a finished pipeline to Idle. It is only valid from a
// terminal state; resetting mid-flight is refused.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != domain.SubmissionIdle && p.state != domain.SubmissionErrored && p.state != domain.SubmissionConfirmed {
		return ErrSubmissionInFlight
	}
	p.state = domain.SubmissionIdle
	p.submission = domain.Submission{}
	return nil
}

// Submit drives one attempt from validation through confirmation. The
// returned submission carries the terminal state; err is non-nil for
// every outcome other than Confirmed.
func (p *Pipeline) Submit(ctx context.Context, req SubmissionRequest) (domain.Submission, error) {
	if err := p.begin(req); err != nil {
		return p.Submission(), err
	}

	amountWei, err := p.validate(ctx, req)
	if err != nil {
		return p.fail(err)
	}

	transfer := TransferRequest{
		Receiver:  req.Receiver,
		Slug:      req.Slug,
		Memo:      req.Memo,
		AmountWei: amountWei,
	}

	p.transition(domain.SubmissionAwaitingWalletApprove)
	if err := p.wallet.Approve(ctx, transfer); err != nil {
		return p.fail(fmt.Errorf("wallet approval: %w", err))
	}

	p.transition(domain.SubmissionBroadcasting)
	txHash, err := p.wallet.SendNative(ctx, transfer)
	if err != nil {
		// No retry here: the broadcast may have reached the network
		// even when the call errored, and a second send risks a double
		// transfer. A retry requires fresh user intent.
		return p.fail(fmt.Errorf("broadcast: %w", err))
	}
	p.setTxHash(txHash)

	p.transition(domain.SubmissionAwaitingConfirmation)
	if err := p.awaitConfirmation(ctx, txHash); err != nil {
		return p.fail(err)
	}

	p.transition(domain.SubmissionConfirmed)
	return p.Submission(), nil
}

func (p *Pipeline) begin(req SubmissionRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != domain.SubmissionIdle && p.state != domain.SubmissionErrored {
		return ErrSubmissionInFlight
	}
	p.state = domain.SubmissionValidating
	p.submission = domain.Submission{
		ID:       uuid.NewString(),
		Receiver: req.Receiver,
		Amount:   req.Amount,
		Slug:     req.Slug,
		Memo:     req.Memo,
		State:    domain.SubmissionValidating,
	}
	return nil
}

// validate runs the pre-flight checks in their required order; each
// check guards the next, so the first failure wins.
func (p *Pipeline) validate(ctx context.Context, req SubmissionRequest) (*big.Int, error) {
	if !p.wallet.Connected(ctx) {
		return nil, &ValidationError{Stage: "connection", Err: ErrWalletUnavailable}
	}

	chainID, err := p.wallet.ChainID(ctx)
	if err != nil {
		return nil, &ValidationError{Stage: "connection", Err: fmt.Errorf("%w: %v", ErrWalletUnavailable, err)}
	}
	if chainID != p.cfg.ChainID {
		return nil, &ValidationError{Stage: "network", Err: fmt.Errorf("%w: got chain %d, want %d", ErrWrongNetwork, chainID, p.cfg.ChainID)}
	}

	if !addressPattern.MatchString(req.Receiver) {
		return nil, &ValidationError{Stage: "receiver", Err: fmt.Errorf("%w: %q", ErrBadReceiver, req.Receiver)}
	}

	amountWei, err := ParseNativeAmount(req.Amount)
	if err != nil {
		return nil, &ValidationError{Stage: "amount", Err: err}
	}

	// A plain value transfer to contract code would revert or strand
	// the funds; refuse before anything reaches the network. A failed
	// lookup is treated as no code, matching the reference behavior.
	if code, err := p.code.Code(ctx, req.Receiver); err == nil && hasCode(code) {
		return nil, &ValidationError{Stage: "receiver_code", Err: fmt.Errorf("%w: %s", ErrContractReceiver, req.Receiver)}
	}

	if token := strings.ToLower(strings.TrimSpace(req.Token)); token != "" && token != domain.ZeroAddress {
		return nil, &ValidationError{Stage: "token", Err: fmt.Errorf("%w: token %s", ErrUnsupportedToken, req.Token)}
	}

	return amountWei, nil
}

func (p *Pipeline) awaitConfirmation(ctx context.Context, txHash string) error {
	deadline := time.Now().Add(p.cfg.ConfirmTimeout)
	ticker := time.NewTicker(p.cfg.ConfirmPoll)
	defer ticker.Stop()

	for {
		mined, err := p.confirmer.Confirmed(ctx, txHash)
		if err != nil {
			return fmt.Errorf("confirmation: %w", err)
		}
		if mined {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrConfirmationTimeout, txHash)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) transition(state domain.SubmissionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.submission.State = state
}

func (p *Pipeline) setTxHash(txHash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submission.TxHash = txHash
}

func (p *Pipeline) fail(err error) (domain.Submission, error) {
	p.mu.Lock()
	p.state = domain.SubmissionErrored
	p.submission.State = domain.SubmissionErrored
	p.submission.Err = err.Error()
	snapshot := p.submission
	p.mu.Unlock()
	return snapshot, err
}

// ParseNativeAmount converts a user-supplied decimal amount of the
// native asset into its smallest unit. Sub-wei precision, zero, and
// negative values are rejected.
func ParseNativeAmount(raw string) (*big.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadAmount, raw)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrBadAmount, raw)
	}
	wei := value.Shift(nativeDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d decimal places", ErrBadAmount, raw, nativeDecimals)
	}
	return wei.BigInt(), nil
}

func hasCode(code string) bool {
	trimmed := strings.TrimPrefix(strings.TrimSpace(code), "0x")
	return strings.Trim(trimmed, "0") != ""
}
