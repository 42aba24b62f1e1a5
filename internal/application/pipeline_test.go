package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imthegoodboy/Paylink/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWallet struct {
	connected  bool
	chainID    uint64
	chainErr   error
	approveErr error
	sendErr    error
	txHash     string
	approvals  int
	sends      int
}

func (w *fakeWallet) Connected(ctx context.Context) bool { return w.connected }

func (w *fakeWallet) ChainID(ctx context.Context) (uint64, error) {
	return w.chainID, w.chainErr
}

func (w *fakeWallet) Approve(ctx context.Context, req TransferRequest) error {
	w.approvals++
	return w.approveErr
}

func (w *fakeWallet) SendNative(ctx context.Context, req TransferRequest) (string, error) {
	w.sends++
	if w.sendErr != nil {
		return "", w.sendErr
	}
	return w.txHash, nil
}

type fakeCodeReader struct {
	code  string
	err   error
	calls int
}

func (c *fakeCodeReader) Code(ctx context.Context, address string) (string, error) {
	c.calls++
	return c.code, c.err
}

type fakeConfirmer struct {
	minedAfter int
	err        error
	calls      int
}

func (c *fakeConfirmer) Confirmed(ctx context.Context, txHash string) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.calls > c.minedAfter, nil
}

const testReceiver = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func testPipeline(t *testing.T, wallet *fakeWallet, code *fakeCodeReader, confirmer *fakeConfirmer) *Pipeline {
	t.Helper()
	pipeline, err := NewPipeline(wallet, code, confirmer, PipelineConfig{
		ChainID:        80002,
		ConfirmTimeout: time.Second,
		ConfirmPoll:    time.Millisecond,
	})
	require.NoError(t, err)
	return pipeline
}

func validRequest() SubmissionRequest {
	return SubmissionRequest{
		Receiver: testReceiver,
		Amount:   "0.5",
		Slug:     "coffee-fund",
		Memo:     "thanks",
	}
}

func TestPipelineConfirms(t *testing.T) {
	wallet := &fakeWallet{connected: true, chainID: 80002, txHash: "0xdeadbeef"}
	confirmer := &fakeConfirmer{minedAfter: 2}
	pipeline := testPipeline(t, wallet, &fakeCodeReader{code: "0x"}, confirmer)

	submission, err := pipeline.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.SubmissionConfirmed, submission.State)
	assert.Equal(t, "0xdeadbeef", submission.TxHash)
	assert.NotEmpty(t, submission.ID)
	assert.Equal(t, 1, wallet.approvals)
	assert.Equal(t, 1, wallet.sends)
	assert.Equal(t, domain.SubmissionConfirmed, pipeline.State())
}

func TestPipelineValidationOrder(t *testing.T) {
	// Every check would fail; the earliest one must win at each step.
	wallet := &fakeWallet{connected: false, chainID: 1}
	code := &fakeCodeReader{code: "0x6001"}
	pipeline := testPipeline(t, wallet, code, &fakeConfirmer{})

	req := SubmissionRequest{Receiver: "not-an-address", Amount: "-3", Token: "0x1111111111111111111111111111111111111111"}

	_, err := pipeline.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrWalletUnavailable)

	wallet.connected = true
	require.NoError(t, pipeline.Reset())
	_, err = pipeline.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrWrongNetwork)

	wallet.chainID = 80002
	require.NoError(t, pipeline.Reset())
	_, err = pipeline.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrBadReceiver)

	req.Receiver = testReceiver
	require.NoError(t, pipeline.Reset())
	_, err = pipeline.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrBadAmount)
	assert.Zero(t, code.calls, "code check must not run before the amount parses")

	req.Amount = "1"
	require.NoError(t, pipeline.Reset())
	_, err = pipeline.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrContractReceiver)

	code.code = "0x"
	require.NoError(t, pipeline.Reset())
	_, err = pipeline.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnsupportedToken)

	assert.Zero(t, wallet.sends, "nothing may reach the network during validation")
}

func TestValidationErrorCarriesStage(t *testing.T) {
	wallet := &fakeWallet{connected: true, chainID: 80002}
	pipeline := testPipeline(t, wallet, &fakeCodeReader{code: "0x"}, &fakeConfirmer{})

	req := validRequest()
	req.Receiver = "nope"
	_, err := pipeline.Submit(context.Background(), req)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "receiver", validationErr.Stage)
}

func TestPipelineCodeLookupFailureProceeds(t *testing.T) {
	wallet := &fakeWallet{connected: true, chainID: 80002, txHash: "0x1"}
	code := &fakeCodeReader{err: errors.New("rpc down")}
	pipeline := testPipeline(t, wallet, code, &fakeConfirmer{})

	submission, err := pipeline.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionConfirmed, submission.State)
}

func TestPipelineZeroTokenIsNative(t *testing.T) {
	wallet := &fakeWallet{connected: true, chainID: 80002, txHash: "0x1"}
	pipeline := testPipeline(t, wallet, &fakeCodeReader{code: "0x"}, &fakeConfirmer{})

	req := validRequest()
	req.Token = domain.ZeroAddress

	_, err := pipeline.Submit(context.Background(), req)
	assert.NoError(t, err)
}

func TestPipelineBroadcastFailureDoesNotRetry(t *testing.T) {
	wallet := &fakeWallet{connected: true, chainID: 80002, sendErr: errors.New("nonce too low")}
	pipeline := testPipeline(t, wallet, &fakeCodeReader{code: "0x"}, &fakeConfirmer{})

	submission, err := pipeline.Submit(context.Background(), validRequest())
	require.Error(t, err)

	assert.Equal(t, domain.SubmissionErrored, submission.State)
	assert.Equal(t, 1, wallet.sends)
	assert.Empty(t, submission.TxHash)
	assert.Contains(t, submission.Err, "nonce too low")
}

func TestPipelineConfirmationTimeout(t *testing.T) {
	wallet := &fakeWallet{connected: true, chainID: 80002, txHash: "0xpending"}
	confirmer := &fakeConfirmer{minedAfter: 1 << 30}
	pipeline, err := NewPipeline(wallet, &fakeCodeReader{code: "0x"}, confirmer, PipelineConfig{
		ChainID:        80002,
		ConfirmTimeout: 5 * time.Millisecond,
		ConfirmPoll:    time.Millisecond,
	})
	require.NoError(t, err)

	submission, err := pipeline.Submit(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrConfirmationTimeout)

	// The hash survives so the caller can keep checking on their own.
	assert.Equal(t, domain.SubmissionErrored, submission.State)
	assert.Equal(t, "0xpending", submission.TxHash)
}

func TestPipelineSingleFlight(t *testing.T) {
	wallet := &fakeWallet{connected: true, chainID: 80002, txHash: "0x1"}
	pipeline := testPipeline(t, wallet, &fakeCodeReader{code: "0x"}, &fakeConfirmer{})

	_, err := pipeline.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	// Confirmed is terminal; a fresh attempt needs an explicit Reset.
	_, err = pipeline.Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	require.NoError(t, pipeline.Reset())
	assert.Equal(t, domain.SubmissionIdle, pipeline.State())

	_, err = pipeline.Submit(context.Background(), validRequest())
	assert.NoError(t, err)
}

func TestPipelineResubmitAfterError(t *testing.T) {
	wallet := &fakeWallet{connected: true, chainID: 80002, approveErr: errors.New("rejected")}
	pipeline := testPipeline(t, wallet, &fakeCodeReader{code: "0x"}, &fakeConfirmer{})

	first, err := pipeline.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.Equal(t, domain.SubmissionErrored, first.State)

	wallet.approveErr = nil
	wallet.txHash = "0x2"
	second, err := pipeline.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionConfirmed, second.State)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestParseNativeAmount(t *testing.T) {
	wei, err := ParseNativeAmount("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", wei.String())

	wei, err = ParseNativeAmount("0.000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "1", wei.String())

	for _, raw := range []string{"", "0", "-1", "abc", "0.0000000000000000001"} {
		_, err := ParseNativeAmount(raw)
		assert.ErrorIs(t, err, ErrBadAmount, "amount %q", raw)
	}
}
