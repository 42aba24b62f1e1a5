package domain

// SubmissionState tracks one payer-side transfer attempt.
type SubmissionState string

const (
	SubmissionIdle                  SubmissionState = "idle"
	SubmissionValidating            SubmissionState = "validating"
	SubmissionAwaitingWalletApprove SubmissionState = "awaiting_wallet_approval"
	SubmissionBroadcasting          SubmissionState = "broadcasting"
	SubmissionAwaitingConfirmation  SubmissionState = "awaiting_confirmation"
	SubmissionConfirmed             SubmissionState = "confirmed"
	SubmissionErrored               SubmissionState = "errored"
)

// Submission is the ephemeral record of one in-flight transfer attempt.
// It is never persisted; the on-chain event is the durable artifact.
type Submission struct {
	ID       string
	Receiver string
	Amount   string
	Slug     string
	Memo     string
	State    SubmissionState
	TxHash   string
	Err      string
}
