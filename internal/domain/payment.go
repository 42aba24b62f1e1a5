package domain

// Payment is one confirmed transfer observed from the gateway contract.
// Rows are immutable once stored; TxHash is the dedup key.
type Payment struct {
	TxHash     string
	Payer      string
	Receiver   string
	Token      string
	Amount     string
	Slug       string
	Memo       string
	OccurredAt uint64
}

// ZeroAddress marks the chain's native asset in the Token field.
const ZeroAddress = "0x0000000000000000000000000000000000000000"
