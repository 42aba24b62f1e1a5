package domain

// EventLog is a raw contract log as returned by the chain, before any
// event-specific decoding.
type EventLog struct {
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Address     string
	Data        string
	Topics      []string
	Removed     bool
}
