package domain

// Account maps a payee's public slug to the wallet address payments
// should be sent to. Managed upstream; read-only here.
type Account struct {
	Slug          string
	WalletAddress string
	DisplayName   string
}
