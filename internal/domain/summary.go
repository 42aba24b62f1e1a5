package domain

import "math/big"

// WindowTotals holds the count and exact amount sum over one trailing
// time window.
type WindowTotals struct {
	Count  int
	Amount *big.Int
}

// SlugSummary aggregates all payments recorded for one slug. Amounts are
// arbitrary precision; window membership is decided on OccurredAt.
type SlugSummary struct {
	TotalCount  int
	TotalAmount *big.Int
	Last7d      WindowTotals
	Last30d     WindowTotals
}
