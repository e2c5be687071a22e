// Package pnl implements the FIFO matching engine that turns a wallet's
// per-token event stream into realized and unrealized profit-and-loss,
// plus the data model it and the parser share.
package pnl

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind distinguishes an acquisition from a disposal.
type EventKind int

const (
	Buy EventKind = iota
	Sell
)

func (k EventKind) String() string {
	if k == Buy {
		return "buy"
	}
	return "sell"
}

// FinancialEvent is the immutable, canonical unit the parser produces and
// the engine consumes. quantity is always strictly positive; the sign
// ambiguity inherent in "from/to" swap records has already been resolved
// into Kind by the time an event exists.
type FinancialEvent struct {
	Wallet       string
	ChainID      string
	TokenAddress string
	TokenSymbol  string
	Kind         EventKind
	Quantity     decimal.Decimal
	PricePerUnit decimal.Decimal
	ValueUSD     decimal.Decimal
	Timestamp    time.Time
	TxHash       string
}

// OpenLot is the engine's interior state for a single still-unsold (or
// partially unsold) acquisition.
type OpenLot struct {
	QuantityRemaining decimal.Decimal
	CostBasisUSD      decimal.Decimal
	AcquiredAt        time.Time
	AcquisitionTxHash string
	// ZeroCost marks a lot acquired at price 0, per spec.md §9: such lots
	// are flagged and excluded from capital-deployed sums rather than
	// masquerading as free profit.
	ZeroCost bool
	// Phantom marks a lot synthesized to absorb an otherwise-unmatched
	// sell; its cost basis is the sell's own price, so its match nets zero
	// P&L by construction.
	Phantom bool
}

// MatchedTrade is the pairing of some quantity of a Sell against one
// OpenLot (possibly a synthesized phantom lot).
type MatchedTrade struct {
	TokenAddress     string
	MatchedQuantity  decimal.Decimal
	BuyPriceUSD      decimal.Decimal
	SellPriceUSD     decimal.Decimal
	RealizedPnLUSD   decimal.Decimal
	HoldTimeSeconds  int64
	BuyTxHash        string
	SellTxHash       string
	BuyTimestamp     time.Time
	SellTimestamp    time.Time
	IsPhantom        bool
}

// RemainingPosition is an OpenLot that survives to the end of a token's
// event processing with quantity above epsilon.
type RemainingPosition struct {
	TokenAddress      string
	QuantityRemaining decimal.Decimal
	CostBasisUSD      decimal.Decimal
	AcquiredAt        time.Time
	AcquisitionTxHash string
	ZeroCost          bool
}

// TokenPnLResult is the per-token aggregate the engine emits.
type TokenPnLResult struct {
	TokenAddress        string
	TokenSymbol         string
	RealizedPnLUSD      decimal.Decimal
	UnrealizedPnLUSD    decimal.Decimal
	MatchedTrades       []MatchedTrade
	RemainingPositions  []RemainingPosition
	PhantomBuyCount     int
	WinningTrades       int
	LosingTrades        int
	CapitalDeployedUSD  decimal.Decimal
	FirstActivity       time.Time
	LastActivity        time.Time
	// ZeroCostLotWarning is set when any lot consumed or remaining for
	// this token had a zero price, per spec.md §9.
	ZeroCostLotWarning bool
	// BalanceFallback is set when the balance oracle could not be
	// reached and accounting balance was used in its place (§4.E
	// failure semantics).
	BalanceFallback bool
	// MissingCurrentPrice is set when no current price was available,
	// forcing UnrealizedPnLUSD to 0 for this token.
	MissingCurrentPrice bool
}

// PortfolioPnLResult aggregates TokenPnLResult across every token a
// wallet traded.
type PortfolioPnLResult struct {
	Wallet             string
	Tokens             []TokenPnLResult
	RealizedPnLUSD     decimal.Decimal
	UnrealizedPnLUSD    decimal.Decimal
	TotalPnLUSD        decimal.Decimal
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            decimal.Decimal
	ROIPercentage      decimal.Decimal
	CapitalDeployedUSD decimal.Decimal
	AvgHoldTimeSeconds decimal.Decimal
	DataQualityNotes   []string
}
