// Package parser turns raw two-sided trade records from the chain
// adapter into the canonical FinancialEvent stream the FIFO engine
// consumes, resolving the sign ambiguity inherent in "from/to" swap
// records exactly once, at this boundary.
package parser

import (
	"time"

	"github.com/rs/zerolog/log"

	"wallet-pnl-analyzer/internal/money"
	"wallet-pnl-analyzer/internal/pnl"
)

// RawSide is one leg of a raw two-sided trade record as reported by the
// chain adapter.
type RawSide struct {
	TokenAddress string
	TokenSymbol  string
	Decimals     int
	ChangeAmount float64 // signed; negative means the wallet lost this side
	Price        float64 // USD per unit; 0 if unavailable
}

// RawTrade is one on-chain swap: two sides, one quote and one base.
type RawTrade struct {
	Wallet    string
	ChainID   string
	Quote     RawSide
	Base      RawSide
	Timestamp time.Time
	TxHash    string
}

// Parser turns a wallet's raw trade records into FinancialEvents.
type Parser struct {
	wallet string
}

// New binds a Parser to a single wallet address.
func New(wallet string) *Parser {
	return &Parser{wallet: wallet}
}

// ParseTransactions converts every raw trade into exactly two
// FinancialEvents (one per side), dropping malformed records with a
// logged warning rather than failing the batch.
func (p *Parser) ParseTransactions(trades []RawTrade) []pnl.FinancialEvent {
	events := make([]pnl.FinancialEvent, 0, len(trades)*2)
	for _, t := range trades {
		evs, ok := p.parseSingleTransaction(t)
		if !ok {
			continue
		}
		events = append(events, evs...)
	}
	return events
}

func (p *Parser) parseSingleTransaction(t RawTrade) ([]pnl.FinancialEvent, bool) {
	if t.Timestamp.IsZero() {
		log.Warn().Str("tx", t.TxHash).Msg("parser: dropping record with unconvertible timestamp")
		return nil, false
	}

	quoteKind, baseKind, ok := signPair(t.Quote.ChangeAmount, t.Base.ChangeAmount)
	if !ok {
		log.Warn().Str("tx", t.TxHash).Msg("parser: dropping malformed record (ambiguous sign pair)")
		return nil, false
	}

	quoteEvent, ok := sideToEvent(p.wallet, t, t.Quote, quoteKind)
	if !ok {
		log.Warn().Str("tx", t.TxHash).Msg("parser: dropping malformed quote side (zero quantity)")
		return nil, false
	}
	baseEvent, ok := sideToEvent(p.wallet, t, t.Base, baseKind)
	if !ok {
		log.Warn().Str("tx", t.TxHash).Msg("parser: dropping malformed base side (zero quantity)")
		return nil, false
	}

	return []pnl.FinancialEvent{quoteEvent, baseEvent}, true
}

// signPair resolves the sign ambiguity of a two-sided swap record into
// explicit Buy/Sell kinds for each side.
func signPair(quoteChange, baseChange float64) (quoteKind, baseKind pnl.EventKind, ok bool) {
	switch {
	case quoteChange < 0 && baseChange > 0:
		return pnl.Sell, pnl.Buy, true
	case quoteChange > 0 && baseChange < 0:
		return pnl.Buy, pnl.Sell, true
	default:
		return 0, 0, false
	}
}

func sideToEvent(wallet string, t RawTrade, side RawSide, kind pnl.EventKind) (pnl.FinancialEvent, bool) {
	qty := money.FromFloat(side.ChangeAmount).Abs()
	if qty.IsZero() {
		return pnl.FinancialEvent{}, false
	}
	price := money.FromFloat(side.Price)

	chainID := t.ChainID
	if chainID == "" {
		chainID = "solana"
	}

	return pnl.FinancialEvent{
		Wallet:       wallet,
		ChainID:      chainID,
		TokenAddress: side.TokenAddress,
		TokenSymbol:  side.TokenSymbol,
		Kind:         kind,
		Quantity:     qty,
		PricePerUnit: price,
		ValueUSD:     qty.Mul(price),
		Timestamp:    t.Timestamp.UTC(),
		TxHash:       t.TxHash,
	}, true
}

// GroupByToken groups a wallet's events by token address and
// stable-sorts each group ascending by timestamp, producing the
// handoff contract the FIFO engine expects.
func GroupByToken(events []pnl.FinancialEvent) map[string][]pnl.FinancialEvent {
	groups := make(map[string][]pnl.FinancialEvent)
	for _, ev := range events {
		groups[ev.TokenAddress] = append(groups[ev.TokenAddress], ev)
	}
	for token, group := range groups {
		groups[token] = stableSortByTimestamp(group)
	}
	return groups
}

func stableSortByTimestamp(events []pnl.FinancialEvent) []pnl.FinancialEvent {
	sorted := make([]pnl.FinancialEvent, len(events))
	copy(sorted, events)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Timestamp.Before(sorted[j-1].Timestamp); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted
}
