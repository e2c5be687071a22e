package pnl

import (
	"container/list"
	"time"

	"github.com/shopspring/decimal"

	"wallet-pnl-analyzer/internal/money"
)

// Engine runs the FIFO matching algorithm of spec.md §4.E. It holds no
// state between calls and performs no I/O: every suspension point
// (balance/price lookups) happens before ProcessToken is called, so the
// engine itself is pure CPU, making its output deterministic and
// byte-identical across runs given identical inputs.
type Engine struct{}

// NewEngine constructs an Engine. It carries no configuration; epsilon
// and the matching discipline are fixed by the spec.
func NewEngine() *Engine {
	return &Engine{}
}

// ProcessToken runs the FIFO algorithm over one token's events, already
// sorted ascending by timestamp (the parser's grouping contract).
// actualBalance is the wallet's on-chain balance of this token, as
// reported by the balance oracle; balanceKnown is false when the oracle
// could not be reached, in which case the engine falls back to its own
// accounting balance. currentPrice is nil when no current price could be
// fetched, forcing unrealized P&L to 0 for the token.
func (e *Engine) ProcessToken(
	tokenAddress, tokenSymbol string,
	events []FinancialEvent,
	actualBalance decimal.Decimal,
	balanceKnown bool,
	currentPrice *decimal.Decimal,
) TokenPnLResult {
	result := TokenPnLResult{
		TokenAddress:       tokenAddress,
		TokenSymbol:        tokenSymbol,
		RealizedPnLUSD:     money.Zero,
		UnrealizedPnLUSD:   money.Zero,
		CapitalDeployedUSD: money.Zero,
	}

	lots := list.New() // *OpenLot, oldest at Front

	consumedCapital := money.Zero
	var first, last time.Time

	noteActivity := func(ts time.Time) {
		if first.IsZero() || ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}

	for _, ev := range events {
		noteActivity(ev.Timestamp)

		switch ev.Kind {
		case Buy:
			lot := &OpenLot{
				QuantityRemaining: ev.Quantity,
				CostBasisUSD:      ev.PricePerUnit,
				AcquiredAt:        ev.Timestamp,
				AcquisitionTxHash: ev.TxHash,
				ZeroCost:          ev.PricePerUnit.IsZero(),
			}
			lots.PushBack(lot)

		case Sell:
			remaining := ev.Quantity

			for remaining.GreaterThan(money.Epsilon) && lots.Len() > 0 {
				front := lots.Front()
				lot := front.Value.(*OpenLot)

				take := money.Min(lot.QuantityRemaining, remaining)

				pnl := decimal.Zero
				if !lot.Phantom {
					pnl = take.Mul(ev.PricePerUnit.Sub(lot.CostBasisUSD))
				}

				mt := MatchedTrade{
					TokenAddress:    tokenAddress,
					MatchedQuantity: take,
					BuyPriceUSD:     lot.CostBasisUSD,
					SellPriceUSD:    ev.PricePerUnit,
					RealizedPnLUSD:  pnl,
					HoldTimeSeconds: int64(ev.Timestamp.Sub(lot.AcquiredAt).Seconds()),
					BuyTxHash:       lot.AcquisitionTxHash,
					SellTxHash:      ev.TxHash,
					BuyTimestamp:    lot.AcquiredAt,
					SellTimestamp:   ev.Timestamp,
					IsPhantom:       lot.Phantom,
				}
				result.MatchedTrades = append(result.MatchedTrades, mt)

				if !lot.Phantom && !lot.ZeroCost {
					consumedCapital = consumedCapital.Add(take.Mul(lot.CostBasisUSD))
				}
				if lot.ZeroCost && !lot.Phantom {
					result.ZeroCostLotWarning = true
				}

				switch {
				case pnl.GreaterThan(money.Zero):
					result.WinningTrades++
				case pnl.LessThan(money.Zero):
					result.LosingTrades++
				}
				if lot.Phantom {
					result.PhantomBuyCount++
				}

				lot.QuantityRemaining = lot.QuantityRemaining.Sub(take)
				remaining = remaining.Sub(take)

				if lot.QuantityRemaining.LessThanOrEqual(money.Epsilon) {
					lots.Remove(front)
				}
			}

			if remaining.GreaterThan(money.Epsilon) {
				// Synthesize a phantom buy to absorb the unmatched
				// remainder: acquired one second before the sell, at the
				// sell's own price, so the resulting match nets to zero
				// P&L and the sell is still fully accounted for.
				phantomLot := &OpenLot{
					QuantityRemaining: remaining,
					CostBasisUSD:      ev.PricePerUnit,
					AcquiredAt:        ev.Timestamp.Add(-time.Second),
					AcquisitionTxHash: "",
					Phantom:           true,
				}

				mt := MatchedTrade{
					TokenAddress:    tokenAddress,
					MatchedQuantity: remaining,
					BuyPriceUSD:     ev.PricePerUnit,
					SellPriceUSD:    ev.PricePerUnit,
					RealizedPnLUSD:  money.Zero,
					HoldTimeSeconds: 1,
					BuyTxHash:       "",
					SellTxHash:      ev.TxHash,
					BuyTimestamp:    phantomLot.AcquiredAt,
					SellTimestamp:   ev.Timestamp,
					IsPhantom:       true,
				}
				result.MatchedTrades = append(result.MatchedTrades, mt)
				result.PhantomBuyCount++
			}
		}
	}

	result.FirstActivity = first
	result.LastActivity = last
	result.CapitalDeployedUSD = consumedCapital
	result.RealizedPnLUSD = sumRealized(result.MatchedTrades)

	// Materialize remaining open lots.
	accountingBalance := money.Zero
	weightedCostNumerator := money.Zero
	for el := lots.Front(); el != nil; el = el.Next() {
		lot := el.Value.(*OpenLot)
		if lot.QuantityRemaining.LessThanOrEqual(money.Epsilon) {
			continue
		}
		result.RemainingPositions = append(result.RemainingPositions, RemainingPosition{
			TokenAddress:      tokenAddress,
			QuantityRemaining: lot.QuantityRemaining,
			CostBasisUSD:      lot.CostBasisUSD,
			AcquiredAt:        lot.AcquiredAt,
			AcquisitionTxHash: lot.AcquisitionTxHash,
			ZeroCost:          lot.ZeroCost,
		})
		if lot.ZeroCost {
			result.ZeroCostLotWarning = true
		} else {
			consumedCapital = consumedCapital.Add(lot.QuantityRemaining.Mul(lot.CostBasisUSD))
		}
		accountingBalance = accountingBalance.Add(lot.QuantityRemaining)
		weightedCostNumerator = weightedCostNumerator.Add(lot.QuantityRemaining.Mul(lot.CostBasisUSD))
	}
	result.CapitalDeployedUSD = consumedCapital

	result.UnrealizedPnLUSD = computeUnrealized(
		accountingBalance,
		weightedCostNumerator,
		actualBalance,
		balanceKnown,
		currentPrice,
		&result,
	)

	return result
}

func sumRealized(trades []MatchedTrade) decimal.Decimal {
	total := money.Zero
	for _, t := range trades {
		total = total.Add(t.RealizedPnLUSD)
	}
	return total
}

// computeUnrealized implements the balance-reconciled unrealized P&L rule
// of spec.md §4.E: effective quantity is min(accounting, actual) per
// token, guarding against both untracked disposals (accounting overstates
// actual) and unattributed inflows (actual overstates accounting, but we
// have no defensible cost basis for the excess).
func computeUnrealized(
	accountingBalance decimal.Decimal,
	weightedCostNumerator decimal.Decimal,
	actualBalance decimal.Decimal,
	balanceKnown bool,
	currentPrice *decimal.Decimal,
	result *TokenPnLResult,
) decimal.Decimal {
	if accountingBalance.LessThanOrEqual(money.Epsilon) {
		return money.Zero
	}

	effectiveBalance := accountingBalance
	if balanceKnown {
		if actualBalance.LessThanOrEqual(money.Epsilon) {
			// Definitive zero actual balance: no unrealized gain can be
			// defended regardless of recorded remaining positions.
			return money.Zero
		}
		effectiveBalance = money.Min(accountingBalance, actualBalance)
	} else {
		result.BalanceFallback = true
	}

	if currentPrice == nil {
		result.MissingCurrentPrice = true
		return money.Zero
	}

	weightedAvgCost := weightedCostNumerator.Div(accountingBalance)
	return effectiveBalance.Mul(currentPrice.Sub(weightedAvgCost))
}
