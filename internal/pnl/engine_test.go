package pnl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const token = "TokenMint111"

func ev(wallet string, kind EventKind, qty, price float64, ts time.Time, tx string) FinancialEvent {
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)
	return FinancialEvent{
		Wallet:       wallet,
		TokenAddress: token,
		TokenSymbol:  "TKN",
		Kind:         kind,
		Quantity:     q,
		PricePerUnit: p,
		ValueUSD:     q.Mul(p),
		Timestamp:    ts,
		TxHash:       tx,
	}
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func baseTime() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

// Scenario 1: simple profit, fully exited, nothing open.
func TestEngine_SimpleProfit(t *testing.T) {
	events := []FinancialEvent{
		ev("w", Buy, 100, 1, baseTime(), "buy1"),
		ev("w", Sell, 100, 2, baseTime().Add(time.Hour), "sell1"),
	}
	e := NewEngine()
	r := e.ProcessToken(token, "TKN", events, dec(0), true, nil)

	if len(r.MatchedTrades) != 1 {
		t.Fatalf("want 1 matched trade, got %d", len(r.MatchedTrades))
	}
	if !r.MatchedTrades[0].RealizedPnLUSD.Equal(dec(100)) {
		t.Errorf("realized pnl = %s, want 100", r.MatchedTrades[0].RealizedPnLUSD)
	}
	if len(r.RemainingPositions) != 0 {
		t.Errorf("want no remaining positions, got %d", len(r.RemainingPositions))
	}
	if !r.RealizedPnLUSD.Equal(dec(100)) {
		t.Errorf("RealizedPnLUSD = %s, want 100", r.RealizedPnLUSD)
	}
	if !r.UnrealizedPnLUSD.IsZero() {
		t.Errorf("UnrealizedPnLUSD = %s, want 0", r.UnrealizedPnLUSD)
	}
}

// Scenario 2: partial sell, remaining position marked to market.
func TestEngine_PartialSell(t *testing.T) {
	events := []FinancialEvent{
		ev("w", Buy, 100, 1, baseTime(), "buy1"),
		ev("w", Sell, 40, 3, baseTime().Add(time.Hour), "sell1"),
	}
	e := NewEngine()
	price := dec(2)
	r := e.ProcessToken(token, "TKN", events, dec(60), true, &price)

	if len(r.MatchedTrades) != 1 || !r.MatchedTrades[0].RealizedPnLUSD.Equal(dec(80)) {
		t.Fatalf("matched trades = %+v, want single +80 trade", r.MatchedTrades)
	}
	if len(r.RemainingPositions) != 1 || !r.RemainingPositions[0].QuantityRemaining.Equal(dec(60)) {
		t.Fatalf("remaining = %+v, want 60 remaining", r.RemainingPositions)
	}
	if !r.RealizedPnLUSD.Equal(dec(80)) {
		t.Errorf("RealizedPnLUSD = %s, want 80", r.RealizedPnLUSD)
	}
	if !r.UnrealizedPnLUSD.Equal(dec(60)) {
		t.Errorf("UnrealizedPnLUSD = %s, want 60", r.UnrealizedPnLUSD)
	}
}

// Scenario 3: multi-lot FIFO matching.
func TestEngine_MultiLotFIFO(t *testing.T) {
	events := []FinancialEvent{
		ev("w", Buy, 50, 1, baseTime(), "buy1"),
		ev("w", Buy, 50, 3, baseTime().Add(time.Minute), "buy2"),
		ev("w", Sell, 70, 2, baseTime().Add(time.Hour), "sell1"),
	}
	e := NewEngine()
	price := dec(4)
	r := e.ProcessToken(token, "TKN", events, dec(30), true, &price)

	if len(r.MatchedTrades) != 2 {
		t.Fatalf("want 2 matched trades, got %d: %+v", len(r.MatchedTrades), r.MatchedTrades)
	}
	if !r.MatchedTrades[0].MatchedQuantity.Equal(dec(50)) || !r.MatchedTrades[0].RealizedPnLUSD.Equal(dec(50)) {
		t.Errorf("first match = %+v, want qty 50 pnl +50", r.MatchedTrades[0])
	}
	if !r.MatchedTrades[1].MatchedQuantity.Equal(dec(20)) || !r.MatchedTrades[1].RealizedPnLUSD.Equal(dec(-20)) {
		t.Errorf("second match = %+v, want qty 20 pnl -20", r.MatchedTrades[1])
	}
	if len(r.RemainingPositions) != 1 || !r.RemainingPositions[0].QuantityRemaining.Equal(dec(30)) {
		t.Fatalf("remaining = %+v, want 30 remaining at cost 3", r.RemainingPositions)
	}
	if !r.RealizedPnLUSD.Equal(dec(30)) {
		t.Errorf("RealizedPnLUSD = %s, want 30", r.RealizedPnLUSD)
	}
	if !r.UnrealizedPnLUSD.Equal(dec(30)) {
		t.Errorf("UnrealizedPnLUSD = %s, want 30", r.UnrealizedPnLUSD)
	}
}

// Scenario 4: unmatched sell synthesizes a phantom buy.
func TestEngine_UnmatchedSellPhantomBuy(t *testing.T) {
	events := []FinancialEvent{
		ev("w", Sell, 10, 5, baseTime(), "sell1"),
	}
	e := NewEngine()
	r := e.ProcessToken(token, "TKN", events, dec(0), true, nil)

	if len(r.MatchedTrades) != 1 || !r.MatchedTrades[0].IsPhantom {
		t.Fatalf("want 1 phantom-sourced matched trade, got %+v", r.MatchedTrades)
	}
	if !r.MatchedTrades[0].RealizedPnLUSD.IsZero() {
		t.Errorf("phantom trade pnl = %s, want 0", r.MatchedTrades[0].RealizedPnLUSD)
	}
	if r.PhantomBuyCount != 1 {
		t.Errorf("PhantomBuyCount = %d, want 1", r.PhantomBuyCount)
	}
	if len(r.RemainingPositions) != 0 {
		t.Errorf("want no remaining positions, got %d", len(r.RemainingPositions))
	}
	wantAcquired := baseTime().Add(-time.Second)
	if !r.MatchedTrades[0].BuyTimestamp.Equal(wantAcquired) {
		t.Errorf("phantom acquired_at = %v, want %v", r.MatchedTrades[0].BuyTimestamp, wantAcquired)
	}
	if !r.RealizedPnLUSD.IsZero() || !r.UnrealizedPnLUSD.IsZero() {
		t.Errorf("realized/unrealized = %s/%s, want 0/0", r.RealizedPnLUSD, r.UnrealizedPnLUSD)
	}
}

// Scenario 5: balance reconciliation suppresses phantom gains.
func TestEngine_BalanceReconciliationSuppressesPhantomGains(t *testing.T) {
	events := []FinancialEvent{
		ev("w", Buy, 100, 1, baseTime(), "buy1"),
	}
	e := NewEngine()
	price := dec(10)
	r := e.ProcessToken(token, "TKN", events, dec(0), true, &price)

	if len(r.RemainingPositions) != 1 || !r.RemainingPositions[0].QuantityRemaining.Equal(dec(100)) {
		t.Fatalf("remaining = %+v, want 100 remaining", r.RemainingPositions)
	}
	if !r.UnrealizedPnLUSD.IsZero() {
		t.Errorf("UnrealizedPnLUSD = %s, want 0 (actual balance is 0)", r.UnrealizedPnLUSD)
	}
}

func TestEngine_EmptyEventsYieldsEmptyReport(t *testing.T) {
	e := NewEngine()
	r := e.ProcessToken(token, "TKN", nil, dec(0), true, nil)
	if len(r.MatchedTrades) != 0 || len(r.RemainingPositions) != 0 {
		t.Fatalf("want empty report, got %+v", r)
	}
	if !r.RealizedPnLUSD.IsZero() || !r.UnrealizedPnLUSD.IsZero() {
		t.Errorf("want zero pnl for empty report, got %s / %s", r.RealizedPnLUSD, r.UnrealizedPnLUSD)
	}
}

func TestEngine_SingleBuyNoSell(t *testing.T) {
	events := []FinancialEvent{ev("w", Buy, 10, 1, baseTime(), "buy1")}
	e := NewEngine()
	r := e.ProcessToken(token, "TKN", events, dec(10), true, nil)
	if len(r.RemainingPositions) != 1 {
		t.Fatalf("want 1 remaining position, got %d", len(r.RemainingPositions))
	}
	if !r.RealizedPnLUSD.IsZero() {
		t.Errorf("realized = %s, want 0", r.RealizedPnLUSD)
	}
}

// Balance unknown: falls back to accounting balance and flags it.
func TestEngine_BalanceUnknownFallsBackToAccounting(t *testing.T) {
	events := []FinancialEvent{ev("w", Buy, 10, 1, baseTime(), "buy1")}
	e := NewEngine()
	price := dec(2)
	r := e.ProcessToken(token, "TKN", events, decimal.Zero, false, &price)
	if !r.BalanceFallback {
		t.Error("want BalanceFallback set when balance oracle unreachable")
	}
	if !r.UnrealizedPnLUSD.Equal(dec(10)) {
		t.Errorf("unrealized = %s, want 10 (10 units * (2-1))", r.UnrealizedPnLUSD)
	}
}

func TestEngine_MissingCurrentPriceZerosUnrealized(t *testing.T) {
	events := []FinancialEvent{ev("w", Buy, 10, 1, baseTime(), "buy1")}
	e := NewEngine()
	r := e.ProcessToken(token, "TKN", events, dec(10), true, nil)
	if !r.MissingCurrentPrice {
		t.Error("want MissingCurrentPrice set")
	}
	if !r.UnrealizedPnLUSD.IsZero() {
		t.Errorf("unrealized = %s, want 0", r.UnrealizedPnLUSD)
	}
}

func TestEngine_ZeroCostLotExcludedFromCapitalDeployed(t *testing.T) {
	events := []FinancialEvent{
		ev("w", Buy, 100, 0, baseTime(), "buy1"),
		ev("w", Sell, 100, 5, baseTime().Add(time.Hour), "sell1"),
	}
	e := NewEngine()
	r := e.ProcessToken(token, "TKN", events, dec(0), true, nil)
	if !r.ZeroCostLotWarning {
		t.Error("want ZeroCostLotWarning set for zero-price buy")
	}
	if !r.CapitalDeployedUSD.IsZero() {
		t.Errorf("CapitalDeployedUSD = %s, want 0 (zero-cost lot excluded)", r.CapitalDeployedUSD)
	}
}

// Invariant: every Sell quantity is fully consumed by matched trades
// (possibly via phantoms), across multi-lot and phantom cases alike.
func TestEngine_SellQuantityFullyConsumedInvariant(t *testing.T) {
	events := []FinancialEvent{
		ev("w", Buy, 50, 1, baseTime(), "buy1"),
		ev("w", Sell, 70, 2, baseTime().Add(time.Hour), "sell1"),
	}
	e := NewEngine()
	r := e.ProcessToken(token, "TKN", events, dec(0), true, nil)

	var matchedTotal decimal.Decimal
	for _, m := range r.MatchedTrades {
		matchedTotal = matchedTotal.Add(m.MatchedQuantity)
	}
	if !matchedTotal.Equal(dec(70)) {
		t.Errorf("matched total = %s, want 70 (sell fully consumed via phantom)", matchedTotal)
	}
}

func TestEngine_Determinism(t *testing.T) {
	events := []FinancialEvent{
		ev("w", Buy, 50, 1, baseTime(), "buy1"),
		ev("w", Buy, 50, 3, baseTime().Add(time.Minute), "buy2"),
		ev("w", Sell, 70, 2, baseTime().Add(time.Hour), "sell1"),
	}
	e := NewEngine()
	price := dec(4)
	r1 := e.ProcessToken(token, "TKN", events, dec(30), true, &price)
	r2 := e.ProcessToken(token, "TKN", events, dec(30), true, &price)

	if !r1.RealizedPnLUSD.Equal(r2.RealizedPnLUSD) || !r1.UnrealizedPnLUSD.Equal(r2.UnrealizedPnLUSD) {
		t.Fatalf("non-deterministic output: %+v vs %+v", r1, r2)
	}
	if len(r1.MatchedTrades) != len(r2.MatchedTrades) {
		t.Fatalf("trade count differs across runs")
	}
}
