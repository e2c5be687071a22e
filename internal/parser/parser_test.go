package parser

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"wallet-pnl-analyzer/internal/pnl"
)

func trade(quoteChange, basechange, quotePrice, basePrice float64, ts time.Time) RawTrade {
	return RawTrade{
		Wallet:  "w1",
		ChainID: "solana",
		Quote: RawSide{
			TokenAddress: "USDC",
			TokenSymbol:  "USDC",
			ChangeAmount: quoteChange,
			Price:        quotePrice,
		},
		Base: RawSide{
			TokenAddress: "TKN",
			TokenSymbol:  "TKN",
			ChangeAmount: basechange,
			Price:        basePrice,
		},
		Timestamp: ts,
		TxHash:    "tx1",
	}
}

func TestParseSingleTransaction_QuoteSellBaseBuy(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New("w1")
	events := p.ParseTransactions([]RawTrade{trade(-10, 5, 1.0, 2.0, ts)})
	require.Len(t, events, 2)

	require.Equal(t, pnl.Sell, events[0].Kind)
	require.Equal(t, "USDC", events[0].TokenAddress)
	require.True(t, events[0].Quantity.Equal(decimal.NewFromFloat(10)))

	require.Equal(t, pnl.Buy, events[1].Kind)
	require.Equal(t, "TKN", events[1].TokenAddress)
	require.True(t, events[1].Quantity.Equal(decimal.NewFromFloat(5)))
}

func TestParseSingleTransaction_QuoteBuyBaseSell(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New("w1")
	events := p.ParseTransactions([]RawTrade{trade(10, -5, 1.0, 2.0, ts)})
	require.Len(t, events, 2)
	require.Equal(t, pnl.Buy, events[0].Kind)
	require.Equal(t, pnl.Sell, events[1].Kind)
}

func TestParseSingleTransaction_MalformedSignPairDropped(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New("w1")

	// both positive: ambiguous, dropped.
	events := p.ParseTransactions([]RawTrade{trade(10, 5, 1, 1, ts)})
	require.Empty(t, events)

	// both negative: ambiguous, dropped.
	events = p.ParseTransactions([]RawTrade{trade(-10, -5, 1, 1, ts)})
	require.Empty(t, events)

	// a zero side: ambiguous, dropped.
	events = p.ParseTransactions([]RawTrade{trade(0, 5, 1, 1, ts)})
	require.Empty(t, events)
}

func TestParseSingleTransaction_ZeroTimestampDropped(t *testing.T) {
	p := New("w1")
	events := p.ParseTransactions([]RawTrade{trade(-10, 5, 1, 1, time.Time{})})
	require.Empty(t, events)
}

func TestParseSingleTransaction_ZeroPriceAllowedAsZeroCost(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New("w1")
	events := p.ParseTransactions([]RawTrade{trade(10, -5, 0, 0, ts)})
	require.Len(t, events, 2)
	require.True(t, events[0].PricePerUnit.IsZero())
	require.True(t, events[0].ValueUSD.IsZero())
}

func TestParseTransactions_RemainderProcessedAfterMalformedRecord(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New("w1")
	events := p.ParseTransactions([]RawTrade{
		trade(10, 5, 1, 1, ts), // malformed, dropped
		trade(-10, 5, 1, 2, ts.Add(time.Minute)),
	})
	require.Len(t, events, 2)
}

func TestGroupByToken_SortsStablyByTimestamp(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []pnl.FinancialEvent{
		{TokenAddress: "A", Timestamp: base.Add(3 * time.Minute)},
		{TokenAddress: "A", Timestamp: base.Add(1 * time.Minute)},
		{TokenAddress: "B", Timestamp: base},
		{TokenAddress: "A", Timestamp: base.Add(2 * time.Minute)},
	}
	groups := GroupByToken(events)
	require.Len(t, groups, 2)
	require.Len(t, groups["A"], 3)
	require.True(t, groups["A"][0].Timestamp.Before(groups["A"][1].Timestamp))
	require.True(t, groups["A"][1].Timestamp.Before(groups["A"][2].Timestamp))
	require.Len(t, groups["B"], 1)
}
