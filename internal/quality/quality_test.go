package quality

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"wallet-pnl-analyzer/internal/pnl"
)

func loosecriteria() Criteria {
	return Criteria{
		MinRealizedPnLUSD: decimal.Zero,
		MinTotalTrades:    0,
		MinWinningTrades:  0,
		MinWinRate:        decimal.Zero,
		MinROIPercentage:  decimal.Zero,
		MinCapitalDeployed: decimal.Zero,
		MinAvgHoldMinutes: decimal.Zero,
		MaxAvgHoldMinutes: decimal.NewFromInt(1_000_000),
	}
}

func TestEvaluate_QualifiesUnderLooseCriteria(t *testing.T) {
	report := pnl.PortfolioPnLResult{
		RealizedPnLUSD:     decimal.NewFromInt(100),
		TotalTrades:        10,
		WinningTrades:      6,
		LosingTrades:       4,
		WinRate:            decimal.NewFromFloat(0.6),
		ROIPercentage:      decimal.NewFromInt(50),
		CapitalDeployedUSD: decimal.NewFromInt(1000),
		AvgHoldTimeSeconds: decimal.NewFromInt(3600),
	}
	q := Evaluate(report, loosecriteria())
	require.True(t, q.IsQualified)
	require.True(t, q.Score.GreaterThan(decimal.Zero))
}

func TestEvaluate_FailsStrictCriteria(t *testing.T) {
	report := pnl.PortfolioPnLResult{
		RealizedPnLUSD: decimal.NewFromInt(-50),
		TotalTrades:    1,
		WinningTrades:  0,
		LosingTrades:   1,
		WinRate:        decimal.Zero,
		ROIPercentage:  decimal.NewFromInt(-10),
	}
	criteria := Criteria{
		MinRealizedPnLUSD: decimal.NewFromInt(100),
		MinTotalTrades:    10,
		MinWinningTrades:  5,
		MinWinRate:        decimal.NewFromFloat(0.5),
		MinROIPercentage:  decimal.NewFromInt(20),
		MaxAvgHoldMinutes: decimal.NewFromInt(1_000_000),
	}
	q := Evaluate(report, criteria)
	require.False(t, q.IsQualified)
	require.NotEmpty(t, q.Concerns)
	require.False(t, q.CopyTradeRecommended)
}

func TestEvaluate_RiskLevelBuckets(t *testing.T) {
	cases := []struct {
		winRate, roi float64
		want         RiskLevel
	}{
		{0.65, 60, RiskLow},
		{0.5, 15, RiskMedium},
		{0.35, 0, RiskHigh},
		{0.1, -50, RiskVeryHigh},
	}
	for _, c := range cases {
		got := riskLevel(decimal.NewFromFloat(c.winRate), decimal.NewFromFloat(c.roi))
		require.Equal(t, c.want, got, "winRate=%v roi=%v", c.winRate, c.roi)
	}
}

func TestEvaluate_TradingStyleBuckets(t *testing.T) {
	cases := []struct {
		seconds int64
		want    TradingStyle
	}{
		{0, StyleUnknown},
		{30 * 60, StyleScalper},
		{5 * 3600, StyleDayTrader},
		{3 * 24 * 3600, StyleSwingTrader},
		{10 * 24 * 3600, StyleHolder},
	}
	for _, c := range cases {
		got := tradingStyle(decimal.NewFromInt(c.seconds))
		require.Equal(t, c.want, got, "seconds=%d", c.seconds)
	}
}

func TestEvaluate_CopyTradeRecommendedOnlyForLowMediumRisk(t *testing.T) {
	report := pnl.PortfolioPnLResult{
		RealizedPnLUSD:     decimal.NewFromInt(100),
		TotalTrades:        10,
		WinningTrades:      6,
		WinRate:            decimal.NewFromFloat(0.65),
		ROIPercentage:      decimal.NewFromInt(60),
		CapitalDeployedUSD: decimal.NewFromInt(1000),
		AvgHoldTimeSeconds: decimal.NewFromInt(3600),
	}
	q := Evaluate(report, loosecriteria())
	require.True(t, q.IsQualified)
	require.Equal(t, RiskLow, q.RiskLevel)
	require.True(t, q.CopyTradeRecommended)
}

func TestEvaluate_ExcludeZeroPnLWallet(t *testing.T) {
	report := pnl.PortfolioPnLResult{
		RealizedPnLUSD: decimal.Zero,
		TotalTrades:    5,
	}
	criteria := loosecriteria()
	criteria.ExcludeZeroPnL = true
	q := Evaluate(report, criteria)
	require.False(t, q.IsQualified)
	require.Contains(t, q.Concerns, "zero realized P&L excluded")
}

func TestEvaluate_ExcludeHoldersOnly(t *testing.T) {
	report := pnl.PortfolioPnLResult{TotalTrades: 0}
	criteria := loosecriteria()
	criteria.ExcludeHoldersOnly = true
	q := Evaluate(report, criteria)
	require.False(t, q.IsQualified)
	require.Contains(t, q.Concerns, "holder-only wallet excluded")
}
