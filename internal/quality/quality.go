// Package quality scores a wallet's PortfolioPnLResult against a set of
// criteria to decide whether it is worth copy-trading.
package quality

import (
	"github.com/shopspring/decimal"

	"wallet-pnl-analyzer/internal/pnl"
)

// Criteria holds the decimal minima/maxima a portfolio is judged against.
type Criteria struct {
	MinRealizedPnLUSD   decimal.Decimal
	MinTotalTrades      int
	MinWinningTrades    int
	MinWinRate          decimal.Decimal
	MinROIPercentage    decimal.Decimal
	MinCapitalDeployed  decimal.Decimal
	MinAvgHoldMinutes   decimal.Decimal
	MaxAvgHoldMinutes   decimal.Decimal
	ExcludeHoldersOnly  bool
	ExcludeZeroPnL      bool
}

// RiskLevel buckets a qualified wallet by win-rate x ROI.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskVeryHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "very_high"
	}
}

// TradingStyle buckets a wallet by average hold time.
type TradingStyle int

const (
	StyleUnknown TradingStyle = iota
	StyleScalper
	StyleDayTrader
	StyleSwingTrader
	StyleHolder
)

func (s TradingStyle) String() string {
	switch s {
	case StyleScalper:
		return "scalper"
	case StyleDayTrader:
		return "day_trader"
	case StyleSwingTrader:
		return "swing_trader"
	case StyleHolder:
		return "holder"
	default:
		return "unknown"
	}
}

// Quality is the scored verdict Evaluate produces for one portfolio.
type Quality struct {
	IsQualified          bool
	Score                decimal.Decimal
	RiskLevel            RiskLevel
	TradingStyle         TradingStyle
	Strengths            []string
	Concerns             []string
	CopyTradeRecommended bool
}

const (
	minutesPerHour = 60
	minutesPerDay  = 24 * minutesPerHour
	minutesPerWeek = 7 * minutesPerDay
)

// Evaluate is pure: no I/O, no wall-clock, same inputs always yield the
// same Quality.
func Evaluate(report pnl.PortfolioPnLResult, c Criteria) Quality {
	q := Quality{
		RiskLevel:    riskLevel(report.WinRate, report.ROIPercentage),
		TradingStyle: tradingStyle(report.AvgHoldTimeSeconds),
	}

	failures := 0
	checks := 0

	check := func(ok bool, strength, concern string) {
		checks++
		if ok {
			if strength != "" {
				q.Strengths = append(q.Strengths, strength)
			}
			return
		}
		failures++
		if concern != "" {
			q.Concerns = append(q.Concerns, concern)
		}
	}

	check(report.RealizedPnLUSD.GreaterThanOrEqual(c.MinRealizedPnLUSD),
		"realized P&L meets threshold", "realized P&L below minimum")
	check(report.TotalTrades >= c.MinTotalTrades,
		"sufficient trade history", "too few trades")
	check(report.WinningTrades >= c.MinWinningTrades,
		"sufficient winning trades", "too few winning trades")
	check(report.WinRate.GreaterThanOrEqual(c.MinWinRate),
		"win rate meets threshold", "win rate below minimum")
	check(report.ROIPercentage.GreaterThanOrEqual(c.MinROIPercentage),
		"ROI meets threshold", "ROI below minimum")
	check(report.CapitalDeployedUSD.GreaterThanOrEqual(c.MinCapitalDeployed),
		"sufficient capital deployed", "too little capital deployed")

	avgHoldMinutes := report.AvgHoldTimeSeconds.Div(decimal.NewFromInt(60))
	check(avgHoldMinutes.GreaterThanOrEqual(c.MinAvgHoldMinutes) && avgHoldMinutes.LessThanOrEqual(c.MaxAvgHoldMinutes),
		"average hold time within range", "average hold time outside configured range")

	if c.ExcludeHoldersOnly {
		isHolderOnly := report.TotalTrades == 0
		check(!isHolderOnly, "", "holder-only wallet excluded")
	}
	if c.ExcludeZeroPnL {
		check(!report.RealizedPnLUSD.IsZero(), "", "zero realized P&L excluded")
	}

	q.IsQualified = failures == 0
	if checks > 0 {
		passed := checks - failures
		q.Score = decimal.NewFromInt(int64(passed)).Div(decimal.NewFromInt(int64(checks))).Mul(decimal.NewFromInt(100))
	}

	q.CopyTradeRecommended = q.IsQualified && (q.RiskLevel == RiskLow || q.RiskLevel == RiskMedium)

	return q
}

func riskLevel(winRate, roiPercentage decimal.Decimal) RiskLevel {
	wr := winRate.InexactFloat64()
	roi := roiPercentage.InexactFloat64()

	switch {
	case wr >= 0.6 && roi >= 50:
		return RiskLow
	case wr >= 0.45 && roi >= 10:
		return RiskMedium
	case wr >= 0.3:
		return RiskHigh
	default:
		return RiskVeryHigh
	}
}

func tradingStyle(avgHoldSeconds decimal.Decimal) TradingStyle {
	minutes := avgHoldSeconds.Div(decimal.NewFromInt(60)).InexactFloat64()
	switch {
	case minutes <= 0:
		return StyleUnknown
	case minutes < 60:
		return StyleScalper
	case minutes < minutesPerDay:
		return StyleDayTrader
	case minutes < minutesPerWeek:
		return StyleSwingTrader
	default:
		return StyleHolder
	}
}
