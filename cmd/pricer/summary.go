package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/rzzdr/euro-option-pricer/pkg/models"
)

func printSummary(w io.Writer, res *models.PricingResult, showPaths int, showRates bool) {
	title := color.New(color.FgCyan, color.Bold).SprintFunc()
	label := color.New(color.FgBlue).SprintFunc()
	call := color.New(color.FgGreen).SprintFunc()
	put := color.New(color.FgRed).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "%s\n", title(fmt.Sprintf("%s European option, %s, K=%s, %d days",
		res.Ticker, res.Process.LongName(), models.FormatValue("$", res.Strike.Float64(), 2), res.TTEDays)))

	valuation := res.ValuationDate.Format(time.DateOnly)
	if !res.ValuationDate.Equal(res.RequestedValuationDate) {
		valuation += warn(fmt.Sprintf(" (requested %s)", res.RequestedValuationDate.Format(time.DateOnly)))
	}
	fmt.Fprintf(w, "%-16s %s\n", label("Valuation date"), valuation)
	fmt.Fprintf(w, "%-16s %s\n", label("Spot"), models.FormatValue("$", res.SpotPrice, 2))
	fmt.Fprintf(w, "%-16s %s (%s)\n", label("Risk-free rate"), models.FormatValue("%", res.RiskFreeRate, 3), res.RateDataset)
	fmt.Fprintf(w, "%-16s %s (%s)\n", label("Volatility"), models.FormatValue("%", res.Volatility, 2), res.VolatilityMode)
	if res.MLE != nil {
		fmt.Fprintf(w, "%-16s %s, fitted %s, historical %s\n", label("  MLE"),
			models.FormatValue("%", res.MLE.Volatility, 2), models.FormatValue("%", res.MLE.FittedVolatility, 2),
			models.FormatValue("%", res.MLE.HistoricalVolatility, 2))
	}
	if res.RegressionVolatility > 0 {
		fmt.Fprintf(w, "%-16s %s\n", label("  Regression"), models.FormatValue("%", res.RegressionVolatility, 2))
	}
	fmt.Fprintf(w, "%-16s %d paths, discount factor %s\n", label("Simulation"),
		res.Simulations, models.FormatValue("", res.DiscountFactor, 6))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-16s %s ± %s\n", call("Call"), models.FormatValue("$", res.CallPrice, 4), models.FormatValue("", res.CallStdErr, 4))
	fmt.Fprintf(w, "%-16s %s ± %s\n", put("Put"), models.FormatValue("$", res.PutPrice, 4), models.FormatValue("", res.PutStdErr, 4))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-8s %12s %12s %12s %12s %12s\n", "", "Delta", "Gamma", "Theta", "Vega", "Rho")
	for _, g := range []models.GreeksResult{res.CallGreeks, res.PutGreeks} {
		fmt.Fprintf(w, "%-8s %12s %12s %12s %12s %12s\n", g.Side,
			models.FormatValue("", g.Delta, 4), models.FormatValue("", g.Gamma, 4),
			models.FormatValue("", g.Theta, 4), models.FormatValue("", g.Vega, 4), models.FormatValue("", g.Rho, 4))
	}

	if showRates && len(res.RateWindow) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, title("Forecast rates"))
		for _, p := range res.RateWindow {
			fmt.Fprintf(w, "  %s %s\n", p.Date.Format(time.DateOnly), models.FormatValue("%", p.Rate, 3))
		}
	}

	if n := min(showPaths, len(res.Paths)); n > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, title(fmt.Sprintf("Terminal prices of %d paths", n)))
		for i, path := range res.Paths[:n] {
			fmt.Fprintf(w, "  #%-4d %s\n", i+1, models.FormatValue("$", path[len(path)-1], 2))
		}
	}
}
