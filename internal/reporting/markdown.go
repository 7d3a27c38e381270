package reporting

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"yield-ledger/internal/decimals"
)

// feeRateDecimals renders a parts-per-100,000 rate as a percentage.
const feeRateDecimals = 3

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Yield Ledger Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Scanned through block: %d\n\n", r.ScannedThrough))
	if r.LastEventID != "" {
		sb.WriteString(fmt.Sprintf("Last applied event: `%s`\n\n", r.LastEventID))
	}

	// Global counters
	sb.WriteString("## Totals\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Mints | %d |\n", r.Stats.TotalMints))
	sb.WriteString(fmt.Sprintf("| Redeems | %d |\n", r.Stats.TotalRedeems))
	sb.WriteString(fmt.Sprintf("| Transfers | %d |\n", r.Stats.TotalTransfers))
	sb.WriteString(fmt.Sprintf("| Referrals | %d |\n", r.Stats.TotalReferrals))
	sb.WriteString(fmt.Sprintf("| Rebalances | %d |\n", r.Stats.TotalRebalances))
	sb.WriteString(fmt.Sprintf("| Unique users | %d |\n", r.Stats.TotalUniqueUsers))
	sb.WriteString("\n")

	// Tokens
	sb.WriteString("## Tokens\n\n")
	if len(r.Tokens) > 0 {
		sb.WriteString("| Token | Name | Underlying | Supply | Price | Fee % | Users | Rebalances | Fee generated | Fee paid |\n")
		sb.WriteString("|-------|------|------------|--------|-------|-------|-------|------------|---------------|----------|\n")
		for _, t := range r.Tokens {
			sb.WriteString(fmt.Sprintf("| `%s` | %s | %s | %s | %s | %s | %d | %d | %s | %s |\n",
				t.TokenID, t.Name, t.UnderlyingName,
				decimals.Format(t.TotalSupply, t.Decimals),
				decimals.Format(t.LastPrice, t.UnderlyingDecimals),
				decimals.Format(t.Fee, feeRateDecimals),
				t.UniqueUserCount, t.TotalRebalances,
				decimals.Format(t.TotalFeeGenerated, t.UnderlyingDecimals),
				decimals.Format(t.TotalFeePaid, t.UnderlyingDecimals)))
		}
	} else {
		sb.WriteString("No indexed tokens.\n")
	}
	sb.WriteString("\n")

	// Period
	sb.WriteString(fmt.Sprintf("## Period %s\n\n", blockWindow(r.FromBlock, r.ToBlock)))
	if len(r.Tokens) > 0 {
		sb.WriteString("| Token | Start price | End price | Return (bps) | Fee generated | Snapshots | Clamped |\n")
		sb.WriteString("|-------|-------------|-----------|--------------|---------------|-----------|---------|\n")
		for _, t := range r.Tokens {
			sb.WriteString(fmt.Sprintf("| `%s` | %s | %s | %s | %s | %d | %d |\n",
				t.TokenID,
				optional(t.StartPrice, t.UnderlyingDecimals),
				optional(t.EndPrice, t.UnderlyingDecimals),
				optional(t.ReturnBps, 0),
				decimals.Format(t.PeriodFeeGenerated, t.UnderlyingDecimals),
				t.Snapshots, t.ClampedReadings))
		}
	} else {
		sb.WriteString("No price history.\n")
	}
	sb.WriteString("\n")

	if len(r.MissingTokens) > 0 {
		sb.WriteString("## Not Yet Indexed\n\n")
		for _, id := range r.MissingTokens {
			sb.WriteString(fmt.Sprintf("- `%s`\n", id))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func optional(v *big.Int, dec uint8) string {
	if v == nil {
		return "n/a"
	}
	return decimals.Format(v, dec)
}

func blockWindow(from, to uint64) string {
	if to == math.MaxUint64 {
		return fmt.Sprintf("[%d, latest]", from)
	}
	return fmt.Sprintf("[%d, %d]", from, to)
}
