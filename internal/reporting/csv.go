package reporting

import (
	"encoding/csv"
	"math/big"
	"strconv"
	"strings"
)

// RenderCSV renders one row per token with raw integer quantities.
func RenderCSV(r *Report) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	header := []string{
		"token_id", "name", "underlying_name", "decimals", "underlying_decimals",
		"total_supply", "last_price", "fee", "unique_user_count", "total_rebalances",
		"total_fee_generated", "total_fee_paid",
		"from_block", "to_block", "start_price", "end_price", "return_bps",
		"period_fee_generated", "snapshots", "clamped_readings",
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for _, t := range r.Tokens {
		row := []string{
			t.TokenID,
			t.Name,
			t.UnderlyingName,
			strconv.Itoa(int(t.Decimals)),
			strconv.Itoa(int(t.UnderlyingDecimals)),
			t.TotalSupply.String(),
			t.LastPrice.String(),
			t.Fee.String(),
			strconv.FormatInt(t.UniqueUserCount, 10),
			strconv.FormatInt(t.TotalRebalances, 10),
			t.TotalFeeGenerated.String(),
			t.TotalFeePaid.String(),
			strconv.FormatUint(r.FromBlock, 10),
			strconv.FormatUint(r.ToBlock, 10),
			raw(t.StartPrice),
			raw(t.EndPrice),
			raw(t.ReturnBps),
			t.PeriodFeeGenerated.String(),
			strconv.Itoa(t.Snapshots),
			strconv.Itoa(t.ClampedReadings),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	return sb.String(), w.Error()
}

// raw renders nil as an empty cell.
func raw(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
