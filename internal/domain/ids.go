package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ZeroAddress is the mint source and redeem sink of ERC-20 transfers.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// TotalStatsID is the key of the TotalStats singleton.
const TotalStatsID = "1"

// NormalizeAddress lower-cases a 0x-prefixed hex address so it can be used as a key.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(addr, "0x") {
		addr = "0x" + addr
	}
	return addr
}

// IsZeroAddress reports whether addr is the zero address.
func IsZeroAddress(addr string) bool {
	return NormalizeAddress(addr) == ZeroAddress
}

// EventID = "<tx_hash>-<log_index>"
func EventID(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s-%d", strings.ToLower(txHash), logIndex)
}

// ParseEventID splits an EventID back into its transaction hash and log index.
func ParseEventID(id string) (string, uint, error) {
	i := strings.LastIndex(id, "-")
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("invalid event id format: %s", id)
	}

	logIndex, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("invalid log index in %s: %w", id, err)
	}
	return id[:i], uint(logIndex), nil
}

// PairID keys records owned by two parents, e.g. UserToken and ReferrerToken.
func PairID(a, b string) string {
	return a + "-" + b
}

// ReferralAttributionID keys the ReferrerUserToken of a user-token pair.
// The referrer is deliberately not part of the key: one referrer per pair.
func ReferralAttributionID(userID, tokenID string) string {
	return "Referral-" + userID + "-" + tokenID
}
