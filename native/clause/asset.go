package clause

import (
	"fmt"
	"strings"
)

// NativeAsset is the sentinel denoting the ledger's native asset. Any other
// normalised symbol names a registered fungible token with the standard
// transfer / transfer-from / approve surface.
const NativeAsset = ""

// NormalizeAsset canonicalises an asset reference. The empty string (after
// trimming) is the native-asset sentinel; anything else must be a short
// alphanumeric token symbol, returned uppercased.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return NativeAsset, nil
	}
	if len(trimmed) > 16 {
		return "", fmt.Errorf("asset symbol too long: %s", symbol)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("invalid asset symbol: %s", symbol)
		}
	}
	return trimmed, nil
}

// IsNative reports whether the normalised asset is the native sentinel.
func IsNative(asset string) bool { return asset == NativeAsset }
