package chain

import (
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// FormatEther converts wei to a human-readable ETH string.
func FormatEther(wei *big.Int) string {
	return formatUnits(wei, params.Ether, 6)
}

// FormatGwei converts wei to a human-readable gwei string.
func FormatGwei(wei *big.Int) string {
	return formatUnits(wei, params.GWei, 2)
}

// Gwei returns n gwei in wei.
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.GWei))
}

// Ether returns n/denom ETH in wei, e.g. Ether(1, 10) is 0.1 ETH.
func Ether(n, denom int64) *big.Int {
	wei := new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
	return wei.Quo(wei, big.NewInt(denom))
}

func formatUnits(wei *big.Int, unit float64, decimals int) string {
	if wei == nil {
		return "0"
	}

	// Convert to float for display
	weiFloat := new(big.Float).SetInt(wei)
	value := new(big.Float).Quo(weiFloat, big.NewFloat(unit))

	s := value.Text('f', decimals)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// RedactURL strips the path, query and user info of an RPC URL. Hosted providers
// put the API key in the path.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<redacted>"
	}
	redacted := u.Scheme + "://" + u.Host
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.User != nil {
		redacted += "/***"
	}
	return redacted
}
