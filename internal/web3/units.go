package web3

import "math/big"

var weiPerEther = new(big.Float).SetPrec(256).SetInt(big.NewInt(1_000_000_000_000_000_000))

// FormatEther renders a wei amount as ETH with four decimals.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0000"
	}
	value := new(big.Float).SetPrec(256).SetInt(wei)
	value.Quo(value, weiPerEther)
	return value.Text('f', 4)
}
