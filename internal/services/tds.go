package services

import (
	"math/big"

	"github.com/spf13/viper"
)

// TDSRate is a withholding rate in basis points (10% == 1000 bps).
// Basis points keep the rate integral so the only rounding in the whole
// calculation happens once, on the final TDS figure.
type TDSRate int64

// DefaultTDSRate reads tds.rate_bps from config, defaulting to 10%.
func DefaultTDSRate() TDSRate {
	viper.SetDefault("tds.rate_bps", 1000)
	return TDSRate(viper.GetInt64("tds.rate_bps"))
}

// ComputeTDS derives the withheld tax and net transferable amount for a
// requested payout, both in paise. TDS is rounded to the nearest paise with
// banker's rounding (round half to even); net is the exact remainder, so
// tds + net == requested always holds without independent rounding drift.
func ComputeTDS(requested int64, rate TDSRate) (tds, net int64) {
	if requested <= 0 || rate <= 0 {
		return 0, requested
	}

	// tds = requested * rate / 10000, half-to-even.
	num := new(big.Int).Mul(big.NewInt(requested), big.NewInt(int64(rate)))
	quo, rem := new(big.Int).QuoRem(num, big.NewInt(10000), new(big.Int))

	tds = quo.Int64()
	r := rem.Int64() * 2
	switch {
	case r > 10000:
		tds++
	case r == 10000 && tds%2 != 0:
		tds++
	}

	return tds, requested - tds
}
