package services

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestComputeTDS(t *testing.T) {
	t.Run("exact ten percent", func(t *testing.T) {
		tds, net := ComputeTDS(100000, 1000)
		assert.Equal(t, int64(10000), tds)
		assert.Equal(t, int64(90000), net)
	})

	t.Run("rounds half to even", func(t *testing.T) {
		// 105 * 10% = 10.5 -> 10 (even), 115 * 10% = 11.5 -> 12 (even)
		tds, net := ComputeTDS(105, 1000)
		assert.Equal(t, int64(10), tds)
		assert.Equal(t, int64(95), net)

		tds, net = ComputeTDS(115, 1000)
		assert.Equal(t, int64(12), tds)
		assert.Equal(t, int64(103), net)
	})

	t.Run("rounds normally away from half", func(t *testing.T) {
		// 12.3 -> 12, 12.7 -> 13
		tds, _ := ComputeTDS(123, 1000)
		assert.Equal(t, int64(12), tds)

		tds, _ = ComputeTDS(127, 1000)
		assert.Equal(t, int64(13), tds)
	})

	t.Run("non-positive amount means no withholding", func(t *testing.T) {
		tds, net := ComputeTDS(0, 1000)
		assert.Equal(t, int64(0), tds)
		assert.Equal(t, int64(0), net)

		tds, net = ComputeTDS(-500, 1000)
		assert.Equal(t, int64(0), tds)
		assert.Equal(t, int64(-500), net)
	})

	t.Run("zero rate passes amount through", func(t *testing.T) {
		tds, net := ComputeTDS(98765, 0)
		assert.Equal(t, int64(0), tds)
		assert.Equal(t, int64(98765), net)
	})

	t.Run("split always reassembles exactly", func(t *testing.T) {
		rates := []TDSRate{1, 250, 1000, 3000, 9999}
		for _, rate := range rates {
			for amount := int64(1); amount < 5000; amount += 7 {
				tds, net := ComputeTDS(amount, rate)
				assert.Equal(t, amount, tds+net, "amount %d rate %d", amount, rate)
				assert.GreaterOrEqual(t, tds, int64(0))
				assert.GreaterOrEqual(t, net, int64(0))
			}
		}
	})

	t.Run("no overflow on large amounts", func(t *testing.T) {
		// 5 crore rupees in paise at 30%
		tds, net := ComputeTDS(50_000_000_00, 3000)
		assert.Equal(t, int64(15_000_000_00), tds)
		assert.Equal(t, int64(35_000_000_00), net)
	})
}

func TestDefaultTDSRate(t *testing.T) {
	viper.Reset()
	assert.Equal(t, TDSRate(1000), DefaultTDSRate())

	viper.Set("tds.rate_bps", 750)
	assert.Equal(t, TDSRate(750), DefaultTDSRate())
	viper.Reset()
}
