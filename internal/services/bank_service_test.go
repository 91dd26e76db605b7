package services

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBankService(t *testing.T) {
	bs := NewBankService()

	t.Run("known bank codes", func(t *testing.T) {
		assert.True(t, bs.KnownBankCode("HDFC"))
		assert.True(t, bs.KnownBankCode("hdfc"))
		assert.False(t, bs.KnownBankCode("XYZ"))
	})

	t.Run("ifsc must match the bank", func(t *testing.T) {
		assert.True(t, bs.ValidIFSC("HDFC", "HDFC0001234"))
		assert.False(t, bs.ValidIFSC("HDFC", "SBIN0001234"))
		assert.False(t, bs.ValidIFSC("HDFC", "HDFC123"))
		assert.True(t, bs.ValidIFSC("SBI", "SBIN0001234"))
	})

	t.Run("directory endpoint", func(t *testing.T) {
		rec := httptest.NewRecorder()
		bs.GetAllBanks(rec, httptest.NewRequest("GET", "/api/v1/banks", nil))

		assert.Equal(t, 200, rec.Code)

		var banks []Bank
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &banks))
		assert.NotEmpty(t, banks)
		for _, b := range banks {
			assert.NotEmpty(t, b.Code)
			assert.Len(t, b.IFSCPrefix, 4)
		}
	})
}
