package services

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/commispay/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_IFSCTag(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("accepts well-formed bank details", func(t *testing.T) {
		assert.NoError(t, vh.ValidateStruct(&testBankDetails))
	})

	cases := []struct {
		name   string
		mutate func(*models.BankDetails)
	}{
		{"ifsc too short", func(b *models.BankDetails) { b.IFSC = "HDFC001" }},
		{"ifsc missing zero separator", func(b *models.BankDetails) { b.IFSC = "HDFC1001234" }},
		{"ifsc lowercase", func(b *models.BankDetails) { b.IFSC = "hdfc0001234" }},
		{"account number with letters", func(b *models.BankDetails) { b.AccountNumber = "12345ABC9012" }},
		{"account number too short", func(b *models.BankDetails) { b.AccountNumber = "12345" }},
		{"missing account name", func(b *models.BankDetails) { b.AccountName = "" }},
		{"bank code too short", func(b *models.BankDetails) { b.BankCode = "HD" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bd := testBankDetails
			tc.mutate(&bd)
			assert.Error(t, vh.ValidateStruct(&bd))
		})
	}
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error without details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "payout not found", 404, nil)

		assert.Equal(t, 404, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "payout not found", resp.Error)
		assert.Empty(t, resp.Details)
	})

	t.Run("validator errors flattened into details", func(t *testing.T) {
		vh := NewValidationHelper()
		bd := testBankDetails
		bd.IFSC = "bogus"
		err := vh.ValidateStruct(&bd)
		assert.Error(t, err)

		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Validation failed", 400, err)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.Details, "IFSC")
	})
}
