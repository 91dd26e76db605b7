package services

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

type Bank struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	IFSCPrefix string `json:"ifscPrefix"`
}

// Settlement bank directory. Codes are the internal routing codes used on
// payout bank details; IFSCPrefix is the four-letter bank identifier that an
// IFSC for this bank must start with.
var indianBanks = []Bank{
	{Code: "SBI", Name: "State Bank of India", IFSCPrefix: "SBIN"},
	{Code: "HDFC", Name: "HDFC Bank", IFSCPrefix: "HDFC"},
	{Code: "ICICI", Name: "ICICI Bank", IFSCPrefix: "ICIC"},
	{Code: "AXIS", Name: "Axis Bank", IFSCPrefix: "UTIB"},
	{Code: "KOTAK", Name: "Kotak Mahindra Bank", IFSCPrefix: "KKBK"},
	{Code: "PNB", Name: "Punjab National Bank", IFSCPrefix: "PUNB"},
	{Code: "BOB", Name: "Bank of Baroda", IFSCPrefix: "BARB"},
	{Code: "CANARA", Name: "Canara Bank", IFSCPrefix: "CNRB"},
	{Code: "UNION", Name: "Union Bank of India", IFSCPrefix: "UBIN"},
	{Code: "BOI", Name: "Bank of India", IFSCPrefix: "BKID"},
	{Code: "IDBI", Name: "IDBI Bank", IFSCPrefix: "IBKL"},
	{Code: "YES", Name: "Yes Bank", IFSCPrefix: "YESB"},
	{Code: "INDUSIND", Name: "IndusInd Bank", IFSCPrefix: "INDB"},
	{Code: "IDFC", Name: "IDFC First Bank", IFSCPrefix: "IDFB"},
	{Code: "FEDERAL", Name: "Federal Bank", IFSCPrefix: "FDRL"},
	{Code: "RBL", Name: "RBL Bank", IFSCPrefix: "RATN"},
	{Code: "INDIAN", Name: "Indian Bank", IFSCPrefix: "IDIB"},
	{Code: "CBI", Name: "Central Bank of India", IFSCPrefix: "CBIN"},
	{Code: "IOB", Name: "Indian Overseas Bank", IFSCPrefix: "IOBA"},
	{Code: "UCO", Name: "UCO Bank", IFSCPrefix: "UCBA"},
	{Code: "BANDHAN", Name: "Bandhan Bank", IFSCPrefix: "BDBL"},
	{Code: "KARUR", Name: "Karur Vysya Bank", IFSCPrefix: "KVBL"},
	{Code: "SIB", Name: "South Indian Bank", IFSCPrefix: "SIBL"},
	{Code: "AUSFB", Name: "AU Small Finance Bank", IFSCPrefix: "AUBL"},
	{Code: "PAYTM", Name: "Paytm Payments Bank", IFSCPrefix: "PYTM"},
	{Code: "AIRTEL", Name: "Airtel Payments Bank", IFSCPrefix: "AIRP"},
}

var ifscPattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)

type BankService struct {
	byCode map[string]Bank
}

func NewBankService() *BankService {
	byCode := make(map[string]Bank, len(indianBanks))
	for _, b := range indianBanks {
		byCode[b.Code] = b
	}
	return &BankService{byCode: byCode}
}

// KnownBankCode reports whether code is in the settlement bank directory.
func (bs *BankService) KnownBankCode(code string) bool {
	_, ok := bs.byCode[strings.ToUpper(code)]
	return ok
}

// ValidIFSC checks the IFSC shape and, when the bank code is known, that the
// IFSC belongs to that bank.
func (bs *BankService) ValidIFSC(bankCode, ifsc string) bool {
	ifsc = strings.ToUpper(ifsc)
	if !ifscPattern.MatchString(ifsc) {
		return false
	}
	if b, ok := bs.byCode[strings.ToUpper(bankCode)]; ok {
		return strings.HasPrefix(ifsc, b.IFSCPrefix)
	}
	return true
}

// GetAllBanks lists the settlement bank directory
// @Summary List supported banks
// @Tags banks
// @Produce json
// @Success 200 {array} Bank
// @Router /banks [get]
func (bs *BankService) GetAllBanks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(indianBanks)
}
