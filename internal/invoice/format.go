package invoice

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

const (
	CurrencySymbol   = "₹"
	unknownFilePart  = "unknown"
	dateLayoutGB     = "02/01/2006"
	fileNamePrefix   = "customer_order_token_"
	fileNameSuffix   = ".pdf"
	fileNameReplaced = `/\:*?"<>|`
)

func FormatMoney(d decimal.Decimal) string {
	return CurrencySymbol + d.StringFixed(2)
}

// FormatDate renders day/month/year in loc, or "N/A" for an unknown date.
func FormatDate(ts models.Timestamp, loc *time.Location) string {
	if !ts.Valid {
		return notAvailable
	}
	return ts.Time.In(loc).Format(dateLayoutGB)
}

// FileName is customer_order_token_<token>_<customer>.pdf with "unknown"
// standing in for a missing token or customer.
func FileName(o models.OrderRecord) string {
	token := o.TokenNumber.String()
	if token == "" {
		token = unknownFilePart
	}
	customer := strings.Map(func(r rune) rune {
		if strings.ContainsRune(fileNameReplaced, r) {
			return '_'
		}
		return r
	}, string(o.Customer))
	if customer == "" {
		customer = unknownFilePart
	}
	return fileNamePrefix + token + "_" + customer + fileNameSuffix
}

// Fingerprint identifies the content an invoice is rendered from. Two
// records with the same fingerprint produce the same PDF.
func Fingerprint(o models.OrderRecord) (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}
