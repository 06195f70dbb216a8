package orderquery

import (
	"github.com/shopspring/decimal"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

// Stats are the dashboard summary cards, computed over the whole snapshot
// rather than the filtered view.
type Stats struct {
	TotalOrders    int           `json:"totalOrders"`
	TotalRevenue   models.Amount `json:"totalRevenue"`
	PendingOrders  int           `json:"pendingOrders"`
	PDFsDownloaded int           `json:"pdfsDownloaded"`
}

func Summarize(records []models.OrderRecord) Stats {
	s := Stats{TotalOrders: len(records)}
	revenue := decimal.Zero
	for _, r := range records {
		revenue = revenue.Add(r.TotalAmount.Decimal)
		if r.Status == models.StatusPending {
			s.PendingOrders++
		}
		if r.PDFDownloaded {
			s.PDFsDownloaded++
		}
	}
	s.TotalRevenue = models.Amount{Decimal: revenue}
	return s
}
