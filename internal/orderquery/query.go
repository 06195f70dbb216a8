// Package orderquery filters, searches and sorts an in-memory order list
// for the dashboard. Everything here is pure and synchronous.
package orderquery

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

type SortKey string

const (
	SortNewest     SortKey = "newest"
	SortOldest     SortKey = "oldest"
	SortTokenAsc   SortKey = "tokenAsc"
	SortTokenDesc  SortKey = "tokenDesc"
	SortAmountAsc  SortKey = "amountAsc"
	SortAmountDesc SortKey = "amountDesc"
)

var ErrUnknownSortKey = errors.New("unknown sort key")

var sortKeys = map[SortKey]bool{
	SortNewest:     true,
	SortOldest:     true,
	SortTokenAsc:   true,
	SortTokenDesc:  true,
	SortAmountAsc:  true,
	SortAmountDesc: true,
}

// ParseSortKey validates a sort key. An empty string selects newest first.
func ParseSortKey(s string) (SortKey, error) {
	if s == "" {
		return SortNewest, nil
	}
	k := SortKey(s)
	if !sortKeys[k] {
		return "", fmt.Errorf("%w: %q", ErrUnknownSortKey, s)
	}
	return k, nil
}

// Params is the user-selected view of the order list.
type Params struct {
	Search string        `json:"search"`
	Status models.Status `json:"status"`
	Sort   SortKey       `json:"sort"`
}

func DefaultParams() Params {
	return Params{Status: models.StatusAll, Sort: SortNewest}
}

func (p Params) Normalize() Params {
	if p.Status == "" {
		p.Status = models.StatusAll
	}
	if p.Sort == "" {
		p.Sort = SortNewest
	}
	return p
}

// Apply returns the records matching both the search term and the status
// filter, stably sorted by p.Sort. The input slice is not modified. An
// unrecognized sort key keeps the input order.
func Apply(records []models.OrderRecord, p Params) []models.OrderRecord {
	p = p.Normalize()
	term := p.Search
	lowerTerm := strings.ToLower(term)

	out := make([]models.OrderRecord, 0, len(records))
	for _, r := range records {
		if matchesSearch(r, term, lowerTerm) && matchesStatus(r, p.Status) {
			out = append(out, r)
		}
	}

	if less := comparator(p.Sort, out); less != nil {
		sort.SliceStable(out, less)
	}
	return out
}

func matchesSearch(r models.OrderRecord, term, lowerTerm string) bool {
	if term == "" {
		return true
	}
	if r.Customer != "" && strings.Contains(strings.ToLower(string(r.Customer)), lowerTerm) {
		return true
	}
	if r.Phone != "" && strings.Contains(string(r.Phone), term) {
		return true
	}
	if r.TokenNumber.Valid && strings.Contains(r.TokenNumber.String(), term) {
		return true
	}
	if r.City != "" && strings.Contains(strings.ToLower(string(r.City)), lowerTerm) {
		return true
	}
	return false
}

func matchesStatus(r models.OrderRecord, status models.Status) bool {
	return status == models.StatusAll || r.Status == status
}

// comparator returns a less function over rs. Missing dates sort as the
// earliest instant, missing tokens and amounts as zero.
func comparator(key SortKey, rs []models.OrderRecord) func(i, j int) bool {
	switch key {
	case SortNewest:
		return func(i, j int) bool { return rs[i].OrderDate.Time.After(rs[j].OrderDate.Time) }
	case SortOldest:
		return func(i, j int) bool { return rs[i].OrderDate.Time.Before(rs[j].OrderDate.Time) }
	case SortTokenAsc:
		return func(i, j int) bool { return rs[i].TokenNumber.OrZero() < rs[j].TokenNumber.OrZero() }
	case SortTokenDesc:
		return func(i, j int) bool { return rs[i].TokenNumber.OrZero() > rs[j].TokenNumber.OrZero() }
	case SortAmountAsc:
		return func(i, j int) bool { return rs[i].TotalAmount.Cmp(rs[j].TotalAmount.Decimal) < 0 }
	case SortAmountDesc:
		return func(i, j int) bool { return rs[i].TotalAmount.Cmp(rs[j].TotalAmount.Decimal) > 0 }
	}
	return nil
}
