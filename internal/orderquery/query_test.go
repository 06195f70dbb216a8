package orderquery

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

func order(id string, token int64, amount string, date string) models.OrderRecord {
	r := models.OrderRecord{
		ID:          id,
		TokenNumber: models.NewInteger(token),
		TotalAmount: models.MustAmount(amount),
	}
	if date != "" {
		r.OrderDate = models.ParseTimestamp(date)
	}
	return r
}

func ids(rs []models.OrderRecord) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func TestApplyAmountDescAndTokenSearch(t *testing.T) {
	list := []models.OrderRecord{
		order("first", 5, "100", "2024-01-01"),
		order("second", 2, "300", "2024-02-01"),
	}

	got := Apply(list, Params{Sort: SortAmountDesc})
	assert.Equal(t, []string{"second", "first"}, ids(got))

	got = Apply(list, Params{Search: "5"})
	assert.Equal(t, []string{"first"}, ids(got))
}

func TestApplySearchFields(t *testing.T) {
	list := []models.OrderRecord{
		{ID: "a", Customer: "Murugan Stores", City: "Madurai", Phone: "+91 98400 12345", TokenNumber: models.NewInteger(101)},
		{ID: "b", Customer: "Kavitha", City: "SIVAKASI", Phone: "9080533427", TokenNumber: models.NewInteger(7)},
		{ID: "c"},
	}

	tests := []struct {
		name   string
		search string
		want   []string
	}{
		{"empty term matches all", "", []string{"a", "b", "c"}},
		{"customer case insensitive", "murugan", []string{"a"}},
		{"city case insensitive", "sivakasi", []string{"b"}},
		{"phone raw substring", "98400 123", []string{"a"}},
		{"phone not normalized", "9840012345", nil},
		{"token substring", "10", []string{"a"}},
		{"no match", "chennai", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(list, Params{Search: tt.search, Sort: SortKey("none")})
			assert.ElementsMatch(t, tt.want, ids(got))
		})
	}
}

func TestApplyStatusFilter(t *testing.T) {
	list := []models.OrderRecord{
		{ID: "1", Status: models.StatusPending},
		{ID: "2", Status: models.StatusShipped},
		{ID: "3", Status: "On Hold"},
		{ID: "4"},
		{ID: "5", Status: models.StatusPending},
	}

	for _, status := range []models.Status{models.StatusPending, models.StatusShipped, "On Hold", models.StatusCancelled} {
		got := Apply(list, Params{Status: status})
		for _, r := range got {
			assert.Equal(t, status, r.Status)
		}
	}

	assert.Len(t, Apply(list, Params{Status: models.StatusPending}), 2)
	assert.Empty(t, Apply(list, Params{Status: models.StatusCancelled}))
	assert.Len(t, Apply(list, Params{Status: models.StatusAll}), 5)
}

func TestApplySearchAndStatusCombine(t *testing.T) {
	list := []models.OrderRecord{
		{ID: "1", Customer: "Ravi", Status: models.StatusPending},
		{ID: "2", Customer: "Ravi", Status: models.StatusDelivered},
		{ID: "3", Customer: "Selvi", Status: models.StatusPending},
	}
	got := Apply(list, Params{Search: "ravi", Status: models.StatusPending})
	assert.Equal(t, []string{"1"}, ids(got))
}

func TestApplyIsPermutationWithoutFilters(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	list := make([]models.OrderRecord, 0, 200)
	for i := 0; i < 200; i++ {
		list = append(list, order(fmt.Sprintf("id-%03d", i), r.Int63n(20), fmt.Sprintf("%d.%02d", r.Intn(500), r.Intn(100)), ""))
	}

	for key := range sortKeys {
		got := Apply(list, Params{Sort: key})
		assert.ElementsMatch(t, ids(list), ids(got), "sort %s", key)
	}
}

func TestApplySortIsStable(t *testing.T) {
	list := []models.OrderRecord{
		order("a", 3, "50", "2024-03-01"),
		order("b", 1, "50", "2024-03-01"),
		order("c", 3, "10", "2024-01-01"),
		order("d", 1, "50", "2024-03-01"),
		order("e", 3, "10", ""),
	}

	assert.Equal(t, []string{"b", "d", "a", "c", "e"}, ids(Apply(list, Params{Sort: SortTokenAsc})))
	assert.Equal(t, []string{"a", "c", "e", "b", "d"}, ids(Apply(list, Params{Sort: SortTokenDesc})))
	assert.Equal(t, []string{"c", "e", "a", "b", "d"}, ids(Apply(list, Params{Sort: SortAmountAsc})))
	assert.Equal(t, []string{"a", "b", "d", "c", "e"}, ids(Apply(list, Params{Sort: SortAmountDesc})))
	assert.Equal(t, []string{"a", "b", "d", "c", "e"}, ids(Apply(list, Params{Sort: SortNewest})))
	assert.Equal(t, []string{"e", "c", "a", "b", "d"}, ids(Apply(list, Params{Sort: SortOldest})))
}

func TestApplyTokenOrdersReverseWithoutTies(t *testing.T) {
	list := []models.OrderRecord{
		order("a", 9, "0", ""),
		order("b", 4, "0", ""),
		order("c", 12, "0", ""),
		order("d", 1, "0", ""),
	}

	asc := ids(Apply(list, Params{Sort: SortTokenAsc}))
	desc := ids(Apply(list, Params{Sort: SortTokenDesc}))

	require.Len(t, desc, len(asc))
	for i := range asc {
		assert.Equal(t, asc[i], desc[len(desc)-1-i])
	}
}

func TestApplyMissingFieldsSortAsZero(t *testing.T) {
	list := []models.OrderRecord{
		order("dated", 2, "5", "2023-12-31T23:00:00Z"),
		{ID: "bare"},
		order("negative", -1, "-2", ""),
	}

	assert.Equal(t, []string{"negative", "bare", "dated"}, ids(Apply(list, Params{Sort: SortTokenAsc})))
	assert.Equal(t, []string{"negative", "bare", "dated"}, ids(Apply(list, Params{Sort: SortAmountAsc})))
	assert.Equal(t, []string{"dated", "bare", "negative"}, ids(Apply(list, Params{Sort: SortNewest})))
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	list := []models.OrderRecord{
		order("a", 1, "1", ""),
		order("b", 2, "2", ""),
	}
	_ = Apply(list, Params{Sort: SortTokenDesc})
	assert.Equal(t, []string{"a", "b"}, ids(list))
}

func TestParseSortKey(t *testing.T) {
	k, err := ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, SortNewest, k)

	k, err = ParseSortKey("amountAsc")
	require.NoError(t, err)
	assert.Equal(t, SortAmountAsc, k)

	_, err = ParseSortKey("priceAsc")
	assert.True(t, errors.Is(err, ErrUnknownSortKey))
}

func TestSummarize(t *testing.T) {
	list := []models.OrderRecord{
		{ID: "1", Status: models.StatusPending, TotalAmount: models.MustAmount("100.10"), PDFDownloaded: true},
		{ID: "2", Status: models.StatusDelivered, TotalAmount: models.MustAmount("200.20")},
		{ID: "3", Status: models.StatusPending},
	}

	s := Summarize(list)
	assert.Equal(t, 3, s.TotalOrders)
	assert.Equal(t, "300.30", s.TotalRevenue.StringFixed(2))
	assert.Equal(t, 2, s.PendingOrders)
	assert.Equal(t, 1, s.PDFsDownloaded)

	empty := Summarize(nil)
	assert.Equal(t, 0, empty.TotalOrders)
	assert.Equal(t, "0.00", empty.TotalRevenue.StringFixed(2))
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, models.StatusAll, p.Status)
	assert.Equal(t, SortNewest, p.Sort)
	assert.Equal(t, p, Params{}.Normalize())
}
