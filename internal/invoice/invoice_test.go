package invoice

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

var testShop = Shop{
	Name:         "MAHITHRAA SRI CRACKERS",
	AddressLines: []string{"Vanamoorthilingapuram,", "Madathupatti, Sivakasi - 626123"},
	PhoneLine:    "Phone no.: +919080533427 & +918110087349",
}

func cartOf(n int) models.Cart {
	c := make(models.Cart, 0, n)
	for i := 0; i < n; i++ {
		c = append(c, models.LineItem{
			ProductName: models.Text(fmt.Sprintf("Item %03d", i)),
			Quantity:    models.NewInteger(1),
			OurPrice:    models.MustAmount("10"),
		})
	}
	return c
}

func itemRows(doc Document) []string {
	var rows []string
	for _, t := range doc.Texts() {
		if strings.HasPrefix(t, "Item ") {
			rows = append(rows, t)
		}
	}
	return rows
}

func TestLayoutEmptyCart(t *testing.T) {
	o := models.OrderRecord{TotalAmount: models.MustAmount("250")}

	doc := Layout(o, testShop, time.UTC)
	texts := doc.Texts()

	require.Len(t, doc.Pages, 1)
	assert.Contains(t, texts, "No items in cart")
	assert.Contains(t, texts, "Total Amount: ₹250.00")
	assert.NotContains(t, texts, "Qty")
	assert.NotContains(t, texts, "Price")
	for _, el := range doc.Pages[0].Elements {
		assert.NotEqual(t, KindRect, el.Kind, "no table header band expected")
	}
}

func TestLayoutAllFieldsMissing(t *testing.T) {
	doc := Layout(models.OrderRecord{}, testShop, nil)
	texts := doc.Texts()

	for _, want := range []string{
		"Token No.: N/A",
		"Invoice No.: N/A",
		"Order Date: N/A",
		"Status: N/A",
		"PDF Downloaded: No",
		"Name: N/A",
		"Phone: N/A",
		"Address: N/A",
		"City: N/A",
		"No items in cart",
		"Total Amount: ₹0.00",
	} {
		assert.Contains(t, texts, want)
	}
	assert.Equal(t, "customer_order_token_unknown_unknown.pdf", doc.FileName)
}

func TestLayoutMetadataAndLineItems(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	o := models.OrderRecord{
		TokenNumber:   models.NewInteger(17),
		InvoiceNumber: "INV-17",
		Customer:      "Saravanan",
		Phone:         "9876543210",
		Address:       "3 Temple Road",
		City:          "Virudhunagar",
		OrderDate:     models.ParseTimestamp("2024-10-31T20:00:00Z"),
		Status:        models.StatusProcessing,
		PDFDownloaded: true,
		TotalAmount:   models.MustAmount("999"),
		Cart: models.Cart{
			{ProductName: "Chakkar Big (25 pcs) Deluxe Gold Edition Super Value Pack", Quantity: models.NewInteger(3), OurPrice: models.MustAmount("120.5")},
			{ProductName: "Atom Bomb", OurPrice: models.MustAmount("40")},
			{Quantity: models.NewInteger(2)},
		},
	}

	doc := Layout(o, testShop, ist)
	texts := doc.Texts()

	assert.Equal(t, "MAHITHRAA SRI CRACKERS", texts[0])
	assert.Contains(t, texts, "Token No.: 17")
	assert.Contains(t, texts, "Invoice No.: INV-17")
	assert.Contains(t, texts, "Order Date: 01/11/2024")
	assert.Contains(t, texts, "Status: Processing")
	assert.Contains(t, texts, "PDF Downloaded: Yes")
	assert.Contains(t, texts, "City: Virudhunagar")

	assert.Contains(t, texts, "Chakkar Big (25 pcs) Deluxe Gold Edition...")
	assert.Contains(t, texts, "₹120.50")
	assert.Contains(t, texts, "₹361.50")

	assert.Contains(t, texts, "Atom Bomb")
	assert.Contains(t, texts, "₹40.00")
	assert.Contains(t, texts, "N/A")
	assert.Contains(t, texts, "₹0.00")

	// Footer is the stored total, not the sum of line totals.
	assert.Contains(t, texts, "Total Amount: ₹999.00")

	last := doc.Pages[len(doc.Pages)-1].Elements
	footer := last[len(last)-1]
	assert.True(t, footer.Bold)
	assert.Equal(t, "customer_order_token_17_Saravanan.pdf", doc.FileName)
}

func TestLayoutPaginatesPerRow(t *testing.T) {
	// Rows start at y=160 and advance by 8: twelve fit on the first page and
	// twenty-nine on each continuation page.
	tests := []struct {
		items int
		pages int
	}{
		{1, 1},
		{12, 1},
		{13, 2},
		{41, 2},
		{42, 3},
		{100, 5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d items", tt.items), func(t *testing.T) {
			o := models.OrderRecord{Cart: cartOf(tt.items)}
			doc := Layout(o, testShop, time.UTC)

			assert.Len(t, doc.Pages, tt.pages)

			rows := itemRows(doc)
			require.Len(t, rows, tt.items)
			for i, r := range rows {
				assert.Equal(t, fmt.Sprintf("Item %03d", i), r)
			}

			for _, p := range doc.Pages {
				for _, el := range p.Elements {
					assert.LessOrEqual(t, el.Y, SafeBoundary+rowHeight+10+5)
				}
			}
		})
	}
}

func TestLayoutContinuationPageStartsAtTopMargin(t *testing.T) {
	doc := Layout(models.OrderRecord{Cart: cartOf(13)}, testShop, time.UTC)
	require.Len(t, doc.Pages, 2)

	first := doc.Pages[1].Elements[0]
	assert.Equal(t, "Item 012", first.Text)
	assert.Equal(t, TopMargin+5, first.Y)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name string
		o    models.OrderRecord
		want string
	}{
		{"complete", models.OrderRecord{TokenNumber: models.NewInteger(5), Customer: "Anbu"}, "customer_order_token_5_Anbu.pdf"},
		{"no customer", models.OrderRecord{TokenNumber: models.NewInteger(5)}, "customer_order_token_5_unknown.pdf"},
		{"no token", models.OrderRecord{Customer: "Anbu"}, "customer_order_token_unknown_Anbu.pdf"},
		{"path characters", models.OrderRecord{TokenNumber: models.NewInteger(1), Customer: "A/B"}, "customer_order_token_1_A_B.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.o))
		})
	}
}

func TestRendererProducesPDF(t *testing.T) {
	r, err := NewRenderer(testShop, time.UTC, Options{}, quietLogger())
	require.NoError(t, err)

	out, err := r.Render(models.OrderRecord{
		TokenNumber: models.NewInteger(3),
		Customer:    "Devi",
		TotalAmount: models.MustAmount("75.5"),
		Cart:        cartOf(30),
	})
	require.NoError(t, err)

	assert.Equal(t, "customer_order_token_3_Devi.pdf", out.FileName)
	assert.Equal(t, 2, out.Pages)
	assert.True(t, bytes.HasPrefix(out.Data, []byte("%PDF-")))
}

func TestRendererEmptyOrderDoesNotFail(t *testing.T) {
	r, err := NewRenderer(testShop, nil, Options{}, quietLogger())
	require.NoError(t, err)

	out, err := r.Render(models.OrderRecord{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Pages)
	assert.NotEmpty(t, out.Data)
}

func TestNewRendererMissingFont(t *testing.T) {
	_, err := NewRenderer(testShop, time.UTC, Options{FontPath: "/nonexistent/font.ttf"}, quietLogger())
	assert.Error(t, err)
}

func TestNewRendererWarnsWithoutUnicodeFont(t *testing.T) {
	logger, hook := test.NewNullLogger()

	_, err := NewRenderer(testShop, time.UTC, Options{}, logger)
	require.NoError(t, err)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "UTF-8")
}
