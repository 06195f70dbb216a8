// Package invoice lays out customer order invoices and renders them as PDF.
package invoice

import (
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

// Page geometry in millimetres on A4 portrait.
const (
	PageWidth    = 210.0
	PageHeight   = 297.0
	TopMargin    = 20.0
	SafeBoundary = 250.0

	rowHeight      = 8.0
	maxNameRunes   = 40
	notAvailable   = "N/A"
	emptyCartLabel = "No items in cart"
)

type ElementKind int

const (
	KindText ElementKind = iota
	KindRect
)

type Align int

const (
	AlignLeft Align = iota
	AlignCenter
)

// Element is one positioned primitive on a page. For text, (X, Y) is the
// baseline origin, or the baseline centre when Align is AlignCenter.
type Element struct {
	Kind  ElementKind
	X, Y  float64
	W, H  float64
	Text  string
	Size  float64
	Bold  bool
	Align Align
	Gray  int
}

type Page struct {
	Elements []Element
}

func (p Page) Texts() []string {
	var out []string
	for _, e := range p.Elements {
		if e.Kind == KindText {
			out = append(out, e.Text)
		}
	}
	return out
}

// Document is a laid-out invoice, independent of the output format.
type Document struct {
	FileName string
	Pages    []Page
}

func (d Document) Texts() []string {
	var out []string
	for _, p := range d.Pages {
		out = append(out, p.Texts()...)
	}
	return out
}

// Shop is the seller identity printed in the invoice header.
type Shop struct {
	Name         string
	AddressLines []string
	PhoneLine    string
}

type layout struct {
	doc  Document
	page *Page
	size float64
	bold bool
}

func (l *layout) newPage() {
	l.doc.Pages = append(l.doc.Pages, Page{})
	l.page = &l.doc.Pages[len(l.doc.Pages)-1]
}

func (l *layout) font(size float64, bold bool) {
	l.size = size
	l.bold = bold
}

func (l *layout) text(x, y float64, s string) {
	l.page.Elements = append(l.page.Elements, Element{Kind: KindText, X: x, Y: y, Text: s, Size: l.size, Bold: l.bold})
}

func (l *layout) centered(y float64, s string) {
	l.page.Elements = append(l.page.Elements, Element{Kind: KindText, X: PageWidth / 2, Y: y, Text: s, Size: l.size, Bold: l.bold, Align: AlignCenter})
}

func (l *layout) fill(x, y, w, h float64, gray int) {
	l.page.Elements = append(l.page.Elements, Element{Kind: KindRect, X: x, Y: y, W: w, H: h, Gray: gray})
}

// Layout places an order on as many pages as its cart needs. Missing
// fields print as "N/A"; the footer total is the stored totalAmount and is
// never derived from the cart.
func Layout(o models.OrderRecord, shop Shop, loc *time.Location) Document {
	if loc == nil {
		loc = time.UTC
	}
	l := &layout{doc: Document{FileName: FileName(o)}}
	l.newPage()

	l.font(18, false)
	l.centered(20, shop.Name)
	l.font(10, false)
	y := 30.0
	for _, line := range shop.AddressLines {
		l.centered(y, line)
		y += 5
	}
	if shop.PhoneLine != "" {
		l.centered(y, shop.PhoneLine)
	}

	l.font(14, false)
	l.text(20, 55, "Customer Order Details")

	l.font(10, false)
	l.text(20, 70, "Token No.: "+orNA(o.TokenNumber.String()))
	l.text(20, 75, "Invoice No.: "+orNA(string(o.InvoiceNumber)))
	l.text(20, 80, "Order Date: "+FormatDate(o.OrderDate, loc))
	l.text(20, 85, "Status: "+orNA(string(o.Status)))
	l.text(20, 90, "PDF Downloaded: "+yesNo(bool(o.PDFDownloaded)))

	l.text(20, 105, "Customer Details:")
	l.text(20, 110, "Name: "+orNA(string(o.Customer)))
	l.text(20, 115, "Phone: "+orNA(string(o.Phone)))
	l.text(20, 120, "Address: "+orNA(string(o.Address)))
	l.text(20, 125, "City: "+orNA(string(o.City)))

	y = 140
	l.text(20, y, "Order Items:")
	y += 10

	if len(o.Cart) > 0 {
		l.fill(10, y, 190, 8, 240)
		l.text(12, y+5, "Item")
		l.text(120, y+5, "Qty")
		l.text(140, y+5, "Price")
		l.text(170, y+5, "Total")
		y += 10

		for _, item := range o.Cart {
			if y > SafeBoundary {
				l.newPage()
				y = TopMargin
			}
			qty := item.Quantity.OrZero()
			lineTotal := item.OurPrice.Mul(decimal.NewFromInt(qty))

			l.text(12, y+5, productName(string(item.ProductName)))
			l.text(122, y+5, strconv.FormatInt(qty, 10))
			l.text(142, y+5, FormatMoney(item.OurPrice.Decimal))
			l.text(172, y+5, FormatMoney(lineTotal))
			y += rowHeight
		}
	} else {
		l.text(20, y+5, emptyCartLabel)
		y += 10
	}

	y += 10
	l.font(10, true)
	l.text(20, y, "Total Amount: "+FormatMoney(o.TotalAmount.Decimal))

	return l.doc
}

func productName(name string) string {
	if name == "" {
		return notAvailable
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return string([]rune(name)[:maxNameRunes]) + "..."
	}
	return name
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
