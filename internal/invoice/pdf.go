package invoice

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

const (
	coreFamily    = "Helvetica"
	unicodeFamily = "InvoiceSans"
)

// Options control PDF emission. Without FontPath the core Helvetica font is
// used with cp1252 encoding: "Rs." is printed for the rupee glyph, and text
// outside Latin-1 (Tamil names and addresses, for example) does not render.
type Options struct {
	FontPath     string
	BoldFontPath string
}

// WritePDF draws a laid-out document with fpdf.
func WritePDF(w io.Writer, doc Document, opts Options) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(strings.TrimSuffix(doc.FileName, fileNameSuffix), true)

	family := coreFamily
	translate := pdf.UnicodeTranslatorFromDescriptor("")
	encode := func(s string) string {
		return translate(strings.ReplaceAll(s, CurrencySymbol, "Rs."))
	}
	if opts.FontPath != "" {
		bold := opts.BoldFontPath
		if bold == "" {
			bold = opts.FontPath
		}
		pdf.AddUTF8Font(unicodeFamily, "", opts.FontPath)
		pdf.AddUTF8Font(unicodeFamily, "B", bold)
		family = unicodeFamily
		encode = func(s string) string { return s }
	}

	for _, page := range doc.Pages {
		pdf.AddPage()
		for _, el := range page.Elements {
			switch el.Kind {
			case KindRect:
				pdf.SetFillColor(el.Gray, el.Gray, el.Gray)
				pdf.Rect(el.X, el.Y, el.W, el.H, "F")
			case KindText:
				style := ""
				if el.Bold {
					style = "B"
				}
				pdf.SetFont(family, style, el.Size)
				txt := encode(el.Text)
				x := el.X
				if el.Align == AlignCenter {
					x -= pdf.GetStringWidth(txt) / 2
				}
				pdf.Text(x, el.Y, txt)
			}
		}
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// Rendered is a finished invoice ready to hand to the user.
type Rendered struct {
	FileName string
	Pages    int
	Data     []byte
}

type Renderer struct {
	shop Shop
	loc  *time.Location
	opts Options
}

// NewRenderer checks that configured font files exist so a bad path fails
// at startup rather than on the first download.
func NewRenderer(shop Shop, loc *time.Location, opts Options, logger *logrus.Logger) (*Renderer, error) {
	for _, p := range []string{opts.FontPath, opts.BoldFontPath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("invoice font: %w", err)
		}
	}
	if opts.FontPath == "" {
		logger.WithField("font", coreFamily).Warn("No UTF-8 invoice font configured, non-Latin text will not render in invoices")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{shop: shop, loc: loc, opts: opts}, nil
}

func (r *Renderer) Layout(o models.OrderRecord) Document {
	return Layout(o, r.shop, r.loc)
}

func (r *Renderer) Render(o models.OrderRecord) (*Rendered, error) {
	doc := r.Layout(o)
	var buf bytes.Buffer
	if err := WritePDF(&buf, doc, r.opts); err != nil {
		return nil, err
	}
	return &Rendered{
		FileName: doc.FileName,
		Pages:    len(doc.Pages),
		Data:     buf.Bytes(),
	}, nil
}
