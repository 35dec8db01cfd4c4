// Package pdf renders invoices into printable documents.
package pdf

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"

	directorydomain "github.com/hourbill/hourbill/internal/directory/domain"
	invoicedomain "github.com/hourbill/hourbill/internal/invoice/domain"
)

// Renderer turns an invoice into a document the client can be sent.
type Renderer interface {
	RenderInvoice(invoice invoicedomain.Invoice, client directorydomain.Client) ([]byte, error)
}

type marotoRenderer struct{}

func New() Renderer {
	return &marotoRenderer{}
}

func (r *marotoRenderer) RenderInvoice(invoice invoicedomain.Invoice, client directorydomain.Client) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Invoice "+invoice.Number, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Date of issue: "+invoice.IssueDate.Format("2006-01-02"), props.Text{Top: 0}),
			text.New("Date due: "+invoice.DueDate.Format("2006-01-02"), props.Text{Top: 4}),
			text.New("Status: "+string(invoice.Status), props.Text{Top: 8}),
		),
		col.New(2),
		col.New(4).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(client.Name, props.Text{Top: 5}),
			text.New(client.Email, props.Text{Top: 9}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Hours", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Rate", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range invoice.LineItems {
		m.AddRow(12,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%.1f", item.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(item.UnitPrice, invoice.Currency), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(item.Amount, invoice.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, money(invoice.Subtotal, invoice.Currency), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, fmt.Sprintf("Tax (%.1f%%)", invoice.TaxRate), props.Text{Size: 9}),
		text.NewCol(2, money(invoice.TaxAmount, invoice.Currency), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, money(invoice.Total, invoice.Currency), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	if invoice.Notes != "" {
		m.AddRow(20,
			text.NewCol(12, invoice.Notes, props.Text{Size: 9, Top: 5}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func money(v float64, currency string) string {
	return fmt.Sprintf("%.2f %s", v, currency)
}
