package pdf

import (
	"bytes"
	"context"
	"io"
	"strconv"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, receipt.StoreName, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Order receipt", props.Text{
			Size:  12,
			Align: align.Right,
			Top:   3,
		}),
	)

	meta := col.New(6).Add(
		text.New("Order: "+receipt.Reference, props.Text{Top: 0}),
		text.New("Ordered: "+receipt.OrderedAt, props.Text{Top: 4}),
		text.New("Status: "+receipt.Status, props.Text{Top: 8}),
		text.New("Payment: "+receipt.PaymentMethod, props.Text{Top: 12}),
	)
	paid := col.New(6)
	if receipt.PaidAt != "" {
		paid.Add(
			text.New("Paid: "+receipt.PaidAt, props.Text{Top: 0, Align: align.Right}),
			text.New("Amount received: "+receipt.PaidAmount, props.Text{Top: 4, Align: align.Right}),
		)
	}
	m.AddRow(20, meta, paid)

	m.AddRow(10,
		text.NewCol(12, "Customer: "+receipt.CustomerID, props.Text{Size: 9}),
	)

	m.AddRow(10,
		text.NewCol(6, "Item", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range receipt.Items {
		m.AddRow(8,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, strconv.FormatInt(item.Qty, 10), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(2, line.NewCol(12))

	totals := [][2]string{{"Subtotal", receipt.Subtotal}}
	if receipt.PromotionCode != "" {
		totals = append(totals, [2]string{"Discount (" + receipt.PromotionCode + ")", "-" + receipt.Discount})
	}
	totals = append(totals, [2]string{"Shipping", receipt.ShippingFee})
	for _, row := range totals {
		m.AddRow(8,
			col.New(7),
			text.NewCol(3, row[0], props.Text{Size: 9}),
			text.NewCol(2, row[1], props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(10,
		col.New(7),
		text.NewCol(3, "Total", props.Text{Style: fontstyle.Bold, Size: 10}),
		text.NewCol(2, receipt.Total, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
