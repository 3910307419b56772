// Package report exports a year of invoicing and cancellations as an XLSX
// workbook for the bookkeeper.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"winetours/internal/domain/booking"
	"winetours/internal/domain/invoice"
	"winetours/internal/domain/refund"
)

const (
	SheetSummary       = "Summary"
	SheetInvoices      = "Invoices"
	SheetCancellations = "Cancellations"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	timeLayout  = "2006-01-02 15:04"
	dateLayout  = "2006-01-02"
)

var (
	invoiceHeader = []any{
		"Invoice", "Kind", "Booking", "Client", "Status",
		"Amount", "Tip", "Amount Due", "Sent", "Paid", "Voided",
	}
	cancellationHeader = []any{
		"Booking", "Client", "Tour Date", "Cancelled", "Notice Days",
		"Standard Refund %", "Applied Refund %", "Refund Amount", "Reason",
	}
)

type Builder struct {
	db      *gorm.DB
	refunds *refund.Registry
	loc     *time.Location
	log     logrus.FieldLogger
}

func NewBuilder(db *gorm.DB, refunds *refund.Registry, loc *time.Location, log logrus.FieldLogger) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{db: db, refunds: refunds, loc: loc, log: log}
}

// Summary holds the totals written to the first sheet.
type Summary struct {
	Year          int             `json:"year"`
	Invoices      int             `json:"invoices"`
	Invoiced      decimal.Decimal `json:"invoiced"`
	Collected     decimal.Decimal `json:"collected"`
	Cancellations int             `json:"cancellations"`
	RefundsOwed   decimal.Decimal `json:"refunds_owed"`
}

// BuildWorkbook lists the invoices created and the bookings cancelled during
// year, in business time. Void invoices are listed but not totalled. The
// caller closes the returned file.
func (b *Builder) BuildWorkbook(ctx context.Context, year int) (*excelize.File, *Summary, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, b.loc)
	to := from.AddDate(1, 0, 0)
	db := b.db.WithContext(ctx)

	var invoices []invoice.Invoice
	if err := db.Where("created_at >= ? AND created_at < ?", from, to).
		Order("invoice_number asc").Find(&invoices).Error; err != nil {
		return nil, nil, err
	}
	var cancelled []booking.Booking
	if err := db.Where("status = ? AND cancelled_at >= ? AND cancelled_at < ?", booking.StatusCancelled, from, to).
		Order("cancelled_at asc, id asc").Find(&cancelled).Error; err != nil {
		return nil, nil, err
	}
	bookings, err := b.bookingsFor(db, invoices)
	if err != nil {
		return nil, nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, nil, err
	}
	for _, name := range []string{SheetInvoices, SheetCancellations} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, nil, err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, nil, err
	}

	sum := &Summary{Year: year, Invoiced: decimal.Zero, Collected: decimal.Zero, RefundsOwed: decimal.Zero}

	rows := [][]any{invoiceHeader}
	for _, inv := range invoices {
		bk := bookings[inv.BookingID]
		rows = append(rows, []any{
			inv.InvoiceNumber, string(inv.Kind), bk.BookingNumber, bk.ClientName, string(inv.Status),
			money(inv.Amount), money(inv.TipAmount), money(inv.AmountDue()),
			b.stamp(inv.SentAt), b.stamp(inv.PaidAt), b.stamp(inv.VoidedAt),
		})
		sum.Invoices++
		if inv.Status == invoice.StatusVoid {
			continue
		}
		sum.Invoiced = sum.Invoiced.Add(inv.AmountDue())
		if inv.Status == invoice.StatusPaid {
			sum.Collected = sum.Collected.Add(inv.AmountDue())
		}
	}
	if err := writeRows(f, SheetInvoices, rows, bold); err != nil {
		return nil, nil, err
	}

	rows = [][]any{cancellationHeader}
	for _, bk := range cancelled {
		tourDay := time.Date(bk.TourDate.Year(), bk.TourDate.Month(), bk.TourDate.Day(), 0, 0, 0, 0, b.loc)
		standard := b.refunds.For("").Compute(tourDay, *bk.CancelledAt)
		applied := ""
		if bk.RefundPct != nil {
			applied = fmt.Sprint(*bk.RefundPct)
		}
		owed := bk.RefundAmount.Decimal
		rows = append(rows, []any{
			bk.BookingNumber, bk.ClientName, bk.TourDate.Format(dateLayout), b.stamp(bk.CancelledAt),
			standard.NoticeDays, standard.Pct, applied, money(owed), bk.CancelReason,
		})
		sum.Cancellations++
		sum.RefundsOwed = sum.RefundsOwed.Add(owed)
	}
	if err := writeRows(f, SheetCancellations, rows, bold); err != nil {
		return nil, nil, err
	}

	if err := writeRows(f, SheetSummary, [][]any{
		{"Year", year},
		{"Invoices", sum.Invoices},
		{"Invoiced", money(sum.Invoiced)},
		{"Collected", money(sum.Collected)},
		{"Cancellations", sum.Cancellations},
		{"Refunds Owed", money(sum.RefundsOwed)},
	}, 0); err != nil {
		return nil, nil, err
	}

	if b.log != nil {
		b.log.WithFields(logrus.Fields{
			"year":          year,
			"invoices":      sum.Invoices,
			"cancellations": sum.Cancellations,
		}).Info("report workbook built")
	}
	return f, sum, nil
}

func (b *Builder) bookingsFor(db *gorm.DB, invoices []invoice.Invoice) (map[int64]booking.Booking, error) {
	ids := make([]int64, 0, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.BookingID)
	}
	out := make(map[int64]booking.Booking, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []booking.Booking
	if err := db.Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, bk := range list {
		out[bk.ID] = bk
	}
	return out, nil
}

func (b *Builder) stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(b.loc).Format(timeLayout)
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// writeRows fills sheet from A1. A non-zero headerStyle is applied to the
// first row.
func writeRows(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	if headerStyle != 0 && len(rows) > 0 {
		return f.SetRowStyle(sheet, 1, 1, headerStyle)
	}
	return nil
}
