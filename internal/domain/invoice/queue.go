package invoice

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// QueueEntry is a booking waiting for final invoice approval.
type QueueEntry struct {
	BookingID            int64           `json:"booking_id"`
	BookingNumber        string          `json:"booking_number"`
	ClientName           string          `json:"client_name"`
	TourDate             time.Time       `json:"tour_date"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	HoursSinceCompletion decimal.Decimal `json:"hours_since_completion"`
	DueAt                time.Time       `json:"due_at"`
	Overdue              bool            `json:"overdue"`
	ActualHours          decimal.Decimal `json:"actual_hours"`
	DepositCredit        decimal.Decimal `json:"deposit_credit"`
	ProposedAmount       decimal.Decimal `json:"proposed_amount"`
	TipAmount            decimal.Decimal `json:"tip_amount"`
}

// Queue lists bookings eligible for a final invoice, longest-completed
// first.
func (s *Service) Queue(ctx context.Context) ([]QueueEntry, error) {
	pending, err := s.bookings.AwaitingFinalInvoice(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	db := s.db.WithContext(ctx)
	out := make([]QueueEntry, 0, len(pending))
	for i := range pending {
		b := &pending[i]
		if !b.ActualHours.Valid {
			continue
		}
		amount, credit, err := s.finalAmount(db, b)
		if err != nil {
			return nil, err
		}
		e := QueueEntry{
			BookingID:      b.ID,
			BookingNumber:  b.BookingNumber,
			ClientName:     b.ClientName,
			TourDate:       b.TourDate,
			CompletedAt:    b.CompletedAt,
			DueAt:          s.dueAt(b, now),
			ActualHours:    b.ActualHours.Decimal,
			DepositCredit:  credit,
			ProposedAmount: amount,
			TipAmount:      b.GratuityAmount,
		}
		if b.CompletedAt != nil {
			e.HoursSinceCompletion = decimal.NewFromFloat(now.Sub(*b.CompletedAt).Hours()).Round(1)
		}
		e.Overdue = !now.Before(e.DueAt)
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].HoursSinceCompletion.GreaterThan(out[j].HoursSinceCompletion)
	})
	return out, nil
}
