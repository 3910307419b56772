package proposal

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"winetours/internal/apperr"
	"winetours/internal/domain/booking"
	"winetours/internal/domain/invoice"
	"winetours/internal/domain/rates"
	"winetours/internal/domain/sequence"
	"winetours/internal/logging"
	"winetours/internal/notification"
)

const (
	defaultValidity = 14 * 24 * time.Hour
	systemActor     = "system"
)

// RateSource resolves rate table versions.
type RateSource interface {
	Active(ctx context.Context) (*rates.Table, error)
	Version(ctx context.Context, id int64) (*rates.Table, error)
}

type BookingCreator interface {
	CreateInTx(tx *gorm.DB, in booking.NewBooking) (*booking.Booking, error)
}

type DepositIssuer interface {
	IssueDepositInTx(tx *gorm.DB, b *booking.Booking) (*invoice.Invoice, error)
}

type Service struct {
	db       *gorm.DB
	repo     *Repository
	rates    RateSource
	numbers  *sequence.Allocator
	bookings BookingCreator
	deposits DepositIssuer
	notifier notification.Dispatcher
	log      logrus.FieldLogger
	validity time.Duration
	now      func() time.Time
}

type Deps struct {
	DB       *gorm.DB
	Rates    RateSource
	Numbers  *sequence.Allocator
	Bookings BookingCreator
	Deposits DepositIssuer
	Notifier notification.Dispatcher
	Log      logrus.FieldLogger
	Validity time.Duration
}

func NewService(d Deps) *Service {
	if d.Validity <= 0 {
		d.Validity = defaultValidity
	}
	return &Service{
		db:       d.DB,
		repo:     NewRepository(d.DB),
		rates:    d.Rates,
		numbers:  d.Numbers,
		bookings: d.Bookings,
		deposits: d.Deposits,
		notifier: d.Notifier,
		log:      d.Log,
		validity: d.Validity,
		now:      time.Now,
	}
}

func (s *Service) Repository() *Repository { return s.repo }

type ItemInput struct {
	Description    string
	Request        rates.QuoteRequest
	PriceOverride  *decimal.Decimal
	OverrideReason string
}

type CreateCommand struct {
	ClientName      string
	ClientEmail     string
	ClientPhone     string
	Items           []ItemInput
	ValidUntil      *time.Time
	DepositOverride *decimal.Decimal
	GratuityEnabled bool
	Actor           string
}

// Create quotes every item against the active rate table and stores a DRAFT
// proposal.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Proposal, error) {
	if err := cmd.validate(s.now()); err != nil {
		return nil, err
	}
	table, err := s.rates.Active(ctx)
	if err != nil {
		return nil, err
	}

	p := &Proposal{
		ClientName:      strings.TrimSpace(cmd.ClientName),
		ClientEmail:     strings.TrimSpace(cmd.ClientEmail),
		ClientPhone:     strings.TrimSpace(cmd.ClientPhone),
		GratuityEnabled: cmd.GratuityEnabled,
		RateVersion:     table.Version,
		Status:          StatusDraft,
		ValidUntil:      s.now().Add(s.validity),
		Version:         1,
		CreatedBy:       strings.TrimSpace(cmd.Actor),
	}
	if cmd.ValidUntil != nil {
		p.ValidUntil = *cmd.ValidUntil
	}
	for i, in := range cmd.Items {
		item, err := priceItem(table, i, in)
		if err != nil {
			return nil, err
		}
		p.Items = append(p.Items, item)
		p.Subtotal = p.Subtotal.Add(item.Subtotal)
		p.Tax = p.Tax.Add(item.Tax)
		p.Total = p.Total.Add(item.Total)
	}
	if cmd.DepositOverride != nil {
		p.DepositOverride = decimal.NewNullDecimal(rates.RoundMoney(*cmd.DepositOverride))
		p.DepositAmount = p.DepositOverride.Decimal
	} else {
		p.DepositAmount = rates.RoundMoney(p.Total.Mul(table.DefaultDepositPct))
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		num, err := s.numbers.Issue(tx, s.now())
		if err != nil {
			return err
		}
		p.ProposalNumber = num.Text
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		return appendEvent(tx, p.ID, "", StatusDraft, p.CreatedBy)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (cmd CreateCommand) validate(now time.Time) error {
	if strings.TrimSpace(cmd.ClientName) == "" {
		return apperr.Validation("client_name", ErrClientNameRequired)
	}
	if strings.TrimSpace(cmd.ClientEmail) == "" {
		return apperr.Validation("client_email", ErrClientEmailRequired)
	}
	if len(cmd.Items) == 0 {
		return apperr.Validation("items", ErrNoItems)
	}
	if cmd.ValidUntil != nil && !cmd.ValidUntil.After(now) {
		return apperr.Validation("valid_until", ErrValidUntilInPast)
	}
	if cmd.DepositOverride != nil && cmd.DepositOverride.IsNegative() {
		return apperr.Validation("deposit_override", ErrNegativeAmount)
	}
	return nil
}

func priceItem(table *rates.Table, pos int, in ItemInput) (ServiceItem, error) {
	q, err := table.Quote(in.Request)
	if err != nil {
		return ServiceItem{}, err
	}
	item := ServiceItem{
		Position:       pos,
		Description:    strings.TrimSpace(in.Description),
		PartySize:      q.PartySize,
		RequestedHours: q.Hours,
		BilledHours:    q.BilledHours,
		TourDate:       q.TourDate,
		TourType:       q.TourType,
		LunchIncluded:  q.LunchIncluded,
		WeekdayGroup:   q.WeekdayGroup,
		HourlyRate:     q.HourlyRate,
		PerPersonRate:  q.PerPersonRate,
		TaxRate:        q.TaxRate,
		Subtotal:       q.Subtotal,
		Tax:            q.Tax,
		Total:          q.Total,
	}
	if in.PriceOverride != nil {
		if in.PriceOverride.IsNegative() {
			return ServiceItem{}, apperr.Validation("items.price_override", ErrNegativeAmount)
		}
		reason := strings.TrimSpace(in.OverrideReason)
		if reason == "" {
			return ServiceItem{}, apperr.Validation("items.override_reason", ErrOverrideReasonRequired)
		}
		item.PriceOverride = decimal.NewNullDecimal(rates.RoundMoney(*in.PriceOverride))
		item.OverrideReason = reason
		item.Subtotal = item.PriceOverride.Decimal
		item.Tax, item.Total = rates.Taxed(item.Subtotal, item.TaxRate)
	}
	return item, nil
}

type TransitionCommand struct {
	ProposalID int64
	// ExpectedVersion, when set, must match the stored version.
	ExpectedVersion *int64
	Actor           string
}

// Send offers a DRAFT proposal to the client.
func (s *Service) Send(ctx context.Context, cmd TransitionCommand) (*Proposal, error) {
	return s.transition(ctx, cmd, StatusSent, func(p *Proposal) error {
		if !s.now().Before(p.ValidUntil) {
			return apperr.Conflict("proposal", p.ID, ErrProposalExpired)
		}
		return nil
	})
}

func (s *Service) Withdraw(ctx context.Context, cmd TransitionCommand) (*Proposal, error) {
	return s.transition(ctx, cmd, StatusWithdrawn, nil)
}

func (s *Service) transition(ctx context.Context, cmd TransitionCommand, to Status, check func(*Proposal) error) (*Proposal, error) {
	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		return nil, apperr.Validation("actor", ErrActorRequired)
	}
	var p *Proposal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if p, err = lockForUpdate(tx, cmd.ProposalID); err != nil {
			return err
		}
		if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != p.Version {
			return apperr.Conflict("proposal", p.ID, ErrStaleProposal)
		}
		if !CanTransition(p.Status, to) {
			return apperr.Conflict("proposal", p.ID, ErrInvalidProposalState)
		}
		if check != nil {
			if err := check(p); err != nil {
				return err
			}
		}
		from := p.Status
		if err := compareAndSwap(tx, p, map[string]any{"status": to}); err != nil {
			return err
		}
		p.Status = to
		return appendEvent(tx, p.ID, from, to, actor)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

type AcceptCommand struct {
	ProposalID      int64
	ExpectedVersion *int64
	AcceptedBy      string

	// Contact details the client reconfirmed while accepting.
	ContactName  string
	ContactEmail string
	ContactPhone string

	Gratuity                   GratuityChoice
	TermsAccepted              bool
	CancellationPolicyAccepted bool
	Signature                  string
}

type AcceptResult struct {
	Proposal       *Proposal        `json:"proposal"`
	Booking        *booking.Booking `json:"booking"`
	DepositInvoice *invoice.Invoice `json:"deposit_invoice"`
}

func (cmd AcceptCommand) validate() error {
	switch {
	case strings.TrimSpace(cmd.AcceptedBy) == "":
		return apperr.Validation("accepted_by", ErrActorRequired)
	case strings.TrimSpace(cmd.ContactName) == "":
		return apperr.Validation("contact_name", ErrClientNameRequired)
	case strings.TrimSpace(cmd.ContactEmail) == "":
		return apperr.Validation("contact_email", ErrClientEmailRequired)
	case !cmd.TermsAccepted:
		return apperr.Validation("terms_accepted", ErrTermsNotAccepted)
	case !cmd.CancellationPolicyAccepted:
		return apperr.Validation("cancellation_policy_accepted", ErrPolicyNotAccepted)
	case strings.TrimSpace(cmd.Signature) == "":
		return apperr.Validation("signature", ErrSignatureRequired)
	}
	return nil
}

// Accept turns a SENT proposal into a booking with its deposit invoice in a
// single transaction. A second acceptance fails; it is never a silent no-op.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*AcceptResult, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	current, err := s.repo.GetByID(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}
	if !cmd.Gratuity.IsZero() && !current.GratuityEnabled {
		return nil, apperr.Validation("gratuity", ErrGratuityDisabled)
	}
	if _, err := cmd.Gratuity.Amount(current.Subtotal); err != nil {
		return nil, err
	}
	table, err := s.rates.Version(ctx, current.RateVersion)
	if err != nil {
		return nil, err
	}

	res := &AcceptResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockForUpdate(tx, cmd.ProposalID)
		if err != nil {
			return err
		}
		if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != p.Version {
			return apperr.Conflict("proposal", p.ID, ErrStaleProposal)
		}
		now := s.now()
		switch {
		case p.Status == StatusExpired:
			return apperr.Conflict("proposal", p.ID, ErrProposalExpired)
		case !CanTransition(p.Status, StatusAccepted):
			return apperr.Conflict("proposal", p.ID, ErrInvalidProposalState)
		case now.After(p.ValidUntil):
			return apperr.Conflict("proposal", p.ID, ErrProposalExpired)
		}
		if len(p.Items) == 0 {
			return apperr.Integrity("proposal", p.ID, ErrNoItems)
		}

		gratuity, err := cmd.Gratuity.Amount(p.Subtotal)
		if err != nil {
			return err
		}
		finalTotal := p.Total.Add(gratuity)
		deposit := rates.RoundMoney(finalTotal.Mul(table.DefaultDepositPct))
		if p.DepositOverride.Valid {
			deposit = p.DepositOverride.Decimal
		}

		by := strings.TrimSpace(cmd.AcceptedBy)
		if err := compareAndSwap(tx, p, map[string]any{
			"status":                       StatusAccepted,
			"accepted_by":                  by,
			"accepted_at":                  now,
			"gratuity_amount":              gratuity,
			"final_total":                  decimal.NewNullDecimal(finalTotal),
			"deposit_amount":               deposit,
			"signature":                    strings.TrimSpace(cmd.Signature),
			"signature_at":                 now,
			"terms_accepted":               true,
			"cancellation_policy_accepted": true,
			"client_name":                  strings.TrimSpace(cmd.ContactName),
			"client_email":                 strings.TrimSpace(cmd.ContactEmail),
			"client_phone":                 strings.TrimSpace(cmd.ContactPhone),
		}); err != nil {
			return err
		}

		primary := p.Items[0]
		extras := decimal.Zero
		for _, item := range p.Items[1:] {
			extras = extras.Add(item.Total)
		}
		b, err := s.bookings.CreateInTx(tx, booking.NewBooking{
			ProposalID:     &p.ID,
			ClientName:     cmd.ContactName,
			ClientEmail:    cmd.ContactEmail,
			ClientPhone:    cmd.ContactPhone,
			Quote:          primary.Quote(p.RateVersion),
			ExtrasTotal:    extras,
			GratuityAmount: gratuity,
			DepositAmount:  deposit,
		})
		if err != nil {
			return err
		}
		inv, err := s.deposits.IssueDepositInTx(tx, b)
		if err != nil {
			return err
		}
		if err := tx.Model(&Proposal{}).Where("id = ?", p.ID).Update("booking_id", b.ID).Error; err != nil {
			return err
		}
		if err := appendEvent(tx, p.ID, StatusSent, StatusAccepted, by); err != nil {
			return err
		}

		if res.Proposal, err = getByID(tx, p.ID); err != nil {
			return err
		}
		res.Booking, res.DepositInvoice = b, inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := res.Proposal
	s.log.WithFields(logrus.Fields{
		"proposal_number": p.ProposalNumber,
		"booking_number":  res.Booking.BookingNumber,
		"accepted_by":     cmd.AcceptedBy,
		"final_total":     p.FinalTotal.Decimal.StringFixed(2),
	}).Info("proposal accepted")
	notification.Fire(ctx, s.notifier, s.log, notification.Message{
		To:         p.ClientEmail,
		TemplateID: notification.TemplateProposalAccepted,
		Payload: map[string]any{
			"proposal_number": p.ProposalNumber,
			"booking_number":  res.Booking.BookingNumber,
			"final_total":     p.FinalTotal.Decimal.StringFixed(2),
			"deposit_invoice": res.DepositInvoice.InvoiceNumber,
			"deposit_amount":  res.DepositInvoice.Amount.StringFixed(2),
		},
	})
	return res, nil
}

// ExpireStale moves every SENT proposal past its validity to EXPIRED and
// reports how many it moved.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.repo.staleSent(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		moved := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			p, err := lockForUpdate(tx, id)
			if err != nil {
				return err
			}
			if p.Status != StatusSent || !now.After(p.ValidUntil) {
				return nil
			}
			if err := compareAndSwap(tx, p, map[string]any{"status": StatusExpired}); err != nil {
				return err
			}
			moved = true
			return appendEvent(tx, p.ID, StatusSent, StatusExpired, systemActor)
		})
		switch {
		case err == nil && moved:
			expired++
		case err != nil && !apperr.IsStateConflict(err):
			return expired, err
		}
	}
	return expired, nil
}

// RunExpirySweeper runs ExpireStale every interval until ctx is done.
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpireStale(ctx)
			if err != nil {
				logging.LogError(s.log, "proposal", "RunExpirySweeper", "expiry sweep failed", nil, err)
				continue
			}
			if n > 0 {
				s.log.WithField("expired", n).Info("proposals expired")
			}
		}
	}
}
