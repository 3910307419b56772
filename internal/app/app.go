// Package app wires configuration, storage and collaborators into the
// services and the HTTP router.
package app

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"winetours/internal/config"
	"winetours/internal/database"
	"winetours/internal/domain/booking"
	"winetours/internal/domain/hoursync"
	"winetours/internal/domain/invoice"
	"winetours/internal/domain/proposal"
	"winetours/internal/domain/rates"
	"winetours/internal/domain/refund"
	"winetours/internal/domain/sequence"
	"winetours/internal/logging"
	"winetours/internal/notification"
	"winetours/internal/payment"
	"winetours/internal/pkg/jwt"
	"winetours/internal/report"
)

// WeatherReasonCode selects the weather cancellation policy when the active
// rate sheet defines one.
const WeatherReasonCode = "WEATHER"

type App struct {
	Config *config.Config
	Log    logrus.FieldLogger
	DB     *gorm.DB
	JWT    *jwt.Service

	Rates      *rates.Service
	Proposals  *proposal.Service
	Bookings   *booking.Service
	Invoices   *invoice.Service
	Hub        *invoice.QueueHub
	Reconciler *hoursync.Reconciler
	TimeClock  *hoursync.TimeClock
	Reports    *report.Builder

	// Consumer is set when clock-outs travel over Redis.
	Consumer *hoursync.StreamConsumer

	closers []io.Closer
}

// Options replace collaborators, mostly for tests.
type Options struct {
	DB       *gorm.DB
	Notifier notification.Dispatcher
	Charger  payment.Charger
	// Migrate runs the schema migration before any service reads the
	// database.
	Migrate bool
}

// New connects everything cfg describes. Redis and Pub/Sub are optional;
// without them clock-outs reconcile in-process and notifications are logged.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log, JWT: jwt.New(cfg.JWTSecret, cfg.JWTTTL)}

	a.DB = opts.DB
	if a.DB == nil {
		db, err := database.Connect(cfg.DatabaseURL, database.Options{
			MaxOpenConns: cfg.MaxOpenConns,
			Tracing:      cfg.TracingEnabled,
			Log:          log,
		})
		if err != nil {
			return nil, err
		}
		a.DB = db
	}
	if opts.Migrate {
		if err := Migrate(a.DB); err != nil {
			return nil, err
		}
	}

	notifier := opts.Notifier
	if notifier == nil {
		if cfg.PubSub.Enabled() {
			d, client, err := notification.DialPubSub(ctx, cfg.PubSub.ProjectID, cfg.PubSub.NotificationTopic, cfg.PubSub.CredentialsJSON)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, client)
			notifier = d
		} else {
			notifier = notification.NewLogDispatcher(log)
		}
	}
	charger := opts.Charger
	if charger == nil {
		charger = payment.SandboxCharger{}
	}

	var rdb *redis.Client
	var locker *redislock.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logging.LogError(log, "app", "New", "redis unreachable, continuing without locks", cfg.Redis.Addr, err)
		}
		a.closers = append(a.closers, rdb)
		locker = redislock.New(rdb)
	}

	a.Rates = rates.NewService(a.DB, log)
	a.Hub = invoice.NewQueueHub()
	a.Invoices = invoice.NewService(invoice.Deps{
		DB:            a.DB,
		Numbers:       sequence.NewAllocator(cfg.Numbering.InvoicePrefix, cfg.Location),
		Charger:       charger,
		Notifier:      notifier,
		Locker:        locker,
		Hub:           a.Hub,
		Log:           log,
		FinalDueAfter: cfg.Invoice.FinalDueAfter,
		LockTTL:       cfg.Invoice.ApprovalLockTTL,
	})
	refunds := refundRegistry(ctx, a.Rates, log)
	a.Bookings = booking.NewService(booking.Deps{
		DB:       a.DB,
		Rates:    a.Rates,
		Numbers:  sequence.NewAllocator(cfg.Numbering.BookingPrefix, cfg.Location),
		Refunds:  refunds,
		Ledger:   a.Invoices,
		Notifier: notifier,
		Log:      log,
		Location: cfg.Location,
	})
	a.Proposals = proposal.NewService(proposal.Deps{
		DB:       a.DB,
		Rates:    a.Rates,
		Numbers:  sequence.NewAllocator(cfg.Numbering.ProposalPrefix, cfg.Location),
		Bookings: a.Bookings,
		Deposits: a.Invoices,
		Notifier: notifier,
		Log:      log,
		Validity: cfg.Proposal.Validity,
	})

	a.Reconciler = hoursync.NewReconciler(a.DB, a.Hub, log, cfg.Invoice.FinalDueAfter)
	var publisher hoursync.EventPublisher = hoursync.DirectPublisher{Reconciler: a.Reconciler}
	if rdb != nil {
		publisher = hoursync.NewStreamPublisher(rdb, cfg.Redis.ClockOutStream)
		a.Consumer = hoursync.NewStreamConsumer(rdb, cfg.Redis.ClockOutStream, cfg.Redis.ClockOutGroup, cfg.Redis.ConsumerName, a.Reconciler, log)
	}
	a.TimeClock = hoursync.NewTimeClock(a.DB, publisher, log)
	a.Reports = report.NewBuilder(a.DB, refunds, cfg.Location, log)
	return a, nil
}

// RunWorkers starts the proposal expiry sweeper and, when configured, the
// clock-out stream consumer. Both stop with ctx.
func (a *App) RunWorkers(ctx context.Context) {
	go a.Proposals.RunExpirySweeper(ctx, a.Config.Proposal.SweepInterval)
	if a.Consumer != nil {
		go func() {
			if err := a.Consumer.Run(ctx); err != nil {
				logging.LogError(a.Log, "app", "RunWorkers", "clock-out consumer stopped", nil, err)
			}
		}()
	}
}

func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Log.WithError(err).Warn("closing collaborator failed")
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// refundRegistry registers the weather policy of the active rate sheet, if
// it parses as a tiered policy.
func refundRegistry(ctx context.Context, rs *rates.Service, log logrus.FieldLogger) *refund.Registry {
	fallback := &refund.Registry{Default: refund.DefaultPolicy}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	t, err := rs.Active(ctx)
	if err != nil {
		log.WithError(err).Warn("no active rate sheet, weather cancellations use standard refunds")
		return fallback
	}
	if len(t.WeatherCancellationPolicy) == 0 {
		return fallback
	}
	var p refund.Policy
	if err := json.Unmarshal(t.WeatherCancellationPolicy, &p); err != nil || len(p.Tiers) == 0 {
		log.WithField("version_id", t.Version).Info("weather cancellation policy not in tier form, using standard refunds")
		return fallback
	}
	if p.Name == "" {
		p.Name = "weather"
	}
	reg, err := refund.NewRegistry(map[string]refund.Policy{WeatherReasonCode: p})
	if err != nil {
		logging.LogError(log, "app", "refundRegistry", "weather cancellation policy rejected", t.Version, err)
		return fallback
	}
	return reg
}
