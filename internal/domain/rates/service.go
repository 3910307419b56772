package rates

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"winetours/internal/apperr"
	"winetours/internal/logging"
)

type Service struct {
	db    *gorm.DB
	log   logrus.FieldLogger
	now   func() time.Time
	cache sync.Map // version id -> *Table
}

func NewService(db *gorm.DB, log logrus.FieldLogger) *Service {
	return &Service{db: db, log: log, now: time.Now}
}

// Active returns the newest rate table version.
func (s *Service) Active(ctx context.Context) (*Table, error) {
	var v TableVersion
	err := s.db.WithContext(ctx).Order("id desc").First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("rate_table", nil, ErrNoActiveTable)
	}
	if err != nil {
		return nil, err
	}
	return s.load(v)
}

// Version returns a specific, possibly superseded, version.
func (s *Service) Version(ctx context.Context, id int64) (*Table, error) {
	if t, ok := s.cache.Load(id); ok {
		return t.(*Table), nil
	}
	var v TableVersion
	err := s.db.WithContext(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("rate_table", id, ErrNoActiveTable)
	}
	if err != nil {
		return nil, err
	}
	return s.load(v)
}

// Quote prices a request against the active version.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	t, err := s.Active(ctx)
	if err != nil {
		return Quote{}, err
	}
	return t.Quote(req)
}

// UpdateRateTable stores payload as a new version and records the edit.
// Existing versions are never modified.
func (s *Service) UpdateRateTable(ctx context.Context, payload []byte, editor, reason string) (int64, error) {
	editor = strings.TrimSpace(editor)
	reason = strings.TrimSpace(reason)
	if editor == "" {
		return 0, apperr.Validation("editor", ErrEditorRequired)
	}
	if reason == "" {
		return 0, apperr.Validation("reason", ErrReasonRequired)
	}

	p, err := Parse(payload)
	if err != nil {
		return 0, err
	}
	canonical, err := p.Canonical()
	if err != nil {
		return 0, err
	}

	var version TableVersion
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev TableVersion
		var prevID *int64
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Order("id desc").First(&prev).Error
		switch {
		case err == nil:
			prevID = &prev.ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		version = TableVersion{EffectiveFrom: s.now(), Payload: canonical, CreatedBy: editor}
		if err := tx.Create(&version).Error; err != nil {
			return err
		}
		return tx.Create(&Audit{
			VersionID:         version.ID,
			PreviousVersionID: prevID,
			OldPayload:        prev.Payload,
			NewPayload:        canonical,
			Editor:            editor,
			Reason:            reason,
		}).Error
	})
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"version_id": version.ID,
		"editor":     editor,
		"reason":     reason,
	}).Info("rate table version created")
	return version.ID, nil
}

// Bootstrap installs the default sheet when no version exists yet.
func (s *Service) Bootstrap(ctx context.Context, editor string) (int64, bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&TableVersion{}).Count(&count).Error; err != nil {
		return 0, false, err
	}
	if count > 0 {
		t, err := s.Active(ctx)
		if err != nil {
			return 0, false, err
		}
		return t.Version, false, nil
	}
	raw, err := DefaultPayload().Canonical()
	if err != nil {
		return 0, false, err
	}
	id, err := s.UpdateRateTable(ctx, []byte(raw), editor, "initial rate sheet")
	return id, err == nil, err
}

func (s *Service) History(ctx context.Context, limit int) ([]TableVersion, []Audit, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var versions []TableVersion
	if err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&versions).Error; err != nil {
		return nil, nil, err
	}
	var audits []Audit
	if err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&audits).Error; err != nil {
		return nil, nil, err
	}
	return versions, audits, nil
}

func (s *Service) load(v TableVersion) (*Table, error) {
	if t, ok := s.cache.Load(v.ID); ok {
		return t.(*Table), nil
	}
	p, err := Parse([]byte(v.Payload))
	if err == nil {
		var t *Table
		if t, err = NewTable(v.ID, v.EffectiveFrom, *p); err == nil {
			s.cache.Store(v.ID, t)
			return t, nil
		}
	}
	logging.LogError(s.log, "rates", "load", "stored rate table failed validation", map[string]int64{"version_id": v.ID}, err)
	return nil, apperr.Integrity("rate_table", v.ID, err)
}
