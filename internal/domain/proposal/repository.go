package proposal

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"winetours/internal/apperr"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Proposal, error) {
	return getByID(r.db.WithContext(ctx), id)
}

func (r *Repository) GetByNumber(ctx context.Context, number string) (*Proposal, error) {
	var p Proposal
	err := withItems(r.db.WithContext(ctx)).Where("proposal_number = ?", number).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("proposal", number, ErrProposalNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) List(ctx context.Context, status Status, limit, offset int) ([]Proposal, int64, error) {
	q := r.db.WithContext(ctx).Model(&Proposal{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var list []Proposal
	err := q.Order("id desc").Limit(limit).Offset(offset).Find(&list).Error
	return list, total, err
}

func (r *Repository) Events(ctx context.Context, proposalID int64) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).Where("proposal_id = ?", proposalID).Order("id asc").Find(&events).Error
	return events, err
}

// staleSent lists SENT proposals whose validity ended before cutoff.
func (r *Repository) staleSent(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&Proposal{}).
		Where("status = ? AND valid_until < ?", StatusSent, cutoff).
		Order("id asc").
		Pluck("id", &ids).Error
	return ids, err
}

func lockForUpdate(tx *gorm.DB, id int64) (*Proposal, error) {
	return getByID(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

// compareAndSwap applies updates only while the proposal still has the
// version the caller read, then bumps it.
func compareAndSwap(tx *gorm.DB, p *Proposal, updates map[string]any) error {
	updates["version"] = p.Version + 1
	res := tx.Model(&Proposal{}).Where("id = ? AND version = ?", p.ID, p.Version).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return apperr.Conflict("proposal", p.ID, ErrStaleProposal)
	}
	p.Version++
	return nil
}

func appendEvent(tx *gorm.DB, proposalID int64, from, to Status, actor string) error {
	return tx.Create(&Event{ProposalID: proposalID, FromStatus: from, ToStatus: to, Actor: actor}).Error
}

func getByID(db *gorm.DB, id int64) (*Proposal, error) {
	var p Proposal
	err := withItems(db).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("proposal", id, ErrProposalNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func withItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc")
	})
}
