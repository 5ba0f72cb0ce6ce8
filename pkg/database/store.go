package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"contentlift_backend/internal/model"
	"contentlift_backend/pkg/subscription"
)

// GormStore implements subscription.Store on top of GORM.
type GormStore struct {
	db *gorm.DB
}

var _ subscription.Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return subscription.ErrNoRecord
	}
	return err
}

func (s *GormStore) ListPlans(ctx context.Context) ([]model.Plan, error) {
	var plans []model.Plan
	err := s.db.WithContext(ctx).Order("sort_order ASC, price_cents ASC").Find(&plans).Error
	return plans, err
}

func (s *GormStore) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	var plan model.Plan
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&plan).Error; err != nil {
		return nil, mapErr(err)
	}
	return &plan, nil
}

func (s *GormStore) UpsertPlans(ctx context.Context, plans []model.Plan) error {
	if len(plans) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "price_cents", "currency", "interval", "features",
			"max_products", "max_emails", "max_sms", "max_ai_generations",
			"is_popular", "trial_days", "provider_price_id", "sort_order", "updated_at",
		}),
	}).Create(&plans).Error
}

func (s *GormStore) CurrentSubscription(ctx context.Context, accountID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND status <> ?", accountID, model.StatusCanceled).
		Take(&sub).Error
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	err = s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Take(&sub).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &sub, nil
}

func (s *GormStore) SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.db.WithContext(ctx).
		Where("provider_subscription_id = ?", providerSubscriptionID).
		Take(&sub).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &sub, nil
}

func (s *GormStore) SubscriptionsEndingBetween(ctx context.Context, from, to time.Time) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := s.db.WithContext(ctx).
		Where("status <> ? AND current_period_end >= ? AND current_period_end < ?", model.StatusCanceled, from, to).
		Order("current_period_end ASC").
		Find(&subs).Error
	return subs, err
}

func (s *GormStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var live int64
		if err := tx.Model(&model.Subscription{}).
			Where("account_id = ? AND status <> ?", sub.AccountID, model.StatusCanceled).
			Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return subscription.ErrLiveSubscriptionExists
		}
		return tx.Omit(clause.Associations).Create(sub).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return subscription.ErrLiveSubscriptionExists
	}
	return err
}

func (s *GormStore) SaveSubscription(ctx context.Context, sub *model.Subscription) error {
	return saveSubscription(s.db.WithContext(ctx), sub)
}

func saveSubscription(tx *gorm.DB, sub *model.Subscription) error {
	res := tx.Model(&model.Subscription{ID: sub.ID}).
		Select("*").
		Omit("id", "created_at", clause.Associations).
		Updates(sub)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return subscription.ErrNoRecord
	}
	return nil
}

func (s *GormStore) ApplyEvent(ctx context.Context, sub *model.Subscription, inv *model.Invoice) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := saveSubscription(tx, sub); err != nil {
			return err
		}
		if inv == nil {
			return nil
		}
		return appendInvoice(tx, inv)
	})
}

func (s *GormStore) ListInvoices(ctx context.Context, subscriptionID string) ([]model.Invoice, error) {
	var invoices []model.Invoice
	err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Find(&invoices).Error
	return invoices, err
}

func (s *GormStore) AppendInvoice(ctx context.Context, inv *model.Invoice) error {
	return appendInvoice(s.db.WithContext(ctx), inv)
}

func appendInvoice(tx *gorm.DB, inv *model.Invoice) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(inv).Error
}

func (s *GormStore) ListPaymentMethods(ctx context.Context, accountID string) ([]model.PaymentMethod, error) {
	var methods []model.PaymentMethod
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&methods).Error
	return methods, err
}

func (s *GormStore) ReplacePaymentMethods(ctx context.Context, accountID string, methods []model.PaymentMethod) error {
	defaults := 0
	rows := make([]model.PaymentMethod, len(methods))
	for i, pm := range methods {
		pm.AccountID = accountID
		if pm.IsDefault {
			defaults++
		}
		rows[i] = pm
	}
	if defaults > 1 {
		return subscription.ErrMultipleDefaults
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&model.PaymentMethod{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}
