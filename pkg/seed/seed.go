package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"contentlift_backend/internal/model"
	"contentlift_backend/pkg/subscription"
)

type catalogFile struct {
	Plans []planEntry `yaml:"plans"`
}

type planEntry struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	PriceCents      int64    `yaml:"price_cents"`
	Currency        string   `yaml:"currency"`
	Interval        string   `yaml:"interval"`
	TrialDays       int      `yaml:"trial_days"`
	Popular         bool     `yaml:"popular"`
	ProviderPriceID string   `yaml:"provider_price_id"`
	Features        []string `yaml:"features"`
	Limits          struct {
		Products      int `yaml:"products"`
		Emails        int `yaml:"emails"`
		SMS           int `yaml:"sms"`
		AIGenerations int `yaml:"ai_generations"`
	} `yaml:"limits"`
}

// LoadPlans parses a plan catalog. Plans keep their file order through
// SortOrder.
func LoadPlans(data []byte) ([]model.Plan, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	if len(file.Plans) == 0 {
		return nil, fmt.Errorf("plan catalog is empty")
	}

	plans := make([]model.Plan, 0, len(file.Plans))
	seen := make(map[string]bool, len(file.Plans))
	for i, e := range file.Plans {
		p, err := e.plan(i)
		if err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("plan %q is defined twice", p.ID)
		}
		seen[p.ID] = true
		plans = append(plans, p)
	}
	return plans, nil
}

func (e planEntry) plan(i int) (model.Plan, error) {
	if strings.TrimSpace(e.Name) == "" {
		return model.Plan{}, fmt.Errorf("plan #%d has no name", i+1)
	}

	interval := model.BillingInterval(strings.ToLower(e.Interval))
	switch interval {
	case model.IntervalMonth, model.IntervalYear:
	case "":
		interval = model.IntervalMonth
	default:
		return model.Plan{}, fmt.Errorf("plan %q: unknown interval %q", e.Name, e.Interval)
	}

	id := e.ID
	if id == "" {
		id = slug.Make(e.Name + " " + string(interval))
	}
	if !slug.IsSlug(id) {
		return model.Plan{}, fmt.Errorf("plan id %q is not a slug", id)
	}

	if e.PriceCents < 0 || e.TrialDays < 0 {
		return model.Plan{}, fmt.Errorf("plan %q: price and trial days cannot be negative", id)
	}
	for _, limit := range []int{e.Limits.Products, e.Limits.Emails, e.Limits.SMS, e.Limits.AIGenerations} {
		if limit < model.Unlimited {
			return model.Plan{}, fmt.Errorf("plan %q: limits must be %d (unlimited) or above", id, model.Unlimited)
		}
	}

	currency := strings.ToLower(e.Currency)
	if currency == "" {
		currency = "usd"
	}

	return model.Plan{
		ID:               id,
		Name:             e.Name,
		Description:      e.Description,
		PriceCents:       e.PriceCents,
		Currency:         currency,
		Interval:         interval,
		Features:         e.Features,
		MaxProducts:      e.Limits.Products,
		MaxEmails:        e.Limits.Emails,
		MaxSMS:           e.Limits.SMS,
		MaxAIGenerations: e.Limits.AIGenerations,
		IsPopular:        e.Popular,
		TrialDays:        e.TrialDays,
		ProviderPriceID:  e.ProviderPriceID,
		SortOrder:        i,
	}, nil
}

// SeedPlans loads the catalog at path and upserts it.
func SeedPlans(ctx context.Context, store subscription.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read plan catalog: %w", err)
	}
	plans, err := LoadPlans(data)
	if err != nil {
		return err
	}
	if err := store.UpsertPlans(ctx, plans); err != nil {
		return fmt.Errorf("upsert plans: %w", err)
	}

	logrus.WithField("count", len(plans)).Info("Subscription plans seeded successfully")
	return nil
}
