package inmemdb

import (
	"context"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/automation"
	"github.com/smarthomecloud/backend/core/house"
)

type ruleRepository struct {
	db *DB
}

var _ automation.Repository = (*ruleRepository)(nil)

func NewRuleRepository(db *DB) automation.Repository {
	return &ruleRepository{db: db}
}

var ruleFields = fieldGetters[automation.Rule]{
	"name":         func(r automation.Rule) interface{} { return r.Name },
	"trigger_type": func(r automation.Rule) interface{} { return r.TriggerType },
	"action":       func(r automation.Rule) interface{} { return r.Action },
	"enabled":      func(r automation.Rule) interface{} { return r.Enabled },
	"last_run_at":  func(r automation.Rule) interface{} { return r.LastRunAt },
	"next_run_at":  func(r automation.Rule) interface{} { return r.NextRunAt },
	"created_at":   func(r automation.Rule) interface{} { return r.CreatedAt },
}

func (repo *ruleRepository) CreateRule(ctx context.Context, r automation.Rule) (automation.Rule, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.houses[r.HouseID]; !ok {
		return automation.Rule{}, house.ErrNotFound
	}
	r.ID = newID()
	repo.db.rules[r.ID] = r
	return r, nil
}

func (repo *ruleRepository) QueryRules(ctx context.Context, filter *automation.QueryFilter, ordering []core.DBOrdering) ([]automation.Rule, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	rules := make([]automation.Rule, 0, len(repo.db.rules))
	for _, r := range repo.db.rules {
		if filter != nil && !matchRule(r, filter) {
			continue
		}
		rules = append(rules, r)
	}
	orderBy(rules, ordering, ruleFields, func(a, b automation.Rule) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return rules, nil
}

func matchRule(r automation.Rule, filter *automation.QueryFilter) bool {
	if filter.Search != "" && !containsFold(r.Name, filter.Search) {
		return false
	}
	if !inFilter(r.HouseID, filter.HouseIDs) || !inFilter(r.TriggerType, filter.TriggerTypes) {
		return false
	}
	if filter.Enabled != nil && r.Enabled != *filter.Enabled {
		return false
	}
	if !filter.DueBefore.IsZero() {
		if !r.Enabled || r.TriggerType != automation.TriggerSchedule || r.NextRunAt.IsZero() || r.NextRunAt.After(filter.DueBefore) {
			return false
		}
	}
	if filter.AlertType != "" {
		if !r.Enabled || r.TriggerType != automation.TriggerAlert || r.TriggerAlertType != filter.AlertType {
			return false
		}
	}
	return true
}

func (repo *ruleRepository) GetRule(ctx context.Context, id string) (automation.Rule, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if r, ok := repo.db.rules[id]; ok {
		return r, nil
	}
	return automation.Rule{}, automation.ErrNotFound
}

func (repo *ruleRepository) UpdateRule(ctx context.Context, r automation.Rule) (automation.Rule, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.rules[r.ID]; !ok {
		return automation.Rule{}, automation.ErrNotFound
	}
	repo.db.rules[r.ID] = r
	return r, nil
}

func (repo *ruleRepository) DeleteRule(ctx context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.rules[id]; !ok {
		return automation.ErrNotFound
	}
	delete(repo.db.rules, id)
	return nil
}
