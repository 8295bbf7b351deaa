package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/automation"
	"github.com/smarthomecloud/backend/core/house"
)

var (
	ruleColumns = []string{
		"id", "house_id", "name", "trigger_type", "schedule", "trigger_alert_type", "action",
		"target_device_id", "enabled", "last_run_at", "next_run_at", "created_at", "updated_at",
	}
	ruleOrderings = map[string]string{
		"name":         "name",
		"trigger_type": "trigger_type",
		"action":       "action",
		"enabled":      "enabled",
		"last_run_at":  "last_run_at",
		"next_run_at":  "next_run_at",
		"created_at":   "created_at",
	}
)

type ruleRow struct {
	ID               string      `db:"id"`
	HouseID          string      `db:"house_id"`
	Name             string      `db:"name"`
	TriggerType      string      `db:"trigger_type"`
	Schedule         string      `db:"schedule"`
	TriggerAlertType string      `db:"trigger_alert_type"`
	Action           string      `db:"action"`
	TargetDeviceID   null.String `db:"target_device_id"`
	Enabled          bool        `db:"enabled"`
	LastRunAt        null.Time   `db:"last_run_at"`
	NextRunAt        null.Time   `db:"next_run_at"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

func (r ruleRow) rule() automation.Rule {
	return automation.Rule{
		ID:               r.ID,
		HouseID:          r.HouseID,
		Name:             r.Name,
		TriggerType:      r.TriggerType,
		Schedule:         r.Schedule,
		TriggerAlertType: r.TriggerAlertType,
		Action:           r.Action,
		TargetDeviceID:   r.TargetDeviceID.String,
		Enabled:          r.Enabled,
		LastRunAt:        r.LastRunAt.Time,
		NextRunAt:        r.NextRunAt.Time,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

type ruleRepository struct {
	db *sqlx.DB
}

var _ automation.Repository = (*ruleRepository)(nil)

func NewRuleRepository(db *sqlx.DB) automation.Repository {
	return &ruleRepository{db: db}
}

func (repo *ruleRepository) CreateRule(ctx context.Context, r automation.Rule) (automation.Rule, error) {
	r.ID = uuid.New().String()
	query, args, err := psql.Insert("automation_rules").
		Columns(ruleColumns...).
		Values(
			r.ID, r.HouseID, r.Name, r.TriggerType, r.Schedule, r.TriggerAlertType, r.Action,
			nullString(r.TargetDeviceID), r.Enabled, nullTime(r.LastRunAt), nullTime(r.NextRunAt),
			r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return automation.Rule{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return automation.Rule{}, house.ErrNotFound
		}
		return automation.Rule{}, errors.Wrap(err, "inserting automation rule")
	}
	return r, nil
}

func (repo *ruleRepository) QueryRules(ctx context.Context, filter *automation.QueryFilter, ordering []core.DBOrdering) ([]automation.Rule, error) {
	q := psql.Select(ruleColumns...).From("automation_rules")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(ilike(filter.Search, "name"))
		}
		if len(filter.HouseIDs) > 0 {
			q = q.Where(sq.Eq{"house_id": validIDs(filter.HouseIDs)})
		}
		if len(filter.TriggerTypes) > 0 {
			q = q.Where(sq.Eq{"trigger_type": filter.TriggerTypes})
		}
		if filter.Enabled != nil {
			q = q.Where(sq.Eq{"enabled": *filter.Enabled})
		}
		if !filter.DueBefore.IsZero() {
			q = q.Where(sq.Eq{"enabled": true, "trigger_type": automation.TriggerSchedule}).
				Where(sq.LtOrEq{"next_run_at": filter.DueBefore.UTC()})
		}
		if filter.AlertType != "" {
			q = q.Where(sq.Eq{"enabled": true, "trigger_type": automation.TriggerAlert, "trigger_alert_type": filter.AlertType})
		}
	}
	q = q.OrderBy(append(orderBy(ordering, ruleOrderings), "created_at ASC")...)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []ruleRow
	if err = sqlx.SelectContext(ctx, repo.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying automation rules")
	}
	rules := make([]automation.Rule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, r.rule())
	}
	return rules, nil
}

func (repo *ruleRepository) GetRule(ctx context.Context, id string) (automation.Rule, error) {
	if !validID(id) {
		return automation.Rule{}, automation.ErrNotFound
	}
	query, args, err := psql.Select(ruleColumns...).From("automation_rules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return automation.Rule{}, errors.Wrap(err, "building query")
	}
	var row ruleRow
	if err = sqlx.GetContext(ctx, repo.db, &row, query, args...); err != nil {
		return automation.Rule{}, trapNoRowsErr(err, automation.ErrNotFound, "finding automation rule")
	}
	return row.rule(), nil
}

func (repo *ruleRepository) UpdateRule(ctx context.Context, r automation.Rule) (automation.Rule, error) {
	if !validID(r.ID) {
		return automation.Rule{}, automation.ErrNotFound
	}
	query, args, err := psql.Update("automation_rules").
		SetMap(map[string]interface{}{
			"name":               r.Name,
			"schedule":           r.Schedule,
			"trigger_alert_type": r.TriggerAlertType,
			"action":             r.Action,
			"target_device_id":   nullString(r.TargetDeviceID),
			"enabled":            r.Enabled,
			"last_run_at":        nullTime(r.LastRunAt),
			"next_run_at":        nullTime(r.NextRunAt),
			"updated_at":         r.UpdatedAt.UTC(),
		}).
		Where(sq.Eq{"id": r.ID}).
		ToSql()
	if err != nil {
		return automation.Rule{}, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return automation.Rule{}, errors.Wrap(err, "updating automation rule")
	}
	if err = checkAffected(res, automation.ErrNotFound); err != nil {
		return automation.Rule{}, err
	}
	return r, nil
}

func (repo *ruleRepository) DeleteRule(ctx context.Context, id string) error {
	if !validID(id) {
		return automation.ErrNotFound
	}
	query, args, err := psql.Delete("automation_rules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "deleting automation rule")
	}
	return checkAffected(res, automation.ErrNotFound)
}
