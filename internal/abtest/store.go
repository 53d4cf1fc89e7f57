package abtest

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Store handles CRUD for ab_test_variants and ab_test_results.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const variantColumns = `id, automation_id, step_id, variant_name, COALESCE(subject,''),
	COALESCE(body,''), weight, is_control, impressions, opens, clicks, conversions,
	revenue, created_at, updated_at`

func scanVariant(scan func(...interface{}) error) (*Variant, error) {
	var v Variant
	err := scan(&v.ID, &v.AutomationID, &v.StepID, &v.VariantName, &v.Subject,
		&v.Body, &v.Weight, &v.IsControl, &v.Impressions, &v.Opens, &v.Clicks,
		&v.Conversions, &v.Revenue, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) CreateVariant(ctx context.Context, v *Variant) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ab_test_variants (id, automation_id, step_id, variant_name, subject, body, weight, is_control)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.AutomationID, v.StepID, v.VariantName, v.Subject, v.Body, v.Weight, v.IsControl)
	return err
}

func (s *Store) UpdateVariant(ctx context.Context, v *Variant) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ab_test_variants SET variant_name=$1, subject=$2, body=$3, weight=$4, is_control=$5, updated_at=NOW()
		WHERE id = $6`,
		v.VariantName, v.Subject, v.Body, v.Weight, v.IsControl, v.ID)
	return err
}

func (s *Store) DeleteVariant(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ab_test_variants WHERE id = $1`, id)
	return err
}

func (s *Store) VariantByID(ctx context.Context, id uuid.UUID) (*Variant, error) {
	v, err := scanVariant(s.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM ab_test_variants WHERE id = $1`, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// VariantsInScope lists the variants for an (automation, step) scope. A nil
// stepID addresses automation-wide variants; the comparison is null-safe.
// Control sorts first, then by name, matching how the UI presents tests.
func (s *Store) VariantsInScope(ctx context.Context, automationID uuid.UUID, stepID *uuid.UUID) ([]Variant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+variantColumns+` FROM ab_test_variants
		WHERE automation_id = $1 AND step_id IS NOT DISTINCT FROM $2
		ORDER BY is_control DESC, variant_name`,
		automationID, stepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		v, err := scanVariant(rows.Scan)
		if err != nil {
			continue
		}
		variants = append(variants, *v)
	}
	return variants, rows.Err()
}

// AssignedVariant returns the variant already assigned to an enrollment in a
// step scope, or nil when no assignment exists yet.
func (s *Store) AssignedVariant(ctx context.Context, enrollmentID, automationID uuid.UUID, stepID *uuid.UUID) (*Variant, error) {
	v, err := scanVariant(s.db.QueryRowContext(ctx,
		`SELECT v.id, v.automation_id, v.step_id, v.variant_name, COALESCE(v.subject,''),
			COALESCE(v.body,''), v.weight, v.is_control, v.impressions, v.opens, v.clicks,
			v.conversions, v.revenue, v.created_at, v.updated_at
		FROM ab_test_results r
		JOIN ab_test_variants v ON v.id = r.variant_id
		WHERE r.enrollment_id = $1 AND v.automation_id = $2 AND v.step_id IS NOT DISTINCT FROM $3
		LIMIT 1`,
		enrollmentID, automationID, stepID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// CreateResult records an assignment and bumps the variant's impressions in
// one transaction so counters cannot drift from result rows.
func (s *Store) CreateResult(ctx context.Context, r *Result) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ab_test_results (id, enrollment_id, variant_id, assigned_at)
		VALUES ($1, $2, $3, $4)`,
		r.ID, r.EnrollmentID, r.VariantID, r.AssignedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE ab_test_variants SET impressions = impressions + 1, updated_at = NOW() WHERE id = $1`,
		r.VariantID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkOpened flips the result's opened flag and bumps the variant counter.
// Returns false when the open was already recorded.
func (s *Store) MarkOpened(ctx context.Context, enrollmentID, variantID uuid.UUID, at time.Time) (bool, error) {
	return s.markOutcome(ctx,
		`UPDATE ab_test_results SET opened = TRUE, opened_at = $3
		WHERE enrollment_id = $1 AND variant_id = $2 AND NOT opened`,
		`UPDATE ab_test_variants SET opens = opens + 1, updated_at = NOW() WHERE id = $1`,
		enrollmentID, variantID, at, nil)
}

// MarkClicked flips the result's clicked flag and bumps the variant counter.
func (s *Store) MarkClicked(ctx context.Context, enrollmentID, variantID uuid.UUID, at time.Time) (bool, error) {
	return s.markOutcome(ctx,
		`UPDATE ab_test_results SET clicked = TRUE, clicked_at = $3
		WHERE enrollment_id = $1 AND variant_id = $2 AND NOT clicked`,
		`UPDATE ab_test_variants SET clicks = clicks + 1, updated_at = NOW() WHERE id = $1`,
		enrollmentID, variantID, at, nil)
}

// MarkConverted flips the result's converted flag, stores the conversion
// value, and accumulates it into the variant's revenue.
func (s *Store) MarkConverted(ctx context.Context, enrollmentID, variantID uuid.UUID, value float64, at time.Time) (bool, error) {
	return s.markOutcome(ctx,
		`UPDATE ab_test_results SET converted = TRUE, converted_at = $3, conversion_value = $4
		WHERE enrollment_id = $1 AND variant_id = $2 AND NOT converted`,
		`UPDATE ab_test_variants SET conversions = conversions + 1, revenue = revenue + $2, updated_at = NOW() WHERE id = $1`,
		enrollmentID, variantID, at, &value)
}

func (s *Store) markOutcome(ctx context.Context, resultSQL, variantSQL string, enrollmentID, variantID uuid.UUID, at time.Time, value *float64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var res sql.Result
	if value != nil {
		res, err = tx.ExecContext(ctx, resultSQL, enrollmentID, variantID, at, *value)
	} else {
		res, err = tx.ExecContext(ctx, resultSQL, enrollmentID, variantID, at)
	}
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, tx.Commit()
	}

	if value != nil {
		_, err = tx.ExecContext(ctx, variantSQL, variantID, *value)
	} else {
		_, err = tx.ExecContext(ctx, variantSQL, variantID)
	}
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// DeleteLosingVariants removes every variant in a scope except the winner.
func (s *Store) DeleteLosingVariants(ctx context.Context, automationID uuid.UUID, stepID *uuid.UUID, winnerID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM ab_test_variants
		WHERE automation_id = $1 AND step_id IS NOT DISTINCT FROM $2 AND id <> $3`,
		automationID, stepID, winnerID)
	return err
}
