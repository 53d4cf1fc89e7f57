package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store handles persistence for automations, steps, enrollments, step logs
// and win-back rules.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for stores that share the connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ---- automations ----

const automationColumns = `id, shop_domain, name, trigger_type,
	COALESCE(trigger_conditions, '{}'), is_active, total_enrolled,
	total_completed, revenue, created_at, updated_at`

func scanAutomation(scan func(...interface{}) error) (*Automation, error) {
	var a Automation
	err := scan(&a.ID, &a.ShopDomain, &a.Name, &a.TriggerType, &a.TriggerConditions,
		&a.IsActive, &a.TotalEnrolled, &a.TotalCompleted, &a.Revenue,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) CreateAutomation(ctx context.Context, a *Automation) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	conditions := a.TriggerConditions
	if len(conditions) == 0 {
		conditions = []byte(`{}`)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automations (id, shop_domain, name, trigger_type, trigger_conditions, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.ShopDomain, a.Name, a.TriggerType, conditions, a.IsActive)
	return err
}

func (s *Store) UpdateAutomation(ctx context.Context, a *Automation) error {
	conditions := a.TriggerConditions
	if len(conditions) == 0 {
		conditions = []byte(`{}`)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE automations SET name=$1, trigger_type=$2, trigger_conditions=$3, is_active=$4, updated_at=NOW()
		WHERE id = $5`,
		a.Name, a.TriggerType, conditions, a.IsActive, a.ID)
	return err
}

// AutomationByID loads one automation with its active steps in order.
func (s *Store) AutomationByID(ctx context.Context, id uuid.UUID) (*Automation, error) {
	a, err := scanAutomation(s.db.QueryRowContext(ctx,
		`SELECT `+automationColumns+` FROM automations WHERE id = $1`, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Steps, err = s.StepsForAutomation(ctx, a.ID)
	return a, err
}

// AutomationsByTrigger lists the active automations of one trigger type for a
// shop, steps included.
func (s *Store) AutomationsByTrigger(ctx context.Context, shopDomain, triggerType string) ([]Automation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+automationColumns+` FROM automations
		WHERE shop_domain = $1 AND trigger_type = $2 AND is_active = TRUE
		ORDER BY created_at`,
		shopDomain, triggerType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var automations []Automation
	for rows.Next() {
		a, err := scanAutomation(rows.Scan)
		if err != nil {
			continue
		}
		automations = append(automations, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range automations {
		steps, err := s.StepsForAutomation(ctx, automations[i].ID)
		if err != nil {
			return nil, err
		}
		automations[i].Steps = steps
	}
	return automations, nil
}

// ActiveShopDomains lists every shop with at least one active automation. The
// scheduler iterates this set each polling pass.
func (s *Store) ActiveShopDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT shop_domain FROM automations WHERE is_active = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			continue
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (s *Store) IncrementEnrolled(ctx context.Context, automationID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE automations SET total_enrolled = total_enrolled + 1, updated_at = NOW() WHERE id = $1`,
		automationID)
	return err
}

func (s *Store) IncrementCompleted(ctx context.Context, automationID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE automations SET total_completed = total_completed + 1, updated_at = NOW() WHERE id = $1`,
		automationID)
	return err
}

func (s *Store) AddRevenue(ctx context.Context, automationID uuid.UUID, value float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE automations SET revenue = revenue + $2, updated_at = NOW() WHERE id = $1`,
		automationID, value)
	return err
}

// ---- steps ----

const stepColumns = `id, automation_id, step_order, step_type, COALESCE(subject,''),
	COALESCE(body,''), COALESCE(sms_body,''), delay_minutes, COALESCE(conditions,'{}'),
	is_ab_test_enabled, template_id, is_active, created_at, updated_at`

func scanStep(scan func(...interface{}) error) (*Step, error) {
	var st Step
	err := scan(&st.ID, &st.AutomationID, &st.StepOrder, &st.StepType, &st.Subject,
		&st.Body, &st.SMSBody, &st.DelayMinutes, &st.Conditions, &st.IsABTestEnabled,
		&st.TemplateID, &st.IsActive, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) CreateStep(ctx context.Context, st *Step) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	conditions := st.Conditions
	if len(conditions) == 0 {
		conditions = []byte(`{}`)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_steps
			(id, automation_id, step_order, step_type, subject, body, sms_body,
			delay_minutes, conditions, is_ab_test_enabled, template_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		st.ID, st.AutomationID, st.StepOrder, st.StepType, st.Subject, st.Body,
		st.SMSBody, st.DelayMinutes, conditions, st.IsABTestEnabled, st.TemplateID,
		st.IsActive)
	return err
}

func (s *Store) StepByID(ctx context.Context, id uuid.UUID) (*Step, error) {
	st, err := scanStep(s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM automation_steps WHERE id = $1`, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

// StepsForAutomation returns the active steps in execution order.
func (s *Store) StepsForAutomation(ctx context.Context, automationID uuid.UUID) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM automation_steps
		WHERE automation_id = $1 AND is_active = TRUE
		ORDER BY step_order`,
		automationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		st, err := scanStep(rows.Scan)
		if err != nil {
			continue
		}
		steps = append(steps, *st)
	}
	return steps, rows.Err()
}

// ApplyVariantToStep writes a winning test variant's content onto a step and
// turns the step's test flag off.
func (s *Store) ApplyVariantToStep(ctx context.Context, stepID uuid.UUID, subject, body string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE automation_steps
		SET subject = $1, body = $2, is_ab_test_enabled = FALSE, updated_at = NOW()
		WHERE id = $3`,
		subject, body, stepID)
	return err
}

// ---- enrollments ----

const enrollmentColumns = `id, automation_id, customer_id, email, current_step_id,
	status, next_step_at, enrolled_at, completed_at, exited_at, COALESCE(exit_reason,''),
	COALESCE(abandoned_checkout_id,''), order_id, COALESCE(metadata,'{}'),
	ab_test_variant_id, attempts`

func scanEnrollment(scan func(...interface{}) error) (*Enrollment, error) {
	var e Enrollment
	err := scan(&e.ID, &e.AutomationID, &e.CustomerID, &e.Email, &e.CurrentStepID,
		&e.Status, &e.NextStepAt, &e.EnrolledAt, &e.CompletedAt, &e.ExitedAt,
		&e.ExitReason, &e.AbandonedCheckoutID, &e.OrderID, &e.Metadata,
		&e.ABTestVariantID, &e.Attempts)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) CreateEnrollment(ctx context.Context, e *Enrollment) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	metadata := e.Metadata
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_enrollments
			(id, automation_id, customer_id, email, current_step_id, status,
			next_step_at, enrolled_at, abandoned_checkout_id, order_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9,''), $10, $11)`,
		e.ID, e.AutomationID, e.CustomerID, e.Email, e.CurrentStepID, e.Status,
		e.NextStepAt, e.EnrolledAt, e.AbandonedCheckoutID, e.OrderID, metadata)
	return err
}

func (s *Store) EnrollmentByID(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	e, err := scanEnrollment(s.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM automation_enrollments WHERE id = $1`, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// UpdateEnrollmentProgress persists the fields the state machine mutates.
func (s *Store) UpdateEnrollmentProgress(ctx context.Context, e *Enrollment) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE automation_enrollments
		SET current_step_id=$1, status=$2, next_step_at=$3, completed_at=$4,
			exited_at=$5, exit_reason=NULLIF($6,''), ab_test_variant_id=$7, attempts=$8
		WHERE id = $9`,
		e.CurrentStepID, e.Status, e.NextStepAt, e.CompletedAt, e.ExitedAt,
		e.ExitReason, e.ABTestVariantID, e.Attempts, e.ID)
	return err
}

// SetEnrollmentVariant records the sticky test variant an enrollment saw.
func (s *Store) SetEnrollmentVariant(ctx context.Context, enrollmentID, variantID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE automation_enrollments SET ab_test_variant_id = $2 WHERE id = $1`,
		enrollmentID, variantID)
	return err
}

// ExitEnrollment moves an active enrollment to exited with a reason. Returns
// false when the enrollment is missing or already terminal.
func (s *Store) ExitEnrollment(ctx context.Context, enrollmentID uuid.UUID, reason string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_enrollments
		SET status = $2, exited_at = $3, exit_reason = $4
		WHERE id = $1 AND status = $5`,
		enrollmentID, StatusExited, at, reason, StatusActive)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// ListDuePending returns active enrollments whose next step is due, oldest
// first.
func (s *Store) ListDuePending(ctx context.Context, shopDomain string, before time.Time, limit int) ([]Enrollment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.automation_id, e.customer_id, e.email, e.current_step_id,
			e.status, e.next_step_at, e.enrolled_at, e.completed_at, e.exited_at,
			COALESCE(e.exit_reason,''), COALESCE(e.abandoned_checkout_id,''), e.order_id,
			COALESCE(e.metadata,'{}'), e.ab_test_variant_id, e.attempts
		FROM automation_enrollments e
		JOIN automations a ON a.id = e.automation_id
		WHERE a.shop_domain = $1 AND a.is_active = TRUE
			AND e.status = $2 AND e.next_step_at <= $3
		ORDER BY e.next_step_at
		LIMIT $4`,
		shopDomain, StatusActive, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows.Scan)
		if err != nil {
			continue
		}
		enrollments = append(enrollments, *e)
	}
	return enrollments, rows.Err()
}

// HasActiveCheckoutEnrollment reports whether a checkout already has an active
// enrollment in an automation. Guards abandoned-cart trigger idempotency.
func (s *Store) HasActiveCheckoutEnrollment(ctx context.Context, automationID uuid.UUID, checkoutID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM automation_enrollments
			WHERE automation_id = $1 AND abandoned_checkout_id = $2 AND status = $3
		)`,
		automationID, checkoutID, StatusActive).Scan(&exists)
	return exists, err
}

// ActiveCartEnrollmentIDs lists a subscriber's active abandoned-cart
// enrollments across a shop. Used to exit them once the purchase lands.
func (s *Store) ActiveCartEnrollmentIDs(ctx context.Context, shopDomain, email string) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id
		FROM automation_enrollments e
		JOIN automations a ON a.id = e.automation_id
		WHERE a.shop_domain = $1 AND a.trigger_type = $2
			AND LOWER(e.email) = LOWER($3) AND e.status = $4`,
		shopDomain, TriggerAbandonedCart, email, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasRecentEnrollment reports whether a customer is active in an automation or
// completed it after the cutoff. Guards win-back re-enrollment.
func (s *Store) HasRecentEnrollment(ctx context.Context, automationID, customerID uuid.UUID, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM automation_enrollments
			WHERE automation_id = $1 AND customer_id = $2
				AND (status = $3 OR (status = $4 AND completed_at >= $5))
		)`,
		automationID, customerID, StatusActive, StatusCompleted, since).Scan(&exists)
	return exists, err
}

// EnrollmentStatusCounts tallies enrollments per status for an automation.
func (s *Store) EnrollmentStatusCounts(ctx context.Context, automationID uuid.UUID) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM automation_enrollments
		WHERE automation_id = $1 GROUP BY status`,
		automationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			continue
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// EnrollmentPage lists an automation's enrollments newest first.
func (s *Store) EnrollmentPage(ctx context.Context, automationID uuid.UUID, status string, limit, offset int) ([]Enrollment, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM automation_enrollments WHERE automation_id = $1`
	args := []interface{}{automationID}
	if status != "" {
		countQuery += ` AND status = $2`
		args = append(args, status)
	}
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + enrollmentColumns + ` FROM automation_enrollments WHERE automation_id = $1`
	if status != "" {
		query += ` AND status = $2`
	}
	query += fmt.Sprintf(` ORDER BY enrolled_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var enrollments []Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows.Scan)
		if err != nil {
			continue
		}
		enrollments = append(enrollments, *e)
	}
	return enrollments, total, rows.Err()
}

// ---- step logs ----

const stepLogColumns = `id, enrollment_id, step_id, status, COALESCE(channel,''),
	scheduled_at, executed_at, delivered_at, opened_at, clicked_at, bounced_at,
	unsubscribed_at, COALESCE(external_message_id,''), COALESCE(error_message,''), created_at`

func scanStepLog(scan func(...interface{}) error) (*StepLog, error) {
	var l StepLog
	err := scan(&l.ID, &l.EnrollmentID, &l.StepID, &l.Status, &l.Channel,
		&l.ScheduledAt, &l.ExecutedAt, &l.DeliveredAt, &l.OpenedAt, &l.ClickedAt,
		&l.BouncedAt, &l.UnsubscribedAt, &l.ExternalMessageID, &l.ErrorMessage,
		&l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) CreateStepLog(ctx context.Context, l *StepLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_step_logs
			(id, enrollment_id, step_id, status, channel, scheduled_at, executed_at,
			external_message_id, error_message)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7, NULLIF($8,''), NULLIF($9,''))`,
		l.ID, l.EnrollmentID, l.StepID, l.Status, l.Channel, l.ScheduledAt,
		l.ExecutedAt, l.ExternalMessageID, l.ErrorMessage)
	return err
}

func (s *Store) StepLogByID(ctx context.Context, id uuid.UUID) (*StepLog, error) {
	l, err := scanStepLog(s.db.QueryRowContext(ctx,
		`SELECT `+stepLogColumns+` FROM automation_step_logs WHERE id = $1`, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *Store) StepLogByExternalID(ctx context.Context, externalMessageID string) (*StepLog, error) {
	l, err := scanStepLog(s.db.QueryRowContext(ctx,
		`SELECT `+stepLogColumns+` FROM automation_step_logs
		WHERE external_message_id = $1
		ORDER BY created_at DESC LIMIT 1`,
		externalMessageID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// MarkLogOpened stamps opened_at once. First write wins; repeats return false.
func (s *Store) MarkLogOpened(ctx context.Context, stepLogID uuid.UUID, at time.Time) (bool, error) {
	return s.stampLog(ctx,
		`UPDATE automation_step_logs SET opened_at = $2 WHERE id = $1 AND opened_at IS NULL`,
		stepLogID, at)
}

// MarkLogClicked stamps clicked_at once.
func (s *Store) MarkLogClicked(ctx context.Context, stepLogID uuid.UUID, at time.Time) (bool, error) {
	return s.stampLog(ctx,
		`UPDATE automation_step_logs SET clicked_at = $2 WHERE id = $1 AND clicked_at IS NULL`,
		stepLogID, at)
}

// MarkLogUnsubscribed stamps unsubscribed_at once.
func (s *Store) MarkLogUnsubscribed(ctx context.Context, stepLogID uuid.UUID, at time.Time) (bool, error) {
	return s.stampLog(ctx,
		`UPDATE automation_step_logs SET unsubscribed_at = $2 WHERE id = $1 AND unsubscribed_at IS NULL`,
		stepLogID, at)
}

// MarkLogDelivered stamps delivered_at on the log matching a provider message
// id.
func (s *Store) MarkLogDelivered(ctx context.Context, externalMessageID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_step_logs SET delivered_at = $2
		WHERE external_message_id = $1 AND delivered_at IS NULL`,
		externalMessageID, at)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// MarkLogBounced stamps bounced_at and flips the log status to bounced.
func (s *Store) MarkLogBounced(ctx context.Context, externalMessageID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_step_logs SET bounced_at = $2, status = $3
		WHERE external_message_id = $1 AND bounced_at IS NULL`,
		externalMessageID, at, LogBounced)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

func (s *Store) stampLog(ctx context.Context, query string, stepLogID uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, stepLogID, at)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// StepLogCounts aggregates per-step funnel counters for an automation.
type StepLogCounts struct {
	StepID       uuid.UUID
	Sent         int
	EmailSent    int
	SMSSent      int
	Delivered    int
	Opened       int
	Clicked      int
	Bounced      int
	Unsubscribed int
	Failed       int
	Skipped      int
}

func (s *Store) StepLogCountsForAutomation(ctx context.Context, automationID uuid.UUID) ([]StepLogCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.step_id,
			COUNT(*) FILTER (WHERE l.status IN ($2, $3)),
			COUNT(*) FILTER (WHERE l.status IN ($2, $3) AND l.channel = 'email'),
			COUNT(*) FILTER (WHERE l.status IN ($2, $3) AND l.channel = 'sms'),
			COUNT(*) FILTER (WHERE l.delivered_at IS NOT NULL),
			COUNT(*) FILTER (WHERE l.opened_at IS NOT NULL),
			COUNT(*) FILTER (WHERE l.clicked_at IS NOT NULL),
			COUNT(*) FILTER (WHERE l.bounced_at IS NOT NULL),
			COUNT(*) FILTER (WHERE l.unsubscribed_at IS NOT NULL),
			COUNT(*) FILTER (WHERE l.status = $4),
			COUNT(*) FILTER (WHERE l.status = $5)
		FROM automation_step_logs l
		JOIN automation_steps st ON st.id = l.step_id
		WHERE st.automation_id = $1
		GROUP BY l.step_id`,
		automationID, LogSent, LogBounced, LogFailed, LogSkipped)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []StepLogCounts
	for rows.Next() {
		var c StepLogCounts
		if err := rows.Scan(&c.StepID, &c.Sent, &c.EmailSent, &c.SMSSent,
			&c.Delivered, &c.Opened, &c.Clicked, &c.Bounced, &c.Unsubscribed,
			&c.Failed, &c.Skipped); err != nil {
			continue
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ---- win-back rules ----

const winbackColumns = `id, shop_domain, automation_id, name, days_inactive,
	minimum_lifetime_value, minimum_orders, maximum_orders, customer_tags,
	exclude_tags, is_active, last_run_at, customers_enrolled_last_run,
	created_at, updated_at`

func scanWinbackRule(scan func(...interface{}) error) (*WinbackRule, error) {
	var r WinbackRule
	err := scan(&r.ID, &r.ShopDomain, &r.AutomationID, &r.Name, &r.DaysInactive,
		&r.MinimumLifetimeValue, &r.MinimumOrders, &r.MaximumOrders,
		pq.Array(&r.CustomerTags), pq.Array(&r.ExcludeTags), &r.IsActive,
		&r.LastRunAt, &r.CustomersEnrolledLastRun, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateWinbackRule(ctx context.Context, r *WinbackRule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO winback_rules
			(id, shop_domain, automation_id, name, days_inactive, minimum_lifetime_value,
			minimum_orders, maximum_orders, customer_tags, exclude_tags, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.ShopDomain, r.AutomationID, r.Name, r.DaysInactive,
		r.MinimumLifetimeValue, r.MinimumOrders, r.MaximumOrders,
		pq.Array(r.CustomerTags), pq.Array(r.ExcludeTags), r.IsActive)
	return err
}

func (s *Store) UpdateWinbackRule(ctx context.Context, r *WinbackRule) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE winback_rules
		SET name=$1, days_inactive=$2, minimum_lifetime_value=$3, minimum_orders=$4,
			maximum_orders=$5, customer_tags=$6, exclude_tags=$7, is_active=$8, updated_at=NOW()
		WHERE id = $9`,
		r.Name, r.DaysInactive, r.MinimumLifetimeValue, r.MinimumOrders,
		r.MaximumOrders, pq.Array(r.CustomerTags), pq.Array(r.ExcludeTags),
		r.IsActive, r.ID)
	return err
}

func (s *Store) DeleteWinbackRule(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM winback_rules WHERE id = $1`, id)
	return err
}

func (s *Store) WinbackRuleByID(ctx context.Context, id uuid.UUID) (*WinbackRule, error) {
	r, err := scanWinbackRule(s.db.QueryRowContext(ctx,
		`SELECT `+winbackColumns+` FROM winback_rules WHERE id = $1`, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *Store) WinbackRulesForShop(ctx context.Context, shopDomain string, activeOnly bool) ([]WinbackRule, error) {
	query := `SELECT ` + winbackColumns + ` FROM winback_rules WHERE shop_domain = $1`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, shopDomain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []WinbackRule
	for rows.Next() {
		r, err := scanWinbackRule(rows.Scan)
		if err != nil {
			continue
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// StampWinbackRun records when a rule last ran and how many customers it
// enrolled.
func (s *Store) StampWinbackRun(ctx context.Context, ruleID uuid.UUID, at time.Time, enrolled int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE winback_rules
		SET last_run_at = $2, customers_enrolled_last_run = $3, updated_at = NOW()
		WHERE id = $1`,
		ruleID, at, enrolled)
	return err
}
