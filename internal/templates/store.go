// Package templates stores reusable email templates and renders them with
// the Liquid template language. Steps can reference a template instead of
// carrying inline HTML.
package templates

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Template statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// EmailTemplate is a stored, shop-scoped email body with a default subject.
type EmailTemplate struct {
	ID         uuid.UUID `json:"id"`
	ShopDomain string    `json:"shop_domain"`
	Name       string    `json:"name"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const templateColumns = `id, shop_domain, name, COALESCE(subject,''), body, status, created_at, updated_at`

func scanTemplate(scan func(...interface{}) error) (*EmailTemplate, error) {
	var t EmailTemplate
	err := scan(&t.ID, &t.ShopDomain, &t.Name, &t.Subject, &t.Body, &t.Status,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) Create(ctx context.Context, t *EmailTemplate) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = StatusDraft
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_templates (id, shop_domain, name, subject, body, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.ShopDomain, t.Name, t.Subject, t.Body, t.Status)
	return err
}

func (s *Store) Update(ctx context.Context, t *EmailTemplate) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_templates SET name=$1, subject=$2, body=$3, status=$4, updated_at=NOW()
		WHERE id = $5`,
		t.Name, t.Subject, t.Body, t.Status, t.ID)
	return err
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM email_templates WHERE id = $1`, id)
	return err
}

func (s *Store) ByID(ctx context.Context, id uuid.UUID) (*EmailTemplate, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM email_templates WHERE id = $1`, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *Store) ForShop(ctx context.Context, shopDomain string) ([]EmailTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM email_templates
		WHERE shop_domain = $1 ORDER BY name`,
		shopDomain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmailTemplate
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			continue
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
