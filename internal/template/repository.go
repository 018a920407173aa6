package template

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/notify-platform/internal/domain"
)

// Repository is the persistence contract for templates. An interface so the
// engine can be tested against an in-memory fake.
type Repository interface {
	Create(ctx context.Context, in CreateInput) (*Template, error)
	GetActive(ctx context.Context, code, language string, version int) (*Template, error)
	Update(ctx context.Context, code, language string, in UpdateInput) (*Template, error)
	SoftDelete(ctx context.Context, code, language string) error
	List(ctx context.Context, f ListFilter) ([]*Template, int, error)
	Versions(ctx context.Context, code, language string) ([]*Template, error)
}

// PGRepository stores templates in Postgres. Versioning invariant: at most
// one active row per (template_code, language), enforced by a partial
// unique index.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const templateColumns = `id, template_code, language, version, name,
	COALESCE(subject, ''), body, is_active, COALESCE(created_by, ''),
	created_at, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.TemplateCode, &t.Language, &t.Version, &t.Name,
		&t.Subject, &t.Body, &t.IsActive, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts version 1. Fails when an active version already exists.
func (r *PGRepository) Create(ctx context.Context, in CreateInput) (*Template, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO templates (template_code, language, version, name, subject, body, is_active, created_by)
		VALUES ($1, $2, 1, $3, $4, $5, TRUE, $6)
		RETURNING `+templateColumns,
		in.TemplateCode, in.Language, in.Name, in.Subject, in.Body, in.CreatedBy)

	t, err := scanTemplate(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.NewInvalidInput(fmt.Sprintf(
				"template %s already exists for language %s", in.TemplateCode, in.Language))
		}
		return nil, fmt.Errorf("insert template: %w", err)
	}
	return t, nil
}

// GetActive returns the active row, or the given version when version > 0.
// Historical versions stay readable after updates deactivate them.
func (r *PGRepository) GetActive(ctx context.Context, code, language string, version int) (*Template, error) {
	query := `SELECT ` + templateColumns + `
		FROM templates
		WHERE template_code = $1 AND language = $2`
	args := []any{code, language}
	if version > 0 {
		query += ` AND version = $3`
		args = append(args, version)
	} else {
		query += ` AND is_active`
	}
	query += ` ORDER BY version DESC LIMIT 1`

	t, err := scanTemplate(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFound("template not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}
	return t, nil
}

// Update deactivates the current version and inserts version+1 in one
// transaction so a reader never sees zero or two active versions.
func (r *PGRepository) Update(ctx context.Context, code, language string, in UpdateInput) (*Template, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanTemplate(tx.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM templates
		WHERE template_code = $1 AND language = $2 AND is_active
		ORDER BY version DESC LIMIT 1
		FOR UPDATE`, code, language))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFound("template not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock current version: %w", err)
	}

	name := current.Name
	if in.Name != "" {
		name = in.Name
	}
	subject := current.Subject
	if in.Subject != "" {
		subject = in.Subject
	}
	body := current.Body
	if in.Body != "" {
		body = in.Body
	}

	if _, err := tx.Exec(ctx, `
		UPDATE templates SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1`, current.ID); err != nil {
		return nil, fmt.Errorf("deactivate current version: %w", err)
	}

	next, err := scanTemplate(tx.QueryRow(ctx, `
		INSERT INTO templates (template_code, language, version, name, subject, body, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
		RETURNING `+templateColumns,
		code, language, current.Version+1, name, subject, body, current.CreatedBy))
	if err != nil {
		return nil, fmt.Errorf("insert new version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}

// SoftDelete deactivates the active version. History rows remain queryable
// through Versions.
func (r *PGRepository) SoftDelete(ctx context.Context, code, language string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE templates SET is_active = FALSE, updated_at = NOW()
		WHERE template_code = $1 AND language = $2 AND is_active`, code, language)
	if err != nil {
		return fmt.Errorf("soft delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFound("template not found")
	}
	return nil
}

// List returns one page of templates, newest first.
func (r *PGRepository) List(ctx context.Context, f ListFilter) ([]*Template, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}

	where := ` WHERE 1=1`
	args := []any{}
	if f.Language != "" {
		args = append(args, f.Language)
		where += fmt.Sprintf(" AND language = $%d", len(args))
	}
	if f.ActiveOnly {
		where += " AND is_active"
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM templates`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+` FROM templates`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, total, rows.Err()
}

// Versions returns every version of a template, newest first.
func (r *PGRepository) Versions(ctx context.Context, code, language string) ([]*Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM templates
		WHERE template_code = $1 AND language = $2
		ORDER BY version DESC`, code, language)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, domain.NewNotFound("no versions found")
	}
	return templates, nil
}
