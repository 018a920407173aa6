package template

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/domain"
	"github.com/baechuer/notify-platform/internal/metrics"
)

// Engine combines storage, cache, and rendering behind one API. All reads
// go through the cache; every write invalidates the template's whole cache
// entry set before returning.
type Engine struct {
	repo        Repository
	cache       *Cache
	defaultLang string
	lg          zerolog.Logger
}

func NewEngine(repo Repository, cache *Cache, defaultLang string, lg zerolog.Logger) *Engine {
	if defaultLang == "" {
		defaultLang = "en"
	}
	return &Engine{
		repo:        repo,
		cache:       cache,
		defaultLang: defaultLang,
		lg:          lg.With().Str("component", "template_engine").Logger(),
	}
}

// Create validates the template syntax and stores version 1.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*Template, error) {
	if in.Language == "" {
		in.Language = e.defaultLang
	}
	if err := ValidateSyntax(in.Subject); err != nil {
		return nil, err
	}
	if err := ValidateSyntax(in.Body); err != nil {
		return nil, err
	}

	t, err := e.repo.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Invalidate(ctx, t.TemplateCode, t.Language); err != nil {
		e.lg.Warn().Err(err).Str("template_code", t.TemplateCode).Msg("cache invalidation failed")
	}
	return t, nil
}

// Get returns the requested version (0 = latest active), read through the
// cache.
func (e *Engine) Get(ctx context.Context, code, language string, version int) (*Template, error) {
	if language == "" {
		language = e.defaultLang
	}

	if t, ok := e.cache.Get(ctx, code, language, version); ok {
		metrics.RecordTemplateCache("hit")
		return t, nil
	}
	metrics.RecordTemplateCache("miss")

	t, err := e.repo.GetActive(ctx, code, language, version)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, t)
	return t, nil
}

// Update stores a new version and deactivates the old one.
func (e *Engine) Update(ctx context.Context, code, language string, in UpdateInput) (*Template, error) {
	if language == "" {
		language = e.defaultLang
	}
	if in.Subject != "" {
		if err := ValidateSyntax(in.Subject); err != nil {
			return nil, err
		}
	}
	if in.Body != "" {
		if err := ValidateSyntax(in.Body); err != nil {
			return nil, err
		}
	}

	t, err := e.repo.Update(ctx, code, language, in)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Invalidate(ctx, code, language); err != nil {
		e.lg.Warn().Err(err).Str("template_code", code).Msg("cache invalidation failed")
	}
	return t, nil
}

// Delete soft-deletes the active version.
func (e *Engine) Delete(ctx context.Context, code, language string) error {
	if language == "" {
		language = e.defaultLang
	}
	if err := e.repo.SoftDelete(ctx, code, language); err != nil {
		return err
	}
	if err := e.cache.Invalidate(ctx, code, language); err != nil {
		e.lg.Warn().Err(err).Str("template_code", code).Msg("cache invalidation failed")
	}
	return nil
}

// List returns one page of templates.
func (e *Engine) List(ctx context.Context, f ListFilter) ([]*Template, *domain.PaginationMeta, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	templates, total, err := e.repo.List(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	meta := &domain.PaginationMeta{
		Page:       f.Page,
		Limit:      f.Limit,
		Total:      total,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	}
	return templates, meta, nil
}

// Versions returns the full version history.
func (e *Engine) Versions(ctx context.Context, code, language string) ([]*Template, error) {
	if language == "" {
		language = e.defaultLang
	}
	return e.repo.Versions(ctx, code, language)
}

// Render fetches the template and substitutes the variables.
func (e *Engine) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	t, err := e.Get(ctx, req.TemplateCode, req.Language, req.Version)
	if err != nil {
		return nil, err
	}

	subject, body := RenderStrings(t.Subject, t.Body, req.Variables)
	return &RenderResult{
		TemplateCode: t.TemplateCode,
		Language:     t.Language,
		Version:      t.Version,
		Subject:      subject,
		Body:         body,
		RenderedAt:   time.Now().UTC(),
	}, nil
}
