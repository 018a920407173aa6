package template

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/notify-platform/internal/domain"
)

// fakeRepo keeps templates in memory with the same versioning rules as the
// Postgres repository.
type fakeRepo struct {
	rows    []*Template
	nextID  int64
	getHits int
}

func (f *fakeRepo) activeOf(code, language string) *Template {
	for _, t := range f.rows {
		if t.TemplateCode == code && t.Language == language && t.IsActive {
			return t
		}
	}
	return nil
}

func (f *fakeRepo) Create(_ context.Context, in CreateInput) (*Template, error) {
	if f.activeOf(in.TemplateCode, in.Language) != nil {
		return nil, domain.NewInvalidInput(fmt.Sprintf(
			"template %s already exists for language %s", in.TemplateCode, in.Language))
	}
	f.nextID++
	t := &Template{
		ID: f.nextID, TemplateCode: in.TemplateCode, Language: in.Language,
		Version: 1, Name: in.Name, Subject: in.Subject, Body: in.Body,
		IsActive: true, CreatedBy: in.CreatedBy,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	f.rows = append(f.rows, t)
	return t, nil
}

func (f *fakeRepo) GetActive(_ context.Context, code, language string, version int) (*Template, error) {
	f.getHits++
	for _, t := range f.rows {
		if t.TemplateCode != code || t.Language != language {
			continue
		}
		if version > 0 {
			if t.Version == version {
				return t, nil
			}
			continue
		}
		if t.IsActive {
			return t, nil
		}
	}
	return nil, domain.NewNotFound("template not found")
}

func (f *fakeRepo) Update(_ context.Context, code, language string, in UpdateInput) (*Template, error) {
	current := f.activeOf(code, language)
	if current == nil {
		return nil, domain.NewNotFound("template not found")
	}
	current.IsActive = false

	next := *current
	next.Version = current.Version + 1
	next.IsActive = true
	if in.Name != "" {
		next.Name = in.Name
	}
	if in.Subject != "" {
		next.Subject = in.Subject
	}
	if in.Body != "" {
		next.Body = in.Body
	}
	f.nextID++
	next.ID = f.nextID
	f.rows = append(f.rows, &next)
	return &next, nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, code, language string) error {
	current := f.activeOf(code, language)
	if current == nil {
		return domain.NewNotFound("template not found")
	}
	current.IsActive = false
	return nil
}

func (f *fakeRepo) List(_ context.Context, filter ListFilter) ([]*Template, int, error) {
	var out []*Template
	for _, t := range f.rows {
		if filter.Language != "" && t.Language != filter.Language {
			continue
		}
		if filter.ActiveOnly && !t.IsActive {
			continue
		}
		out = append(out, t)
	}
	return out, len(out), nil
}

func (f *fakeRepo) Versions(_ context.Context, code, language string) ([]*Template, error) {
	var out []*Template
	for _, t := range f.rows {
		if t.TemplateCode == code && t.Language == language {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, domain.NewNotFound("no versions found")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &fakeRepo{}
	engine := NewEngine(repo, NewCache(client, time.Hour), "en", zerolog.Nop())
	return engine, repo, mr
}

func welcomeInput() CreateInput {
	return CreateInput{
		TemplateCode: "welcome_email",
		Language:     "en",
		Name:         "Welcome",
		Subject:      "Welcome, {{name}}!",
		Body:         `Hi {{name|capitalize}}, thanks for joining {{product|default:"Acme"}}.`,
	}
}

func TestEngine_CreateAndGet(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, welcomeInput())
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)
	assert.True(t, created.IsActive)

	got, err := engine.Get(ctx, "welcome_email", "en", 0)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestEngine_Create_RejectsBadSyntax(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	in := welcomeInput()
	in.Body = "Hi {{na me}}"
	_, err := engine.Create(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeTemplateInvalid, domain.CodeOf(err))
}

func TestEngine_Create_RejectsDuplicate(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, welcomeInput())
	require.NoError(t, err)

	_, err = engine.Create(ctx, welcomeInput())
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeInvalidInput, domain.CodeOf(err))
}

func TestEngine_Get_UsesCache(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, welcomeInput())
	require.NoError(t, err)

	_, err = engine.Get(ctx, "welcome_email", "en", 0)
	require.NoError(t, err)
	hitsAfterFirst := repo.getHits

	_, err = engine.Get(ctx, "welcome_email", "en", 0)
	require.NoError(t, err)
	assert.Equal(t, hitsAfterFirst, repo.getHits, "second read must be served from cache")
}

func TestEngine_Get_DefaultLanguage(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, welcomeInput())
	require.NoError(t, err)

	got, err := engine.Get(ctx, "welcome_email", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "en", got.Language)
}

func TestEngine_Update_BumpsVersionAndInvalidatesCache(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, welcomeInput())
	require.NoError(t, err)

	// Warm the cache with v1.
	_, err = engine.Get(ctx, "welcome_email", "en", 0)
	require.NoError(t, err)

	updated, err := engine.Update(ctx, "welcome_email", "en", UpdateInput{Body: "New body {{name}}"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.True(t, updated.IsActive)

	// Exactly one active version remains.
	active := 0
	for _, row := range repo.rows {
		if row.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	// Latest read sees v2, not the cached v1.
	got, err := engine.Get(ctx, "welcome_email", "en", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "New body {{name}}", got.Body)
}

func TestEngine_Update_InheritsUnsetFields(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, welcomeInput())
	require.NoError(t, err)

	updated, err := engine.Update(ctx, "welcome_email", "en", UpdateInput{Name: "Welcome v2"})
	require.NoError(t, err)
	assert.Equal(t, "Welcome v2", updated.Name)
	assert.Equal(t, created.Subject, updated.Subject)
	assert.Equal(t, created.Body, updated.Body)
}

func TestEngine_Delete_SoftDeletes(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, welcomeInput())
	require.NoError(t, err)

	require.NoError(t, engine.Delete(ctx, "welcome_email", "en"))

	_, err = engine.Get(ctx, "welcome_email", "en", 0)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))

	// History remains.
	versions, err := engine.Versions(ctx, "welcome_email", "en")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestEngine_Render(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, welcomeInput())
	require.NoError(t, err)

	result, err := engine.Render(ctx, RenderRequest{
		TemplateCode: "welcome_email",
		Language:     "en",
		Variables:    map[string]any{"name": "alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Welcome, alice!", result.Subject)
	assert.Equal(t, "Hi Alice, thanks for joining Acme.", result.Body)
	assert.Equal(t, 1, result.Version)
}

func TestEngine_Render_TemplateMissing(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Render(context.Background(), RenderRequest{TemplateCode: "nope"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))
}

func TestEngine_Get_HistoricalVersion(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, welcomeInput())
	require.NoError(t, err)
	_, err = engine.Update(ctx, "welcome_email", "en", UpdateInput{Body: "v2 {{name}}"})
	require.NoError(t, err)
	_, err = engine.Update(ctx, "welcome_email", "en", UpdateInput{Body: "v3 {{name}}"})
	require.NoError(t, err)

	// Every historical version stays readable by explicit number.
	v1, err := engine.Get(ctx, "welcome_email", "en", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, created.Subject, v1.Subject)
	assert.Equal(t, created.Body, v1.Body)
	assert.False(t, v1.IsActive)

	v2, err := engine.Get(ctx, "welcome_email", "en", 2)
	require.NoError(t, err)
	assert.Equal(t, "v2 {{name}}", v2.Body)

	// The unversioned read still resolves to the newest active row.
	latest, err := engine.Get(ctx, "welcome_email", "en", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)
	assert.Equal(t, "v3 {{name}}", latest.Body)
}

func TestEngine_Versions_NewestFirst(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, welcomeInput())
	require.NoError(t, err)
	_, err = engine.Update(ctx, "welcome_email", "en", UpdateInput{Body: "v2 {{name}}"})
	require.NoError(t, err)

	versions, err := engine.Versions(ctx, "welcome_email", "en")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, 1, versions[1].Version)
	assert.False(t, versions[1].IsActive)
}
