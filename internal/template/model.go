package template

import "time"

// Template is one stored version of a notification template.
type Template struct {
	ID           int64     `json:"id"`
	TemplateCode string    `json:"template_code"`
	Language     string    `json:"language"`
	Version      int       `json:"version"`
	Name         string    `json:"name"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	IsActive     bool      `json:"is_active"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateInput creates version 1 of a new template.
type CreateInput struct {
	TemplateCode string `json:"template_code" validate:"required,max=100"`
	Language     string `json:"language" validate:"required,max=10"`
	Name         string `json:"name" validate:"required,max=255"`
	Subject      string `json:"subject" validate:"max=500"`
	Body         string `json:"body" validate:"required"`
	CreatedBy    string `json:"created_by"`
}

// UpdateInput bumps a template to a new version. Empty fields inherit from
// the current version.
type UpdateInput struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// RenderRequest asks for a template rendered with variables.
type RenderRequest struct {
	TemplateCode string         `json:"template_code" validate:"required"`
	Language     string         `json:"language"`
	Version      int            `json:"version" validate:"gte=0"`
	Variables    map[string]any `json:"variables"`
}

// RenderResult is the rendered output.
type RenderResult struct {
	TemplateCode string    `json:"template_code"`
	Language     string    `json:"language"`
	Version      int       `json:"version"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	RenderedAt   time.Time `json:"rendered_at"`
}

// ListFilter narrows a template listing.
type ListFilter struct {
	Language   string
	ActiveOnly bool
	Page       int
	Limit      int
}
