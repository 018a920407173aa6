package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/domain"
	"github.com/baechuer/notify-platform/internal/ingress"
	"github.com/baechuer/notify-platform/internal/template"
)

// Handler serves the notification and template APIs.
type Handler struct {
	ingress   *ingress.Service
	templates *template.Engine
	lg        zerolog.Logger

	// ReadyChecks are probed by /health/ready; any failure flips readiness.
	readyChecks map[string]func() error
}

func NewHandler(ing *ingress.Service, templates *template.Engine, readyChecks map[string]func() error, lg zerolog.Logger) *Handler {
	return &Handler{
		ingress:     ing,
		templates:   templates,
		readyChecks: readyChecks,
		lg:          lg.With().Str("component", "rest_handler").Logger(),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Fail(w, http.StatusBadRequest, string(domain.ErrCodeInvalidInput),
			"invalid request body", RequestIDFrom(r.Context()))
		return false
	}
	return true
}

// ---- notifications ----

func (h *Handler) SubmitNotification(w http.ResponseWriter, r *http.Request) {
	var req domain.NotificationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.ingress.Submit(r.Context(), &req, RequestIDFrom(r.Context()))
	if err != nil {
		FailErr(w, err, RequestIDFrom(r.Context()))
		return
	}

	status := http.StatusAccepted
	message := "notification queued"
	if result.AlreadyProcessed {
		status = http.StatusOK
		message = "request already processed"
	}
	OK(w, status, result, message)
}

func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ingress.Get(r.Context(), chi.URLParam(r, "notificationID"))
	if err != nil {
		FailErr(w, err, RequestIDFrom(r.Context()))
		return
	}
	OK(w, http.StatusOK, rec, "")
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFrom(r.Context())
	if userID == "" {
		// API-key callers must name the user explicitly.
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		Fail(w, http.StatusBadRequest, string(domain.ErrCodeInvalidInput),
			"user_id is required", RequestIDFrom(r.Context()))
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	records, meta, err := h.ingress.List(r.Context(), userID, page, limit)
	if err != nil {
		FailErr(w, err, RequestIDFrom(r.Context()))
		return
	}
	OKPaged(w, records, meta)
}

// UpdateStatus is called by workers after a terminal delivery outcome.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var upd domain.StatusUpdate
	if !decodeBody(w, r, &upd) {
		return
	}

	if err := h.ingress.UpdateStatus(r.Context(), &upd); err != nil {
		FailErr(w, err, RequestIDFrom(r.Context()))
		return
	}

	h.lg.Info().
		Str("notification_id", upd.NotificationID).
		Str("status", string(upd.Status)).
		Str("service", ServiceNameFrom(r.Context())).
		Msg("status updated")
	OK(w, http.StatusOK, nil, "status updated")
}

// ---- templates ----

func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in template.CreateInput
	if !decodeBody(w, r, &in) {
		return
	}
	t, err := h.templates.Create(r.Context(), in)
	if err != nil {
		FailErr(w, err, RequestIDFrom(r.Context()))
		return
	}
	OK(w, http.StatusCreated, t, "template created")
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	version := queryInt(r, "version", 0)
	t, err := h.templates.Get(r.Context(), chi.URLParam(r, "code"), r.URL.Query().Get("language"), version)
	if err != nil {
		FailErr(w, err, RequestIDFrom(r.Context()))
		return
	}
	OK(w, http.StatusOK, t, "")
}

func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var in template.UpdateInput
	if !decodeBody(w, r, &in) {
		return
	}
	t, err := h.templates.Update(r.Context(), chi.URLParam(r, "code"), r.URL.Query().Get("language"), in)
	if err != nil {
		FailErr(w, err, RequestIDFrom(r.Context()))
		return
	}
	OK(w, http.StatusOK, t, "template updated to version "+strconv.Itoa(t.Version))
}

func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	err := h.templates.Delete(r.Context(), chi.URLParam(r, "code"), r.URL.Query().Get("language"))
	if err != nil {
		FailErr(w, err, RequestIDFrom(r.Context()))
		return
	}
	OK(w, http.StatusOK, nil, "template deleted")
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	filter := template.ListFilter{
		Language:   r.URL.Query().Get("language"),
		ActiveOnly: r.URL.Query().Get("active_only") != "false",
		Page:       queryInt(r, "page", 1),
		Limit:      queryInt(r, "limit", 20),
	}
	templates, meta, err := h.templates.List(r.Context(), filter)
	if err != nil {
		FailErr(w, err, RequestIDFrom(r.Context()))
		return
	}
	OKPaged(w, templates, meta)
}

func (h *Handler) TemplateVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.templates.Versions(r.Context(), chi.URLParam(r, "code"), r.URL.Query().Get("language"))
	if err != nil {
		FailErr(w, err, RequestIDFrom(r.Context()))
		return
	}
	OK(w, http.StatusOK, versions, "")
}

// RenderTemplate is called by workers to materialize a message body.
func (h *Handler) RenderTemplate(w http.ResponseWriter, r *http.Request) {
	var req template.RenderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.templates.Render(r.Context(), req)
	if err != nil {
		FailErr(w, err, RequestIDFrom(r.Context()))
		return
	}
	OK(w, http.StatusOK, result, "template rendered")
}

// ---- health ----

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	OK(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}, "")
}

func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	OK(w, http.StatusOK, map[string]string{"status": "alive"}, "")
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.readyChecks))
	healthy := true
	for name, check := range h.readyChecks {
		if err := check(); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, Envelope{Success: healthy, Data: checks})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
