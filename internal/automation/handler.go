package automation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/janastudio/agenda-automation/internal/pkg/ctxlog"
	"github.com/janastudio/agenda-automation/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrJobNotFound, Status: http.StatusNotFound, Message: "notification job not found"},
}

// Handler exposes the internal automation endpoints: explicit processing
// triggers for cron and operators, scheduling hooks for the booking
// application, and a job inspection endpoint.
type Handler struct {
	scheduler *Scheduler
	processor *Processor
	jobs      JobRepository
	validator *validator.Validate
}

// NewHandler creates an automation handler.
func NewHandler(scheduler *Scheduler, processor *Processor, jobs JobRepository) *Handler {
	return &Handler{
		scheduler: scheduler,
		processor: processor,
		jobs:      jobs,
		validator: validator.New(),
	}
}

// RegisterRoutes registers the internal automation routes. The caller wraps
// them with the shared-secret middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/process", h.Process)
	r.Post("/schedule", h.ScheduleLifecycle)
	r.Post("/schedule-canceled", h.ScheduleCanceled)
	r.Get("/jobs/{id}", h.GetJob)
}

// RegisterCronRoutes registers the cron trigger. Kept separate so it can sit
// behind its own secret.
func (h *Handler) RegisterCronRoutes(r chi.Router) {
	r.Post("/cron", h.Cron)
}

// Process handles POST /internal/automation/process.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var filter ProcessFilter
	if err := decodeOptionalBody(r, &filter); err != nil {
		httputil.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(&filter); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	summary, err := h.processor.ProcessDue(r.Context(), filter)
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("processing failed", "error", err)
		httputil.Fail(w, http.StatusInternalServerError, "processing failed")
		return
	}

	httputil.OK(w, summary)
}

// Cron handles POST /internal/automation/cron: a full default batch run.
func (h *Handler) Cron(w http.ResponseWriter, r *http.Request) {
	summary, err := h.processor.ProcessDue(r.Context(), ProcessFilter{})
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("cron run failed", "error", err)
		httputil.Fail(w, http.StatusInternalServerError, "processing failed")
		return
	}

	httputil.OK(w, summary)
}

// ScheduleLifecycle handles POST /internal/automation/schedule, invoked by
// the booking application when an appointment is created.
func (h *Handler) ScheduleLifecycle(w http.ResponseWriter, r *http.Request) {
	var in LifecycleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(&in); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	results, err := h.scheduler.ScheduleLifecycle(r.Context(), in)
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("lifecycle scheduling failed", "error", err)
		httputil.Fail(w, http.StatusInternalServerError, "scheduling failed")
		return
	}

	httputil.OK(w, results)
}

// ScheduleCanceled handles POST /internal/automation/schedule-canceled.
func (h *Handler) ScheduleCanceled(w http.ResponseWriter, r *http.Request) {
	var in CanceledInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(&in); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.scheduler.ScheduleCanceled(r.Context(), in)
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("cancellation scheduling failed", "error", err)
		httputil.Fail(w, http.StatusInternalServerError, "scheduling failed")
		return
	}

	httputil.OK(w, result)
}

// GetJob handles GET /internal/automation/jobs/{id} for operators.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, jobView(job))
}

func jobView(job *Job) map[string]any {
	return map[string]any{
		"id":             job.ID,
		"tenant_id":      job.TenantID,
		"appointment_id": job.AppointmentID,
		"channel":        job.Channel,
		"type":           job.Type,
		"status":         job.Status,
		"scheduled_for":  job.ScheduledFor,
		"payload":        job.Payload,
		"created_at":     job.CreatedAt,
		"updated_at":     job.UpdatedAt,
	}
}

// decodeOptionalBody decodes a JSON body into dst, treating an empty body as
// the zero value.
func decodeOptionalBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
