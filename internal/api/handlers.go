package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/LeventeLantos/message-oven/internal/model"
	"github.com/LeventeLantos/message-oven/internal/scheduler"
	"github.com/LeventeLantos/message-oven/internal/service"
)

// maxBodyBytes bounds JSON request bodies; multipart campaigns have their own
// limit.
const maxBodyBytes = 1 << 20

// ProviderReader exposes the read-only provider calls served per account.
type ProviderReader interface {
	Templates(ctx context.Context, creds model.Credentials) ([]model.TemplateDescriptor, error)
	BusinessInfo(ctx context.Context, creds model.Credentials) (json.RawMessage, error)
}

type Deps struct {
	Scheduler *scheduler.Scheduler
	Registry  *service.Registry
	Oven      *service.Oven
	Campaigns *service.Campaigns
	Provider  ProviderReader
	Logger    *slog.Logger
}

type Handler struct {
	sched     *scheduler.Scheduler
	registry  *service.Registry
	oven      *service.Oven
	campaigns *service.Campaigns
	provider  ProviderReader
	log       *slog.Logger
}

func NewHandler(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		sched:     d.Scheduler,
		registry:  d.Registry,
		oven:      d.Oven,
		campaigns: d.Campaigns,
		provider:  d.Provider,
		log:       log,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type schedulerStatus struct {
	scheduler.Status
	IntervalMs int64 `json:"intervalMs"`
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeSchedulerStatus(w)
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	h.writeSchedulerStatus(w)
}

// SchedulerStop halts future ticks. Cycles already running finish on their
// own.
func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	h.writeSchedulerStatus(w)
}

func (h *Handler) writeSchedulerStatus(w http.ResponseWriter) {
	st := h.sched.Status()
	writeJSON(w, http.StatusOK, schedulerStatus{Status: st, IntervalMs: st.Interval.Milliseconds()})
}

// account resolves the {id} path parameter. It writes the error response
// and returns nil when the account does not exist.
func (h *Handler) account(w http.ResponseWriter, r *http.Request) *service.Account {
	acc, err := h.registry.FindByID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return nil
	}
	return acc
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
