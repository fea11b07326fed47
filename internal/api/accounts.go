package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LeventeLantos/message-oven/internal/model"
	"github.com/LeventeLantos/message-oven/internal/service"
)

// campaignFormBytes bounds the in-memory part of a multipart campaign upload.
const campaignFormBytes = 32 << 20

type createAccountRequest struct {
	TenantID string `json:"tenantId"`
	model.Credentials
}

type scheduleRequest struct {
	BatchSize *int `json:"batchSize"`
	// milliseconds
	Frequency *int64 `json:"frequency"`
}

type batchRequest struct {
	Messages []model.PendingMessage `json:"messages"`
}

type campaignRequest struct {
	Template   model.TemplateDescriptor `json:"template"`
	Recipients []string                 `json:"recipients"`
}

type numberRequest struct {
	Number string `json:"number"`
}

type inboundRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Name   string `json:"displayName"`
	// unix seconds; zero means now
	Timestamp int64 `json:"timestamp"`
}

type queueResponse struct {
	QueueLength int `json:"queueLength"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	acc, err := h.registry.Create(r.Context(), service.CreateForm{TenantID: req.TenantID, Credentials: req.Credentials})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc.Snapshot())
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		h.badRequest(w, r, errors.New("tenant_id query parameter is required"))
		return
	}
	accounts := h.registry.ListByTenant(tenantID)
	items := make([]model.Account, 0, len(accounts))
	for _, a := range accounts {
		items = append(items, a.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	writeJSON(w, http.StatusOK, acc.Snapshot())
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	removed, err := h.registry.Delete(r.Context(), acc.ID())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (h *Handler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	var req model.Credentials
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	h.respond(w, r, acc, acc.UpdateCredentials(r.Context(), req))
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	u := service.ScheduleUpdate{BatchSize: req.BatchSize}
	if req.Frequency != nil {
		d := time.Duration(*req.Frequency) * time.Millisecond
		u.Frequency = &d
	}
	h.respond(w, r, acc, acc.UpdateSchedule(r.Context(), u))
}

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if acc := h.account(w, r); acc != nil {
		h.respond(w, r, acc, acc.Pause(r.Context()))
	}
}

func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	if acc := h.account(w, r); acc != nil {
		h.respond(w, r, acc, acc.Resume(r.Context()))
	}
}

func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if acc := h.account(w, r); acc != nil {
		h.respond(w, r, acc, acc.ClearQueue(r.Context()))
	}
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	var msg model.PendingMessage
	if err := decodeBody(r, &msg); err != nil {
		h.badRequest(w, r, err)
		return
	}
	n, err := acc.Enqueue(r.Context(), msg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queueResponse{QueueLength: n})
}

func (h *Handler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	n, err := acc.EnqueueBatch(r.Context(), req.Messages)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queueResponse{QueueLength: n})
}

// Campaign accepts either a JSON body or a multipart form with the JSON in a
// "data" field and the header image in "file".
func (h *Handler) Campaign(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}

	var (
		req   campaignRequest
		media *service.Media
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(campaignFormBytes); err != nil {
			h.badRequest(w, r, fmt.Errorf("parse multipart form: %w", err))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		if err := json.Unmarshal([]byte(r.FormValue("data")), &req); err != nil {
			h.badRequest(w, r, fmt.Errorf("decode data field: %w", err))
			return
		}
		file, header, err := r.FormFile("file")
		switch {
		case err == nil:
			defer file.Close()
			media = &service.Media{
				Filename: header.Filename,
				MimeType: header.Header.Get("Content-Type"),
				Body:     file,
			}
		case !errors.Is(err, http.ErrMissingFile):
			h.badRequest(w, r, fmt.Errorf("read file field: %w", err))
			return
		}
	} else if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	n, err := h.campaigns.Prepare(r.Context(), acc, req.Template, req.Recipients, media)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queueResponse{QueueLength: n})
}

func (h *Handler) Suppress(w http.ResponseWriter, r *http.Request) {
	h.suppression(w, r, (*service.Account).Suppress)
}

func (h *Handler) Unsuppress(w http.ResponseWriter, r *http.Request) {
	h.suppression(w, r, (*service.Account).Unsuppress)
}

func (h *Handler) suppression(w http.ResponseWriter, r *http.Request, apply func(*service.Account, context.Context, string) error) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	var req numberRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if strings.TrimSpace(req.Number) == "" {
		h.badRequest(w, r, errors.New("number is required"))
		return
	}
	h.respond(w, r, acc, apply(acc, r.Context(), req.Number))
}

func (h *Handler) ReceiveInbound(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	var req inboundRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	form := service.InboundForm{Sender: req.Sender, Text: req.Text, Name: req.Name}
	if req.Timestamp > 0 {
		form.Timestamp = time.Unix(req.Timestamp, 0)
	}
	msg, err := acc.ReceiveInbound(r.Context(), form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) ListInbound(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	items, err := acc.Inbound(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.InboundMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// SentLog and FailedLog page through the audit logs, oldest first.
func (h *Handler) SentLog(w http.ResponseWriter, r *http.Request) {
	if acc := h.account(w, r); acc != nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": page(r, acc.Snapshot().SentLog)})
	}
}

func (h *Handler) FailedLog(w http.ResponseWriter, r *http.Request) {
	if acc := h.account(w, r); acc != nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": page(r, acc.Snapshot().FailedLog)})
	}
}

func (h *Handler) Templates(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	items, err := h.provider.Templates(r.Context(), acc.Credentials())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) BusinessInfo(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	info, err := h.provider.BusinessInfo(r.Context(), acc.Credentials())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Bake runs one cycle right away, ignoring pause and dueness. A client
// disconnect does not abort the cycle.
func (h *Handler) Bake(w http.ResponseWriter, r *http.Request) {
	acc := h.account(w, r)
	if acc == nil {
		return
	}
	report, err := h.oven.RunCycle(context.WithoutCancel(r.Context()), acc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attempted":  report.Attempted,
		"sent":       report.Sent,
		"failed":     report.Failed,
		"skipped":    report.Skipped,
		"remaining":  report.Remaining,
		"durationMs": report.Duration.Milliseconds(),
	})
}

// respond writes the account snapshot, or err when the mutation failed.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, acc *service.Account, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc.Snapshot())
}

func page[T any](r *http.Request, items []T) []T {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	return items[offset:min(offset+limit, len(items))]
}
