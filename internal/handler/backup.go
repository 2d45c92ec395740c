package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/servicedesk/internal/auth"
	"github.com/dukerupert/servicedesk/internal/backup"
	"github.com/dukerupert/servicedesk/internal/middleware"
	"github.com/dukerupert/servicedesk/internal/model"
	"github.com/dukerupert/servicedesk/internal/websocket"
)

// BackupService is the orchestrator surface the controllers drive.
type BackupService interface {
	CreateBackup(ctx context.Context, t model.BackupType, actorID *int64, description string) (*backup.CreateResult, error)
	ListBackups(ctx context.Context, opts backup.ListOptions) (*backup.ListResult, error)
	GetBackup(ctx context.Context, backupID string) (*model.BackupRecord, error)
	DeleteBackup(ctx context.Context, backupID string, actorID *int64) error
	RestoreBackup(ctx context.Context, backupID string, actorID *int64, opts backup.RestoreOptions) (*backup.RestoreResult, error)
	CheckIntegrity(ctx context.Context, backupID string) (*backup.IntegrityReport, error)
	ListChecks(ctx context.Context, backupID string) ([]model.IntegrityCheckRecord, error)
	Status() backup.Status
}

type BackupHandler struct {
	svc      BackupService
	hub      *websocket.Hub
	audit    Auditor
	validate *validator.Validate
	logger   *slog.Logger
}

func NewBackupHandler(svc BackupService, hub *websocket.Hub, audit Auditor, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{
		svc:      svc,
		hub:      hub,
		audit:    audit,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *BackupHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

func (h *BackupHandler) record(r *http.Request, action, backupID string, err error, details map[string]any) {
	if h.audit == nil {
		return
	}
	h.audit.Record(r.Context(), AuditEvent{
		Action:    action,
		BackupID:  backupID,
		ActorID:   auth.ActorID(r.Context()),
		RequestID: middleware.RequestID(r.Context()),
		Err:       err,
		Details:   details,
	})
}

type createRequest struct {
	Type        string `json:"type" validate:"omitempty,oneof=daily weekly monthly manual"`
	Description string `json:"description" validate:"max=500"`
}

func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeOptional(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(w, validationMessage(err))
		return
	}
	if req.Type == "" {
		req.Type = string(model.BackupTypeManual)
	}

	res, err := h.svc.CreateBackup(r.Context(), model.BackupType(req.Type), auth.ActorID(r.Context()), req.Description)
	backupID := ""
	if res != nil {
		backupID = res.BackupID
	}
	h.record(r, "backup.create", backupID, err, map[string]any{"type": req.Type})
	if err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(websocket.NewMessage("backup", "created", res.BackupID, res))
	writeJSON(w, http.StatusCreated, res)
}

type listQuery struct {
	Type      string `validate:"omitempty,oneof=daily weekly monthly manual"`
	Status    string `validate:"omitempty,oneof=in_progress success failure"`
	SortBy    string `validate:"omitempty,oneof=created_at started_at file_size backup_type"`
	SortOrder string `validate:"omitempty,oneof=asc desc ASC DESC"`
	Limit     int    `validate:"min=0"`
	Offset    int    `validate:"min=0"`
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lq := listQuery{
		Type:      q.Get("type"),
		Status:    q.Get("status"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	var err error
	if lq.Limit, err = intParam(q.Get("limit")); err != nil {
		badRequest(w, "limit must be an integer")
		return
	}
	if lq.Offset, err = intParam(q.Get("offset")); err != nil {
		badRequest(w, "offset must be an integer")
		return
	}
	if err := h.validate.Struct(lq); err != nil {
		badRequest(w, validationMessage(err))
		return
	}

	res, err := h.svc.ListBackups(r.Context(), backup.ListOptions{
		Type:      model.BackupType(lq.Type),
		Status:    model.BackupStatus(lq.Status),
		SortBy:    lq.SortBy,
		SortOrder: lq.SortOrder,
		Limit:     lq.Limit,
		Offset:    lq.Offset,
	})
	details := map[string]any{"type": lq.Type, "status": lq.Status, "limit": lq.Limit, "offset": lq.Offset}
	h.record(r, "backup.list", "", err, details)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *BackupHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetBackup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.svc.DeleteBackup(r.Context(), id, auth.ActorID(r.Context()))
	h.record(r, "backup.delete", id, err, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(websocket.NewMessage("backup", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

type restoreRequest struct {
	BackupCurrent *bool `json:"backup_current"`
}

func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeOptional(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	opts := backup.RestoreOptions{BackupCurrent: true}
	if req.BackupCurrent != nil {
		opts.BackupCurrent = *req.BackupCurrent
	}

	id := r.PathValue("id")
	res, err := h.svc.RestoreBackup(r.Context(), id, auth.ActorID(r.Context()), opts)
	details := map[string]any{"backup_current": opts.BackupCurrent}
	if res != nil && res.BackupBeforeRestore != nil {
		details["safety_backup"] = *res.BackupBeforeRestore
	}
	h.record(r, "backup.restore", id, err, details)
	if err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(websocket.NewMessage("backup", "restored", id, res))
	writeJSON(w, http.StatusOK, res)
}

// VerifyAll audits every successful backup.
func (h *BackupHandler) VerifyAll(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, "")
}

func (h *BackupHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, r.PathValue("id"))
}

func (h *BackupHandler) verify(w http.ResponseWriter, r *http.Request, id string) {
	report, err := h.svc.CheckIntegrity(r.Context(), id)
	var details map[string]any
	if report != nil {
		details = map[string]any{"total": report.TotalChecks, "passed": report.Passed, "failed": report.Failed}
	}
	h.record(r, "backup.verify", id, err, details)
	if err != nil {
		writeError(w, err)
		return
	}

	h.broadcast(websocket.NewMessage("integrity", "checked", id, details))
	writeJSON(w, http.StatusOK, report)
}

func (h *BackupHandler) Checks(w http.ResponseWriter, r *http.Request) {
	checks, err := h.svc.ListChecks(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// decodeOptional decodes a JSON body into v, treating an empty body as {}.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fe.Field() + " must satisfy " + fe.Tag() + "=" + fe.Param()
		}
		return fe.Field() + " is invalid (" + fe.Tag() + ")"
	}
	return err.Error()
}
