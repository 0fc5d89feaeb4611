package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/anstrom/netsentry/internal/api/middleware"
	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/scans"
)

// ScanService is the operation surface the scan endpoints adapt.
// *scans.Service implements it.
type ScanService interface {
	Start(ctx context.Context, req scans.Request) (*scans.StartResult, error)
	Status(ctx context.Context, id uuid.UUID) (*scans.Status, error)
	Detail(ctx context.Context, id uuid.UUID) (*db.ScanDetail, error)
	Cancel(ctx context.Context, id uuid.UUID) (*scans.Status, error)
	List(ctx context.Context, limit, offset int) ([]*db.Scan, error)
}

var _ ScanService = (*scans.Service)(nil)

// ScanHandler handles the scan endpoints.
type ScanHandler struct {
	service   ScanService
	logger    *logging.Logger
	validator *validator.Validate
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(service ScanService, logger *logging.Logger) *ScanHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ScanHandler{
		service:   service,
		logger:    logger.WithFields("handler", "scan"),
		validator: validator.New(),
	}
}

// ScanListResponse is one page of scans.
type ScanListResponse struct {
	Data       []*db.Scan       `json:"data"`
	Pagination PaginationParams `json:"pagination"`
}

// CreateScan accepts a scan request and returns its id without waiting for
// the scan. POST /api/v1/scans
func (h *ScanHandler) CreateScan(w http.ResponseWriter, r *http.Request) {
	var req scans.Request
	if err := parseJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, errors.WrapScanError(errors.CodeValidation, "invalid scan request", err))
		return
	}

	res, err := h.service.Start(r.Context(), req)
	if err != nil {
		if res != nil && res.ScanID != uuid.Nil {
			h.logger.Warn("Scan accepted but not started", "scan_id", res.ScanID.String(), "error", err)
			writeJSON(w, r, statusForError(err), ErrorResponse{
				Error:     http.StatusText(statusForError(err)),
				Message:   err.Error(),
				Code:      string(errors.GetCode(err)),
				ScanID:    res.ScanID.String(),
				Timestamp: time.Now().UTC(),
				RequestID: middleware.GetRequestID(r),
			})
			return
		}
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/scans/"+res.ScanID.String())
	writeJSON(w, r, http.StatusAccepted, res)
}

// ListScans returns recent scans, newest first. GET /api/v1/scans
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	params, err := getPaginationParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.service.List(r.Context(), params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("Failed to list scans", "error", err)
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*db.Scan{}
	}
	writeJSON(w, r, http.StatusOK, ScanListResponse{Data: list, Pagination: params})
}

// GetScan returns the scan with its hosts and findings. GET /api/v1/scans/{id}
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	detail, err := h.service.Detail(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// GetScanStatus returns the polling view of a scan. GET /api/v1/scans/{id}/status
func (h *ScanHandler) GetScanStatus(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status, err := h.service.Status(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// CancelScan flags a pending or running scan as cancelled.
// POST /api/v1/scans/{id}/cancel
func (h *ScanHandler) CancelScan(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.logger.Info("Scan cancelled", "scan_id", id.String())
	writeJSON(w, r, http.StatusOK, status)
}
