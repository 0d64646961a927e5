package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/italolelis/cloudcast/internal/logctx"
	"github.com/italolelis/cloudcast/internal/resume"
	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/italolelis/cloudcast/internal/transfer"
)

// defaultDownloadName is the file a download lands in when no local path is given.
const defaultDownloadName = "downloaded_video.mp4"

// maxBodySize bounds request bodies; they only ever carry two paths.
const maxBodySize = 64 * 1024

// Transfers is the part of the coordinator the API drives.
type Transfers interface {
	Start(ctx context.Context, dir storage.Direction, remoteKey, localPath string) (*transfer.Handle, error)
	Active(dir storage.Direction) *transfer.Handle
	Pending(ctx context.Context) ([]storage.Descriptor, error)
}

// Activator re-drives pending transfers, as on a return to the foreground.
type Activator interface {
	OnActivate(ctx context.Context) ([]*transfer.Handle, error)
}

type TransferRequest struct {
	RemoteKey string `json:"remoteKey"`
	LocalPath string `json:"localPath"`
}

type DescriptorView struct {
	Direction storage.Direction `json:"direction"`
	RemoteKey string            `json:"remoteKey"`
	LocalPath string            `json:"localPath"`
	Attempts  int               `json:"attempts"`
	CreatedAt *time.Time        `json:"createdAt,omitempty"`
}

type ActiveView struct {
	DescriptorView
	Fraction float64 `json:"fraction"`
	Resumed  bool    `json:"resumed"`
}

type TransfersResponse struct {
	Pending []DescriptorView `json:"pending"`
	Active  []ActiveView     `json:"active"`
}

type ActivateResponse struct {
	Resumed []ActiveView                 `json:"resumed"`
	Errors  map[storage.Direction]string `json:"errors,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type TransferHandler struct {
	transfers   Transfers
	activator   Activator
	downloadDir string
	username    string
	password    string
}

// NewTransferHandler creates the handler of the transfer API. Basic auth is
// enforced when username is not empty.
func NewTransferHandler(transfers Transfers, activator Activator, downloadDir, username, password string) *TransferHandler {
	return &TransferHandler{
		transfers:   transfers,
		activator:   activator,
		downloadDir: downloadDir,
		username:    username,
		password:    password,
	}
}

func (h *TransferHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/uploads", h.HandleUpload)
	r.Post("/downloads", h.HandleDownload)
	r.Get("/transfers", h.HandleList)
	r.Post("/activate", h.HandleActivate)

	return r
}

// HandleUpload persists and starts an upload of a local file.
func (h *TransferHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	if req.RemoteKey == "" {
		req.RemoteKey = "uploads/" + uuid.NewString() + ".mp4"
	}

	h.start(w, r, storage.Upload, req)
}

// HandleDownload persists and starts a download into a local file.
func (h *TransferHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	if req.LocalPath == "" && h.downloadDir != "" {
		req.LocalPath = filepath.Join(h.downloadDir, defaultDownloadName)
	}

	h.start(w, r, storage.Download, req)
}

func (h *TransferHandler) start(w http.ResponseWriter, r *http.Request, dir storage.Direction, req TransferRequest) {
	logger := logctx.LoggerFromContext(r.Context())

	handle, err := h.transfers.Start(r.Context(), dir, req.RemoteKey, req.LocalPath)
	if err != nil {
		logger.Error("failed to start transfer", "direction", dir, "remote_key", req.RemoteKey, "err", err)
		writeError(w, r, err)

		return
	}

	logger.Info("transfer accepted", "direction", dir, "remote_key", req.RemoteKey, "local_path", req.LocalPath)

	writeJSON(w, r, http.StatusAccepted, activeView(handle))
}

// HandleList reports persisted slots and the transfers in flight.
func (h *TransferHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	pending, err := h.transfers.Pending(r.Context())
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list pending transfers", "err", err)
		writeError(w, r, err)

		return
	}

	resp := TransfersResponse{
		Pending: make([]DescriptorView, 0, len(pending)),
		Active:  []ActiveView{},
	}

	for _, d := range pending {
		resp.Pending = append(resp.Pending, descriptorView(d))
	}

	for _, dir := range storage.Directions {
		if handle := h.transfers.Active(dir); handle != nil {
			resp.Active = append(resp.Active, activeView(handle))
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// HandleActivate resumes whatever transfers were left pending. When some
// direction resumed and another failed, the response is still 200 and the
// failures are listed per direction.
func (h *TransferHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	handles, err := h.activator.OnActivate(r.Context())
	if err != nil && len(handles) == 0 {
		writeError(w, r, err)

		return
	}

	resp := ActivateResponse{Resumed: make([]ActiveView, 0, len(handles))}
	for _, handle := range handles {
		resp.Resumed = append(resp.Resumed, activeView(handle))
	}

	if err != nil {
		resp.Errors = directionErrors(err)
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// directionErrors splits the failures of an activation by direction.
func directionErrors(err error) map[storage.Direction]string {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}

	out := make(map[storage.Direction]string, len(errs))

	for _, e := range errs {
		var dirErr *resume.DirectionError
		if errors.As(e, &dirErr) {
			out[dirErr.Direction] = publicMessage(dirErr.Err)
		}
	}

	return out
}

func (h *TransferHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (TransferRequest, bool) {
	var req TransferRequest

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to decode request", "err", err)
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})

		return req, false
	}

	return req, true
}

// statusFor maps transfer errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		invalidErr   *transfer.InvalidDescriptorError
		localErr     *transfer.LocalIOError
		abandonedErr *transfer.ResumeAbandonedError
	)

	switch {
	case errors.As(err, &invalidErr):
		return http.StatusBadRequest
	case errors.As(err, &localErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, transfer.ErrTransferInProgress):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrCoordinatorClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &abandonedErr):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, r, statusFor(err), ErrorResponse{Error: publicMessage(err)})
}

// publicMessage hides the details of errors that map to a 500.
func publicMessage(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "internal server error"
	}

	return err.Error()
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func descriptorView(d storage.Descriptor) DescriptorView {
	v := DescriptorView{
		Direction: d.Direction,
		RemoteKey: d.RemoteKey,
		LocalPath: d.LocalPath,
		Attempts:  d.Attempts,
	}

	if !d.CreatedAt.IsZero() {
		created := d.CreatedAt
		v.CreatedAt = &created
	}

	return v
}

func activeView(h *transfer.Handle) ActiveView {
	return ActiveView{
		DescriptorView: descriptorView(h.Descriptor()),
		Fraction:       h.Fraction(),
		Resumed:        h.Resumed(),
	}
}
