package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/invoiceai/invoice-pipeline-service/internal/auth"
	"github.com/invoiceai/invoice-pipeline-service/internal/config"
	"github.com/invoiceai/invoice-pipeline-service/internal/ledger"
	"github.com/invoiceai/invoice-pipeline-service/internal/models"
	"github.com/invoiceai/invoice-pipeline-service/internal/pipeline"
	"github.com/invoiceai/invoice-pipeline-service/internal/storage"
	"github.com/invoiceai/invoice-pipeline-service/internal/store"
)

const Version = "1.0.0"

// Documents is the document persistence the API needs.
type Documents interface {
	InsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	ListDocumentsByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Document, error)
	ListStageRecords(ctx context.Context, documentID uuid.UUID) ([]models.StageRecord, error)
	Ping(ctx context.Context) error
}

// Uploader is the object storage boundary for uploads.
type Uploader interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, key string) (string, error)
}

// Enqueuer schedules pipeline runs.
type Enqueuer interface {
	EnqueueProcess(ctx context.Context, documentID uuid.UUID) (string, error)
}

// Handler serves the HTTP API.
type Handler struct {
	cfg     *config.Config
	docs    Documents
	ledger  ledger.Ledger
	objects Uploader
	queue   Enqueuer
	log     *logrus.Logger
}

// NewHandler creates the API handler.
func NewHandler(cfg *config.Config, docs Documents, ldg ledger.Ledger, objects Uploader, queue Enqueuer, log *logrus.Logger) *Handler {
	return &Handler{cfg: cfg, docs: docs, ledger: ldg, objects: objects, queue: queue, log: log}
}

// SetupRoutes configures the HTTP routes.
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/documents", h.UploadDocument).Methods("POST")
	router.HandleFunc("/api/documents", h.ListDocuments).Methods("GET")
	router.HandleFunc("/api/documents/{id}", h.GetDocument).Methods("GET")
	router.HandleFunc("/api/documents/{id}/process", h.ProcessDocument).Methods("POST")

	router.HandleFunc("/api/tokens", h.GetTokens).Methods("GET")
	router.HandleFunc("/api/tokens/credit", h.CreditTokens).Methods("POST")

	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// UploadDocument accepts a multipart invoice upload, validates it, stores
// the object and creates the document row. Processing is a separate call.
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	accountID, err := auth.AccountIDFromContext(ctx)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, pipeline.MaxUploadSize+1024)
	if err := r.ParseMultipartForm(pipeline.MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "file too large or invalid form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "no file provided (use 'file' field)")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	contentType = strings.TrimSpace(strings.Split(contentType, ";")[0])

	if verr := pipeline.ValidateUpload(contentType, int64(len(data))); verr != nil {
		h.sendValidationError(w, verr)
		return
	}

	doc := &models.Document{
		ID:        uuid.New(),
		AccountID: accountID,
		FileName:  header.Filename,
		MimeType:  contentType,
		SizeBytes: int64(len(data)),
		Status:    models.StatusProcessing,
		Pipeline:  models.PipelineState{},
	}
	doc.ObjectKey = storage.ObjectKey(accountID.String(), doc.ID.String(), contentType, time.Now().UTC())

	if err := h.objects.Put(ctx, doc.ObjectKey, bytes.NewReader(data), doc.SizeBytes, contentType); err != nil {
		h.log.WithError(err).Error("failed to store upload")
		h.sendError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	if err := h.docs.InsertDocument(ctx, doc); err != nil {
		h.log.WithError(err).Error("failed to insert document")
		h.sendError(w, http.StatusInternalServerError, "failed to create document")
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(doc)
}

// ProcessDocument enqueues one pipeline run and acknowledges with 202. The
// run's outcome is observable through the document's status.
func (h *Handler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	accountID, err := auth.AccountIDFromContext(ctx)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	doc, ok := h.loadOwnedDocument(w, r, accountID)
	if !ok {
		return
	}
	if doc.Status == models.StatusCompleted {
		h.sendError(w, http.StatusConflict, "document already processed")
		return
	}

	taskID, err := h.queue.EnqueueProcess(ctx, doc.ID)
	if err != nil {
		h.log.WithError(err).WithField("document", doc.ID).Error("failed to enqueue pipeline run")
		h.sendError(w, http.StatusInternalServerError, "failed to enqueue processing")
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"queued":     true,
		"taskId":     taskID,
		"documentId": doc.ID,
	})
}

// ListDocuments returns the account's documents, newest first.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	accountID, err := auth.AccountIDFromContext(ctx)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	docs, err := h.docs.ListDocumentsByAccount(ctx, accountID, 100)
	if err != nil {
		h.log.WithError(err).Error("failed to list documents")
		h.sendError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"documents": docs,
		"count":     len(docs),
	})
}

// GetDocument returns one document with its stage records and a presigned
// download URL.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	accountID, err := auth.AccountIDFromContext(ctx)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	doc, ok := h.loadOwnedDocument(w, r, accountID)
	if !ok {
		return
	}

	records, err := h.docs.ListStageRecords(ctx, doc.ID)
	if err != nil {
		h.log.WithError(err).WithField("document", doc.ID).Warn("failed to load stage records")
	}

	response := map[string]any{
		"document": doc,
		"stages":   records,
	}
	if url, err := h.objects.PresignedURL(ctx, doc.ObjectKey); err == nil {
		response["downloadUrl"] = url
	}

	json.NewEncoder(w).Encode(response)
}

// GetTokens returns the account's quota balances.
func (h *Handler) GetTokens(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	accountID, err := auth.AccountIDFromContext(ctx)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := h.ledger.Balance(ctx, accountID)
	if err != nil {
		h.log.WithError(err).Error("failed to read balance")
		h.sendError(w, http.StatusInternalServerError, "failed to read token balance")
		return
	}
	json.NewEncoder(w).Encode(balance)
}

type creditRequest struct {
	AccountID uuid.UUID `json:"accountId"`
	Units     int64     `json:"units"`
}

// CreditTokens adds purchased tokens to an account. Service-role only:
// this is the boundary a payment webhook calls after a completed checkout.
func (h *Handler) CreditTokens(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	if h.cfg.Auth.ServiceKey == "" || r.Header.Get("X-Service-Key") != h.cfg.Auth.ServiceKey {
		h.sendError(w, http.StatusForbidden, "service key required")
		return
	}

	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == uuid.Nil || req.Units <= 0 {
		h.sendError(w, http.StatusBadRequest, "accountId and positive units are required")
		return
	}

	if err := h.ledger.Credit(ctx, req.AccountID, req.Units); err != nil {
		h.log.WithError(err).Error("failed to credit tokens")
		h.sendError(w, http.StatusInternalServerError, "failed to credit tokens")
		return
	}

	balance, err := h.ledger.Balance(ctx, req.AccountID)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "credited, but failed to read balance")
		return
	}
	json.NewEncoder(w).Encode(balance)
}

// loadOwnedDocument parses the {id} var, loads the document and enforces
// ownership. Foreign documents 404 rather than 403 to avoid existence
// leaks.
func (h *Handler) loadOwnedDocument(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) (*models.Document, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid document id")
		return nil, false
	}

	doc, err := h.docs.GetDocument(r.Context(), id)
	if errors.Is(err, store.ErrDocumentNotFound) {
		h.sendError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	if err != nil {
		h.log.WithError(err).Error("failed to load document")
		h.sendError(w, http.StatusInternalServerError, "failed to load document")
		return nil, false
	}
	if doc.AccountID != accountID {
		h.sendError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	return doc, true
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	Timestamp string        `json:"timestamp"`
	Tesseract ServiceStatus `json:"tesseract"`
	Database  ServiceStatus `json:"database"`
	Providers []string      `json:"providers"`
}

// ServiceStatus reports one dependency.
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Health reports dependency status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	tesseract := h.checkTesseract()
	database := h.checkDatabase(r.Context())

	var providers []string
	for _, p := range h.cfg.AI.Providers {
		providers = append(providers, p.Name)
	}

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Tesseract: tesseract,
		Database:  database,
		Providers: providers,
	}

	if !tesseract.Available || !database.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func (h *Handler) checkTesseract() ServiceStatus {
	cmd := exec.Command(h.cfg.OCR.TesseractBinary, "--version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return ServiceStatus{Available: false, Error: "tesseract not found or not executable"}
	}

	version := "unknown"
	if lines := strings.Split(string(output), "\n"); len(lines) > 0 {
		version = strings.TrimSpace(lines[0])
	}
	return ServiceStatus{Available: true, Version: version}
}

func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.docs.Ping(pingCtx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "PostgreSQL"}
}

// sendError writes a JSON error body.
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendValidationError lists every violation so the client can fix them all
// at once.
func (h *Handler) sendValidationError(w http.ResponseWriter, verr *pipeline.ValidationError) {
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"error":      "validation failed",
		"violations": verr.Violations,
	})
}
