package bill

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/medbill-tracker/internal/locale"
)

// maxImageSize covers high-resolution phone photos
const maxImageSize = int64(50 << 20)

const maxJSONSize = int64(1 << 20)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeError maps domain errors to status codes
func writeError(w http.ResponseWriter, err error) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": validationErr.Message,
			"field": validationErr.Field,
		})
	case errors.Is(err, ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "Bill not found")
	case errors.Is(err, ErrInvalidTransition):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	default:
		slog.Error("Request failed", "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

// handleListBills returns all bills in insertion order
func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

// handleSummary returns the bills grouped by doctor
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.aggregator.Aggregate(s.store.List()))
}

// handleGetBill returns a single bill
func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleGetBillFile returns the scanned image of a bill
func (s *Server) handleGetBillFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.store.File(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeErrorMessage(w, http.StatusNotFound, "File not found")
			return
		}
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleToggleForwarded flips the forwarded-to-insurer status
func (s *Server) handleToggleForwarded(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.ToggleForwarded(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleDeleteBill deletes a bill only when the request carries confirm=true
func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	removed, err := s.store.Remove(r.PathValue("id"), ConfirmFunc(func(Bill) bool { return confirmed }))
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeErrorMessage(w, http.StatusPreconditionRequired, s.messages.T(locale.MsgDeleteConfirmationRequired))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCalendar serves due dates as an iCalendar feed
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	data, err := DueCalendar(s.store.List(), s.messages.T(locale.MsgCalendarName), s.timeSource.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Write(data)
}

// handleWorkflowView returns the workflow state
func (s *Server) handleWorkflowView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workflow.View())
}

// handleStartCapture opens the capture surface
func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	if err := s.workflow.StartCapture(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.workflow.View())
}

// handleSubmitImage submits the image for an open capture
func (s *Server) handleSubmitImage(w http.ResponseWriter, r *http.Request) {
	src := &requestSource{w: w, r: r}
	defer src.Close()

	img, err := src.Capture(r.Context())
	if err != nil {
		// An upload without an image closes the capture like /scan does
		if errors.Is(err, ErrCaptureClosed) {
			if cancelErr := s.workflow.Cancel(); cancelErr != nil {
				writeError(w, cancelErr)
				return
			}
		}
		writeImageError(w, err)
		return
	}
	if err := s.workflow.SubmitImage(r.Context(), img); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.workflow.View())
}

// handleScan runs a whole capture from one upload
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if err := s.workflow.Capture(r.Context(), &requestSource{w: w, r: r}); err != nil {
		writeImageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.workflow.View())
}

func writeImageError(w http.ResponseWriter, err error) {
	var imgErr *imageError
	if errors.As(err, &imgErr) {
		writeErrorMessage(w, http.StatusBadRequest, imgErr.message)
		return
	}
	if errors.Is(err, ErrCaptureClosed) {
		writeErrorMessage(w, http.StatusBadRequest, "No image was provided")
		return
	}
	writeError(w, err)
}

// handleStartManual opens an empty draft
func (s *Server) handleStartManual(w http.ResponseWriter, r *http.Request) {
	if err := s.workflow.StartManual(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.workflow.View())
}

// draftRequest accepts the amount as either JSON number or string
type draftRequest struct {
	DoctorName      string `json:"doctorName"`
	BillingProvider string `json:"billingProvider"`
	BillNumber      string `json:"billNumber"`
	Date            string `json:"date"`
	DueDate         string `json:"dueDate"`
	Amount          any    `json:"amount"`
	ForwardedToDkv  bool   `json:"forwardedToDkv"`
	ForwardedDate   string `json:"forwardedDate"`
}

func (d draftRequest) draft() Draft {
	var amount string
	switch v := d.Amount.(type) {
	case string:
		amount = v
	case json.Number:
		amount = v.String()
	}
	return Draft{
		DoctorName:      d.DoctorName,
		BillingProvider: d.BillingProvider,
		BillNumber:      d.BillNumber,
		Date:            d.Date,
		DueDate:         d.DueDate,
		Amount:          amount,
		ForwardedToDkv:  d.ForwardedToDkv,
		ForwardedDate:   d.ForwardedDate,
	}
}

// handleUpdateDraft replaces the draft fields
func (s *Server) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONSize))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.workflow.UpdateDraft(req.draft()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.workflow.View())
}

// handleSetDraftForwarded ticks or clears the forwarded checkbox
func (s *Server) handleSetDraftForwarded(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Forwarded bool `json:"forwarded"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONSize)).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.workflow.SetForwarded(req.Forwarded); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.workflow.View())
}

// handleCommit stores the draft
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	b, err := s.workflow.Commit()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// handleCancel discards the capture or draft
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.workflow.Cancel(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.workflow.View())
}

// imageError is a client mistake in an image upload
type imageError struct {
	message string
	err     error
}

func (e *imageError) Error() string {
	return fmt.Sprintf("%s: %v", e.message, e.err)
}

func (e *imageError) Unwrap() error {
	return e.err
}

// requestSource reads the image of an upload request. It accepts a multipart
// "file" field or a JSON body {"image": "<base64>", "contentType": "..."}.
type requestSource struct {
	w http.ResponseWriter
	r *http.Request
}

// Capture reads the image from the request body
func (src *requestSource) Capture(ctx context.Context) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	return src.read()
}

// Close removes temporary files of a parsed multipart form
func (src *requestSource) Close() error {
	if src.r.MultipartForm != nil {
		return src.r.MultipartForm.RemoveAll()
	}
	return nil
}

func (src *requestSource) read() (Image, error) {
	r := src.r
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return readMultipartImage(r)
	}

	var req struct {
		Image       string `json:"image"`
		ContentType string `json:"contentType"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(src.w, r.Body, maxImageSize)).Decode(&req); err != nil {
		return Image{}, &imageError{message: "Invalid request body", err: err}
	}
	if req.Image == "" {
		return Image{}, ErrCaptureClosed
	}

	payload := req.Image
	contentType := req.ContentType
	// Accept data URLs as produced by canvas.toDataURL
	if strings.HasPrefix(payload, "data:") {
		header, body, ok := strings.Cut(payload, ",")
		if ok {
			payload = body
			if contentType == "" {
				contentType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
			}
		}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, &imageError{message: "Image is not valid base64", err: err}
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return Image{Data: data, ContentType: contentType}, nil
}

func readMultipartImage(r *http.Request) (Image, error) {
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		return Image{}, &imageError{message: "Error parsing form", err: err}
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return Image{}, ErrCaptureClosed
		}
		return Image{}, &imageError{message: "No file provided", err: err}
	}
	defer f.Close()

	if header.Size > maxImageSize {
		return Image{}, &imageError{message: "File is too large. Maximum size is 50MB.", err: fmt.Errorf("size %d", header.Size)}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return Image{}, fmt.Errorf("reading uploaded file: %w", err)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		}
	}
	return Image{Data: data, ContentType: strings.ToLower(strings.TrimSpace(contentType))}, nil
}
