package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/pdfquery/internal/exchange"
	"github.com/hyperjump/pdfquery/internal/identity"
	"github.com/hyperjump/pdfquery/internal/models"
	"github.com/hyperjump/pdfquery/internal/session"
	"github.com/hyperjump/pdfquery/internal/storage"
	"github.com/hyperjump/pdfquery/internal/upload"
)

// multipartOverhead is the allowance for multipart framing on top of the file size limit.
const multipartOverhead = 1 << 20

// DocumentList is the body of GET /api/v1/documents.
type DocumentList struct {
	Documents []models.DocumentSummary `json:"documents"`
	ActiveID  string                   `json:"active_id,omitempty"`
	Phase     string                   `json:"phase"`
}

// NewDocumentList summarizes sess in display order.
func NewDocumentList(sess *session.Session) DocumentList {
	docs := sess.Documents()
	list := DocumentList{
		Documents: make([]models.DocumentSummary, 0, len(docs)),
		ActiveID:  sess.ActiveID(),
		Phase:     sess.Phase().String(),
	}
	for _, d := range docs {
		list.Documents = append(list.Documents, d.Summary())
	}
	return list
}

// entry resolves the caller's session, writing an error response when it cannot.
func (s *Server) entry(w http.ResponseWriter, r *http.Request) (*Entry, models.Owner, bool) {
	owner, ok := identity.OwnerFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "no owner")
		return nil, owner, false
	}
	e, err := s.registry.Get(r.Context(), owner)
	if err != nil {
		s.logger.Error("session unavailable", zap.String("owner", owner.ID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "session unavailable")
		return nil, owner, false
	}
	return e, owner, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	e, owner, ok := s.entry(w, r)
	if !ok {
		return
	}
	count, err := s.store.CountDocuments(r.Context(), owner.ID)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := map[string]interface{}{
		"owner":        owner,
		"documents":    count,
		"active_id":    e.Session.ActiveID(),
		"phase":        e.Session.Phase().String(),
		"provider":     s.gen.Name(),
		"sessions":     s.registry.Len(),
		"max_size":     s.pipeline.MaxSize(),
		"hint_backend": s.config.Hint.Backend,
	}
	var extra []string
	if s.config.Hint.Backend == "file" {
		extra = append(extra, s.config.Hint.Directory)
	}
	if diskBytes, err := storage.FootprintBytes(s.config.Storage.DatabasePath, extra...); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.entry(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, NewDocumentList(e.Session))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	e, owner, ok := s.entry(w, r)
	if !ok {
		return
	}
	f, err := s.readUpload(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondError(w, http.StatusRequestEntityTooLarge, upload.ErrTooLarge.Error())
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("upload request", zap.String("owner", owner.ID), zap.String("name", f.Name), zap.Int64("size", f.Size))

	doc, err := s.pipeline.Upload(r.Context(), e.Session, f)
	if err != nil {
		s.respondUploadError(w, f, err)
		return
	}
	if err := e.Exchange.EnsureGreeting(r.Context(), doc.ID); err != nil {
		s.logger.Warn("failed to greet new document", zap.String("id", doc.ID), zap.Error(err))
	}
	if cur, err := e.Session.Document(doc.ID); err == nil {
		doc = cur
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

// readUpload streams the multipart body up to the "file" part. A part whose declared
// type is not PDF is returned without reading its payload so the type is rejected
// before the size.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload.File, error) {
	limit := s.pipeline.MaxSize()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		return upload.File{}, err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return upload.File{}, errors.New("file is required")
		}
		if err != nil {
			return upload.File{}, err
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		defer part.Close()

		f := upload.File{Name: filepath.Base(part.FileName())}
		declared := part.Header.Get("Content-Type")
		if mt := declaredMIMEType(declared); mt != "" && mt != upload.PDFMimeType {
			f.MIMEType = mt
			return f, nil
		}
		// One byte past the limit is enough to reject the file as too large.
		data, err := io.ReadAll(io.LimitReader(part, limit+1))
		if err != nil {
			return upload.File{}, err
		}
		f.Data = data
		f.Size = int64(len(data))
		f.MIMEType = detectMIMEType(declared, data)
		return f, nil
	}
}

// declaredMIMEType returns the media type of a part's Content-Type header, or ""
// when none or only the generic octet-stream was sent.
func declaredMIMEType(declared string) string {
	if declared == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mt = declared
	}
	if mt == "application/octet-stream" {
		return ""
	}
	return mt
}

// detectMIMEType uses the part's declared type, sniffing the content only when none was sent.
func detectMIMEType(declared string, data []byte) string {
	if mt := declaredMIMEType(declared); mt != "" {
		return mt
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

func (s *Server) respondUploadError(w http.ResponseWriter, f upload.File, err error) {
	switch {
	case errors.Is(err, upload.ErrInvalidType):
		s.respondError(w, http.StatusUnsupportedMediaType, "Please upload a PDF file.")
	case errors.Is(err, upload.ErrTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File is too large. Maximum size is %d MB.", s.pipeline.MaxSize()>>20))
	case errors.Is(err, upload.ErrDuplicateName):
		s.respondError(w, http.StatusConflict, fmt.Sprintf("A file named %q has already been uploaded.", f.Name))
	case errors.Is(err, upload.ErrUnreadable):
		s.respondError(w, http.StatusUnprocessableEntity, "Failed to extract text from the PDF.")
	case errors.Is(err, storage.ErrStore):
		s.logger.Error("upload store failure", zap.String("name", f.Name), zap.Error(err))
		s.respondError(w, http.StatusBadGateway, "Failed to save the document.")
	default:
		s.logger.Error("upload failed", zap.String("name", f.Name), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	e, owner, ok := s.entry(w, r)
	if !ok {
		return
	}
	s.logger.Debug("clear all request", zap.String("owner", owner.ID))
	if err := e.Session.ClearAll(r.Context()); err != nil {
		s.logger.Error("clear all failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	e.Exchange.Forget()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.entry(w, r)
	if !ok {
		return
	}
	doc, err := e.Session.Document(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.entry(w, r)
	if !ok {
		return
	}
	doc, err := e.Session.Document(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	w.Header().Set("Content-Type", upload.PDFMimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Content)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": doc.Name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}

type selectRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.entry(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc, err := e.Exchange.Select(r.Context(), req.ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("select failed", zap.String("id", req.ID), zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

type chatRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.entry(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := e.Exchange.Ask(r.Context(), req.Question)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, res)
	case errors.Is(err, exchange.ErrInFlight):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, exchange.ErrEmptyQuestion),
		errors.Is(err, exchange.ErrNoActiveDocument),
		errors.Is(err, exchange.ErrNoText):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		s.respondError(w, http.StatusConflict, "document was removed while answering")
	default:
		s.logger.Error("chat failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
