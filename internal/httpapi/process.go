package httpapi

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"avsync/internal/fileutil"
	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/workflow"
)

const multipartMemory = 32 << 20

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if limit := s.cfg.Server.MaxUploadMB; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(limit)<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, s.logger, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, s.logger, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "missing form field \"file\"")
		return
	}
	defer file.Close()

	ctx := r.Context()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		ctx = services.WithRequestID(ctx, reqID)
	}
	logger := logging.WithContext(ctx, s.logger)

	uploadPath, err := s.saveUpload(file, header.Filename)
	if err != nil {
		logging.ErrorWithContext(logger, "upload not saved", "upload_failed",
			logging.String("original_filename", header.Filename),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions of paths.upload_dir"),
		)
		writeError(w, s.logger, http.StatusInternalServerError, "processing failed.")
		return
	}
	defer func() {
		if err := fileutil.RemoveIfExists(uploadPath); err != nil {
			logging.WarnWithContext(logger, "upload not removed", "cleanup_failed",
				logging.String("path", uploadPath),
				logging.Error(err),
				logging.String(logging.FieldImpact, "upload directory keeps a stray file"),
			)
		}
	}()
	logger.Info("upload received",
		logging.String("original_filename", header.Filename),
		logging.Int64("size", header.Size),
		logging.String(logging.FieldEventType, "upload_received"),
	)

	out := s.processor.Process(ctx, uploadPath, header.Filename)
	if !out.OK() {
		writeJSON(w, s.logger, statusFor(out), ProcessError{
			Status:        out.Status,
			Kind:          out.Kind,
			Message:       out.Message,
			FinalOffsetMS: out.FinalOffsetMS,
			RequestID:     out.RequestID,
		})
		return
	}
	name := filepath.Base(out.OutputPath)
	writeJSON(w, s.logger, http.StatusOK, ProcessResponse{
		Filename:     name,
		URL:          "/download/" + url.PathEscape(name),
		Status:       out.Status,
		TotalShiftMS: out.TotalShiftMS,
	})
}

// saveUpload writes the upload under a random name that keeps its extension.
func (s *Server) saveUpload(src io.Reader, originalFilename string) (string, error) {
	dir := s.cfg.Paths.UploadDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(originalFilename)))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func statusFor(out workflow.Outcome) int {
	if out.Kind.Precondition() || out.Kind == services.KindVerificationFailed {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		writeError(w, s.logger, http.StatusBadRequest, "invalid filename")
		return
	}
	path := filepath.Join(s.cfg.Paths.FinalOutputDir, name)
	f, err := os.Open(path)
	if err != nil {
		s.logger.Warn("download not found",
			logging.String("path", path),
			logging.String(logging.FieldEventType, "download_missing"),
		)
		writeError(w, s.logger, http.StatusNotFound, "file not found.")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		writeError(w, s.logger, http.StatusNotFound, "file not found.")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(name, `"`, "")+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
	s.logger.Info("download served",
		logging.String("path", path),
		logging.Int64("size", info.Size()),
		logging.String(logging.FieldEventType, "download_served"),
	)
}
