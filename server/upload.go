package server

import (
	"io"
	"net/http"
)

// handleUpload ingests one wire-form payload sent as a multipart file and
// returns it re-serialized, which moves a large value into the cache and
// replaces it with a preview.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	name := r.FormValue("original_filename")
	if name == "" {
		writeError(w, http.StatusBadRequest, "original_filename is required")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file: "+err.Error())
		return
	}

	ctx := r.Context()
	p, err := s.opts.Serializer.Decode(ctx, content)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if p == nil {
		writeError(w, http.StatusUnprocessableEntity, "payload is null")
		return
	}
	p.Common().SetMeta("filename", name)

	wire, err := s.opts.Serializer.Encode(ctx, p)
	if err != nil {
		s.logger.Error("encode upload", "filename", name, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("large object ingested",
		"filename", name,
		"class", wire.ClassName,
		"id", wire.ID,
		"cached", wire.Cached != nil && *wire.Cached)
	writeJSON(w, http.StatusOK, wire)
}
