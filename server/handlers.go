package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vcell-ai/assistant/vcelldb"
)

const maxUploadBytes = 32 << 20

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"detail": message})
}

// writeUpstreamError maps remote database failures onto HTTP status codes,
// keeping 404s distinguishable from transport failures.
func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	var statusErr *vcelldb.StatusError
	switch {
	case errors.Is(err, vcelldb.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &statusErr):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================================================
// ASSISTANT
// ============================================================================

type queryRequest struct {
	UserPrompt          string `json:"user_prompt"`
	ConversationHistory string `json:"conversation_history"`
}

type queryResponse struct {
	Response string   `json:"response"`
	BmKeys   []string `json:"bmkeys"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	prompt := req.ConversationHistory
	if prompt == "" {
		prompt = req.UserPrompt
	}
	if strings.TrimSpace(prompt) == "" {
		s.writeError(w, http.StatusBadRequest, "user_prompt is required")
		return
	}

	answer, bmkeys, err := s.agent.Converse(r.Context(), prompt)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, queryResponse{Response: answer, BmKeys: bmkeys})
}

func (s *Server) handleAnalyseBiomodel(w http.ResponseWriter, r *http.Request) {
	biomodelID := chi.URLParam(r, "biomodelID")
	prompt := r.URL.Query().Get("user_prompt")
	if strings.TrimSpace(prompt) == "" {
		s.writeError(w, http.StatusBadRequest, "user_prompt is required")
		return
	}
	answer := s.agent.AnalyseBiomodel(r.Context(), biomodelID, prompt)
	s.writeJSON(w, http.StatusOK, map[string]string{"response": answer})
}

func (s *Server) handleAnalyseVCML(w http.ResponseWriter, r *http.Request) {
	answer := s.agent.AnalyseVCML(r.Context(), chi.URLParam(r, "biomodelID"))
	s.writeJSON(w, http.StatusOK, map[string]string{"response": answer})
}

func (s *Server) handleAnalyseDiagram(w http.ResponseWriter, r *http.Request) {
	answer := s.agent.AnalyseDiagram(r.Context(), chi.URLParam(r, "biomodelID"))
	s.writeJSON(w, http.StatusOK, map[string]string{"response": answer})
}

// ============================================================================
// KNOWLEDGE BASE
// ============================================================================

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	result := s.knowledge.CreateCollection(r.Context())
	status := http.StatusOK
	if result.Status != "success" {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.knowledge.ListFiles(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

func (s *Server) handleUploadPDF(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, ".pdf")
}

func (s *Server) handleUploadText(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, ".txt")
}

// handleUpload spools the multipart file to a temp path so the extraction
// layer can work against the filesystem, then ingests it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, wantExt string) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	fileName := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(fileName), wantExt) {
		s.writeError(w, http.StatusBadRequest, "only "+wantExt+" files are accepted")
		return
	}

	tmp, err := os.CreateTemp("", "upload-*"+wantExt)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to store upload: "+err.Error())
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		s.writeError(w, http.StatusInternalServerError, "failed to store upload: "+err.Error())
		return
	}
	if err := tmp.Close(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to store upload: "+err.Error())
		return
	}

	result := s.knowledge.IngestFile(r.Context(), tmp.Name(), fileName)
	status := http.StatusOK
	if result.Status != "success" {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	fileName, err := url.PathUnescape(chi.URLParam(r, "fileName"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	result := s.knowledge.DeleteFile(r.Context(), fileName)
	status := http.StatusOK
	if result.Status != "success" {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleFileChunks(w http.ResponseWriter, r *http.Request) {
	fileName, err := url.PathUnescape(chi.URLParam(r, "fileName"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	chunks, err := s.knowledge.FileChunks(r.Context(), fileName)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(chunks) == 0 {
		s.writeError(w, http.StatusNotFound, "no chunks found for "+fileName)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"file_name": fileName,
		"chunks":    chunks,
	})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}
	if limit == 0 {
		limit = s.knowledge.DefaultLimit()
	}

	hits, err := s.knowledge.Search(r.Context(), query, limit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"results": hits})
}

// ============================================================================
// VCELL DATABASE
// ============================================================================

func (s *Server) handleSearchBiomodels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := vcelldb.BiomodelSearchParams{
		BmID:      q.Get("bmId"),
		BmName:    q.Get("bmName"),
		Category:  vcelldb.Category(q.Get("category")),
		Owner:     q.Get("owner"),
		SavedLow:  q.Get("savedLow"),
		SavedHigh: q.Get("savedHigh"),
	}
	for key, dst := range map[string]*int{"startRow": &params.StartRow, "maxRows": &params.MaxRows} {
		if raw := q.Get(key); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, key+" must be an integer")
				return
			}
			*dst = parsed
		}
	}
	if raw := q.Get("orderBy"); raw != "" {
		params.OrderBy = vcelldb.OrderBy(raw)
	}

	result, err := s.vcell.SearchBiomodels(r.Context(), params)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSimulationDetails(w http.ResponseWriter, r *http.Request) {
	details, err := s.vcell.SimulationDetails(r.Context(), chi.URLParam(r, "biomodelID"), chi.URLParam(r, "simID"))
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleVCML(w http.ResponseWriter, r *http.Request) {
	truncate := r.URL.Query().Get("truncate") == "true"
	vcml, err := s.vcell.VCMLFile(r.Context(), chi.URLParam(r, "biomodelID"), truncate)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(vcml))
}

func (s *Server) handleSBML(w http.ResponseWriter, r *http.Request) {
	sbml, err := s.vcell.SBMLFile(r.Context(), chi.URLParam(r, "biomodelID"))
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(sbml))
}

func (s *Server) handleDiagramURL(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"diagram_url": s.vcell.DiagramURL(chi.URLParam(r, "biomodelID")),
	})
}

func (s *Server) handleDiagramImage(w http.ResponseWriter, r *http.Request) {
	image, err := s.vcell.DiagramImage(r.Context(), chi.URLParam(r, "biomodelID"))
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(image)
}

func (s *Server) handleApplicationFiles(w http.ResponseWriter, r *http.Request) {
	result, err := s.vcell.ApplicationFiles(r.Context(), chi.URLParam(r, "biomodelID"))
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePublications(w http.ResponseWriter, r *http.Request) {
	publications, err := s.vcell.Publications(r.Context())
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"publications": publications})
}
