package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const maxUploadBytes = 100 << 20

// APIServer exposes the analysis pipeline over HTTP. A slot semaphore
// bounds how many pipelines run at once; saturated requests get 429.
type APIServer struct {
	cfg      *Config
	pipeline *Pipeline
	storage  *RunStorage
	router   *mux.Router
	slots    chan struct{}
}

func NewAPIServer(cfg *Config, pipeline *Pipeline, storage *RunStorage) *APIServer {
	maxConcurrent := cfg.Pipeline.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	s := &APIServer{
		cfg:      cfg,
		pipeline: pipeline,
		storage:  storage,
		router:   mux.NewRouter(),
		slots:    make(chan struct{}, maxConcurrent),
	}
	s.setupRoutes()
	return s
}

func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/", s.handleAnalyze).Methods("POST")
	s.router.HandleFunc("/api/v1/runs/{run_id}", s.handleGetRun).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{run_id}/answer", s.handleGetAnswer).Methods("GET")
}

// Start blocks serving HTTP until the listener fails.
func (s *APIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	log.Printf("🌐 [API] Listening on %s", addr)
	log.Printf("🌐 [API] Endpoints:")
	log.Printf("🌐 [API]   GET  /health")
	log.Printf("🌐 [API]   POST /api/")
	log.Printf("🌐 [API]   GET  /api/v1/runs/{run_id}")
	log.Printf("🌐 [API]   GET  /api/v1/runs/{run_id}/answer")
	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: s.cfg.PipelineDeadline() + 2*time.Minute,
	}
	return server.ListenAndServe()
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAnalyze accepts a multipart form: the part whose filename is
// question.txt carries the request text, every other file part is data.
// Field names do not matter; the filename decides.
func (s *APIServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	log.Printf("📥 [API] New analysis request from %s", r.RemoteAddr)

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	default:
		log.Printf("🚦 [API] Rejecting request, all execution slots busy")
		http.Error(w, "Server busy - too many concurrent analyses. Please try again later.", http.StatusTooManyRequests)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("invalid multipart form: %v", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	question := ""
	files := make(map[string][]byte)
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			content, err := readPart(header)
			if err != nil {
				http.Error(w, fmt.Sprintf("read upload %s: %v", header.Filename, err), http.StatusBadRequest)
				return
			}
			if header.Filename == "question.txt" {
				question = string(content)
				log.Printf("✔️ [API] Main request file %s processed (%d bytes)", header.Filename, len(content))
			} else {
				files[header.Filename] = content
				log.Printf("✔️ [API] Additional file %s processed (%d bytes)", header.Filename, len(content))
			}
		}
	}

	if question == "" {
		// No model call for a request with no question: answer with the
		// fixed minimal object rather than 4xx, per the answer contract.
		log.Printf("⚠️ [API] Request is missing question.txt, returning minimal answer")
		s.writeJSON(w, http.StatusOK, minimalFallback)
		return
	}

	result := s.pipeline.Run(r.Context(), question, files)
	w.Header().Set("X-Run-ID", result.RunID)
	s.writeJSON(w, http.StatusOK, result.Answer)
}

func (s *APIServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	record, err := s.storage.Load(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *APIServer) handleGetAnswer(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	record, err := s.storage.Load(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if record == nil || len(record.Answer) == 0 {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(record.Answer)
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️ [API] Failed to encode response: %v", err)
	}
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
