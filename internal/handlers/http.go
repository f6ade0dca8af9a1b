package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"ficsniff/internal/engine"
)

const maxUploadSize = 100 << 20 // 100 MB

// NewRouter sets up all HTTP routes.
func NewRouter(eng *engine.Engine) *mux.Router {
	r := mux.NewRouter()

	// WebSocket endpoint
	r.HandleFunc("/ws", HandleWebSocket(eng))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/upload", handleUpload(eng)).Methods(http.MethodPost)
	api.HandleFunc("/events", handleEvents(eng)).Methods(http.MethodGet)
	api.HandleFunc("/flows", handleFlows(eng)).Methods(http.MethodGet)
	api.HandleFunc("/stats", handleStats(eng)).Methods(http.MethodGet)

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

func handleEvents(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.RecentEvents())
	}
}

func handleFlows(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.Flows())
	}
}

func handleStats(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.Stats())
	}
}

func handleUpload(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			http.Error(w, "File too large (max 100MB)", http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		// Write to temp file (gopacket/pcap needs a file path)
		tmpFile, err := os.CreateTemp("", "ficsniff-*.pcap")
		if err != nil {
			http.Error(w, "Failed to create temp file", http.StatusInternalServerError)
			return
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		if _, err := io.Copy(tmpFile, file); err != nil {
			tmpFile.Close()
			http.Error(w, "Failed to save file", http.StatusInternalServerError)
			return
		}
		tmpFile.Close()

		before := eng.EventCount()
		if err := eng.LoadPcapFile(tmpPath); err != nil {
			http.Error(w, "Failed to read pcap: "+err.Error(), http.StatusBadRequest)
			return
		}

		events := eng.RecentEvents()
		if n := eng.EventCount() - before; n < len(events) {
			events = events[len(events)-n:]
		}
		writeJSON(w, events)
	}
}
