package control

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "github.com/deckyboard/host/internal/errors"
	"github.com/deckyboard/host/internal/session"
)

// Route paths for the three control operations.
const (
	PathStartServer = "/start_server"
	PathStopServer  = "/stop_server"
	PathStatus      = "/get_server_status"
)

// maxRequestBytes caps request bodies; the largest valid one is a port.
const maxRequestBytes = 1024

// StartRequest is the body of start_server.
type StartRequest struct {
	Port int `json:"port"`
}

// StartResponse is the result of start_server. Code and Port are only
// present on success.
type StartResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// StopResponse is the result of stop_server.
type StopResponse struct {
	Success bool `json:"success"`
}

// StatusResponse is the result of get_server_status. Code is null while
// the server is stopped.
type StatusResponse struct {
	Running bool    `json:"running"`
	Code    *string `json:"code"`
	Clients int     `json:"clients"`
}

// Controller is the subset of session.Controller served over RPC.
type Controller interface {
	Start(port int) session.StartResult
	Stop() session.StopResult
	Status() session.Status
}

// Handler routes control RPCs to a Controller. Backend outcomes are always
// reported as success flags with HTTP 200; non-200 responses mean the
// request itself was unusable.
type Handler struct {
	controller Controller
	mux        *http.ServeMux
}

// NewHandler creates the RPC handler for c.
func NewHandler(c Controller) *Handler {
	h := &Handler{controller: c, mux: http.NewServeMux()}
	h.mux.HandleFunc(PathStartServer, h.handleStart)
	h.mux.HandleFunc(PathStopServer, h.handleStop)
	h.mux.HandleFunc(PathStatus, h.handleStatus)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StartRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		log.Printf("control: %v", apperrors.InvalidRequest("malformed start_server body: "+err.Error()))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// An impossible port can never bind; answer like any other bind failure.
	if req.Port < 1 || req.Port > 65535 {
		log.Printf("control: start_server rejected port %d", req.Port)
		writeJSON(w, StartResponse{Success: false})
		return
	}

	res := h.controller.Start(req.Port)
	writeJSON(w, StartResponse{Success: res.Success, Code: res.Code, Port: res.Port})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res := h.controller.Stop()
	writeJSON(w, StopResponse{Success: res.Success})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := h.controller.Status()
	resp := StatusResponse{Running: st.Running, Clients: st.Clients}
	if st.Running {
		code := st.Code
		resp.Code = &code
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("control: failed to encode response: %v", err)
	}
}
