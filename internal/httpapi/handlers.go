package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/OxideDevX/prana-rc/pkg/discovery"
	"github.com/OxideDevX/prana-rc/pkg/registry"
	"github.com/OxideDevX/prana-rc/pkg/session"
	"github.com/OxideDevX/prana-rc/pkg/wire"
)

type errorResponse struct {
	Error string `json:"error"`
}

type devicesResponse struct {
	Devices []registry.Entry `json:"devices"`
}

type discoverResponse struct {
	Devices []registry.DeviceInfo `json:"devices"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type speedRequest struct {
	Speed int `json:"speed"`
}

type detailsResponse struct {
	Address string `json:"address"`
	Raw     []byte `json:"raw"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps core error kinds to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidSpeed):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrDeviceUnreachable),
		errors.Is(err, session.ErrProtocolError):
		return http.StatusBadGateway
	case errors.Is(err, discovery.ErrDiscovery),
		errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "prana-rc",
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	entries := s.reg.List()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Address < entries[j].Address
	})
	writeJSON(w, http.StatusOK, devicesResponse{Devices: entries})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var duration time.Duration
	if raw := r.URL.Query().Get("duration"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid duration"})
			return
		}
		duration = d
	}

	devices, err := s.scanner.Scan(r.Context(), duration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discoverResponse{Devices: devices})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	forceFresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))

	state, err := s.reg.Get(chi.URLParam(r, "address")).State(r.Context(), forceFresh)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetDetails(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")

	raw, err := s.reg.Get(addr).Details(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detailsResponse{Address: addr, Raw: raw})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	op, ok := wire.ControlOpByName(req.Command)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown command " + strconv.Quote(req.Command)})
		return
	}

	state, err := s.reg.Get(chi.URLParam(r, "address")).Execute(r.Context(), op)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	state, err := s.reg.Get(chi.URLParam(r, "address")).SetSpeed(r.Context(), req.Speed)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Remove(chi.URLParam(r, "address")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
