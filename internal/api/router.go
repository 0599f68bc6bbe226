package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, "no route for "+r.URL.Path)
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", s.prometheusHandler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/registers", s.handleRegisters)
	})

	return r
}

// prometheusHandler serves bridge counters and Go runtime metrics from a
// private registry.
func (s *Server) prometheusHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newBridgeCollector(s.bridge),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	MQTTConnected bool   `json:"mqtt_connected"`
	BusConnected  bool   `json:"bus_connected"`
}

// handleHealth reports "ok" when the broker is reachable, "degraded" otherwise.
// The bus link is informational: it reconnects on the next request.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.bridge.GetMetrics()

	resp := healthResponse{
		Status:        "ok",
		Version:       s.version,
		MQTTConnected: m.MQTTConnected,
		BusConnected:  m.BusConnected,
	}
	status := http.StatusOK
	if !m.MQTTConnected {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

// registerResponse is one entry of GET /api/v1/registers.
type registerResponse struct {
	Topic            string  `json:"topic"`
	Slave            int     `json:"slave"`
	Address          int     `json:"address"`
	FunctionCode     int     `json:"function_code"`
	Size             int     `json:"size"`
	DataFormat       string  `json:"data_format"`
	Multiplier       float64 `json:"multiplier"`
	OutputFormat     string  `json:"output_format,omitempty"`
	FrequencySeconds float64 `json:"frequency_seconds"`
	DomoticzIdx      int     `json:"domoticz_idx,omitempty"`
	Unit             string  `json:"unit,omitempty"`
}

// handleRegisters lists the register table.
func (s *Server) handleRegisters(w http.ResponseWriter, _ *http.Request) {
	regs := s.bridge.Registers()
	out := make([]registerResponse, 0, len(regs))
	for _, r := range regs {
		out = append(out, registerResponse{
			Topic:            r.Topic,
			Slave:            r.SlaveID,
			Address:          r.Address,
			FunctionCode:     r.FunctionCode,
			Size:             r.Size,
			DataFormat:       r.DataFormat.String(),
			Multiplier:       r.Multiplier,
			OutputFormat:     r.OutputFormat.String(),
			FrequencySeconds: r.PollFrequency.Seconds(),
			DomoticzIdx:      r.DomoticzIdx,
			Unit:             r.Unit,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"registers": out,
		"count":     len(out),
	})
}
