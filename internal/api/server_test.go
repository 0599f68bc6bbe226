package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/modbus2mqtt/internal/bridges/modbus"
	"github.com/nerrad567/modbus2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/modbus2mqtt/internal/infrastructure/logging"
)

// fakeBridge implements BridgeStatus.
type fakeBridge struct {
	metrics   modbus.BridgeMetrics
	registers []modbus.Register
}

func (f *fakeBridge) GetMetrics() modbus.BridgeMetrics { return f.metrics }
func (f *fakeBridge) Registers() []modbus.Register     { return f.registers }

func testServer(t *testing.T) (*Server, *fakeBridge) {
	t.Helper()

	df, err := modbus.ParseDataFormat(">h")
	if err != nil {
		t.Fatalf("ParseDataFormat: %v", err)
	}
	of, err := modbus.ParseOutputFormat("{:.1f}")
	if err != nil {
		t.Fatalf("ParseOutputFormat: %v", err)
	}

	bridge := &fakeBridge{
		metrics: modbus.BridgeMetrics{
			MQTTConnected: true,
			BusConnected:  true,
			Registers:     1,
			Sweeps:        10,
			Reads:         3,
			ReadFailures:  1,
			LastSweep:     1500 * time.Microsecond,
		},
		registers: []modbus.Register{{
			Topic:         "boiler/temp",
			Address:       16,
			SlaveID:       2,
			FunctionCode:  modbus.FuncReadHoldingRegisters,
			Size:          1,
			DataFormat:    df,
			Multiplier:    0.1,
			OutputFormat:  of,
			PollFrequency: 30 * time.Second,
			Unit:          "°C",
		}},
	}

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Logger:  log,
		Bridge:  bridge,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, bridge
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestNew_Validation(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{}, "test", io.Discard)

	if _, err := New(Deps{Bridge: &fakeBridge{}}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without bridge succeeded")
	}
}

func TestHealth(t *testing.T) {
	srv, bridge := testServer(t)

	rec := get(t, srv, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" || body.Version != "test" || !body.MQTTConnected || !body.BusConnected {
		t.Errorf("body = %+v", body)
	}

	bridge.metrics.MQTTConnected = false
	rec = get(t, srv, "/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status without broker = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"degraded"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHealth_BusDownIsStillOK(t *testing.T) {
	srv, bridge := testServer(t)
	bridge.metrics.BusConnected = false

	if rec := get(t, srv, "/api/v1/health"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsJSON(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/api/v1/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body SystemMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Bridge.Sweeps != 10 || body.Bridge.Reads != 3 || body.Bridge.ReadFailures != 1 {
		t.Errorf("bridge = %+v", body.Bridge)
	}
	if body.Bridge.LastSweepMS != 1.5 {
		t.Errorf("last_sweep_ms = %v, want 1.5", body.Bridge.LastSweepMS)
	}
	if !body.MQTT.Connected {
		t.Error("mqtt.connected = false")
	}
	if body.Runtime.Goroutines == 0 {
		t.Error("runtime.goroutines = 0")
	}
}

func TestRegisters(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/api/v1/registers")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Registers []registerResponse `json:"registers"`
		Count     int                `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Count != 1 || len(body.Registers) != 1 {
		t.Fatalf("count = %d", body.Count)
	}
	r := body.Registers[0]
	if r.Topic != "boiler/temp" || r.Slave != 2 || r.Address != 16 || r.DataFormat != ">h" ||
		r.OutputFormat != "{:.1f}" || r.FrequencySeconds != 30 || r.Unit != "°C" {
		t.Errorf("register = %+v", r)
	}
}

func TestPrometheus(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"modbus2mqtt_reads_total 3",
		"modbus2mqtt_read_failures_total 1",
		"modbus2mqtt_sweeps_total 10",
		`modbus2mqtt_connected{link="mqtt"} 1`,
		`modbus2mqtt_connected{link="modbus"} 1`,
		"modbus2mqtt_registers 1",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/api/v1/health")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want client value", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv, "/api/v1/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body Error
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Code != ErrCodeNotFound {
		t.Errorf("code = %q", body.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := testServer(t)

	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestStartAndClose(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start succeeded")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
