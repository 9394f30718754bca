// internal/api/handlers.go
package api

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tamzrod/ring-tester/internal/report"
	"github.com/tamzrod/ring-tester/internal/status"
	"github.com/tamzrod/ring-tester/internal/storage"
	"github.com/tamzrod/ring-tester/internal/telemetry"
	"github.com/tamzrod/ring-tester/internal/testrun"
)

// ---- status ----

type healthResponse struct {
	Status     string          `json:"status"`
	Controller string          `json:"controller"`
	Connected  bool            `json:"connected"`
	CPU        string          `json:"cpu"`
	Link       status.Snapshot `json:"link"`
	Run        testrun.Status  `json:"run"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Controller: s.d.Link.Name(),
		Connected:  s.d.Link.Connected(),
		CPU:        string(s.d.Link.CPUState()),
		Link:       s.d.Health.Snapshot(),
		Run:        s.d.Runs.Status(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Telemetry.Snapshot())
}

type connectionResponse struct {
	Connected bool            `json:"connected"`
	Endpoint  string          `json:"endpoint"`
	Message   string          `json:"message"`
	Link      status.Snapshot `json:"link"`
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	connected := s.d.Link.Connected()
	msg := "Disconnected"
	if connected {
		msg = "Connected"
	}
	writeJSON(w, http.StatusOK, connectionResponse{
		Connected: connected,
		Endpoint:  s.d.Endpoint,
		Message:   msg,
		Link:      s.d.Health.Snapshot(),
	})
}

type reconnectResponse struct {
	Response
	Connected bool `json:"connected"`
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	err := s.d.Link.Reconnect()
	resp := reconnectResponse{
		Response:  Response{Success: err == nil, Message: "Reconnected successfully"},
		Connected: s.d.Link.Connected(),
	}
	code := http.StatusOK
	if err != nil {
		log.Printf("api: reconnect: %v", err)
		resp.Message = "Reconnection failed: controller not reachable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// ---- parameters ----

func (s *Server) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	p, ok := s.d.Telemetry.ReadParameters()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, Response{Message: "Parameters unavailable: controller not reachable"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetParameters(w http.ResponseWriter, r *http.Request) {
	var u telemetry.ParameterUpdate
	if err := decode(r, &u); err != nil {
		reply(w, err, "", "Invalid parameters")
		return
	}
	if u.Empty() {
		writeJSON(w, http.StatusBadRequest, Response{Message: "No parameters given"})
		return
	}

	err := s.d.Telemetry.WriteParameters(u)
	reply(w, err, "Parameters updated successfully", "Failed to write parameters")
}

// ---- jog / mode ----

type jogSpeedRequest struct {
	Velocity *float64 `json:"velocity"` // mm/min
}

func (s *Server) handleJogSpeed(w http.ResponseWriter, r *http.Request) {
	var req jogSpeedRequest
	if err := decode(r, &req); err != nil {
		reply(w, err, "", "Invalid request")
		return
	}
	if req.Velocity == nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "velocity required"})
		return
	}
	applied, err := s.d.Commands.SetJogVelocity(*req.Velocity)
	reply(w, err, fmt.Sprintf("Jog speed set to %g mm/min", applied), "Failed to set jog speed")
}

func (s *Server) handleJog(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	on := vars["action"] == "start"

	var err error
	if vars["dir"] == "forward" {
		err = s.d.Commands.JogForward(on)
	} else {
		err = s.d.Commands.JogBackward(on)
	}

	verb := "stopped"
	if on {
		verb = "started"
	}
	reply(w, err, fmt.Sprintf("Jog %s %s", vars["dir"], verb), "Failed to "+vars["action"]+" jog")
}

type modeResponse struct {
	RemoteMode bool   `json:"remote_mode"`
	Mode       string `json:"mode"`
}

func modeName(remote bool) string {
	if remote {
		return "remote"
	}
	return "local"
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	snap := s.d.Telemetry.Snapshot()
	if !snap.Connected {
		writeJSON(w, http.StatusServiceUnavailable, Response{Message: "Mode unavailable: controller not reachable"})
		return
	}
	writeJSON(w, http.StatusOK, modeResponse{RemoteMode: snap.RemoteMode, Mode: modeName(snap.RemoteMode)})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	remote := mux.Vars(r)["mode"] == "remote"
	err := s.d.Commands.SetRemoteMode(remote)
	reply(w, err, "Switched to "+modeName(remote)+" mode", "Failed to switch mode")
}

// ---- runs ----

type startRequest struct {
	PipeDiameter      float64 `json:"pipe_diameter"`
	PipeLength        float64 `json:"pipe_length"`
	DeflectionPercent float64 `json:"deflection_percent"`
	TestSpeed         float64 `json:"test_speed"`
	MaxStroke         float64 `json:"max_stroke"`
	MaxForce          float64 `json:"max_force"`
	SampleID          string  `json:"sample_id"`
	Operator          string  `json:"operator"`
	Notes             string  `json:"notes"`
}

type startResponse struct {
	Response
	TestID string `json:"test_id,omitempty"`
}

func (s *Server) handleTestStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		reply(w, err, "", "Invalid request")
		return
	}
	if req.PipeDiameter <= 0 || req.PipeLength <= 0 || req.DeflectionPercent <= 0 || req.TestSpeed <= 0 {
		writeJSON(w, http.StatusBadRequest, Response{Message: "pipe_diameter, pipe_length, deflection_percent and test_speed must be positive"})
		return
	}

	id, err := s.d.Runs.Start(r.Context(), testrun.Request{
		Parameters: telemetry.Parameters{
			PipeDiameter:      req.PipeDiameter,
			PipeLength:        req.PipeLength,
			DeflectionPercent: req.DeflectionPercent,
			TestSpeed:         req.TestSpeed,
			MaxStroke:         req.MaxStroke,
			MaxForce:          req.MaxForce,
		},
		SampleID: req.SampleID,
		Operator: req.Operator,
		Notes:    req.Notes,
	})
	if err != nil {
		log.Printf("api: start test: %v", err)
		writeJSON(w, statusFor(err), startResponse{Response: Response{Message: "Failed to start test: " + reason(err)}})
		return
	}
	writeJSON(w, http.StatusOK, startResponse{Response: Response{Success: true, Message: "Test started"}, TestID: id})
}

func (s *Server) handleTestStop(w http.ResponseWriter, r *http.Request) {
	reply(w, s.d.Runs.Stop(), "Test stopped", "Failed to stop test")
}

func (s *Server) handleTestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Runs.Status())
}

func (s *Server) handleTestRetry(w http.ResponseWriter, r *http.Request) {
	reply(w, s.d.Runs.RetryFinalize(), "Test result saved", "Failed to save test result")
}

func (s *Server) handleTestAbandon(w http.ResponseWriter, r *http.Request) {
	reply(w, s.d.Runs.Abandon(), "Pending test abandoned", "Failed to abandon test")
}

// ---- history ----

func runFilter(r *http.Request) (storage.RunFilter, error) {
	q := r.URL.Query()
	f := storage.RunFilter{SampleID: q.Get("sample_id")}

	if v := q.Get("passed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("%w: passed: %v", errBadRequest, err)
		}
		f.Passed = &b
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("%w: %s: %v", errBadRequest, p.key, err)
		}
		*p.dst = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%w: limit: %q", errBadRequest, v)
		}
		f.Limit = n
	}
	return f, nil
}

type runsResponse struct {
	Tests []storage.Run `json:"tests"`
	Total int           `json:"total"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	f, err := runFilter(r)
	if err != nil {
		reply(w, err, "", "Invalid filter")
		return
	}
	runs, err := s.d.Store.ListRuns(r.Context(), f)
	if err != nil {
		reply(w, err, "", "Failed to list tests")
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runsResponse{Tests: runs, Total: len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.d.Store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		reply(w, err, "", "Test not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	reply(w, s.d.Store.DeleteRun(r.Context(), id), "Test "+id+" deleted", "Failed to delete test")
}

func (s *Server) handleRunExcel(w http.ResponseWriter, r *http.Request) {
	run, err := s.d.Store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		reply(w, err, "", "Test not found")
		return
	}

	var buf bytes.Buffer
	if err := report.WriteRun(&buf, run); err != nil {
		reply(w, err, "", "Failed to build report")
		return
	}
	name := fmt.Sprintf("test_report_%s_%s.xlsx", run.ID, run.StartedAt.Format("20060102"))
	writeFile(w, name, buf.Bytes())
}

func (s *Server) handleRunsExcel(w http.ResponseWriter, r *http.Request) {
	f, err := runFilter(r)
	if err != nil {
		reply(w, err, "", "Invalid filter")
		return
	}
	runs, err := s.d.Store.ListRuns(r.Context(), f)
	if err != nil {
		reply(w, err, "", "Failed to list tests")
		return
	}
	if len(runs) == 0 {
		writeJSON(w, http.StatusNotFound, Response{Message: "No tests found for export"})
		return
	}

	now := time.Now()
	var buf bytes.Buffer
	if err := report.WriteRuns(&buf, runs, now); err != nil {
		reply(w, err, "", "Failed to build report")
		return
	}
	writeFile(w, "test_export_"+now.Format("20060102_150405")+".xlsx", buf.Bytes())
}

func writeFile(w http.ResponseWriter, name string, body []byte) {
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Printf("api: write %s: %v", name, err)
	}
}

// ---- alarms ----

type alarmsResponse struct {
	Alarms []storage.Alarm `json:"alarms"`
}

func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.AlarmFilter{}
	if v := q.Get("active_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			reply(w, fmt.Errorf("%w: active_only: %v", errBadRequest, err), "", "Invalid filter")
			return
		}
		f.ActiveOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			reply(w, fmt.Errorf("%w: limit: %q", errBadRequest, v), "", "Invalid filter")
			return
		}
		f.Limit = n
	}

	alarms, err := s.d.Store.ListAlarms(r.Context(), f)
	if err != nil {
		reply(w, err, "", "Failed to list alarms")
		return
	}
	if alarms == nil {
		alarms = []storage.Alarm{}
	}
	writeJSON(w, http.StatusOK, alarmsResponse{Alarms: alarms})
}

type ackRequest struct {
	By string `json:"by"`
}

func (s *Server) handleAckAlarm(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := decode(r, &req); err != nil {
		reply(w, err, "", "Invalid request")
		return
	}
	if req.By == "" {
		req.By = "operator"
	}
	err := s.d.Store.AcknowledgeAlarm(r.Context(), mux.Vars(r)["id"], req.By)
	reply(w, err, "Alarm acknowledged", "Failed to acknowledge alarm")
}
