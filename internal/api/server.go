// internal/api/server.go

// Package api exposes the rig over REST and a WebSocket live feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tamzrod/ring-tester/internal/device"
	"github.com/tamzrod/ring-tester/internal/status"
	"github.com/tamzrod/ring-tester/internal/storage"
	"github.com/tamzrod/ring-tester/internal/telemetry"
	"github.com/tamzrod/ring-tester/internal/testrun"
)

// ---- collaborators ----

type Telemetry interface {
	Snapshot() telemetry.Snapshot
	ReadParameters() (telemetry.Parameters, bool)
	WriteParameters(u telemetry.ParameterUpdate) error
}

type Commands interface {
	EnableServo() error
	DisableServo() error
	ResetAlarm() error
	StartTest() error
	Stop() error
	Home() error
	JogForward(on bool) error
	JogBackward(on bool) error
	StopAllJog() error
	SetJogVelocity(v float64) (float64, error)
	LockUpper() error
	LockLower() error
	UnlockAll() error
	SetRemoteMode(on bool) error
}

type Runs interface {
	Start(ctx context.Context, req testrun.Request) (string, error)
	Stop() error
	Status() testrun.Status
	RetryFinalize() error
	Abandon() error
}

type Link interface {
	Name() string
	Connected() bool
	Reconnect() error
	CPUState() device.CPUState
}

type Health interface {
	Snapshot() status.Snapshot
}

type Feed interface {
	Subscribe(pid uuid.UUID) <-chan telemetry.Snapshot
	Unsubscribe(pid uuid.UUID)
}

// Deps wires the server. Every field but Endpoint is required.
type Deps struct {
	Endpoint  string
	Telemetry Telemetry
	Commands  Commands
	Runs      Runs
	Link      Link
	Health    Health
	Feed      Feed
	Store     storage.Store
}

type Server struct {
	d        Deps
	router   *mux.Router
	upgrader websocket.Upgrader
}

func New(d Deps) *Server {
	s := &Server{
		d:      d,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/ws", s.handleWS)

	a := r.PathPrefix("/api").Subrouter()

	a.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// status
	a.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	a.HandleFunc("/status/connection", s.handleConnection).Methods(http.MethodGet)
	a.HandleFunc("/status/reconnect", s.handleReconnect).Methods(http.MethodPost)
	a.HandleFunc("/parameters", s.handleGetParameters).Methods(http.MethodGet)
	a.HandleFunc("/parameters", s.handleSetParameters).Methods(http.MethodPost)

	// commands
	a.HandleFunc("/command/start", s.command(s.d.Commands.StartTest, "Test started", "Failed to start test")).Methods(http.MethodPost)
	a.HandleFunc("/command/stop", s.command(s.d.Commands.Stop, "Emergency stop executed", "Failed to execute stop")).Methods(http.MethodPost)
	a.HandleFunc("/command/home", s.command(s.d.Commands.Home, "Homing started", "Failed to start homing")).Methods(http.MethodPost)

	a.HandleFunc("/servo/enable", s.command(s.d.Commands.EnableServo, "Servo enabled", "Failed to enable servo")).Methods(http.MethodPost)
	a.HandleFunc("/servo/disable", s.command(s.d.Commands.DisableServo, "Servo disabled", "Failed to disable servo")).Methods(http.MethodPost)
	a.HandleFunc("/servo/reset", s.command(s.d.Commands.ResetAlarm, "Alarm reset", "Failed to reset alarm")).Methods(http.MethodPost)

	a.HandleFunc("/jog/speed", s.handleJogSpeed).Methods(http.MethodPost)
	a.HandleFunc("/jog/{dir:forward|backward}/{action:start|stop}", s.handleJog).Methods(http.MethodPost)

	a.HandleFunc("/clamp/upper/lock", s.command(s.d.Commands.LockUpper, "Upper clamp locked", "Failed to lock upper clamp")).Methods(http.MethodPost)
	a.HandleFunc("/clamp/lower/lock", s.command(s.d.Commands.LockLower, "Lower clamp locked", "Failed to lock lower clamp")).Methods(http.MethodPost)
	a.HandleFunc("/clamp/unlock", s.command(s.d.Commands.UnlockAll, "All clamps unlocked", "Failed to unlock clamps")).Methods(http.MethodPost)

	a.HandleFunc("/mode", s.handleGetMode).Methods(http.MethodGet)
	a.HandleFunc("/mode/{mode:local|remote}", s.handleSetMode).Methods(http.MethodPost)

	// runs
	a.HandleFunc("/test/start", s.handleTestStart).Methods(http.MethodPost)
	a.HandleFunc("/test/stop", s.handleTestStop).Methods(http.MethodPost)
	a.HandleFunc("/test/status", s.handleTestStatus).Methods(http.MethodGet)
	a.HandleFunc("/test/retry", s.handleTestRetry).Methods(http.MethodPost)
	a.HandleFunc("/test/abandon", s.handleTestAbandon).Methods(http.MethodPost)

	// history
	a.HandleFunc("/tests", s.handleListRuns).Methods(http.MethodGet)
	a.HandleFunc("/tests/{id}", s.handleGetRun).Methods(http.MethodGet)
	a.HandleFunc("/tests/{id}", s.handleDeleteRun).Methods(http.MethodDelete)
	a.HandleFunc("/tests/{id}/excel", s.handleRunExcel).Methods(http.MethodGet)
	a.HandleFunc("/report/excel", s.handleRunsExcel).Methods(http.MethodGet)

	a.HandleFunc("/alarms", s.handleListAlarms).Methods(http.MethodGet)
	a.HandleFunc("/alarms/{id}/acknowledge", s.handleAckAlarm).Methods(http.MethodPost)
}

// ---- responses ----

// Response is the body of every command endpoint.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func reply(w http.ResponseWriter, err error, ok, failed string) {
	if err != nil {
		log.Printf("api: %s: %v", failed, err)
		writeJSON(w, statusFor(err), Response{Success: false, Message: failed + ": " + reason(err)})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: ok})
}

// reason is the operator-facing text for err. Transport detail stays in
// the log.
func reason(err error) string {
	var perr *telemetry.ParameterError
	switch {
	case errors.Is(err, device.ErrNotConnected):
		return "controller not connected"
	case errors.Is(err, device.ErrRejected):
		return "controller rejected the request"
	case errors.Is(err, testrun.ErrRunActive):
		return "a test is already running"
	case errors.Is(err, testrun.ErrNoRun):
		return "no test is pending"
	case errors.Is(err, storage.ErrNotFound):
		return "not found"
	case errors.As(err, &perr) && len(perr.Invalid) > 0:
		return strings.Join(perr.Invalid, "; ")
	case errors.As(err, &perr):
		return "controller write failed for " + strings.Join(perr.Failed, ", ")
	case errors.Is(err, errBadRequest):
		return "malformed request"
	default:
		return "internal error"
	}
}

func statusFor(err error) int {
	var perr *telemetry.ParameterError
	switch {
	case errors.As(err, &perr) && len(perr.Invalid) > 0:
		return http.StatusBadRequest
	case errors.Is(err, device.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, testrun.ErrNoRun):
		return http.StatusNotFound
	case errors.Is(err, testrun.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func (s *Server) command(fn func() error, ok, failed string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply(w, fn(), ok, failed)
	}
}
