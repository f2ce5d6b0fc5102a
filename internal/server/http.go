package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
)

// RequestIDHeader carries the request id set by the router.
const RequestIDHeader = "X-Request-Id"

// ErrorView is the JSON body of a failed request.
type ErrorView struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func describeError(err error) ErrorView {
	var full *gameerr.InventoryFullError
	if errors.As(err, &full) {
		err = full.AsDomain()
	}
	var domainErr *gameerr.Error
	if errors.As(err, &domainErr) {
		return ErrorView{Code: string(domainErr.Code), Message: domainErr.Message, Metadata: domainErr.Metadata}
	}
	return ErrorView{Code: string(gameerr.CodeUnknown), Message: "internal error"}
}

func httpStatus(err error) int {
	var full *gameerr.InventoryFullError
	if errors.As(err, &full) {
		return http.StatusConflict
	}
	switch gameerr.CodeOf(err).GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, httpStatus(err), describeError(err))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			defer func() {
				if p := recover(); p != nil {
					logger.Error("panic in http handler",
						zap.String("request_id", requestID),
						zap.String("path", r.URL.Path),
						zap.Any("panic", p),
					)
					respondJSON(rec, http.StatusInternalServerError, ErrorView{Code: string(gameerr.CodeUnknown), Message: "internal error"})
				}
				logger.Debug("http request",
					zap.String("request_id", requestID),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", rec.status),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

type httpAPI struct {
	svc      Services
	upgrader websocket.Upgrader
}

// NewRouter serves the read API, lobby listings and per-game websockets.
func NewRouter(svc Services, allowedOrigins []string) http.Handler {
	api := &httpAPI{svc: svc, upgrader: newUpgrader(allowedOrigins)}

	r := chi.NewRouter()
	r.Use(requestLogger(svc.Logger))

	r.Get("/healthz", api.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/games", api.listGames)
		r.Get("/games/{id}", api.getGame)
		r.Get("/games/{id}/field", api.getField)
		r.Get("/games/{id}/checksum", api.getChecksum)
		r.Post("/games/{id}/commands", api.executeCommand)
	})

	r.Get("/ws/games/{id}", func(w http.ResponseWriter, r *http.Request) {
		serveWS(api.svc, &api.upgrader, chi.URLParam(r, "id"), w, r)
	})

	return r
}

func (a *httpAPI) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      a.svc.Version,
		"active_games": a.svc.Lobby.ActiveCount(),
		"subscribers":  a.svc.Hub.Count(),
	})
}

func (a *httpAPI) listGames(w http.ResponseWriter, r *http.Request) {
	var names []string
	for _, v := range r.URL.Query()["status"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	statuses, err := parseStatuses(names)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"games": a.svc.Lobby.List(statuses...)})
}

func (a *httpAPI) getGame(w http.ResponseWriter, r *http.Request) {
	a.query(w, r, QueryGame)
}

func (a *httpAPI) getField(w http.ResponseWriter, r *http.Request) {
	a.query(w, r, QueryField)
}

func (a *httpAPI) getChecksum(w http.ResponseWriter, r *http.Request) {
	a.query(w, r, QueryChecksum)
}

func (a *httpAPI) query(w http.ResponseWriter, r *http.Request, kind string) {
	answer, err := QueryRequest{Kind: kind, GameID: chi.URLParam(r, "id")}.Run(r.Context(), a.svc.Engine)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, answer)
}

func (a *httpAPI) executeCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&req); err != nil {
		respondError(w, gameerr.Wrap(gameerr.CodeInvalidArgument, "malformed command", err))
		return
	}
	if req.HasOverrides() {
		respondError(w, gameerr.New(gameerr.CodeOverridesDenied, "overrides are only accepted over gRPC"))
		return
	}
	req.GameID = chi.URLParam(r, "id")
	cmd, err := req.Command()
	if err != nil {
		respondError(w, err)
		return
	}
	res, err := a.svc.Dispatcher.Execute(r.Context(), cmd)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, NewResultView(res))
}
