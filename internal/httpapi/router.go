package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/leehonan/meterman-server/internal/config"
	"github.com/leehonan/meterman-server/internal/httpapi/auth"
	"github.com/leehonan/meterman-server/internal/httpapi/middleware"
	"github.com/leehonan/meterman-server/internal/httpapi/ws"
)

// tokenTTL matches the session lifetime backend/auth issues its JWTs
// with.
const tokenTTL = 24 * time.Hour

// Server bundles the API handlers, the websocket hub, and the
// middleware chain into a single http.Handler, built the way
// main.go wires backend/api.
type Server struct {
	api     *API
	hub     *ws.Hub
	logger  *zap.Logger
	cfg     config.RestApi
	secret  string
}

// NewServer constructs the HTTP mux. secret signs session tokens and
// should be stable across restarts (derived from cfg.Password, as
// there is no separate secret in the INI schema).
func NewServer(api *API, hub *ws.Hub, cfg config.RestApi, secret string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{api: api, hub: hub, cfg: cfg, secret: secret, logger: logger}
}

// Handler builds the routed, middleware-wrapped http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /ws", s.hub.HandleWS)

	protected := http.NewServeMux()
	protected.HandleFunc("GET /meterentries/{node}", s.api.GetMeterEntries)
	protected.HandleFunc("GET /meterconsumption/{node}", s.api.GetMeterConsumption)
	protected.HandleFunc("GET /gatewaysnapshots/{gw}", s.api.GetGatewaySnapshots)
	protected.HandleFunc("GET /nodesnapshots/{node}", s.api.GetNodeSnapshots)
	protected.HandleFunc("GET /nodeevents/{node}", s.api.GetNodeEvents)
	protected.HandleFunc("GET /viz/{node}", s.api.GetViz)
	protected.HandleFunc("PUT /nodectrl/{node}", s.api.PutNodeCtrl)
	protected.HandleFunc("PUT /meterdata/delete/{node}", s.api.PutMeterDataDelete)
	protected.HandleFunc("PUT /meterdata/upload/{op}/{node}", s.api.PutMeterDataUpload)

	mux.Handle("/", middleware.Auth(s.secret)(protected))

	chain := middleware.Logging(s.logger)(middleware.RateLimiter(300)(mux))
	return chain
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin exchanges the configured operator credentials for a
// bearer token, standing in for the teacher's /login handler against
// a single-account RestApi.user/RestApi.password pair instead of a
// multi-user table.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	if req.Username != s.cfg.User {
		writeError(s.logger, w, http.StatusUnauthorized, "unauthorized", "invalid username or password")
		return
	}
	hash, err := s.api.Data.UserPasswordHash(req.Username)
	if err != nil || !auth.CheckPassword(hash, req.Password) {
		writeError(s.logger, w, http.StatusUnauthorized, "unauthorized", "invalid username or password")
		return
	}
	tok := auth.GenerateToken(req.Username, tokenTTL, s.secret)
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"token": tok})
}
