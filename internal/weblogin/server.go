// Package weblogin receives browser-initiated logins. The account site
// finishes its OAuth-style flow by posting the access token to a fixed
// localhost port where this server hands it to the session controller.
package weblogin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/easyvpn/easyvpn-client/internal/account"
)

// DefaultPort is the localhost port the account site posts tokens to. The
// site hardcodes it, so it is only configurable for development setups.
const DefaultPort = 34999

// Envelope codes returned to the browser.
const (
	codeSuccess       = "success"
	codeInvalidParams = "invalid_params"
	codeInvalidToken  = "invalid_token"
	codeLoginFailed   = "login_failed"
)

// Session is the slice of the session controller the receiver drives.
type Session interface {
	LoginWithToken(ctx context.Context, accessToken, deviceUserID string) error
	GetAccount() *account.Account
}

// loginRequest is the payload posted by the account site.
type loginRequest struct {
	AccessToken  string `json:"access_token"`
	DeviceUserID string `json:"device_user_id,omitempty"`
}

// envelope mirrors the backend API response shape so the account site's
// frontend can treat the local receiver like any other API endpoint.
type envelope struct {
	Code     string           `json:"code"`
	Data     *account.Account `json:"data"`
	ErrorMsg string           `json:"errorMsg"`
	Fail     bool             `json:"fail"`
	Success  bool             `json:"success"`
}

// Server is the web login receiver. It binds 127.0.0.1 only; tokens never
// transit a non-loopback interface.
type Server struct {
	session Session
	port    int

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
}

// NewServer creates a receiver delegating token logins to the given session.
// If port is 0, DefaultPort is used.
func NewServer(session Session, port int) *Server {
	if port <= 0 {
		port = DefaultPort
	}
	return &Server{
		session: session,
		port:    port,
	}
}

// Start binds the loopback port and begins serving. It returns immediately;
// requests are handled on background goroutines.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv != nil {
		return errors.New("web login server already started")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srv := s.httpSrv
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web login server failed", "error", err)
		}
	}()

	slog.Info("Web login receiver listening", "addr", addr)
	return nil
}

// Stop shuts the server down, letting in-flight requests finish within ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop web login server: %w", err)
	}

	slog.Info("Web login receiver stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handler builds the route table. Browser posts arrive from the account
// site's origin, so the CORS layer must admit credentialed cross-origin
// requests.
func (s *Server) handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/receive_login", s.handleReceiveLogin).
		Methods(http.MethodPost, http.MethodOptions)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

func (s *Server) handleReceiveLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Web login request body not decodable", "error", err)
		writeEnvelope(w, http.StatusBadRequest, codeInvalidParams, nil, "request body must be JSON")
		return
	}

	if req.AccessToken == "" {
		writeEnvelope(w, http.StatusBadRequest, codeInvalidParams, nil, "access token must not be empty")
		return
	}

	// Reject tokens that cannot work before burning a backend round trip.
	claims, err := account.ParseToken(req.AccessToken)
	if err != nil {
		slog.Warn("Web login with undecodable token", "error", err)
		writeEnvelope(w, http.StatusUnauthorized, codeInvalidToken, nil, "access token is not decodable")
		return
	}
	if claims.Expired(time.Now()) {
		slog.Warn("Web login with expired token", "username", claims.Username)
		writeEnvelope(w, http.StatusUnauthorized, codeInvalidToken, nil, "access token is expired")
		return
	}

	if err := s.session.LoginWithToken(r.Context(), req.AccessToken, req.DeviceUserID); err != nil {
		writeEnvelope(w, http.StatusInternalServerError, codeLoginFailed, nil, err.Error())
		return
	}

	slog.Info("Web login accepted", "username", claims.Username)
	writeEnvelope(w, http.StatusOK, codeSuccess, s.session.GetAccount(), "")
}

func writeEnvelope(w http.ResponseWriter, status int, code string, data *account.Account, errorMsg string) {
	// The frontend expects an object in data even on failure.
	if data == nil {
		data = &account.Account{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := envelope{
		Code:     code,
		Data:     data,
		ErrorMsg: errorMsg,
		Fail:     code != codeSuccess,
		Success:  code == codeSuccess,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode web login response", "error", err)
	}
}
