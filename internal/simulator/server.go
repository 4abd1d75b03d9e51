package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/calder-iot/console-core/internal/infrastructure/logging"
	"github.com/calder-iot/console-core/internal/realtime"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/auth"

	shutdownTimeout = 5 * time.Second
)

// Options configures the simulator server.
type Options struct {
	// Addr is the listen address for Run (e.g. ":8080").
	Addr string

	// DBPath is the SQLite database path. ":memory:" for ephemeral state.
	DBPath string

	// TokenSecret signs issued access tokens.
	TokenSecret string

	// TokenTTL is the access token lifetime. Defaults to 15 minutes.
	TokenTTL time.Duration

	// DefaultRole is assigned to accounts created via register.
	// Defaults to "Viewer".
	DefaultRole string
}

// authRequest covers login and register bodies; register carries the
// extra name fields.
type authRequest struct {
	UserName  string `json:"userName"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// authResponse is the reply to login/register/refresh.
type authResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Server is a stand-in for the dashboard's backend: identity endpoints,
// a device API, and a websocket event hub. It exists so the client
// stack can be exercised end to end without the real services.
type Server struct {
	opts   Options
	store  *Store
	hub    *Hub
	log    *logging.Logger
	router chi.Router

	upgrader websocket.Upgrader

	// sessions maps refresh token value to user ID.
	sessionMu sync.Mutex
	sessions  map[string]string
}

// NewServer creates a simulator server over a fresh or existing store.
func NewServer(opts Options, log *logging.Logger) (*Server, error) {
	if opts.TokenSecret == "" {
		return nil, errors.New("simulator: token secret is required")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 15 * time.Minute
	}
	if opts.DefaultRole == "" {
		opts.DefaultRole = "Viewer"
	}
	if opts.DBPath == "" {
		opts.DBPath = ":memory:"
	}

	store, err := OpenStore(opts.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:  opts,
		store: store,
		hub:   NewHub(log),
		log:   log.With("component", "simulator"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		sessions: make(map[string]string),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the HTTP handler, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub exposes the websocket hub for direct event emission.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Store exposes the backing store for seeding.
func (s *Server) Store() *Store {
	return s.store
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully and closes the store.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("simulator listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		//nolint:errcheck // Best-effort shutdown before close
		srv.Shutdown(shutCtx)
		return nil
	})

	err := g.Wait()
	if closeErr := s.store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// SeedUser creates an account directly in the store, bypassing the
// register endpoint. Intended for demo and test fixtures.
func (s *Server) SeedUser(ctx context.Context, userName, password, role string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return s.store.CreateUser(ctx, &UserRecord{
		ID:           uuid.NewString(),
		UserName:     userName,
		PasswordHash: hash,
		RoleID:       uuid.NewString(),
		RoleName:     role,
	})
}

// EmitMeasurement broadcasts a MeasurementAdded event for the measurement's device.
func (s *Server) EmitMeasurement(m realtime.Measurement) {
	s.hub.Broadcast(realtime.EventMeasurementAdded, m.DeviceID, m)
}

// EmitThreshold broadcasts a ThresholdExceeded event for the alert's device.
func (s *Server) EmitThreshold(a realtime.ThresholdAlert) {
	s.hub.Broadcast(realtime.EventThresholdExceeded, a.DeviceID, a)
}

// EmitDeviceStatus broadcasts a DeviceStatusChanged event.
func (s *Server) EmitDeviceStatus(st realtime.DeviceStatus) {
	s.hub.Broadcast(realtime.EventDeviceStatusChanged, st.DeviceID, st)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
	})

	r.Route("/devices", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/", s.handleListDevices)
		r.Post("/", s.handleCreateDevice)
		r.Get("/{id}", s.handleGetDevice)
		r.Put("/{id}", s.handleUpdateDevice)
		r.Delete("/{id}", s.handleDeleteDevice)
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

// requireAuth validates the bearer token and stashes the user ID.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

func (s *Server) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", ErrTokenInvalid
	}
	return verifyAccessToken(raw, s.opts.TokenSecret)
}

type ctxKey int

const ctxKeyUserID ctxKey = iota

func withUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, id)
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.UserByName(r.Context(), req.UserName)
	if err != nil || !verifyPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.issueSession(w, user)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserName == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "userName and password are required")
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hashing password")
		return
	}

	user := &UserRecord{
		ID:           uuid.NewString(),
		UserName:     req.UserName,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		RoleID:       uuid.NewString(),
		RoleName:     s.opts.DefaultRole,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "creating account")
		return
	}

	s.issueSession(w, user)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	s.sessionMu.Lock()
	userID, ok := s.sessions[cookie.Value]
	if ok {
		// Rotation: the presented token is consumed either way.
		delete(s.sessions, cookie.Value)
	}
	s.sessionMu.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	user, err := s.store.UserByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown account")
		return
	}

	s.issueSession(w, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		s.sessionMu.Lock()
		delete(s.sessions, cookie.Value)
		s.sessionMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// issueSession signs an access token, rotates the refresh cookie, and
// writes the auth response.
func (s *Server) issueSession(w http.ResponseWriter, user *UserRecord) {
	access, expiresAt, err := issueAccessToken(user, s.opts.TokenSecret, s.opts.TokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "issuing token")
		return
	}

	refresh, err := newRefreshToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "issuing refresh token")
		return
	}

	s.sessionMu.Lock()
	s.sessions[refresh] = user.ID
	s.sessionMu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refresh,
		Path:     refreshCookiePath,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, http.StatusOK, authResponse{AccessToken: access, ExpiresAt: expiresAt})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing devices")
		return
	}
	if devices == nil {
		devices = []DeviceRecord{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var d DeviceRecord
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.APIKey == "" {
		d.APIKey = uuid.NewString()
	}
	if err := s.store.CreateDevice(r.Context(), &d); err != nil {
		writeError(w, http.StatusInternalServerError, "creating device")
		return
	}
	s.log.Info("device created", "device_id", d.ID, "by", userIDFrom(r.Context()))
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.DeviceByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetching device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var d DeviceRecord
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d.ID = chi.URLParam(r, "id")

	wasActive := true
	if prev, err := s.store.DeviceByID(r.Context(), d.ID); err == nil {
		wasActive = prev.IsActive
	}

	if err := s.store.UpdateDevice(r.Context(), &d); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "updating device")
		return
	}

	if wasActive != d.IsActive {
		s.EmitDeviceStatus(realtime.DeviceStatus{DeviceID: d.ID, IsActive: d.IsActive})
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteDevice(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "deleting device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket authenticates the bearer token and hands the upgraded
// connection to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.serve(conn, userID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort response write
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
