// Package stub is an in-process stand-in for the fitness backend. It serves
// the two endpoints the scenario calls, with the same envelope, the same
// per-IP login limit and bearer-token auth on the library.
package stub

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fitness-team/fitload/internal/loadtest/scenario"
)

// Default login limit: 5 per second per client IP.
const (
	DefaultLoginRate  = rate.Limit(5)
	DefaultLoginBurst = 5

	// idle limiters are dropped once the table grows past this size
	limiterSweepSize = 10000
	limiterIdleTTL   = time.Minute
)

// Envelope codes and messages.
const (
	CodeSuccess       = 200
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeInternalError = 500

	MessageSuccess     = "ok"
	MessageRateLimited = "too many requests, please retry later"
)

// result mirrors the backend's response envelope.
type result struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Code    int         `json:"code"`
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type user struct {
	id       int64
	phone    string
	nickname string
}

// Server is the stub backend.
type Server struct {
	router  *mux.Router
	logger  *zap.Logger
	limit   rate.Limit
	burst   int
	latency time.Duration
	now     func() time.Time

	visitorsMu sync.Mutex
	visitors   map[string]*visitor

	usersMu sync.RWMutex
	users   map[string]*user
	tokens  map[string]*user
	nextID  int64

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts what the stub has served.
type Stats struct {
	Logins       int64 `json:"logins"`
	RateLimited  int64 `json:"rateLimited"`
	Libraries    int64 `json:"libraries"`
	Unauthorized int64 `json:"unauthorized"`
	Users        int   `json:"users"`
}

// Option configures a Server.
type Option func(*Server)

// WithLoginLimit sets the per-IP login rate. A zero limit disables it.
func WithLoginLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) {
		s.limit = limit
		s.burst = burst
	}
}

// WithLatency delays every response by d.
func WithLatency(d time.Duration) Option {
	return func(s *Server) { s.latency = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates the stub and registers its routes.
func New(opts ...Option) *Server {
	s := &Server{
		logger:   zap.NewNop(),
		limit:    DefaultLoginRate,
		burst:    DefaultLoginBurst,
		now:      time.Now,
		visitors: make(map[string]*visitor),
		users:    make(map[string]*user),
		tokens:   make(map[string]*user),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/auth", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/library", s.handleLibrary).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, result{Success: true, Message: MessageSuccess, Data: s.Stats(), Code: CodeSuccess})
	}).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, result{Message: "not found", Code: http.StatusNotFound})
	})
	r.Use(s.delay)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Stats returns a copy of the counters.
func (s *Server) Stats() Stats {
	s.statsMu.Lock()
	st := s.stats
	s.statsMu.Unlock()

	s.usersMu.RLock()
	st.Users = len(s.users)
	s.usersMu.RUnlock()
	return st
}

func (s *Server) count(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

func (s *Server) delay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.latency > 0 {
			select {
			case <-time.After(s.latency):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.allow(ip) {
		s.count(func(st *Stats) { st.RateLimited++ })
		s.logger.Warn("login rate limited", zap.String("ip", ip))
		// the backend reports business errors in the envelope, with HTTP 200
		writeJSON(w, http.StatusOK, result{Message: MessageRateLimited, Code: CodeInternalError})
		return
	}

	var req scenario.AuthRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, result{Message: "malformed request body", Code: CodeParamError})
		return
	}
	if req.Type != scenario.LoginTypePhone {
		writeJSON(w, http.StatusOK, result{Message: "unsupported login type", Code: CodeInternalError})
		return
	}
	if len(req.Phone) < 8 {
		writeJSON(w, http.StatusOK, result{Message: "invalid phone number", Code: CodeParamError})
		return
	}

	u := s.findOrCreate(req.Phone)
	token := uuid.NewString()
	s.usersMu.Lock()
	s.tokens[token] = u
	s.usersMu.Unlock()
	s.count(func(st *Stats) { st.Logins++ })

	writeJSON(w, http.StatusOK, result{
		Success: true,
		Message: MessageSuccess,
		Code:    CodeSuccess,
		Data: scenario.LoginData{
			ID:       strconv.FormatInt(u.id, 10),
			Nickname: u.nickname,
			Phone:    maskPhone(u.phone),
			Token:    &token,
		},
	})
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.count(func(st *Stats) { st.Unauthorized++ })
		writeJSON(w, http.StatusUnauthorized, result{Message: "unauthorized", Code: CodeUnauthorized})
		return
	}

	difficulty := r.URL.Query().Get("difficulty")
	if difficulty == "" {
		difficulty = scenario.DefaultDifficulty
	}
	s.count(func(st *Stats) { st.Libraries++ })
	writeJSON(w, http.StatusOK, result{
		Success: true,
		Message: MessageSuccess,
		Code:    CodeSuccess,
		Data:    LibraryFor(difficulty),
	})
}

func (s *Server) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	_, ok = s.tokens[token]
	return ok
}

// findOrCreate registers unknown phones, like the backend's login does.
func (s *Server) findOrCreate(phone string) *user {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	if u, ok := s.users[phone]; ok {
		return u
	}
	s.nextID++
	u := &user{id: s.nextID, phone: phone, nickname: "User_" + phone[7:]}
	s.users[phone] = u
	return u
}

// allow applies the per-IP login limit.
func (s *Server) allow(ip string) bool {
	if s.limit == 0 {
		return true
	}
	now := s.now()

	s.visitorsMu.Lock()
	defer s.visitorsMu.Unlock()

	v, ok := s.visitors[ip]
	if !ok {
		if len(s.visitors) >= limiterSweepSize {
			for k, old := range s.visitors {
				if now.Sub(old.lastSeen) > limiterIdleTTL {
					delete(s.visitors, k)
				}
			}
		}
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// clientIP resolves the caller the way the backend does: proxy headers
// first, then the socket address.
func clientIP(r *http.Request) string {
	for _, h := range []string{"X-Forwarded-For", "Proxy-Client-IP", "WL-Proxy-Client-IP"} {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" || strings.EqualFold(v, "unknown") {
			continue
		}
		if first, _, found := strings.Cut(v, ","); found {
			return strings.TrimSpace(first)
		}
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// maskPhone keeps the first three and last four digits.
func maskPhone(phone string) string {
	if len(phone) < 8 {
		return phone
	}
	return phone[:3] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-4:]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
