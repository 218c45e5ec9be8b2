package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pchan-tw/campusauth/internal/auth"
	"github.com/pchan-tw/campusauth/internal/database"
	"github.com/pchan-tw/campusauth/internal/handlers"
	middlewareCustom "github.com/pchan-tw/campusauth/internal/middleware"
	"github.com/pchan-tw/campusauth/internal/routes"
	"github.com/pchan-tw/campusauth/internal/services"
	"github.com/pchan-tw/campusauth/internal/session"
	pkghttp "github.com/pchan-tw/campusauth/pkg/http"
	pkglogger "github.com/pchan-tw/campusauth/pkg/logger"
)

const (
	testSessionSecret = "integration-test-secret-at-least-32-chars"
	testIssuer        = "TTU-Auth-Test"
	testLocalDomain   = "o365.ttu.edu.tw"
)

// SentEmail is one captured outbound message
type SentEmail struct {
	To        string
	Kind      string // "bind" or "reset"
	Token     string
	ExpiresAt time.Time
}

// CapturingEmailService records sent emails for test assertions
type CapturingEmailService struct {
	mu   sync.Mutex
	Sent []SentEmail
}

func (m *CapturingEmailService) SendBindLink(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record(SentEmail{To: email, Kind: "bind", Token: token, ExpiresAt: expiresAt})
	return nil
}

func (m *CapturingEmailService) SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record(SentEmail{To: email, Kind: "reset", Token: token, ExpiresAt: expiresAt})
	return nil
}

func (m *CapturingEmailService) record(e SentEmail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, e)
}

// LastToken returns the token from the most recent email of the given kind
func (m *CapturingEmailService) LastToken(kind string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.Sent) - 1; i >= 0; i-- {
		if m.Sent[i].Kind == kind {
			return m.Sent[i].Token
		}
	}
	return ""
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *CapturingEmailService
	Codec        *session.Codec
}

// NewTestServer initializes a complete HTTP server with real database + captured email
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	auditLogger := pkglogger.NewAuditLogger(logger)

	userRepo, totpRepo, linkRepo, resetRepo, logRepo := InitializeRepositories(db)

	mockEmail := &CapturingEmailService{}

	codec, err := session.NewCodec([]byte(testSessionSecret), false)
	if err != nil {
		return nil, err
	}

	// No failure padding in tests; the suite should not sleep.
	delay := auth.FailureDelay{}

	loginService := services.NewLoginService(userRepo, totpRepo, logRepo, db, delay, testIssuer, logger, auditLogger)
	registrationService := services.NewRegistrationService(userRepo, linkRepo, db, mockEmail, 24*time.Hour, testLocalDomain, logger, auditLogger)
	bindService := services.NewBindService(userRepo, totpRepo, linkRepo, db, mockEmail, testIssuer, 24*time.Hour, 60*time.Second, logger, auditLogger)
	resetService := services.NewPasswordResetService(userRepo, resetRepo, db, mockEmail, 30*time.Minute, logger, auditLogger)

	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(loginService, codec, ipConfig)
	registerHandler := handlers.NewRegisterHandler(registrationService, ipConfig)
	bindHandler := handlers.NewBindHandler(bindService, ipConfig)
	resetHandler := handlers.NewPasswordResetHandler(resetService, ipConfig)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, registerHandler, bindHandler, resetHandler)

	return &TestServer{
		Server:       httptest.NewServer(r),
		DB:           db,
		EmailService: mockEmail,
		Codec:        codec,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// NewClient returns an HTTP client with its own cookie jar, so each test
// drives an independent session through the login sequence.
func (ts *TestServer) NewClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar}
}

// Do makes a JSON request against the test server with the given client
func (ts *TestServer) Do(client *http.Client, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return client.Do(req)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetErrorMessage extracts error message from error response
func GetErrorMessage(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if msg, ok := errResp["message"].(string); ok {
		return msg, nil
	}
	return "", nil
}
