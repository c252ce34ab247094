package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/gamification"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/tracker"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	testCookieName = "app_session"
	testUserID     = "user-1"
)

var errNoSession = errors.New("no session")

// cookieSessions treats the cookie value as the TAuth user id.
type cookieSessions struct{}

func (cookieSessions) VerifyRequest(request *http.Request) (auth.SessionClaims, error) {
	cookie, err := request.Cookie(testCookieName)
	if err != nil || cookie.Value == "" {
		return auth.SessionClaims{}, auth.ErrMissingSessionToken
	}
	return auth.SessionClaims{UserID: cookie.Value}, nil
}

type passthroughIdentities struct{}

func (passthroughIdentities) Resolve(_ context.Context, identity auth.SessionIdentity) (string, error) {
	if identity.Subject == "" {
		return "", errNoSession
	}
	return identity.Subject, nil
}

type testEnvironment struct {
	handler http.Handler
	service *tracker.Service
	ledger  *gamification.Ledger
	tokens  *auth.StreamTokenIssuer
}

func newTestEnvironment(t *testing.T, configure ...func(*Dependencies)) testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server-%s?mode=memory&cache=shared", uuid.NewString())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	models := append(tracker.Models(), gamification.Models()...)
	if err := database.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	ledger, err := gamification.NewLedger(gamification.LedgerConfig{Database: database})
	if err != nil {
		t.Fatalf("failed to build ledger: %v", err)
	}
	store, err := tracker.NewStore(tracker.StoreConfig{
		Database:   database,
		IDProvider: tracker.NewUUIDProvider(),
		Counter:    ledger,
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	service, err := tracker.NewService(tracker.ServiceConfig{Store: store, Awarder: ledger})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	t.Cleanup(service.Close)

	tokens, err := auth.NewStreamTokenIssuer(auth.StreamTokenConfig{
		SigningSecret: []byte("stream-secret"),
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to build stream tokens: %v", err)
	}

	deps := Dependencies{
		Sessions:        cookieSessions{},
		Identities:      passthroughIdentities{},
		StreamTokens:    tokens,
		Tracker:         service,
		Profiles:        ledger,
		HeartbeatPeriod: time.Hour,
		Logger:          zap.NewNop(),
	}
	for _, apply := range configure {
		apply(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return testEnvironment{handler: handler, service: service, ledger: ledger, tokens: tokens}
}

func (env testEnvironment) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		request.AddCookie(&http.Cookie{Name: testCookieName, Value: userID})
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
}

func trackPayload(internshipID string) trackRequestPayload {
	return trackRequestPayload{
		Internship: internshipPayload{
			ID:       internshipID,
			Title:    "Backend Intern",
			Company:  "Acme",
			Location: "Pune",
			ApplyURL: "https://jobs.example.com/" + internshipID,
		},
	}
}
