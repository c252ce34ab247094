package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/database"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/gamification"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/server"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/tracker"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "app_session"
	sessionIssuer        = "tauth"
	sessionUserID        = "google:user-abc"
	jsonContentType      = "application/json"
)

type applicationResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Timeline []struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	} `json:"timeline"`
}

func TestAuthAndTrackerFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(testContext.TempDir(), "integration.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	sessions, err := auth.NewSessionVerifier(auth.SessionVerifierConfig{
		SigningSecret: []byte(sessionSigningSecret),
		CookieName:    sessionCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session verifier: %v", err)
	}
	streamTokens, err := auth.NewStreamTokenIssuer(auth.StreamTokenConfig{SigningSecret: []byte(sessionSigningSecret)})
	if err != nil {
		testContext.Fatalf("failed to construct stream tokens: %v", err)
	}
	identities, err := users.NewResolver(users.ResolverConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to construct resolver: %v", err)
	}
	ledger, err := gamification.NewLedger(gamification.LedgerConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to construct ledger: %v", err)
	}
	store, err := tracker.NewStore(tracker.StoreConfig{
		Database:   db,
		IDProvider: tracker.NewUUIDProvider(),
		Counter:    ledger,
	})
	if err != nil {
		testContext.Fatalf("failed to construct store: %v", err)
	}
	trackerService, err := tracker.NewService(tracker.ServiceConfig{
		Store:   store,
		Awarder: ledger,
		Policy:  tracker.ForwardOnlyTransitions{},
	})
	if err != nil {
		testContext.Fatalf("failed to construct tracker service: %v", err)
	}
	defer trackerService.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:     sessions,
		Identities:   identities,
		StreamTokens: streamTokens,
		Tracker:      trackerService,
		Profiles:     ledger,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	sessionCookie := &http.Cookie{
		Name:  sessionCookieName,
		Value: mustMintSessionToken(testContext, sessionSigningSecret, sessionUserID, time.Now()),
	}
	send := func(method, path string, body any) *http.Response {
		testContext.Helper()
		var encoded []byte
		if body != nil {
			encoded, _ = json.Marshal(body)
		}
		request, _ := http.NewRequest(method, testServer.URL+path, bytes.NewReader(encoded))
		request.AddCookie(sessionCookie)
		request.Header.Set("Content-Type", jsonContentType)
		response, err := http.DefaultClient.Do(request)
		if err != nil {
			testContext.Fatalf("%s %s failed: %v", method, path, err)
		}
		return response
	}

	trackResp := send(http.MethodPost, "/tracker", map[string]any{
		"internship": map[string]any{
			"id":       "i1",
			"title":    "Data Intern",
			"company":  "Globex",
			"location": "Remote",
		},
	})
	defer trackResp.Body.Close()
	if trackResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected track status: %d", trackResp.StatusCode)
	}
	var created applicationResponse
	if err := json.NewDecoder(trackResp.Body).Decode(&created); err != nil {
		testContext.Fatalf("failed to decode track response: %v", err)
	}

	for _, status := range []string{"applied", "interview"} {
		statusResp := send(http.MethodPost, "/tracker/"+created.ID+"/status", map[string]any{"status": status})
		statusResp.Body.Close()
		if statusResp.StatusCode != http.StatusOK {
			testContext.Fatalf("unexpected status %s response: %d", status, statusResp.StatusCode)
		}
	}

	regressResp := send(http.MethodPost, "/tracker/"+created.ID+"/status", map[string]any{"status": "saved"})
	regressResp.Body.Close()
	if regressResp.StatusCode != http.StatusConflict {
		testContext.Fatalf("expected regression to be rejected, got %d", regressResp.StatusCode)
	}

	getResp := send(http.MethodGet, "/tracker/"+created.ID, nil)
	defer getResp.Body.Close()
	var loaded applicationResponse
	if err := json.NewDecoder(getResp.Body).Decode(&loaded); err != nil {
		testContext.Fatalf("failed to decode application: %v", err)
	}
	if loaded.Status != "interview" || len(loaded.Timeline) != 3 {
		testContext.Fatalf("unexpected application %+v", loaded)
	}
	if loaded.Timeline[0].Note != tracker.SeedTimelineNote {
		testContext.Fatalf("unexpected seed note %q", loaded.Timeline[0].Note)
	}

	trackerService.Close()
	profileResp := send(http.MethodGet, "/gamification/profile", nil)
	defer profileResp.Body.Close()
	var profile struct {
		Experience   int64 `json:"xp"`
		Level        int64 `json:"level"`
		Applications int64 `json:"applications"`
	}
	if err := json.NewDecoder(profileResp.Body).Decode(&profile); err != nil {
		testContext.Fatalf("failed to decode profile: %v", err)
	}
	if profile.Experience != 50 || profile.Level != 1 || profile.Applications != 1 {
		testContext.Fatalf("unexpected profile %+v", profile)
	}

	anonymousReq, _ := http.NewRequest(http.MethodGet, testServer.URL+"/tracker", nil)
	anonymousResp, err := http.DefaultClient.Do(anonymousReq)
	if err != nil {
		testContext.Fatalf("anonymous request failed: %v", err)
	}
	anonymousResp.Body.Close()
	if anonymousResp.StatusCode != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 without session, got %d", anonymousResp.StatusCode)
	}
}

func mustMintSessionToken(testContext *testing.T, signingSecret, userID string, now time.Time) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(signingSecret))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
