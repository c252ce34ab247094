package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/gamification"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/tracker"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey        = "careertrack_user_id"
	accessTokenQueryParam   = "access_token"
	bearerPrefix            = "Bearer "
	defaultHeartbeatPeriod  = 25 * time.Second
	errorReasonUnauthorized = "unauthorized"
	errorReasonInvalid      = "invalid_request"
)

var (
	errMissingSessionVerifier = errors.New("session verifier dependency required")
	errMissingIdentityResolve = errors.New("identity resolver dependency required")
	errMissingStreamTokens    = errors.New("stream token dependency required")
	errMissingTrackerService  = errors.New("tracker service dependency required")
	errMissingProfileReader   = errors.New("profile reader dependency required")
)

// SessionVerifier checks the TAuth session carried by a request.
type SessionVerifier interface {
	VerifyRequest(request *http.Request) (auth.SessionClaims, error)
}

// IdentityResolver maps a session identity onto a canonical user id.
type IdentityResolver interface {
	Resolve(ctx context.Context, identity auth.SessionIdentity) (string, error)
}

// StreamTokenManager issues and validates tokens for the snapshot stream.
type StreamTokenManager interface {
	Issue(userID string) (string, int64, error)
	Validate(token string) (string, error)
}

// ProfileReader exposes XP profiles.
type ProfileReader interface {
	Profile(ctx context.Context, userID string) (gamification.ProfileView, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Sessions        SessionVerifier
	Identities      IdentityResolver
	StreamTokens    StreamTokenManager
	Tracker         *tracker.Service
	Profiles        ProfileReader
	AllowedOrigins  []string
	HeartbeatPeriod time.Duration
	Logger          *zap.Logger

	// ExternalExperience marks XP as owned by the broker consumer; profiles then
	// report only the local application counter.
	ExternalExperience bool
}

// NewHTTPHandler builds the gin router serving the tracker API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionVerifier
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityResolve
	}
	if deps.StreamTokens == nil {
		return nil, errMissingStreamTokens
	}
	if deps.Tracker == nil {
		return nil, errMissingTrackerService
	}
	if deps.Profiles == nil {
		return nil, errMissingProfileReader
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatPeriod
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatPeriod
	}

	if len(deps.AllowedOrigins) == 0 {
		logger.Warn("no cors origins configured; cross-origin requests are rejected")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sessions:     deps.Sessions,
		identities:   deps.Identities,
		streamTokens: deps.StreamTokens,
		tracker:      deps.Tracker,
		profiles:     deps.Profiles,
		heartbeat:    heartbeat,
		logger:       logger,

		externalExperience: deps.ExternalExperience,
	}

	router.GET("/healthz", handler.handleHealth)

	authenticated := router.Group("/")
	authenticated.Use(handler.authorizeSession)
	authenticated.POST("/auth/stream-token", handler.handleIssueStreamToken)
	authenticated.GET("/gamification/profile", handler.handleProfile)

	trackerRoutes := authenticated.Group("/tracker")
	trackerRoutes.GET("", handler.handleList)
	trackerRoutes.POST("", handler.handleTrack)
	trackerRoutes.GET("/stats", handler.handleStats)
	trackerRoutes.GET("/internships/:internshipId", handler.handleIsTracked)
	trackerRoutes.GET("/:id", handler.handleGet)
	trackerRoutes.DELETE("/:id", handler.handleRemove)
	trackerRoutes.POST("/:id/status", handler.handleChangeStatus)
	trackerRoutes.PUT("/:id/notes", handler.handleUpdateNotes)
	trackerRoutes.PUT("/:id/deadline", handler.handleUpdateDeadline)
	trackerRoutes.POST("/:id/documents", handler.handleAddDocument)

	router.GET("/tracker/stream", handler.authorizeStream, handler.handleStream)

	return router, nil
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		cfg.AllowOrigins = allowedOrigins
	} else {
		// session cookies ride along, so no origin is trusted unless listed
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(cfg)
}

type httpHandler struct {
	sessions     SessionVerifier
	identities   IdentityResolver
	streamTokens StreamTokenManager
	tracker      *tracker.Service
	profiles     ProfileReader
	heartbeat    time.Duration
	logger       *zap.Logger

	externalExperience bool
}

type streamTokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleIssueStreamToken(c *gin.Context) {
	token, expiresIn, err := h.streamTokens.Issue(c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("failed to issue stream token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, streamTokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	profile, err := h.profiles.Profile(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("failed to load xp profile", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	payload := profilePayload{
		UserID:       profile.UserID,
		Applications: profile.Applications,
	}
	if !h.externalExperience {
		payload.Experience = &profile.Experience
		payload.Level = &profile.Level
	}
	c.JSON(http.StatusOK, payload)
}

// authorizeSession resolves the TAuth cookie into a canonical user id.
func (h *httpHandler) authorizeSession(c *gin.Context) {
	userID, ok := h.resolveSession(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorReasonUnauthorized})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// authorizeStream accepts a session cookie or a stream token, since EventSource
// cannot attach an Authorization header.
func (h *httpHandler) authorizeStream(c *gin.Context) {
	token := strings.TrimSpace(c.Query(accessTokenQueryParam))
	if header := c.GetHeader("Authorization"); token == "" && strings.HasPrefix(header, bearerPrefix) {
		token = strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	}
	if token == "" {
		h.authorizeSession(c)
		return
	}
	userID, err := h.streamTokens.Validate(token)
	if err != nil {
		h.logger.Warn("stream token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorReasonUnauthorized})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) resolveSession(c *gin.Context) (string, bool) {
	claims, err := h.sessions.VerifyRequest(c.Request)
	if err != nil {
		h.logSessionFailure(err)
		return "", false
	}
	userID, err := h.identities.Resolve(c.Request.Context(), claims.Identity())
	if err != nil {
		h.logger.Warn("identity resolution failed", zap.Error(err))
		return "", false
	}
	return userID, true
}

func (h *httpHandler) logSessionFailure(err error) {
	switch {
	case errors.Is(err, auth.ErrMissingSessionToken), errors.Is(err, auth.ErrExpiredSessionToken):
		h.logger.Info("session validation failed", zap.Error(err))
	default:
		h.logger.Warn("session validation failed", zap.Error(err))
	}
}
