package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TrickeySolutions/aggregator-demo/activity"
	"github.com/TrickeySolutions/aggregator-demo/auth"
	"github.com/TrickeySolutions/aggregator-demo/customer"
	"github.com/TrickeySolutions/aggregator-demo/partner"
)

// Server is the HTTP front door: quote session creation, activity snapshots,
// the orchestrator write-back endpoint, logo assets and the websocket
// upgrade.
type Server struct {
	engine     *gin.Engine
	customers  *customer.Service
	activities *activity.Service
	partners   *partner.Service
	sessions   *auth.Service
	logger     *zap.Logger
}

// NewServer builds the router.
func NewServer(customers *customer.Service, activities *activity.Service, partners *partner.Service, sessions *auth.Service, logger *zap.Logger) *Server {
	s := &Server{
		engine:     gin.New(),
		customers:  customers,
		activities: activities,
		partners:   partners,
		sessions:   sessions,
		logger:     logger,
	}
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

// Handler exposes the router for the http server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine.POST("/quote/new", s.NewQuote)

	// Orchestrator write-back and logo assets: server-to-server, no session.
	s.engine.POST("/api/activity/:activityId/update-quote", s.UpdateQuote)
	s.engine.GET("/api/partner/:partnerId/logo.svg", s.PartnerLogo)

	api := s.engine.Group("/api/customer/:customerId", s.SessionRequired())
	{
		api.GET("/activities", s.ListActivities)
		act := api.Group("/activity/:activityId", s.requireOwnership())
		{
			act.GET("", s.GetActivity)
			act.GET("/ws", s.ActivitySocket)
		}
	}
}

// SessionRequired verifies the bearer token and pins the request to the
// token's customer: a valid session for one customer cannot read another's
// routes. Websocket callers may pass the token as a query parameter since
// browsers cannot set headers on the upgrade request.
func (s *Server) SessionRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session token"})
			return
		}
		customerID, err := s.sessions.VerifySession(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}
		if customerID != c.Param("customerId") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "session does not match customer"})
			return
		}
		c.Next()
	}
}

// requireOwnership rejects activity ids the customer never created.
func (s *Server) requireOwnership() gin.HandlerFunc {
	return func(c *gin.Context) {
		owns, err := s.customers.Owns(c.Request.Context(), c.Param("customerId"), c.Param("activityId"))
		if err != nil {
			s.logger.Error("ownership check failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !owns {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "activity not found"})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return c.Query("token")
}

// NewQuote starts a quote session: a fresh anonymous customer, their first
// activity, and a session token binding the two.
func (s *Server) NewQuote(c *gin.Context) {
	customerID := customer.NewID()
	activityID, err := s.customers.CreateActivity(c.Request.Context(), customerID)
	if err != nil {
		s.logger.Error("create activity failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start quote"})
		return
	}
	token, err := s.sessions.MintSession(customerID)
	if err != nil {
		s.logger.Error("mint session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start quote"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"customerId": customerID,
		"activityId": activityID,
		"token":      token,
	})
}

// ListActivities returns the customer's activity ids in creation order.
func (s *Server) ListActivities(c *gin.Context) {
	ids, err := s.customers.ListActivities(c.Request.Context(), c.Param("customerId"))
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "customer not found"})
			return
		}
		s.logger.Error("list activities failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activityIds": ids})
}

// GetActivity returns the activity's current snapshot.
func (s *Server) GetActivity(c *gin.Context) {
	st, err := s.activities.GetState(c.Request.Context(), c.Param("activityId"))
	if err != nil {
		if errors.Is(err, activity.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
			return
		}
		s.logger.Error("get activity failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, st)
}

type updateQuoteRequest struct {
	PartnerID string               `json:"partnerId" binding:"required"`
	Update    activity.QuoteUpdate `json:"update"`
}

// UpdateQuote is the orchestrator-to-actor write path.
func (s *Server) UpdateQuote(c *gin.Context) {
	var req updateQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "partnerId is required"})
		return
	}
	st, err := s.activities.UpdateQuote(c.Request.Context(), c.Param("activityId"), req.PartnerID, req.Update)
	switch {
	case errors.Is(err, activity.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
	case errors.Is(err, activity.ErrUnexpectedPartner):
		c.JSON(http.StatusConflict, gin.H{"error": "partner not invited to this activity"})
	case err != nil:
		s.logger.Error("update quote failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, st)
	}
}

// PartnerLogo serves the partner's rendered logo. Logos never change once
// generated, so clients may cache them indefinitely.
func (s *Server) PartnerLogo(c *gin.Context) {
	svg, contentType, err := s.partners.GetLogo(c.Request.Context(), c.Param("partnerId"))
	if err != nil {
		if errors.Is(err, partner.ErrLogoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "logo not found"})
			return
		}
		s.logger.Error("logo fetch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, contentType, svg)
}
