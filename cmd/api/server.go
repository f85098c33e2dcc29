package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/auth"
	"schoolattendance/internal/cards"
	"schoolattendance/internal/config"
	"schoolattendance/internal/httpmiddleware"
	"schoolattendance/internal/metrics"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/scan"
)

// healthCheck reports whether one dependency is reachable.
type healthCheck func(ctx context.Context) bool

type server struct {
	cfg       config.App
	log       *zap.Logger
	signer    *auth.Signer
	stations  *scan.Stations
	att       *attendance.Service
	queue     queue.Queue
	publisher *cards.Publisher
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	health    map[string]healthCheck
	now       func() time.Time
}

func (s *server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	r.GET("/healthz", s.healthz)

	limiter := httpmiddleware.NewTokenBucket(s.cfg.RateLimitPerMin, s.cfg.RateLimitPerMin)

	public := r.Group("/v1", limiter.GinMiddleware(httpmiddleware.ByClientIP))
	public.POST("/stations/register", s.registerStation)
	public.POST("/admin/token", s.adminToken)
	public.POST("/token/refresh", s.refreshToken)

	authed := r.Group("/v1", auth.Authenticate(s.signer), limiter.GinMiddleware(httpmiddleware.ByTokenSubject))
	authed.POST("/scans", auth.RequireRole(auth.RoleStation), s.submitScan)

	read := authed.Group("", auth.RequireRole(auth.RoleStation, auth.RoleAdmin))
	read.GET("/attendance", s.listByDate)
	read.GET("/students/:id/attendance", s.studentAttendance)
	read.GET("/students/:id/card.png", s.cardPNG)

	admin := authed.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/students/:id/card/publish", s.publishCard)
	admin.POST("/sweeps", s.requestSweep)

	return r
}

func (s *server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.health {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (s *server) registerStation(c *gin.Context) {
	var req struct {
		StationID string `json:"station_id" binding:"required,max=64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := s.signer.Issue(req.StationID, auth.RoleStation)
	if err != nil {
		s.log.Error("issue station token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	// a re-registered station starts with a clean debounce window
	s.stations.Forget(req.StationID)
	s.log.Info("station registered", zap.String("station_id", req.StationID))
	c.JSON(http.StatusCreated, tokens)
}

func (s *server) adminToken(c *gin.Context) {
	var req struct {
		Secret string `json:"secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.cfg.AdminSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin access disabled"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.cfg.AdminSecret)) != 1 {
		s.log.Warn("rejected admin token request", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}
	tokens, err := s.signer.Issue("admin", auth.RoleAdmin)
	if err != nil {
		s.log.Error("issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, tokens)
}

func (s *server) refreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokens, err := s.signer.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, tokens)
}

type scanResponse struct {
	Outcome     string `json:"outcome"`
	StudentID   string `json:"student_id,omitempty"`
	StudentName string `json:"student_name,omitempty"`
	RecordID    string `json:"record_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *server) submitScan(c *gin.Context) {
	var req struct {
		Payload string `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	station := claims.Subject
	now := s.now()

	studentID, err := s.stations.Intake(station, req.Payload, now)
	decision := scan.DecisionOf(err)
	s.metrics.ScanDecision(string(decision))
	switch decision {
	case scan.Accepted:
	case scan.Debounced:
		c.JSON(http.StatusOK, scanResponse{Outcome: string(decision)})
		return
	default:
		c.JSON(http.StatusBadRequest, scanResponse{Outcome: string(decision), Error: err.Error()})
		return
	}

	res, err := s.att.CheckIn(c.Request.Context(), studentID, station, now)
	switch {
	case errors.Is(err, attendance.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, scanResponse{Outcome: "student_not_found", StudentID: studentID, Error: err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, scanResponse{Outcome: "system_error", Error: attendance.ErrSystem.Error()})
		return
	}

	status := http.StatusOK
	if res.Outcome == attendance.Recorded {
		status = http.StatusCreated
	}
	c.JSON(status, scanResponse{
		Outcome:     string(res.Outcome),
		StudentID:   res.StudentID,
		StudentName: res.StudentName,
		RecordID:    res.RecordID,
	})
}

func (s *server) listByDate(c *gin.Context) {
	loc := s.att.Location()
	day := s.now().In(loc)
	if v := c.Query("date"); v != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, v, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	recs, err := s.att.ListByDate(c.Request.Context(), day)
	if err != nil {
		s.internalError(c, "list attendance by date", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": attendance.DateKey(day), "records": recs})
}

func (s *server) studentAttendance(c *gin.Context) {
	id := c.Param("id")
	limit := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	ctx := c.Request.Context()
	recs, err := s.att.ListByStudent(ctx, id, limit)
	if err != nil {
		s.internalError(c, "list student attendance", err)
		return
	}
	sum, err := s.att.Summary(ctx, id)
	if err != nil {
		s.internalError(c, "summarize student attendance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "summary": sum})
}

func (s *server) cardPNG(c *gin.Context) {
	png, ok := s.renderCard(c)
	if !ok {
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *server) publishCard(c *gin.Context) {
	if s.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	png, ok := s.renderCard(c)
	if !ok {
		return
	}
	res, err := s.publisher.Publish(c.Request.Context(), c.Param("id"), png)
	if err != nil {
		s.log.Error("card publish failed", zap.String("student_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "card upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": res.SecureURL, "public_id": res.PublicID})
}

// renderCard writes the error response itself when it returns false.
func (s *server) renderCard(c *gin.Context) ([]byte, bool) {
	st, err := s.att.Student(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, attendance.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	case err != nil:
		s.internalError(c, "card student lookup", err)
		return nil, false
	}
	size := cards.DefaultSize
	if v := c.Query("size"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 128 && parsed <= 2048 {
			size = parsed
		}
	}
	png, err := cards.Render(st.ID, s.now(), size)
	if err != nil {
		s.internalError(c, "render card", err)
		return nil, false
	}
	return png, true
}

func (s *server) requestSweep(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	msg, err := queue.NewSweepMessage(queue.SweepRequest{RequestedBy: claims.Subject, RequestedAt: s.now()})
	if err != nil {
		s.internalError(c, "encode sweep request", err)
		return
	}
	if err := s.queue.Publish(c.Request.Context(), msg); err != nil {
		s.log.Error("queue publish failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}
	s.log.Info("sweep requested", zap.String("by", claims.Subject))
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *server) internalError(c *gin.Context, what string, err error) {
	s.log.Error(what, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// HSTS only in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
