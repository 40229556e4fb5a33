package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/config"
	"geoattend/internal/device"
	"geoattend/internal/geo"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/queue"
	"geoattend/internal/roster"
	"geoattend/internal/session"
	"geoattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	var (
		sessionRepo session.Repository
		rosterRepo  roster.Repository
		deviceRepo  device.Repository
		alertRepo   device.AlertRepository
		attRepo     attendance.Repository
	)

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, falling back to in-memory stores: %v", err)
		db = nil
		sessionRepo = session.NewInMemRepository()
		rosterRepo = roster.NewInMemRepository()
		deviceRepo = device.NewInMemRepository()
		alertRepo = device.NewInMemAlertRepository()
		attRepo = attendance.NewInMemRepository()
	} else {
		sessionRepo = session.NewPostgresRepository(db.Client)
		rosterRepo = roster.NewPostgresRepository(db.Client)
		deviceRepo = device.NewPostgresRepository(db.Client)
		alertRepo = device.NewPostgresAlertRepository(db.Client)
		attRepo = attendance.NewPostgresRepository(db.Client)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "geoattend:events")
	}
	ctx := context.Background()

	sessions := session.NewService(sessionRepo, cfg.SessionTimeout, cfg.TokenTTL, cfg.DefaultRadiusMeters)
	people := roster.NewService(rosterRepo)
	devices := device.NewRegistry(deviceRepo, alertRepo, cfg.SimultaneousWindow)
	att := attendance.NewService(sessions, people, devices, attRepo)

	// Critical alerts go onto the queue for the worker to push out.
	devices.SetAlertSink(func(a device.Alert) {
		if a.Severity != device.SeverityCritical {
			return
		}
		body, err := json.Marshal(a)
		if err != nil {
			return
		}
		if err := q.Publish(ctx, queue.Message{Type: queue.TypeCriticalAlert, Body: body}); err != nil {
			log.Printf("alert publish failed: %v", err)
		}
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if cfg.QueueBackend != "memory" && !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/students/register", func(c *gin.Context) {
		var req struct {
			Name       string `json:"name" binding:"required"`
			Email      string `json:"email" binding:"required,email"`
			Password   string `json:"password" binding:"required,min=8"`
			Department string `json:"department" binding:"required"`
			Year       int    `json:"year" binding:"required"`
			Semester   int    `json:"semester"`
			SapID      string `json:"sap_id"`
			RollNo     string `json:"roll_no"`
			Phone      string `json:"phone"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		student, err := people.EnrollStudent(c.Request.Context(), roster.Student{
			Name:       req.Name,
			Email:      req.Email,
			Department: req.Department,
			Year:       req.Year,
			Semester:   req.Semester,
			SapID:      req.SapID,
			RollNo:     req.RollNo,
			Phone:      req.Phone,
		}, req.Password)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, student)
	})

	r.POST("/v1/students/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		student, err := people.AuthenticateStudent(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			fail(c, err)
			return
		}
		issueTokens(c, people, cfg, student.ID, auth.RoleStudent)
	})

	r.POST("/v1/teachers/register", func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Email    string `json:"email" binding:"required,email"`
			Password string `json:"password" binding:"required,min=8"`
			Phone    string `json:"phone"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		teacher, err := people.EnrollTeacher(c.Request.Context(), roster.Teacher{
			Name:  req.Name,
			Email: req.Email,
			Phone: req.Phone,
		}, req.Password)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, teacher)
	})

	r.POST("/v1/teachers/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		teacher, err := people.AuthenticateTeacher(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			fail(c, err)
			return
		}
		issueTokens(c, people, cfg, teacher.ID, auth.RoleTeacher)
	})

	r.POST("/v1/auth/logout", func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := people.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
	})

	studentGroup := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleStudent))

	studentGroup.GET("/sessions/open", func(c *gin.Context) {
		student, err := people.Student(c.Request.Context(), auth.Subject(c))
		if err != nil {
			fail(c, err)
			return
		}
		open, err := sessions.ListOpenForStudent(c.Request.Context(), student.Department, student.Year)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": open})
	})

	studentGroup.POST("/sessions/:id/checkins", func(c *gin.Context) {
		var req struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			DeviceID  string   `json:"device_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := att.CheckIn(c.Request.Context(), c.Param("id"), auth.Subject(c), coords(req.Latitude, req.Longitude), req.DeviceID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})

	studentGroup.POST("/checkins/token", func(c *gin.Context) {
		var req struct {
			Token     string   `json:"token" binding:"required"`
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			DeviceID  string   `json:"device_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := att.CheckInWithToken(c.Request.Context(), req.Token, auth.Subject(c), coords(req.Latitude, req.Longitude), req.DeviceID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})

	studentGroup.POST("/tokens/validate", func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		verdict, err := sessions.ValidateToken(c.Request.Context(), req.Token)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, verdict)
	})

	studentGroup.POST("/devices/register", func(c *gin.Context) {
		var fp device.Fingerprint
		if err := c.ShouldBindJSON(&fp); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := devices.Register(c.Request.Context(), auth.Subject(c), fp)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	studentGroup.GET("/devices", func(c *gin.Context) {
		owned, err := devices.DevicesForStudent(c.Request.Context(), auth.Subject(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"devices": owned})
	})

	studentGroup.GET("/devices/:id/ownership", func(c *gin.Context) {
		if err := devices.CheckOwnership(c.Request.Context(), auth.Subject(c), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"owned": true})
	})

	studentGroup.POST("/devices/:id/trust", func(c *gin.Context) {
		if err := devices.TrustDevice(c.Request.Context(), auth.Subject(c), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "trusted"})
	})

	studentGroup.POST("/devices/:id/unlock-request", func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := devices.RequestUnlock(c.Request.Context(), auth.Subject(c), c.Param("id"), req.Reason); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
	})

	studentGroup.GET("/alerts", func(c *gin.Context) {
		alerts, err := devices.Alerts(c.Request.Context(), auth.Subject(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": alerts})
	})

	studentGroup.POST("/alerts/:id/read", func(c *gin.Context) {
		if err := devices.MarkAlertRead(c.Request.Context(), auth.Subject(c), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "read"})
	})

	teacherGroup := r.Group("/v1/teacher", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleTeacher))

	teacherGroup.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Title      string   `json:"title" binding:"required"`
			Department string   `json:"department" binding:"required"`
			Year       int      `json:"year" binding:"required"`
			Latitude   *float64 `json:"latitude"`
			Longitude  *float64 `json:"longitude"`
			RadiusM    float64  `json:"radius_m"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := sessions.Create(c.Request.Context(), req.Title, req.Department, req.Year, auth.Subject(c), coords(req.Latitude, req.Longitude), req.RadiusM)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	})

	teacherGroup.GET("/sessions", func(c *gin.Context) {
		list, err := sessions.ListForTeacher(c.Request.Context(), auth.Subject(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	})

	teacherGroup.POST("/sessions/:id/close", func(c *gin.Context) {
		result, err := att.CloseAndReconcile(c.Request.Context(), c.Param("id"), auth.Subject(c))
		if err != nil {
			fail(c, err)
			return
		}
		if err := q.Publish(ctx, queue.Message{Type: queue.TypeSessionClosed, Body: []byte(c.Param("id"))}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}
		c.JSON(http.StatusOK, result)
	})

	teacherGroup.POST("/sessions/:id/token", func(c *gin.Context) {
		token, err := sessions.IssueToken(c.Request.Context(), c.Param("id"), auth.Subject(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, token)
	})

	teacherGroup.GET("/sessions/:id/attendance", func(c *gin.Context) {
		sess, err := sessions.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		if sess.TeacherID != auth.Subject(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not the session owner"})
			return
		}
		entries, err := att.ListForSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": entries})
	})

	teacherGroup.PUT("/sessions/:id/attendance/:studentID", func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
			Note   string `json:"note"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := att.SetStatus(c.Request.Context(), c.Param("id"), c.Param("studentID"), req.Status, auth.Subject(c), req.Note)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	teacherGroup.POST("/students/:id/force-logout", func(c *gin.Context) {
		count, err := devices.ForceLogoutAllDevices(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deactivated": count})
	})

	teacherGroup.POST("/alerts/:id/resolve", func(c *gin.Context) {
		if err := devices.ResolveAlert(c.Request.Context(), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "resolved"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func issueTokens(c *gin.Context, people *roster.Service, cfg config.App, subject, role string) {
	tokens, err := auth.Issue(subject, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	_ = people.SaveRefreshToken(c.Request.Context(), subject, tokens.RefreshToken, tokens.RefreshExp)
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func coords(lat, lng *float64) *geo.Coordinates {
	if lat == nil || lng == nil {
		return nil
	}
	return &geo.Coordinates{Latitude: *lat, Longitude: *lng}
}

func fail(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	c.JSON(httpStatus(code), gin.H{"error": apperr.MessageOf(err), "code": code})
}

func httpStatus(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidInput, apperr.CodeInvalidCoordinates,
		apperr.CodeInvalidToken, apperr.CodeTokenExpired,
		apperr.CodeRequiresLocation:
		return http.StatusBadRequest
	case apperr.CodeUnauthorized:
		return http.StatusForbidden
	case apperr.CodeNotFound, apperr.CodeSessionNotFound, apperr.CodeDeviceNotFound:
		return http.StatusNotFound
	case apperr.CodeAlreadyMarked, apperr.CodeAlreadyUsedToken:
		return http.StatusConflict
	case apperr.CodeSessionClosed:
		return http.StatusGone
	case apperr.CodeNotEligible, apperr.CodeOutOfRange,
		apperr.CodeOwnershipViolation, apperr.CodeSimultaneousUsage:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
