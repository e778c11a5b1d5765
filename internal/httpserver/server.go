// Package httpserver exposes the approval engine over REST for the customer
// app and the store terminal.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/stamp-kkookk/digital-stamp-service-sub000/pkg/approval"
)

const claimsContextKey = "auth_claims"

// Run boots the HTTP facade and blocks until ctx is cancelled or the server
// fails.
func Run(ctx context.Context, cfg Config, engine *approval.Engine, logger *zap.Logger, registry *prometheus.Registry) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger: logger,
		engine: engine,
	}
	router := setupRouter(cfg, handler, sessionValidator, registry)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stampd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator, registry *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")

	customer := api.Group("")
	customer.Use(validator.GinMiddleware(claimsContextKey))
	for _, kind := range []approval.Kind{approval.KindIssuance, approval.KindRedemption, approval.KindMigration} {
		group := customer.Group("/" + kind.String())
		group.POST("/requests", handler.handleCreateRequest(kind))
		group.GET("/requests/:id", handler.handleGetRequest(kind))
	}
	customer.GET("/cards/:id/events", handler.handleCardEvents)

	operator := api.Group("/stores/:storeId")
	operator.Use(terminalAuthMiddleware(cfg.TerminalSigningKey, cfg.TerminalIssuer))
	for _, kind := range []approval.Kind{approval.KindIssuance, approval.KindRedemption, approval.KindMigration} {
		group := operator.Group("/" + kind.String())
		group.GET("/requests", handler.handleListPending(kind))
		group.POST("/requests/:id/approve", handler.handleApprove(kind))
		group.POST("/requests/:id/reject", handler.handleReject(kind))
	}

	return router
}

type httpHandler struct {
	logger *zap.Logger
	engine *approval.Engine
}
