// Package webserver exposes the provider webhook endpoint and a small
// read-only catalog API for the chat UI collaborator. It must never block
// on, nor be blocked by, the primary worker: webhook work crosses over the
// bridge with a bounded wait.
package webserver

import (
	"context"
	"fmt"
	"time"

	"github.com/chatshop/chatshop/config"
	"github.com/chatshop/chatshop/internal/bridge"
	"github.com/chatshop/chatshop/internal/deposit"
	"github.com/chatshop/chatshop/internal/store"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// webhookWait bounds how long the HTTP handler waits for the worker before
// acknowledging and letting processing continue asynchronously.
const webhookWait = 5 * time.Second

type Server struct {
	cfg     *config.AppConfig
	echo    *echo.Echo
	db      *gorm.DB
	engine  *store.Engine
	deposit *deposit.Service
	bridge  *bridge.Bridge
}

func NewServer(cfg *config.AppConfig, db *gorm.DB, engine *store.Engine,
	depositSvc *deposit.Service, br *bridge.Bridge) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{cfg: cfg, echo: e, db: db, engine: engine, deposit: depositSvc, bridge: br}
	s.initMiddleware()
	s.initRoutes()
	return s
}

func (s *Server) initMiddleware() {
	s.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			zap.L().Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)))
			return err
		}
	})
	s.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				if r := recover(); r != nil {
					zap.L().Error("http handler panic", zap.Any("panic", r))
					_ = fail(c, 500, "INTERNAL", "internal error", nil)
				}
			}()
			return next(c)
		}
	})
}

func (s *Server) initRoutes() {
	s.echo.GET("/health", s.health)
	s.echo.POST("/payment/notify", s.paymentNotify)
	s.echo.GET("/api/catalog/products", s.listProducts)
	s.echo.GET("/api/users/:id/basket", s.userBasket)
}

// Start runs the HTTP listener until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutdownCtx)
	}()
	zap.L().Info("webserver listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

func (s *Server) health(c echo.Context) error {
	return ok(c, map[string]interface{}{"status": "up"})
}
