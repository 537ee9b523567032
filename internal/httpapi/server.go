// Package httpapi: HTTP API движка боксов на gin.
// Участник определяется только по JWT, параметры запроса личность не задают.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/features/admin"
	"serotonyl.ru/mystery-box/internal/features/boxes"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/ledger"
	"serotonyl.ru/mystery-box/internal/features/members"
)

// Services: сервисы, которые обслуживает API.
type Services struct {
	Boxes   *boxes.Service
	Catalog *catalog.Service
	Ledger  *ledger.Service
	Members *members.Service
	Gateway *admin.Gateway
}

// Server: HTTP-сервер API.
type Server struct {
	boxes   *boxes.Service
	catalog *catalog.Service
	ledger  *ledger.Service
	members *members.Service
	gateway *admin.Gateway

	secret   []byte
	engine   *gin.Engine
	addr     string
	shutdown time.Duration
}

// New создаёт сервер и регистрирует маршруты.
func New(svc Services, secret []byte, addr string, shutdown time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		boxes:    svc.Boxes,
		catalog:  svc.Catalog,
		ledger:   svc.Ledger,
		members:  svc.Members,
		gateway:  svc.Gateway,
		secret:   secret,
		addr:     addr,
		shutdown: shutdown,
	}

	r := gin.New()
	r.Use(recovery(), observe(), accessLog())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", s.auth())
	s.registerMemberRoutes(api)
	s.registerAdminRoutes(api.Group("/admin"))

	s.engine = r
	return s
}

// Handler возвращает http.Handler (для тестов и встраивания).
func (s *Server) Handler() http.Handler { return s.engine }

// Run слушает адрес до отмены ctx, затем мягко останавливается.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.addr).Info("HTTP API запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	log.Info("HTTP API останавливается...")
	return srv.Shutdown(shutdownCtx)
}
