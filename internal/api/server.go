package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kanekoshoyu/anysignal/config"
	"github.com/kanekoshoyu/anysignal/internal/backfill"
	"github.com/kanekoshoyu/anysignal/internal/metrics"
	"github.com/kanekoshoyu/anysignal/logger"
	"github.com/kanekoshoyu/anysignal/models"
)

const defaultPort = "3000"

// Server hosts the HTTP API of anysignal.
type Server struct {
	cfg        config.APIConfig
	app        config.AnysignalConfig
	prometheus bool
	runner     backfill.Runner
	log        *logger.Log
	httpServer *http.Server
}

func NewServer(cfg *config.Config, runner backfill.Runner) *Server {
	apiCfg := cfg.API
	apiCfg.Address = normalizeAddress(apiCfg.Address)
	if apiCfg.ShutdownTimeout <= 0 {
		apiCfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		cfg:        apiCfg,
		app:        cfg.Anysignal,
		prometheus: cfg.Metrics.Prometheus,
		runner:     runner,
		log:        logger.GetLogger(),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Router(),
	}

	log := s.log.WithComponent("api").WithFields(logger.Fields{"address": s.cfg.Address})
	log.Info("starting http api")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		log.Info("http api stopped")
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return fmt.Errorf("http api on %s: %w", s.cfg.Address, err)
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	return s.cfg.Address
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Server is running.")
	})

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":        s.app.Name,
			"version":     s.app.Version,
			"environment": config.AppEnvironment(),
		})
	})

	router.GET("/backfill", s.handleBackfill)

	if s.prometheus {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	return router
}

func (s *Server) handleBackfill(c *gin.Context) {
	req, err := parseBackfillQuery(c)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	log := s.log.WithComponent("api").WithFields(logger.Fields{
		"source": string(req.Source),
		"from":   req.From.Format(time.RFC3339),
		"to":     req.To.Format(time.RFC3339),
		"force":  req.Force,
	})
	log.Info("backfill requested")

	result, err := s.runner.Run(c.Request.Context(), req)

	var (
		clientErr *backfill.ClientError
		initErr   *backfill.InitError
	)
	switch {
	case errors.As(err, &clientErr):
		c.String(http.StatusBadRequest, clientErr.Msg)
	case errors.As(err, &initErr):
		c.String(http.StatusInternalServerError, "Failed to initialise backfill: "+initErr.Err.Error())
	case err != nil:
		log.WithError(err).Warn("backfill aborted")
		c.String(http.StatusInternalServerError, err.Error())
	default:
		c.JSON(http.StatusOK, result)
	}
}

func parseBackfillQuery(c *gin.Context) (models.BackfillRequest, error) {
	var req models.BackfillRequest

	from, err := parseDateTime("from", c.Query("from"))
	if err != nil {
		return req, err
	}
	to, err := parseDateTime("to", c.Query("to"))
	if err != nil {
		return req, err
	}
	source, err := models.ParseSourceKind(c.Query("source"))
	if err != nil {
		return req, fmt.Errorf("invalid 'source': %q (expected %s or %s)", c.Query("source"), models.SourceAssetCtxs, models.SourceL2Orderbook)
	}

	force := false
	if v := c.Query("force"); v != "" {
		if force, err = strconv.ParseBool(v); err != nil {
			return req, fmt.Errorf("invalid 'force': %q", v)
		}
	}

	var tickers []string
	if v := c.Query("coins"); v != "" {
		tickers = strings.Split(v, ",")
	}

	return models.BackfillRequest{
		From:    from,
		To:      to,
		Source:  source,
		Tickers: tickers,
		Force:   force,
	}, nil
}

var dateTimeLayouts = []string{"2006-01-02T15:04:05", time.RFC3339, models.DateLayout}

func parseDateTime(name, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("'%s' is required", name)
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid '%s': %q (expected e.g. 2024-01-01T00:00:00)", name, v)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:" + defaultPort
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = defaultPort
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, defaultPort)
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, defaultPort)
	}

	return addr
}
