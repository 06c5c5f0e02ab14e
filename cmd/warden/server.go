package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"

	"github.com/emberhall/warden/cachestore"
	"github.com/emberhall/warden/engine"
	"github.com/emberhall/warden/graph"
	"github.com/emberhall/warden/identity"
	"github.com/emberhall/warden/store"
	"github.com/emberhall/warden/watchlist"
)

type Server struct {
	logger *slog.Logger
	engine *engine.Engine
	echo   *echo.Echo
}

type Config struct {
	DatabaseURL       string
	MaxDBConnections  int
	RedisURL          string
	ListsFileJSON     string
	SlackWebhookURL   string
	AutoRestrict      bool
	NotifyAdminsOnAlt bool
	AltDepth          int
	PageSize          int
	DefaultVisible    bool
	DefaultObserving  bool
	Logger            *slog.Logger
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	db, err := store.SetupDatabase(config.DatabaseURL, config.MaxDBConnections)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	var cache cachestore.CacheStore
	if config.RedisURL != "" {
		csh, err := cachestore.NewRedisCacheStore(config.RedisURL, 30*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cachestore: %w", err)
		}
		cache = csh
	} else {
		cache = cachestore.NewMemCacheStore()
	}

	listCfg := watchlist.Config{}
	if config.ListsFileJSON != "" {
		loaded, err := watchlist.LoadFromFileJSON(config.ListsFileJSON)
		if err != nil {
			return nil, fmt.Errorf("initializing list config: %w", err)
		}
		listCfg = *loaded
	}
	lists := watchlist.NewMatcher(listCfg, logger)
	whitelisted, watched := lists.Size()
	logger.Info("loaded list config", "whitelist", whitelisted, "watchlist", watched)

	var notifier engine.Notifier = &engine.LogNotifier{Logger: logger}
	if config.SlackWebhookURL != "" {
		logger.Info("configuring slack notifications")
		notifier = &engine.SlackNotifier{
			SlackWebhookURL: config.SlackWebhookURL,
			Fallback:        &engine.LogNotifier{Logger: logger},
		}
	}

	addresses := store.NewAddressStore(db)
	dir := identity.NewCacheDirectory(
		identity.NewStoreDirectory(store.NewIdentityStore(db)),
		50_000, time.Hour,
	)

	eng := &engine.Engine{
		Logger: logger,
		Config: engine.Config{
			AutoRestrictOnMatch: config.AutoRestrict,
			NotifyAdminsOnAlt:   config.NotifyAdminsOnAlt,
			SearchDepth:         config.AltDepth,
			PageSize:            config.PageSize,
			DefaultChatVisible:  config.DefaultVisible,
			DefaultObserving:    config.DefaultObserving,
		},
		Addresses: addresses,
		Mods:      store.NewModerationStore(db),
		Prefs:     store.NewPreferenceStore(db),
		Notices:   store.NewPendingNoticeStore(db),
		Directory: dir,
		Finder:    graph.NewFinder(addresses),
		Lists:     lists,
		Cache:     cache,
		Notifier:  notifier,
		Presence:  engine.NoPresence{},
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())

	s := &Server{
		logger: logger,
		engine: eng,
		echo:   e,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/_health", s.handleHealthCheck)

	e.POST("/sessions/connect", s.handleConnect)
	e.POST("/sessions/disconnect", s.handleDisconnect)

	e.GET("/accounts/:id/status", s.handleStatus)
	e.GET("/accounts/:id/history", s.handleHistory)
	e.GET("/accounts/:id/alts", s.handleAlts)
	e.GET("/accounts/:id/addresses", s.handleAddresses)
	e.POST("/accounts/:id/restrict", s.handleRestrict)
	e.POST("/accounts/:id/restrict-linked", s.handleRestrictLinked)
	e.POST("/accounts/:id/lift", s.handleLift)
	e.POST("/accounts/:id/lift-linked", s.handleLiftLinked)
	e.POST("/accounts/:id/unlink", s.handleUnlink)
	e.POST("/accounts/:id/toggle-visible", s.handleToggleVisible)
	e.POST("/accounts/:id/toggle-observing", s.handleToggleObserving)

	e.POST("/addresses/restrict", s.handleAddressRestrict)
	e.POST("/addresses/lift", s.handleAddressLift)
	e.GET("/addresses/:addr/check", s.handleAddressCheck)
}

func (s *Server) RunAPI(ctx context.Context, listen string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(listen)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (s *Server) handleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "warden"})
}

type connectBody struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Address     string `json:"address"`
}

func (s *Server) handleConnect(c echo.Context) error {
	var body connectBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if body.AccountID == "" || body.Address == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "account_id and address are required")
	}
	ctx := c.Request().Context()
	restricted, err := s.engine.HandleConnect(ctx, body.AccountID)
	if err != nil {
		return err
	}
	s.engine.TrackConnection(ctx, body.AccountID, body.DisplayName, body.Address)
	// the track phase may have auto-restricted
	restricted = restricted || s.engine.IsRestricted(ctx, body.AccountID)
	return c.JSON(http.StatusOK, map[string]any{"restricted": restricted})
}

func (s *Server) handleDisconnect(c echo.Context) error {
	var body struct {
		AccountID string `json:"account_id"`
	}
	if err := c.Bind(&body); err != nil || body.AccountID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "account_id is required")
	}
	s.engine.HandleDisconnect(c.Request().Context(), body.AccountID)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	accountID := c.Param("id")
	rec, err := s.engine.ActiveRecord(ctx, accountID)
	if err != nil {
		return err
	}
	visible, observing := s.engine.Preferences(ctx, accountID)
	return c.JSON(http.StatusOK, map[string]any{
		"account_id":   accountID,
		"restricted":   rec != nil,
		"record":       rec,
		"chat_visible": visible,
		"observing":    observing,
	})
}

func (s *Server) handleHistory(c echo.Context) error {
	history, err := s.engine.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"records": history})
}

func (s *Server) handleAlts(c echo.Context) error {
	depth := 0
	if raw := c.QueryParam("depth"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &depth); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid depth")
		}
	}
	report, err := s.engine.DetectAlts(c.Request().Context(), c.Param("id"), depth)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleAddresses(c echo.Context) error {
	page := 1
	if raw := c.QueryParam("page"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &page); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid page")
		}
	}
	rows, totalPages, err := s.engine.AddressHistory(c.Request().Context(), c.Param("id"), page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"addresses":   rows,
		"page":        page,
		"total_pages": totalPages,
	})
}

type restrictBody struct {
	Reason    string     `json:"reason"`
	IssuerID  *string    `json:"issuer_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) handleRestrict(c echo.Context) error {
	var body restrictBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if body.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}
	err := s.engine.Restrict(c.Request().Context(), c.Param("id"), body.Reason, body.IssuerID, body.ExpiresAt, "")
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRestrictLinked(c echo.Context) error {
	var body restrictBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if body.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}
	err := s.engine.IPRestrictAccount(c.Request().Context(), c.Param("id"), body.Reason, body.IssuerID, body.ExpiresAt)
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type liftBody struct {
	IssuerID *string `json:"issuer_id,omitempty"`
}

func (s *Server) handleLift(c echo.Context) error {
	var body liftBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := s.engine.Lift(c.Request().Context(), c.Param("id"), body.IssuerID, false); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleLiftLinked(c echo.Context) error {
	var body liftBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := s.engine.IPLiftAccount(c.Request().Context(), c.Param("id"), body.IssuerID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleUnlink(c echo.Context) error {
	removed, err := s.engine.Unlink(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) handleToggleVisible(c echo.Context) error {
	visible, err := s.engine.ToggleChatVisible(c.Request().Context(), c.Param("id"))
	if errors.Is(err, engine.ErrRestricted) {
		return echo.NewHTTPError(http.StatusConflict, "account is currently restricted")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"chat_visible": visible})
}

func (s *Server) handleToggleObserving(c echo.Context) error {
	observing, err := s.engine.ToggleObserving(c.Request().Context(), c.Param("id"))
	if errors.Is(err, engine.ErrRestricted) {
		return echo.NewHTTPError(http.StatusConflict, "account is currently restricted")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"observing": observing})
}

type addressActionBody struct {
	Address   string     `json:"address"`
	Reason    string     `json:"reason,omitempty"`
	IssuerID  *string    `json:"issuer_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) handleAddressRestrict(c echo.Context) error {
	var body addressActionBody
	if err := c.Bind(&body); err != nil || body.Address == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "address is required")
	}
	if body.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}
	n, err := s.engine.IPRestrictAddress(c.Request().Context(), body.Address, body.Reason, body.IssuerID, body.ExpiresAt)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"restricted": n})
}

func (s *Server) handleAddressLift(c echo.Context) error {
	var body addressActionBody
	if err := c.Bind(&body); err != nil || body.Address == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "address is required")
	}
	n, err := s.engine.IPLiftAddress(c.Request().Context(), body.Address, body.IssuerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"lifted": n})
}

func (s *Server) handleAddressCheck(c echo.Context) error {
	addr := c.Param("addr")
	watched, reason := s.engine.Lists.IsWatchlisted(addr)
	return c.JSON(http.StatusOK, map[string]any{
		"address":     addr,
		"whitelisted": s.engine.Lists.IsWhitelisted(addr),
		"watchlisted": watched,
		"reason":      reason,
	})
}
