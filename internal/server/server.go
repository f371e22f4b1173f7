/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/api"
	"github.com/friendsincode/bifrost_player/internal/audio"
	"github.com/friendsincode/bifrost_player/internal/audit"
	"github.com/friendsincode/bifrost_player/internal/cache"
	"github.com/friendsincode/bifrost_player/internal/config"
	"github.com/friendsincode/bifrost_player/internal/db"
	"github.com/friendsincode/bifrost_player/internal/engine"
	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/library"
	"github.com/friendsincode/bifrost_player/internal/logbuffer"
	"github.com/friendsincode/bifrost_player/internal/player"
	"github.com/friendsincode/bifrost_player/internal/prefetch"
	"github.com/friendsincode/bifrost_player/internal/queue"
	"github.com/friendsincode/bifrost_player/internal/remote"
	"github.com/friendsincode/bifrost_player/internal/resolver"
	"github.com/friendsincode/bifrost_player/internal/settings"
	"github.com/friendsincode/bifrost_player/internal/source"
	"github.com/friendsincode/bifrost_player/internal/syncbus"
	"github.com/friendsincode/bifrost_player/internal/telemetry"
	"github.com/friendsincode/bifrost_player/internal/version"
	"github.com/friendsincode/bifrost_player/internal/videohost"
	"github.com/friendsincode/bifrost_player/internal/webhooks"
)

// Server bundles the HTTP surface and the playback services behind it.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	cache      *cache.Cache
	logBuffer  *logbuffer.Buffer
	bus        *events.Bus
	queue      *queue.Manager
	engine     *engine.Engine
	library    *library.Service
	settings   *settings.Service
	syncBus    *syncbus.Broadcaster
	players    *videohost.Registry
	updates    *version.Checker
	auditSvc   *audit.Service
	webhookSvc *webhooks.Service
	api        *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// trackPreparer routes prefetch URL resolution to the backend that owns
// the track's source. Tracks of other sources pass through untouched.
type trackPreparer struct {
	library *library.Service
	proxy   *source.ProxyAdapter
}

func (p *trackPreparer) ResolveTrack(ctx context.Context, track *player.Track) error {
	switch track.Source {
	case player.SourceLocal:
		if p.library == nil {
			return nil
		}
		return p.library.ResolveTrack(ctx, track)
	case player.SourceProxy:
		return p.proxy.ResolveTrack(ctx, track)
	default:
		return nil
	}
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("bifrost-player-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Session sockets outlive any sane request deadline, so the timeout
	// middleware skips upgrade requests.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep the header deadline to protect against slowloris without
		// enforcing a full-body read deadline.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		// WriteTimeout stays 0 so session sockets manage their own
		// deadlines; the middleware timeout covers plain routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := os.MkdirAll(s.cfg.MediaRoot, 0755); err != nil {
		return fmt.Errorf("create media directory %s: %w", s.cfg.MediaRoot, err)
	}
	s.logger.Info().Str("path", s.cfg.MediaRoot).Msg("media directory ready")

	// Redis cache for resolved stream URLs and device lists. Losing it
	// costs round trips, not correctness.
	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	librarySvc, err := library.NewService(s.cfg, database, s.bus, s.logger)
	if err != nil {
		return fmt.Errorf("initialize library service: %w", err)
	}
	s.library = librarySvc
	s.DeferClose(func() error { return s.library.Close() })

	s.settings = settings.NewService(database, s.cfg.SettingsFile, s.logger)
	s.queue = queue.NewManager(s.bus)
	s.players = videohost.NewRegistry(s.bus, s.logger)

	// One decoded-audio opener shared by every local backend and the
	// prefetcher, so all handles land on the same mixer.
	opener := audio.NewBeepOpener(s.logger, nil)

	resolverClient, err := resolver.NewClient(s.cfg.ResolverURL, s.cfg.ResolverTimeout, s.cache, s.logger)
	if err != nil {
		return fmt.Errorf("initialize resolver client: %w", err)
	}

	localAdapter := source.NewLocalAdapter(opener, s.bus, s.logger)
	proxyAdapter := source.NewProxyAdapter(resolverClient, opener, s.bus, s.logger)
	videoAdapter := source.NewVideoAdapter(s.players, s.bus, s.logger)
	adapters := []source.Adapter{localAdapter, proxyAdapter, videoAdapter}

	var remoteClient *remote.Client
	if s.cfg.RemoteAPIURL != "" {
		remoteClient, err = remote.NewClient(s.cfg.RemoteAPIURL, s.cfg.RemoteToken, s.logger)
		if err != nil {
			return fmt.Errorf("initialize remote client: %w", err)
		}
		adapters = append(adapters, source.NewRemoteAdapter(remoteClient, s.cfg.RemotePollInterval, s.bus, s.logger))
		s.logger.Info().Str("api_url", s.cfg.RemoteAPIURL).Msg("remote streaming source enabled")
	}
	for _, a := range adapters {
		a := a
		s.DeferClose(a.Close)
	}

	preparer := &trackPreparer{library: s.library, proxy: proxyAdapter}
	prefetcher := prefetch.New(opener, s.queue, preparer, s.bus, s.logger)
	s.DeferClose(prefetcher.Close)

	if s.cfg.SyncEnabled {
		syncCfg := syncbus.DefaultConfig()
		syncCfg.URL = s.cfg.NATSURL
		syncCfg.Token = s.cfg.NATSToken
		syncCfg.Listener = s.cfg.SyncListenerID
		syncCfg.NodeID = s.cfg.InstanceID
		s.syncBus = syncbus.New(syncCfg, s.bus, s.logger)
		s.DeferClose(s.syncBus.Close)
	}

	s.engine = engine.New(s.queue, adapters, prefetcher, s.settings, s.syncBus, database, s.bus, s.logger)

	// Rod drives a real embed page for video tracks on deployments with
	// no browser client attached. Registration stays an operator action.
	var embedHost videohost.Host
	if s.cfg.EmbedEnabled {
		rodHost := videohost.NewRodHost(s.cfg.EmbedPageURL, s.cfg.EmbedHeadless, s.logger)
		s.DeferClose(rodHost.Close)
		embedHost = rodHost
		s.logger.Info().Bool("headless", s.cfg.EmbedHeadless).Msg("embedded video host available")
	}

	s.updates = version.NewChecker(s.logger)

	// Control-plane writes and duck transitions land in the audit trail;
	// webhook targets get playback events pushed to them.
	s.auditSvc = audit.NewService(database, s.bus, s.logger)
	s.webhookSvc = webhooks.NewService(database, s.bus, s.logger)

	s.api = api.New(s.db, []byte(s.cfg.JWTSigningKey), s.engine, s.queue, s.library, s.settings, s.players, embedHost, remoteClient, s.cache, s.bus, s.logBuffer, s.updates, s.auditSvc, s.webhookSvc, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	// Stop the engine first so the resume snapshot reflects the final
	// playback position.
	if s.engine != nil {
		if err := s.engine.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("engine stop error")
		}
	}
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if err := s.engine.Start(ctx); err != nil {
		s.logger.Error().Err(err).Msg("engine start failed")
	}

	// Index the media root once at boot, then watch it for changes.
	if s.library != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if _, err := s.library.Scan(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("startup library scan failed")
			}
		}()
		if err := s.library.StartWatching(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("library watcher unavailable")
		}
	}

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	// The checker does its first fetch inline, so it runs off the boot
	// path.
	if s.updates != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.updates.Start(ctx)
		}()
	}

	if s.auditSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.auditSvc.Start(ctx)
		}()
	}

	if s.webhookSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.webhookSvc.Start(ctx)
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`

		// Report sync connectivity when cross-session sync is on.
		if s.syncBus != nil {
			if s.syncBus.Connected() {
				response += `,"sync":true`
			} else {
				response += `,"sync":false`
			}
		}

		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
