package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lugares/apiserver/config"
	"github.com/lugares/apiserver/internal/db"
	"github.com/lugares/apiserver/internal/feed"
	"github.com/lugares/apiserver/internal/geo"
	"github.com/lugares/apiserver/internal/handlers"
	"github.com/lugares/apiserver/internal/logging"
	"github.com/lugares/apiserver/internal/mq"
	"github.com/lugares/apiserver/internal/services"
	"github.com/lugares/apiserver/internal/storage"
	"github.com/lugares/apiserver/internal/store"
	"github.com/rs/zerolog"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server and the background live feed.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	broker     *mq.MQ
	geo        *geo.Resolver
	hub        *feed.Hub
	relay      *feed.Relay
	logger     zerolog.Logger

	// feedCtx scopes the hub and relay. Cancelling it closes every open
	// event stream.
	feedCtx context.Context
	cancel  context.CancelFunc
}

// New constructs a Server with all collaborators wired from cfg.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	objects, err := newObjectStorage(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	media := storage.NewStorage(objects, cfg.Storage.PublicBaseURL)
	if err := media.EnsureBucket(ctx); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("ensure bucket %q: %w", media.Bucket(), err)
	}

	backend, err := newBroker(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	broker := mq.New(backend, logger)

	resolver, err := geo.NewResolver(cfg.GeoIP.DatabasePath)
	if err != nil {
		_ = broker.Close()
		_ = dbConn.Close()
		return nil, err
	}
	var locator geo.Locator
	if resolver != nil {
		locator = resolver
	} else {
		logger.Info().Msg("geoip database not configured; approximate location disabled")
	}

	userRepo := store.NewUserRepository(dbConn)
	placeRepo := store.NewPlaceRepository(dbConn)
	commentRepo := store.NewCommentRepository(dbConn)

	hub := feed.NewHub()
	relay := feed.NewRelay(broker, cfg.MQ.Channel, hub)
	publisher := feed.NewPublisher(broker, cfg.MQ.Channel)

	identity := services.NewIdentityService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)
	placeService := services.NewPlaceService(
		placeRepo,
		storage.NewUploader(media),
		publisher,
		hub,
		cfg.Places.MaxPerOwner,
		logger,
	)
	commentService := services.NewCommentService(commentRepo, placeService)
	placeHandler := handlers.NewPlaceHandler(placeService, commentService, locator, cfg.Places.MaxImageBytes)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.Middleware(logger),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		handlers.AuthRouter(r, identity)
	})
	router.Group(func(r chi.Router) {
		r.Use(handlers.RequireSession(identity))
		r.With(middleware.Timeout(requestTimeout)).Get("/home", handlers.Home)
		r.With(middleware.Timeout(requestTimeout), handlers.RequireRole).Get("/geo/current", handlers.CurrentLocation(locator))
		r.Route("/places", func(r chi.Router) {
			handlers.PlaceRouter(r, placeHandler, requestTimeout)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	feedCtx, cancel := context.WithCancel(context.Background())

	return &Server{
		httpServer: httpServer,
		db:         dbConn,
		broker:     broker,
		geo:        resolver,
		hub:        hub,
		relay:      relay,
		logger:     logger,
		feedCtx:    feedCtx,
		cancel:     cancel,
	}, nil
}

// Start runs the live feed in the background and serves HTTP until the
// server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve is Start over an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	go s.hub.Run(s.feedCtx)
	go func() {
		if err := s.relay.Run(s.feedCtx); err != nil {
			s.logger.Error().Err(err).Msg("live feed relay stopped")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases every collaborator. The
// live feed stops first: http.Server.Shutdown does not cancel request
// contexts, so open event streams would otherwise hold it until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.httpServer.Shutdown(ctx)
	if s.broker != nil {
		_ = s.broker.Close()
	}
	if s.geo != nil {
		_ = s.geo.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}

func newObjectStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "minio":
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newBroker(ctx context.Context, cfg config.MQConfig) (mq.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return mq.NewMemory(), nil
	case "rabbitmq":
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "pubsub":
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}
