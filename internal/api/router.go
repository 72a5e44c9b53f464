package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/app"
	"github.com/charlesng35/smallworld/internal/audience"
	iauth "github.com/charlesng35/smallworld/internal/auth"
	"github.com/charlesng35/smallworld/internal/correlation"
	"github.com/charlesng35/smallworld/internal/handlers"
	"github.com/charlesng35/smallworld/internal/middleware"
	"github.com/charlesng35/smallworld/internal/monitoring"
	"github.com/charlesng35/smallworld/internal/monitoring/checks"
	"github.com/charlesng35/smallworld/internal/realtime"
	"github.com/charlesng35/smallworld/internal/services"
)

// Option customises router construction.
type Option func(*routerOptions)

type routerOptions struct {
	healthChecks []monitoring.Check
}

// WithHealthChecks registers additional readiness probes.
func WithHealthChecks(extra ...monitoring.Check) Option {
	return func(o *routerOptions) {
		o.healthChecks = append(o.healthChecks, extra...)
	}
}

// NewRouter builds the Gin engine, wires the domain services and registers every route.
// hub may be nil when realtime delivery is disabled; rateStore may be nil to use the
// in-process limiter.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, hub *realtime.Hub, rateStore middleware.RateStore, opts ...Option) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if !cfg.Notifications.RealtimeEnabled {
		hub = nil
	}
	options := routerOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	correlator, err := correlation.NewCorrelator(db, correlation.WithConfidenceFloor(cfg.Audience.FingerprintConfidenceFloor))
	if err != nil {
		return nil, err
	}
	resolver, err := audience.NewResolver(db)
	if err != nil {
		return nil, err
	}

	var (
		publisher services.Publisher
		counter   checks.ConnectionCounter
	)
	if hub != nil {
		publisher = hub
		counter = hub
	}
	notificationSvc, err := services.NewNotificationService(db, publisher, correlator,
		services.WithSMSFallback(cfg.Notifications.SMSFallbackEnabled),
	)
	if err != nil {
		return nil, err
	}
	ownerSvc, err := services.NewOwnerService(db, jwt)
	if err != nil {
		return nil, err
	}
	friendSvc, err := services.NewFriendService(db)
	if err != nil {
		return nil, err
	}
	postSvc, err := services.NewPostService(db, resolver, notificationSvc)
	if err != nil {
		return nil, err
	}
	feedSvc, err := services.NewFeedService(db, correlator,
		services.WithPageSizes(cfg.Feed.DefaultPageSize, cfg.Feed.MaxPageSize),
	)
	if err != nil {
		return nil, err
	}
	engagementSvc, err := services.NewEngagementService(db, notificationSvc)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.Viewer(jwt, friendSvc))

	health := monitoring.NewHealthManager()
	health.RegisterReadiness(checks.Database(db, 0))
	health.RegisterReadiness(checks.Realtime(counter))
	for _, check := range options.healthChecks {
		health.RegisterReadiness(check)
	}
	registerHealthRoutes(r, handlers.NewHealthHandler(health))

	api := r.Group("/api")
	registerAuthRoutes(api, handlers.NewAuthHandler(ownerSvc))
	registerFeedRoutes(api, handlers.NewFeedHandler(feedSvc))
	registerPostRoutes(api, handlers.NewPostHandler(postSvc, feedSvc, engagementSvc))
	registerFriendRoutes(api, handlers.NewFriendHandler(friendSvc))
	registerPushRoutes(api, handlers.NewPushHandler(correlator))

	notificationHandler := handlers.NewNotificationHandler(notificationSvc, hub)
	registerNotificationRoutes(r, api, notificationHandler, rateStore, cfg.Transport)
	registerTransportRoutes(r, handlers.NewTransportHandler(notificationSvc), cfg.Transport.APIKey)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
