package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/api"
	"github.com/charlesng35/smallworld/internal/app"
	"github.com/charlesng35/smallworld/internal/app/maintenance"
	iauth "github.com/charlesng35/smallworld/internal/auth"
	"github.com/charlesng35/smallworld/internal/cache"
	"github.com/charlesng35/smallworld/internal/correlation"
	"github.com/charlesng35/smallworld/internal/database"
	"github.com/charlesng35/smallworld/internal/middleware"
	"github.com/charlesng35/smallworld/internal/monitoring/checks"
	"github.com/charlesng35/smallworld/internal/realtime"
	"github.com/charlesng35/smallworld/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Hub     *realtime.Hub
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime opens the database, starts maintenance and builds the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	if cfg.Notifications.RealtimeEnabled {
		stack.Hub = realtime.NewHub()
	}

	rateStore, counters := newRateStore(cfg.Transport, stack.DB)

	if cfg.Maintenance.Enabled {
		correlator, err := correlation.NewCorrelator(stack.DB, correlation.WithConfidenceFloor(cfg.Audience.FingerprintConfidenceFloor))
		if err != nil {
			return nil, fmt.Errorf("initialise correlator: %w", err)
		}
		m := cfg.Maintenance
		opts := []maintenance.Option{
			maintenance.WithRetention(m.NotificationRetentionDays, m.TextBlastRetentionDays, m.UnattributedRegistrationDays),
			maintenance.WithSchedules(m.NotificationSchedule, m.TextBlastSchedule, m.RegistrationSchedule),
		}
		if counters != nil {
			opts = append(opts, maintenance.WithRateCounters(counters))
		}
		stack.Cleaner = maintenance.NewCleaner(stack.DB, correlator, opts...)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	var routerOpts []api.Option
	if stack.Cleaner != nil {
		routerOpts = append(routerOpts, api.WithHealthChecks(checks.Maintenance(stack.Cleaner, 0, nil)))
	}
	stack.Router, err = api.NewRouter(stack.DB, jwtSvc, cfg, stack.Hub, rateStore, routerOpts...)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
		s.Cleaner = nil
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
		s.DB = nil
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndBackfill(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
		Debug:  cfg.Database.Debug,
	}

	var auth app.DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite", "sqlite3":
		dbCfg.Driver = "sqlite"
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		auth = cfg.Database.Postgres
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		auth = cfg.Database.MySQL
	default:
		// Leave driver as-is to surface unsupported driver error during open.
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(auth.Host)
	dbCfg.Port = auth.Port
	dbCfg.Name = strings.TrimSpace(auth.Database)
	dbCfg.User = strings.TrimSpace(auth.Username)
	dbCfg.Password = auth.Password
	return dbCfg
}

// newRateStore picks the counter backend for rate limited routes. The database store is
// returned a second time so maintenance can prune its expired rows.
func newRateStore(cfg app.TransportConfig, db *gorm.DB) (middleware.RateStore, *cache.DatabaseStore) {
	if strings.EqualFold(strings.TrimSpace(cfg.RateStore), app.RateStoreDatabase) {
		if store := cache.NewDatabaseStore(db); store != nil {
			return store, store
		}
	}
	return middleware.NewMemoryRateStore(), nil
}
