package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/app/maintenance"
	"github.com/charlesng35/smallworld/internal/monitoring"
)

const (
	defaultDatabaseTimeout = 2 * time.Second
	defaultMaintenanceAge  = 8 * 24 * time.Hour
)

// Database returns a readiness probe that pings the configured database handle.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	if timeout <= 0 {
		timeout = defaultDatabaseTimeout
	}
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}
		sqlDB, err := db.DB()
		if err != nil {
			return monitoring.ResultFromError(err, time.Since(start))
		}

		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return monitoring.ResultFromError(sqlDB.PingContext(probeCtx), time.Since(start))
	})
}

// ConnectionCounter exposes the realtime hub's open connection count.
type ConnectionCounter interface {
	ActiveConnections() int64
}

// Realtime reports the hub as degraded when it is disabled.
func Realtime(counter ConnectionCounter) monitoring.Check {
	return monitoring.NewCheck("realtime", func(context.Context) monitoring.ProbeResult {
		if counter == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "realtime disabled"}
		}
		return monitoring.ProbeResult{
			Status:  monitoring.StatusUp,
			Details: fmt.Sprintf("%d connections", counter.ActiveConnections()),
		}
	})
}

// JobReporter exposes the last run of each maintenance job.
type JobReporter interface {
	Statuses() []maintenance.JobStatus
}

// Maintenance goes down when a job keeps failing and degrades when a job has not run within maxAge.
func Maintenance(reporter JobReporter, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceAge
	}
	if now == nil {
		now = time.Now
	}
	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		if reporter == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "maintenance disabled"}
		}

		status := monitoring.StatusUp
		var problems []string
		for _, job := range reporter.Statuses() {
			if job.Failures > 1 {
				status = monitoring.Worst(status, monitoring.StatusDown)
				problems = append(problems, fmt.Sprintf("%s: %d consecutive failures", job.Job, job.Failures))
				continue
			}
			if job.Failures == 1 {
				status = monitoring.Worst(status, monitoring.StatusDegraded)
				problems = append(problems, job.Job+": "+job.LastError)
			}
			if now().Sub(job.LastRunAt) > maxAge {
				status = monitoring.Worst(status, monitoring.StatusDegraded)
				problems = append(problems, job.Job+": stale since "+job.LastRunAt.Format(time.RFC3339))
			}
		}
		return monitoring.ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}
