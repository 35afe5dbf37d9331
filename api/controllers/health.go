package controllers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/events-collector/api/responses"
	"github.com/angelmondragon/events-collector/pkg/config"
	pkgerrors "github.com/angelmondragon/events-collector/pkg/errors"
	"github.com/angelmondragon/events-collector/pkg/logger"
)

const readyCheckTimeout = 2 * time.Second

// Pinger is any dependency the readiness check can reach.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names a dependency for the readiness payload.
type Check struct {
	Name   string
	Pinger Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Events-Collector-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every check concurrently and reports 503 when any of them fails.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Events-Collector-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		results := make([]string, len(checks))
		var g errgroup.Group
		for i, check := range checks {
			g.Go(func() error {
				if check.Pinger == nil {
					results[i] = "skipped"
					return nil
				}
				if err := check.Pinger.Ping(ctx); err != nil {
					results[i] = "error"
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, check.Name+" unavailable").
						WithDetails(map[string]string{"check": check.Name})
				}
				results[i] = "ok"
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := make(map[string]string, len(checks)+1)
		status["status"] = "ready"
		for i, check := range checks {
			status[check.Name] = results[i]
		}
		responses.WriteSuccess(w, status)
	}
}
