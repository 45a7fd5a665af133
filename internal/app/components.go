package app

import (
	"github.com/stacklok/runctl/internal/coordinator"
	"github.com/stacklok/runctl/internal/history"
	"github.com/stacklok/runctl/internal/telemetry"
)

// Components groups the long-lived components of the application
type Components struct {
	// Coordinator owns the executors of every agent
	Coordinator *coordinator.Coordinator

	// History records completed runs (optional)
	History *history.Store

	Telemetry *telemetry.Telemetry
}
