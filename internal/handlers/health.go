package handlers

import (
	"net/http"

	"github.com/gluk-w/termgate/internal/database"
	"github.com/gluk-w/termgate/internal/sshbridge"
)

// Bridges is set from main.go during init.
var Bridges *sshbridge.Registry

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	activeBridges := 0
	if Bridges != nil {
		activeBridges = Bridges.Len()
	}
	pendingTickets := 0
	if Tickets != nil {
		pendingTickets = Tickets.Len()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status,
		"database":        dbStatus,
		"active_bridges":  activeBridges,
		"pending_tickets": pendingTickets,
	})
}
