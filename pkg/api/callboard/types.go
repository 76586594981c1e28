package callboard

import (
	"encoding/json"
	"time"

	"callboard/pkg/models"
)

// SubmitRequest is the body of POST /api/announcements. Legacy panels send
// the same tuple under "aviso"; the server accepts either key.
type SubmitRequest struct {
	Announcement models.Payload `json:"announcement"`
}

// SubmitResponse is returned for an accepted announcement.
type SubmitResponse struct {
	Success          bool                `json:"success"`
	Message          string              `json:"message,omitempty"`
	ID               int64               `json:"id"`
	Timestamp        time.Time           `json:"timestamp"`
	Announcement     models.Announcement `json:"announcement"`
	ConnectedClients int                 `json:"connected_clients"`
}

// ListResponse wraps announcement listings.
type ListResponse struct {
	Announcements []models.Announcement `json:"announcements"`
	Total         int                   `json:"total"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Status               string               `json:"status"`
	Service              string               `json:"service"`
	Version              string               `json:"version"`
	Environment          string               `json:"environment"`
	Port                 string               `json:"port"`
	TotalAnnouncements   int                  `json:"total_announcements"`
	PendingAnnouncements int                  `json:"pending_announcements"`
	Capacity             int                  `json:"capacity"`
	LatestAnnouncement   *models.Announcement `json:"latest_announcement"`
	ConnectedClients     int                  `json:"connected_clients"`
	Uptime               string               `json:"uptime"`
	UptimeSeconds        float64              `json:"uptime_seconds"`
	Timestamp            time.Time            `json:"timestamp"`
}

// Envelope frames every server-to-client WebSocket message.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// ProcessedData is the data of a "processed" envelope.
type ProcessedData struct {
	ID int64 `json:"id"`
}

// ConnectionStatusData is the data of a "connection-status" envelope.
type ConnectionStatusData struct {
	Connected    bool      `json:"connected"`
	Timestamp    time.Time `json:"timestamp"`
	TotalClients int       `json:"total_clients"`
}

// ClientMessage is sent by display clients.
type ClientMessage struct {
	Action string `json:"action"`
	ID     *int64 `json:"id,omitempty"`
}

// Envelope types
const (
	TypeNewAnnouncement  = "new-announcement"
	TypePendingBacklog   = "pending-backlog"
	TypeProcessed        = "processed"
	TypeConnectionStatus = "connection-status"
	TypeHistory          = "history"
)

// Client actions. The Legacy* spellings come from the first display build.
const (
	ActionAcknowledge       = "acknowledge"
	ActionHistory           = "history"
	ActionLegacyAcknowledge = "marcar-processado"
	ActionLegacyHistory     = "solicitar-historico"
)

// Error codes used in common.ErrorResponse.Error.
const (
	ErrCodeValidation  = "validation_failed"
	ErrCodeNotFound    = "not_found"
	ErrCodeBadID       = "invalid_id"
	ErrCodeDisabled    = "disabled"
	ErrCodeUnavailable = "unavailable"
)
