package hub

import (
	"time"

	"callboard/pkg/api/callboard"
	"callboard/pkg/models"
)

// Event type names as they appear on the wire.
const (
	TypeNewAnnouncement  = callboard.TypeNewAnnouncement
	TypePendingBacklog   = callboard.TypePendingBacklog
	TypeProcessed        = callboard.TypeProcessed
	TypeConnectionStatus = callboard.TypeConnectionStatus
	TypeHistory          = callboard.TypeHistory
)

// Event is something the hub queues for a subscriber. The set of
// implementations is closed.
type Event interface {
	EventType() string
	isEvent()
}

// NewAnnouncement is pushed to every subscriber when an announcement is
// accepted.
type NewAnnouncement struct {
	Announcement models.Announcement
}

// PendingBacklog is the first event every subscriber receives: unprocessed
// announcements at subscribe time, newest-first. It may be empty.
type PendingBacklog struct {
	Announcements []models.Announcement
}

// Processed is pushed when an announcement is acknowledged, if enabled.
type Processed struct {
	ID int64
}

// ConnectionStatus follows the backlog on subscribe.
type ConnectionStatus struct {
	Connected    bool
	Timestamp    time.Time
	TotalClients int
}

// History answers a single subscriber's history request.
type History struct {
	Announcements []models.Announcement
}

func (NewAnnouncement) EventType() string  { return TypeNewAnnouncement }
func (PendingBacklog) EventType() string   { return TypePendingBacklog }
func (Processed) EventType() string        { return TypeProcessed }
func (ConnectionStatus) EventType() string { return TypeConnectionStatus }
func (History) EventType() string          { return TypeHistory }

func (NewAnnouncement) isEvent()  {}
func (PendingBacklog) isEvent()   {}
func (Processed) isEvent()        {}
func (ConnectionStatus) isEvent() {}
func (History) isEvent()          {}
