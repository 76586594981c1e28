package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"callboard/internal/config"
	"callboard/internal/hub"
	"callboard/internal/metrics"
	"callboard/internal/websocket"
	"callboard/pkg/api/callboard"
	"callboard/pkg/api/common"
	"callboard/pkg/logging"
	"callboard/pkg/middleware"
	"callboard/pkg/models"
	"callboard/pkg/validation"
	"callboard/pkg/version"
)

const serviceName = "crier"

// Board is the hub surface the HTTP API needs.
type Board interface {
	Submit(ctx context.Context, source string, p models.Payload) (hub.Receipt, error)
	Acknowledge(ctx context.Context, id int64) error
	ListAll(ctx context.Context) ([]models.Announcement, error)
	ListUnprocessed(ctx context.Context) ([]models.Announcement, error)
	Stats(ctx context.Context) (hub.Stats, error)
}

// CrierHandlers contains the HTTP handlers for the service
type CrierHandlers struct {
	board     Board
	ws        *websocket.Server
	validator *validation.AnnouncementValidator
	cfg       config.Config
	logger    logging.Logger
	metrics   *metrics.Metrics
	startTime time.Time
	now       func() time.Time
}

// NewCrierHandlers creates a new handlers instance
func NewCrierHandlers(board Board, ws *websocket.Server, cfg config.Config, logger logging.Logger, m *metrics.Metrics) *CrierHandlers {
	return &CrierHandlers{
		board:     board,
		ws:        ws,
		validator: validation.NewAnnouncementValidator(),
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// RegisterRoutes mounts the API, its legacy aliases and the push channel.
func (h *CrierHandlers) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/announcements", h.HandleSubmit)
		api.GET("/announcements", h.HandleListAll)
		api.GET("/announcements/pending", h.HandleListPending)
		api.POST("/announcements/:id/processed", h.HandleMarkProcessed)
		api.GET("/test-announcement", h.HandleTestAnnouncement)
		api.GET("/status", h.HandleStatus)

		api.POST("/aviso", h.HandleSubmit)
		api.GET("/avisos", h.HandleListAll)
		api.POST("/avisos/:id/processar", h.HandleMarkProcessed)
		api.GET("/teste", h.HandleTestAnnouncement)
	}

	// polling-era routes
	r.POST("/aviso", h.HandleSubmit)
	r.GET("/avisos", h.HandleListAll)
	r.GET("/avisos/novos", h.HandleListPending)
	r.POST("/avisos/:id/processar", h.HandleMarkProcessed)
	r.GET("/teste-aviso", h.HandleTestAnnouncement)
	r.GET("/status", h.HandleStatus)

	r.GET("/ws", h.HandleWebSocket)
	r.NoRoute(h.HandleNotFound)
}

// HandleSubmit accepts a new announcement
func (h *CrierHandlers) HandleSubmit(c *gin.Context) {
	log := middleware.GetContextLogger(c, h.logger)

	body, err := c.GetRawData()
	if err != nil {
		log.WithError(err).Warn("Failed to read request body")
		c.JSON(http.StatusBadRequest, common.NewError(callboard.ErrCodeValidation, serviceName, "unreadable body"))
		return
	}

	payload, err := h.validator.DecodeBody(body)
	if err != nil {
		h.metrics.Published(hub.SourceAPI, "invalid")
		h.respondValidation(c, log, err)
		return
	}

	receipt, err := h.board.Submit(c.Request.Context(), hub.SourceAPI, payload)
	if err != nil {
		h.respondHubError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, callboard.SubmitResponse{
		Success:          true,
		Message:          "Announcement received",
		ID:               receipt.Announcement.ID,
		Timestamp:        receipt.Announcement.ReceivedAt,
		Announcement:     receipt.Announcement,
		ConnectedClients: receipt.Subscribers,
	})
}

// HandleListAll lists the whole window newest-first
func (h *CrierHandlers) HandleListAll(c *gin.Context) {
	list, err := h.board.ListAll(c.Request.Context())
	if err != nil {
		h.respondHubError(c, middleware.GetContextLogger(c, h.logger), err)
		return
	}
	c.JSON(http.StatusOK, listResponse(list))
}

// HandleListPending lists unprocessed announcements newest-first
func (h *CrierHandlers) HandleListPending(c *gin.Context) {
	list, err := h.board.ListUnprocessed(c.Request.Context())
	if err != nil {
		h.respondHubError(c, middleware.GetContextLogger(c, h.logger), err)
		return
	}
	c.JSON(http.StatusOK, listResponse(list))
}

// HandleMarkProcessed acknowledges an announcement by id
func (h *CrierHandlers) HandleMarkProcessed(c *gin.Context) {
	log := middleware.GetContextLogger(c, h.logger)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, common.NewError(callboard.ErrCodeBadID, serviceName,
			fmt.Sprintf("id must be an integer, got %q", c.Param("id"))))
		return
	}

	if err := h.board.Acknowledge(c.Request.Context(), id); err != nil {
		h.respondHubError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, common.SuccessResponse{
		Success: true,
		Message: "Announcement marked as processed",
	})
}

// HandleTestAnnouncement publishes a canned announcement
func (h *CrierHandlers) HandleTestAnnouncement(c *gin.Context) {
	log := middleware.GetContextLogger(c, h.logger)

	if !h.cfg.AllowTestAnnouncements {
		c.JSON(http.StatusNotFound, common.NewError(callboard.ErrCodeDisabled, serviceName, "test announcements are disabled"))
		return
	}

	now := h.now()
	payload, err := models.NewPayload(now.UnixMilli(), "Test room", "Test patient "+now.Format("15:04:05"))
	if err != nil {
		log.WithError(err).Error("Failed to build test payload")
		c.JSON(http.StatusInternalServerError, common.NewError("internal_error", serviceName, ""))
		return
	}

	receipt, err := h.board.Submit(c.Request.Context(), hub.SourceTest, payload)
	if err != nil {
		h.respondHubError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, callboard.SubmitResponse{
		Success:          true,
		Message:          "Test announcement sent",
		ID:               receipt.Announcement.ID,
		Timestamp:        receipt.Announcement.ReceivedAt,
		Announcement:     receipt.Announcement,
		ConnectedClients: receipt.Subscribers,
	})
}

// HandleStatus reports window and connection counts
func (h *CrierHandlers) HandleStatus(c *gin.Context) {
	st, err := h.board.Stats(c.Request.Context())
	if err != nil {
		h.respondHubError(c, middleware.GetContextLogger(c, h.logger), err)
		return
	}

	uptime := time.Since(h.startTime)
	c.JSON(http.StatusOK, callboard.StatusResponse{
		Status:               "online",
		Service:              serviceName,
		Version:              version.Version,
		Environment:          h.cfg.Environment,
		Port:                 h.cfg.Port,
		TotalAnnouncements:   st.Total,
		PendingAnnouncements: st.Pending,
		Capacity:             st.Capacity,
		LatestAnnouncement:   st.Latest,
		ConnectedClients:     st.Subscribers,
		Uptime:               uptime.Round(time.Second).String(),
		UptimeSeconds:        uptime.Seconds(),
		Timestamp:            h.now().UTC(),
	})
}

// HandleWebSocket upgrades to a subscriber session
func (h *CrierHandlers) HandleWebSocket(c *gin.Context) {
	h.ws.ServeWS(c.Writer, c.Request)
}

// HandleNotFound provides a custom 404 handler
func (h *CrierHandlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, common.NewError(callboard.ErrCodeNotFound, serviceName, "Endpoint not found"))
}

func (h *CrierHandlers) respondValidation(c *gin.Context, log logging.Entry, err error) {
	log.WithError(err).Warn("Rejected announcement")

	resp := common.ValidationErrorResponse{
		Error:   callboard.ErrCodeValidation,
		Message: err.Error(),
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		resp.Fields = map[string]string{verr.Field: verr.Reason}
	}
	c.JSON(http.StatusBadRequest, resp)
}

func (h *CrierHandlers) respondHubError(c *gin.Context, log logging.Entry, err error) {
	var nf *hub.NotFoundError
	switch {
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, common.ErrorResponse{
			Error:   callboard.ErrCodeNotFound,
			Service: serviceName,
			Message: nf.Error(),
			Details: map[string]interface{}{"id": nf.ID},
		})
	case errors.Is(err, hub.ErrHubClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.WithError(err).Warn("Hub unavailable")
		c.JSON(http.StatusServiceUnavailable, common.NewError(callboard.ErrCodeUnavailable, serviceName, err.Error()))
	default:
		log.WithError(err).Error("Hub request failed")
		c.JSON(http.StatusInternalServerError, common.NewError("internal_error", serviceName, ""))
	}
}

func listResponse(list []models.Announcement) callboard.ListResponse {
	if list == nil {
		list = []models.Announcement{}
	}
	return callboard.ListResponse{Announcements: list, Total: len(list)}
}
