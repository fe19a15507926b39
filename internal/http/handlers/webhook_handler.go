// Webhook and sync HTTP handlers.
//
// This file exposes the gateway-facing intake endpoint and the operator-facing
// sync controls:
//   - POST /webhook/{instance}  (real-time event intake; always acknowledges)
//   - POST /sync/{instance}     (manual bulk sync trigger)
//   - GET  /sync/instances      (gateway instance discovery)
//
// The webhook endpoint intentionally returns 200 for every decodable request:
// the gateway disables delivery to endpoints that answer with errors, so
// ingestion failures are reported in the body and logged, never as HTTP
// failures.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suppdesk/wasync/internal/http/middleware"
	"github.com/suppdesk/wasync/internal/services"
	"github.com/suppdesk/wasync/internal/sysutil"
)

// WebhookRequest is the delivery envelope posted by the gateway.
type WebhookRequest struct {
	// Event is the gateway event kind, e.g. "messages.upsert".
	Event string `json:"event" binding:"required" example:"messages.upsert"`
	// Instance optionally repeats the instance id from the URL.
	Instance string `json:"instance,omitempty" example:"support-line-1"`
	// Data is the event payload, passed through undecoded.
	Data json.RawMessage `json:"data"`
}

// WebhookResponse reports what the intake did with the delivery.
type WebhookResponse struct {
	Status string `json:"status" example:"processed"`
}

// Webhook godoc
// @ID          webhook
// @Summary     Gateway webhook intake
// @Description Accepts one real-time gateway event and runs it through the same reconcile path as bulk sync. Always acknowledges decodable deliveries.
// @Tags        Sync
// @Accept      json
// @Produce     json
//
// @Param       instance  path  string  true  "Integration instance ID"  example(support-line-1)
// @Param       body      body  handlers.WebhookRequest  true  "Gateway event envelope"
//
// @Success     200  {object} handlers.WebhookResponse
// @Failure     400  {object} handlers.ErrorResponse "Undecodable envelope"
// @Router      /webhook/{instance} [post]
func (h *Handlers) Webhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// The envelope itself is malformed; nothing to acknowledge.
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	instance := strings.TrimSpace(sysutil.FirstNonEmpty(c.Param("instance"), req.Instance))

	outcome := h.intake.Handle(c.Request.Context(), services.Event{
		Type:       req.Event,
		InstanceID: instance,
		Data:       req.Data,
	})

	if outcome == services.OutcomeError {
		lg := middleware.LoggerFrom(c)
		lg.Warn().Str("event", req.Event).Str("instance_id", instance).Msg("webhook delivery not ingested")
	}
	ok(c, http.StatusOK, WebhookResponse{Status: outcome})
}

// TriggerSync godoc
// @ID          triggerSync
// @Summary     Trigger a bulk sync for one instance
// @Description Fetches the instance's full message set from the gateway and reconciles it into the store. Partial failures complete with error entries in the report.
// @Tags        Sync
// @Produce     json
//
// @Param       instance  path  string  true  "Integration instance ID"  example(support-line-1)
//
// @Success     200  {object} services.SyncReport
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Sync failed"
// @Router      /sync/{instance} [post]
func (h *Handlers) TriggerSync(c *gin.Context) {
	instance := strings.TrimSpace(c.Param("instance"))
	if instance == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "instance id required")
		return
	}

	report, err := h.sync.SyncAll(c.Request.Context(), instance)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, report)
}

// ListInstances godoc
// @ID          listInstances
// @Summary     List gateway instances
// @Description Proxies the gateway's instance listing for operator tooling.
// @Tags        Sync
// @Produce     json
//
// @Success     200  {array}  gateway.Instance
// @Failure     502  {object} handlers.ErrorResponse "Gateway unreachable"
// @Router      /sync/instances [get]
func (h *Handlers) ListInstances(c *gin.Context) {
	instances, err := h.instances.FetchInstances(c.Request.Context())
	if err != nil {
		fail(c, http.StatusBadGateway, ErrCodeSyncFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, instances)
}
