package http

import (
	"net/http"
	"strings"

	"smsrelay/internal/app/relay"

	"github.com/gin-gonic/gin"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// handleInboundSMS accepts a carrier webhook, schedules the relay and
// answers with empty TwiML so the carrier sends no auto-reply.
func (h *handlers) handleInboundSMS(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "Invalid form body")
		return
	}
	if !h.validCarrierSignature(c) {
		h.log(c).Warn("Rejected SMS webhook with bad signature from %s", c.ClientIP())
		c.String(http.StatusForbidden, "Invalid signature")
		return
	}

	form := c.Request.PostForm
	in := relay.InboundSMS{
		From:       strings.TrimSpace(form.Get("From")),
		To:         strings.TrimSpace(form.Get("To")),
		Body:       form.Get("Body"),
		MessageSid: strings.TrimSpace(form.Get("MessageSid")),
	}
	if err := in.Validate(); err != nil {
		h.log(c).Warn("Rejected SMS webhook: %v", err)
		c.String(http.StatusBadRequest, "Missing required data")
		return
	}
	if err := h.dispatch.Inbound(c.Request.Context(), in); err != nil {
		h.log(c).Error("Schedule inbound SMS %s: %v", in.MessageSid, err)
		c.String(http.StatusInternalServerError, "Error processing SMS")
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(emptyTwiML))
}

// handleDeliveryStatus accepts the carrier status callback.
func (h *handlers) handleDeliveryStatus(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "Invalid form body")
		return
	}
	if !h.validCarrierSignature(c) {
		c.String(http.StatusForbidden, "Invalid signature")
		return
	}
	form := c.Request.PostForm
	status := relay.DeliveryStatus{
		MessageSid: strings.TrimSpace(form.Get("MessageSid")),
		Status:     strings.TrimSpace(form.Get("MessageStatus")),
		ErrorCode:  strings.TrimSpace(form.Get("ErrorCode")),
	}
	if status.MessageSid == "" {
		c.String(http.StatusBadRequest, "Missing MessageSid")
		return
	}
	h.log(c).Debug("SMS status %s: %s %s", status.MessageSid, status.Status, status.ErrorCode)
	if err := h.dispatch.DeliveryStatus(c.Request.Context(), status); err != nil {
		h.log(c).Error("Schedule delivery status %s: %v", status.MessageSid, err)
		c.String(http.StatusInternalServerError, "Error processing status")
		return
	}
	c.String(http.StatusOK, "OK")
}

func (h *handlers) validCarrierSignature(c *gin.Context) bool {
	if h.carrier == nil {
		return true
	}
	return h.carrier.Valid(h.requestURL(c), c.Request.PostForm, c.GetHeader("X-Twilio-Signature"))
}

// requestURL rebuilds the url the carrier called, preferring the configured
// public base behind proxies.
func (h *handlers) requestURL(c *gin.Context) string {
	if h.publicURL != "" {
		return h.publicURL + c.Request.URL.RequestURI()
	}
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}
