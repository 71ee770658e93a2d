package http

import (
	"errors"
	"net/http"
	"net/url"

	slackchannel "smsrelay/internal/channels/slack"
	"smsrelay/internal/httpclient"

	"github.com/gin-gonic/gin"
)

const maxSlackBodyBytes = 1 << 20

// readVerified reads the raw body and checks the Slack signature. It writes
// the failure response itself and returns ok=false.
func (h *handlers) readVerified(c *gin.Context) (body []byte, ok bool) {
	body, err := httpclient.ReadAllWithLimit(c.Request.Body, maxSlackBodyBytes)
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid body")
		return nil, false
	}
	if h.slackVerifier.Enabled() {
		if err := h.slackVerifier.Verify(c.Request.Header, body); err != nil {
			h.log(c).Warn("Rejected Slack request: %v", err)
			c.String(http.StatusUnauthorized, "Invalid signature")
			return nil, false
		}
	}
	return body, true
}

func (h *handlers) handleSlackEvents(c *gin.Context) {
	body, ok := h.readVerified(c)
	if !ok {
		return
	}
	event, challenge, err := slackchannel.ParseEvent(body)
	if err != nil {
		h.log(c).Warn("Parse Slack event: %v", err)
		c.String(http.StatusBadRequest, "Invalid event")
		return
	}
	if challenge != "" {
		c.JSON(http.StatusOK, gin.H{"challenge": challenge})
		return
	}
	err = h.slack.HandleEvent(c.Request.Context(), event)
	if errors.Is(err, slackchannel.ErrNotAccepted) {
		// Events API redelivers on non-2xx; the dedup entry was released.
		h.log(c).Error("Route Slack event: %v", err)
		c.String(http.StatusServiceUnavailable, "Retry later")
		return
	}
	h.ack(c, err)
}

func (h *handlers) handleSlackInteractions(c *gin.Context) {
	body, ok := h.readVerified(c)
	if !ok {
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid form body")
		return
	}
	cb, err := slackchannel.ParseInteraction(form)
	if err != nil {
		h.log(c).Warn("Parse Slack interaction: %v", err)
		c.String(http.StatusBadRequest, "Invalid payload")
		return
	}
	h.ack(c, h.slack.HandleInteraction(c.Request.Context(), cb))
}

func (h *handlers) handleSlackCommands(c *gin.Context) {
	body, ok := h.readVerified(c)
	if !ok {
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid form body")
		return
	}
	cmd, err := slackchannel.ParseCommand(form)
	if err != nil {
		h.log(c).Warn("Parse Slack command: %v", err)
		c.String(http.StatusBadRequest, "Invalid command")
		return
	}
	h.ack(c, h.slack.HandleCommand(c.Request.Context(), cmd))
}

// ack answers 200. Interactions and commands are not redelivered, so a
// failed request has already been reported to the agent in Slack.
func (h *handlers) ack(c *gin.Context, err error) {
	switch {
	case err == nil, errors.Is(err, slackchannel.ErrUnsupported):
	default:
		h.log(c).Error("Route Slack request %s: %v", c.FullPath(), err)
	}
	c.Status(http.StatusOK)
}
