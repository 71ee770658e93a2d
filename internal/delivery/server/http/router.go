// Package http exposes the carrier webhooks, the Slack request endpoints,
// health and metrics, and a read-only operator API over gin.
package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smsrelay/internal/app/relay"
	slackchannel "smsrelay/internal/channels/slack"
	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// Dispatcher schedules carrier-originated work.
type Dispatcher interface {
	Inbound(ctx context.Context, in relay.InboundSMS) error
	DeliveryStatus(ctx context.Context, status relay.DeliveryStatus) error
}

// ConversationReader serves the operator API.
type ConversationReader interface {
	ListRecentConversations(ctx context.Context, limit int) ([]conversation.ConversationWithMessages, error)
	GetConversation(ctx context.Context, conversationID string) (conversation.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error)
}

// SlackIngress routes verified Slack payloads.
type SlackIngress interface {
	HandleEvent(ctx context.Context, event slackevents.EventsAPIEvent) error
	HandleInteraction(ctx context.Context, cb slack.InteractionCallback) error
	HandleCommand(ctx context.Context, cmd slack.SlashCommand) error
}

// SignatureValidator checks carrier webhook signatures.
type SignatureValidator interface {
	Valid(fullURL string, form url.Values, signature string) bool
}

// RouterDeps wires the handlers. Nil Slack disables the /slack routes, nil
// Carrier skips webhook signature checks and nil Metrics omits /metrics.
type RouterDeps struct {
	Dispatcher    Dispatcher
	Conversations ConversationReader
	Slack         SlackIngress
	SlackVerifier *slackchannel.Verifier
	Carrier       SignatureValidator
	Metrics       http.Handler
	Logger        logging.Logger
	Now           func() time.Time
}

// RouterConfig holds request-level settings.
type RouterConfig struct {
	Environment    string
	AllowedOrigins []string
	// PublicURL replaces the request scheme and host when rebuilding the
	// url a carrier signed.
	PublicURL string
	RateLimit RateLimitConfig
}

// NewRouter creates the gin engine with every endpoint.
func NewRouter(deps RouterDeps, cfg RouterConfig) *gin.Engine {
	if !strings.EqualFold(cfg.Environment, "development") {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := logging.OrNop(deps.Logger)
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	h := &handlers{
		dispatch:      deps.Dispatcher,
		conversations: deps.Conversations,
		slack:         deps.Slack,
		slackVerifier: deps.SlackVerifier,
		carrier:       deps.Carrier,
		publicURL:     strings.TrimRight(cfg.PublicURL, "/"),
		logger:        logger,
		now:           now,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggingMiddleware(logger))
	engine.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	engine.GET("/health", h.handleHealth)
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	sms := engine.Group("/sms")
	sms.POST("/webhook", h.handleInboundSMS)
	sms.POST("/status", h.handleDeliveryStatus)

	if deps.Slack != nil {
		slackGroup := engine.Group("/slack")
		slackGroup.POST("/events", h.handleSlackEvents)
		slackGroup.POST("/interactions", h.handleSlackInteractions)
		slackGroup.POST("/commands", h.handleSlackCommands)
	}

	if deps.Conversations != nil {
		api := engine.Group("/api", RateLimitMiddleware(cfg.RateLimit))
		api.GET("/conversations", h.handleListConversations)
		api.GET("/conversations/:id", h.handleGetConversation)
	}

	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "X-Log-Id"}
	cfg.ExposeHeaders = []string{"X-Log-Id"}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

type handlers struct {
	dispatch      Dispatcher
	conversations ConversationReader
	slack         SlackIngress
	slackVerifier *slackchannel.Verifier
	carrier       SignatureValidator
	publicURL     string
	logger        logging.Logger
	now           func() time.Time
}

func (h *handlers) log(c *gin.Context) logging.Logger {
	return logging.FromContext(c.Request.Context(), h.logger)
}

func (h *handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "sms-relay",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
