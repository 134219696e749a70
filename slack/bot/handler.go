// Package bot runs the logistics assistant as a Slack Socket Mode bot.
// Each Slack thread maps to one agent conversation thread, so approval and
// clarification replies continue the paused workflow they belong to.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const processedEventsMaxAge = 1 * time.Hour

// isTeamAllowed checks if a Slack team ID is permitted.
// If SLACK_ALLOWED_TEAM_IDS is not set, all teams are allowed.
func isTeamAllowed(teamID string) bool {
	allowed := os.Getenv("SLACK_ALLOWED_TEAM_IDS")
	if allowed == "" {
		return true
	}
	for _, id := range strings.Split(allowed, ",") {
		if strings.TrimSpace(id) == teamID {
			return true
		}
	}
	return false
}

// EventHandler consumes Socket Mode events and dispatches messages to the
// agent processor.
type EventHandler struct {
	client    *Client
	processor *Processor
	log       *slog.Logger

	// Track processed events by envelope ID to avoid reprocessing duplicates.
	processedEvents   map[string]time.Time
	processedEventsMu sync.RWMutex

	// Graceful shutdown coordination.
	inFlightOps  sync.WaitGroup
	shuttingDown sync.RWMutex
	acceptingNew bool
}

func NewEventHandler(client *Client, processor *Processor, log *slog.Logger) *EventHandler {
	return &EventHandler{
		client:          client,
		processor:       processor,
		log:             log,
		processedEvents: make(map[string]time.Time),
		acceptingNew:    true,
	}
}

// StartCleanup starts a background goroutine to evict old dedup entries.
func (h *EventHandler) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.cleanup()
			}
		}
	}()
}

// StopAcceptingNew stops accepting new events and returns a function that
// waits for in-flight message processing to finish.
func (h *EventHandler) StopAcceptingNew() func() {
	h.shuttingDown.Lock()
	h.acceptingNew = false
	h.shuttingDown.Unlock()
	h.log.Info("stopped accepting new events, waiting for in-flight operations")
	return h.inFlightOps.Wait
}

func (h *EventHandler) isAcceptingNew() bool {
	h.shuttingDown.RLock()
	defer h.shuttingDown.RUnlock()
	return h.acceptingNew
}

func (h *EventHandler) cleanup() {
	now := time.Now()
	h.processedEventsMu.Lock()
	for id, seen := range h.processedEvents {
		if now.Sub(seen) > processedEventsMaxAge {
			delete(h.processedEvents, id)
		}
	}
	h.processedEventsMu.Unlock()
}

func (h *EventHandler) markProcessed(id string) bool {
	if id == "" {
		return true
	}
	h.processedEventsMu.Lock()
	defer h.processedEventsMu.Unlock()
	if _, seen := h.processedEvents[id]; seen {
		return false
	}
	h.processedEvents[id] = time.Now()
	return true
}

// HandleEvent handles a Slack Events API event.
func (h *EventHandler) HandleEvent(ctx context.Context, e slackevents.EventsAPIEvent) {
	EventsReceivedTotal.WithLabelValues(e.Type, e.InnerEvent.Type).Inc()

	if !isTeamAllowed(e.TeamID) {
		h.log.Warn("ignoring event from disallowed team", "team_id", e.TeamID)
		return
	}
	if e.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := e.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		h.dispatch(&slackevents.MessageEvent{
			Type:            "message",
			User:            ev.User,
			Text:            ev.Text,
			TimeStamp:       ev.TimeStamp,
			ThreadTimeStamp: ev.ThreadTimeStamp,
			Channel:         ev.Channel,
			ChannelType:     "channel",
		})
	case *slackevents.MessageEvent:
		h.handleMessageEvent(ev)
	}
}

func (h *EventHandler) handleMessageEvent(ev *slackevents.MessageEvent) {
	if ev.SubType != "" {
		MessagesIgnoredTotal.WithLabelValues("subtype").Inc()
		return
	}
	if ev.BotID != "" || ev.User == h.client.BotUserID() {
		MessagesIgnoredTotal.WithLabelValues("bot_message").Inc()
		return
	}
	if strings.TrimSpace(ev.Text) == "" {
		MessagesIgnoredTotal.WithLabelValues("empty").Inc()
		return
	}

	isDM := ev.ChannelType == "im"
	if !isDM {
		// Top-level channel mentions arrive as app_mention events; here we
		// only accept replies inside threads the bot already participates in.
		if ev.ThreadTimeStamp == "" {
			MessagesIgnoredTotal.WithLabelValues("not_mentioned").Inc()
			return
		}
		if h.client.IsBotMentioned(ev.Text) {
			// app_mention will carry this one
			return
		}
		if !h.processor.IsThreadActive(ev.Channel, ev.ThreadTimeStamp) {
			MessagesIgnoredTotal.WithLabelValues("inactive_thread").Inc()
			return
		}
	}

	h.dispatch(ev)
}

func (h *EventHandler) dispatch(ev *slackevents.MessageEvent) {
	messageKey := fmt.Sprintf("%s:%s", ev.Channel, ev.TimeStamp)
	if !h.processor.MarkResponded(messageKey) {
		MessagesIgnoredTotal.WithLabelValues("already_responded").Inc()
		return
	}

	channelType := ev.ChannelType
	if channelType == "" {
		channelType = "unknown"
	}
	MessagesProcessedTotal.WithLabelValues(channelType).Inc()

	h.inFlightOps.Add(1)
	go func() {
		defer h.inFlightOps.Done()
		// Background context so shutdown cancellation does not interrupt a
		// turn already handed to the agent.
		h.processor.ProcessMessage(context.Background(), ev)
	}()
}

// HandleSocketMode runs the Socket Mode event loop until ctx is done.
func (h *EventHandler) HandleSocketMode(ctx context.Context, client *socketmode.Client) error {
	h.log.Info("bot running in socket mode")

	for {
		select {
		case <-ctx.Done():
			h.log.Info("shutting down socket mode handler")
			return ctx.Err()
		case evt, ok := <-client.Events:
			if !ok {
				return nil
			}
			if !h.isAcceptingNew() {
				return ctx.Err()
			}
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				h.log.Info("socketmode: connecting")
			case socketmode.EventTypeConnected:
				h.log.Info("socketmode: connected")
			case socketmode.EventTypeConnectionError:
				h.log.Error("socketmode: connection error", "error", evt.Data)
			case socketmode.EventTypeEventsAPI:
				e, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if !h.markProcessed(evt.Request.EnvelopeID) {
					EventsDuplicateTotal.Inc()
					client.Ack(*evt.Request)
					continue
				}
				client.Ack(*evt.Request)
				h.HandleEvent(context.Background(), e)
			}
		}
	}
}
