package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waybill_slack_events_received_total",
		Help: "Slack events received by type and inner event type.",
	}, []string{"type", "inner_event_type"})

	EventsDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waybill_slack_events_duplicate_total",
		Help: "Slack events skipped as duplicates.",
	})

	MessagesIgnoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waybill_slack_messages_ignored_total",
		Help: "Slack messages ignored, by reason.",
	}, []string{"reason"})

	MessagesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waybill_slack_messages_processed_total",
		Help: "Slack messages handed to the agent, by channel type.",
	}, []string{"channel_type"})

	RepliesPostedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waybill_slack_replies_posted_total",
		Help: "Replies posted back to Slack, by outcome.",
	}, []string{"outcome"})
)
