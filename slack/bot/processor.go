package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/malbeclabs/waybill/agent/pkg/workflow/logistics"
	"github.com/slack-go/slack/slackevents"
)

const turnTimeout = 3 * time.Minute

// Processor runs agent turns for Slack messages. One Slack thread is one
// agent conversation thread, keyed by channel and root timestamp, so a paused
// workflow resumes when the user replies in the same thread.
type Processor struct {
	agent  *logistics.Agent
	client *Client
	log    *slog.Logger

	mu            sync.Mutex
	responded     map[string]bool
	activeThreads map[string]bool
}

func NewProcessor(agent *logistics.Agent, client *Client, log *slog.Logger) *Processor {
	return &Processor{
		agent:         agent,
		client:        client,
		log:           log,
		responded:     make(map[string]bool),
		activeThreads: make(map[string]bool),
	}
}

// MarkResponded records a message as handled. Returns false if it was
// already handled.
func (p *Processor) MarkResponded(messageKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.responded[messageKey] {
		return false
	}
	p.responded[messageKey] = true
	return true
}

// IsThreadActive reports whether the bot is participating in this thread.
func (p *Processor) IsThreadActive(channel, threadTS string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeThreads[channel+":"+threadTS]
}

func (p *Processor) markThreadActive(channel, threadTS string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeThreads[channel+":"+threadTS] = true
}

// ProcessMessage runs one agent turn and posts the reply in the thread.
func (p *Processor) ProcessMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	rootTS := ev.ThreadTimeStamp
	if rootTS == "" {
		rootTS = ev.TimeStamp
	}
	p.markThreadActive(ev.Channel, rootTS)

	threadID := fmt.Sprintf("slack:%s:%s", ev.Channel, rootTS)
	question := StripMentions(ev.Text)

	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	result, err := p.agent.Run(ctx, threadID, question)
	if err != nil {
		p.log.Error("agent turn failed", "thread_id", threadID, "error", err)
		if postErr := p.client.PostReply(ctx, ev.Channel, rootTS,
			"요청 처리 중 오류가 발생했습니다. 관리자에게 문의해주세요."); postErr != nil {
			p.log.Error("failed to post error reply", "error", postErr)
		}
		return
	}

	if err := p.client.PostReply(ctx, ev.Channel, rootTS, result.Response); err != nil {
		p.log.Error("failed to post reply", "thread_id", threadID, "error", err)
	}
}
