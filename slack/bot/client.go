package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"github.com/snormore/slackmd"
)

var mentionRe = regexp.MustCompile(`<@[A-Z0-9]+>`)

// Client wraps the Slack API and Socket Mode clients.
type Client struct {
	api       *slack.Client
	socket    *socketmode.Client
	log       *slog.Logger
	botUserID string
}

// NewClient creates the Slack clients and resolves the bot's own user ID so
// mentions and self-messages can be recognized.
func NewClient(botToken, appToken string, log *slog.Logger) (*Client, error) {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))

	auth, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack auth test failed: %w", err)
	}

	return &Client{
		api:       api,
		socket:    socketmode.New(api),
		log:       log,
		botUserID: auth.UserID,
	}, nil
}

func (c *Client) Socket() *socketmode.Client { return c.socket }

func (c *Client) BotUserID() string { return c.botUserID }

// IsBotMentioned reports whether the text mentions this bot.
func (c *Client) IsBotMentioned(text string) bool {
	return strings.Contains(text, "<@"+c.botUserID+">")
}

// StripMentions removes user mention tags so the agent sees only the question.
func StripMentions(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}

// PostReply posts a markdown reply into the thread, converting it to Slack
// mrkdwn first.
func (c *Client) PostReply(ctx context.Context, channel, threadTS, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(slackmd.Convert(text), false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		RepliesPostedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to post message: %w", err)
	}
	RepliesPostedTotal.WithLabelValues("success").Inc()
	return nil
}
