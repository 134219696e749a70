package bot

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripMentions(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<@U0123ABCD> 지역별 주문 수 알려줘", "지역별 주문 수 알려줘"},
		{"지역별 주문 수 알려줘", "지역별 주문 수 알려줘"},
		{"<@U0123ABCD> <@U0456EFGH> 승인", "승인"},
		{"  <@U0123ABCD>  ", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StripMentions(tt.in))
	}
}

func TestClientIsBotMentioned(t *testing.T) {
	c := &Client{botUserID: "U0123ABCD"}
	require.True(t, c.IsBotMentioned("<@U0123ABCD> 안녕"))
	require.False(t, c.IsBotMentioned("<@U0456EFGH> 안녕"))
	require.False(t, c.IsBotMentioned("안녕"))
}

func TestProcessorMarkResponded(t *testing.T) {
	p := NewProcessor(nil, nil, slog.Default())
	require.True(t, p.MarkResponded("C01:1712.0001"))
	require.False(t, p.MarkResponded("C01:1712.0001"), "duplicate must be rejected")
	require.True(t, p.MarkResponded("C01:1712.0002"))
}

func TestProcessorThreadActivity(t *testing.T) {
	p := NewProcessor(nil, nil, slog.Default())
	require.False(t, p.IsThreadActive("C01", "1712.0001"))
	p.markThreadActive("C01", "1712.0001")
	require.True(t, p.IsThreadActive("C01", "1712.0001"))
	require.False(t, p.IsThreadActive("C02", "1712.0001"), "activity is per channel")
}

func TestIsTeamAllowed(t *testing.T) {
	t.Setenv("SLACK_ALLOWED_TEAM_IDS", "")
	require.True(t, isTeamAllowed("T0AAA"), "no allowlist means all teams")

	t.Setenv("SLACK_ALLOWED_TEAM_IDS", "T0AAA, T0BBB")
	require.True(t, isTeamAllowed("T0AAA"))
	require.True(t, isTeamAllowed("T0BBB"))
	require.False(t, isTeamAllowed("T0CCC"))
}
