package router

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateBoundaries(t *testing.T) {
	exact := strings.Repeat("a", 2000)
	require.Equal(t, exact, Truncate(exact, MaxReplyChars))

	over := strings.Repeat("a", 2001)
	got := Truncate(over, MaxReplyChars)
	require.Len(t, got, 2000)
	require.Equal(t, strings.Repeat("a", 1997)+"...", got)
}

func TestSanitizeReply(t *testing.T) {
	require.Equal(t, "→ Bo says hi", SanitizeReply("Bo says hi"))
	require.Equal(t, "→ bonjour", SanitizeReply("bonjour"))
	require.Equal(t, "hello there", SanitizeReply("hello there"))
	require.Equal(t, "", SanitizeReply(""))
}

func TestParseWeatherSend(t *testing.T) {
	ws := parseWeatherSend("send Carrie the weather for tomorrow")
	require.NotNil(t, ws)
	require.Equal(t, "Carrie", ws.Contact)
	require.Equal(t, "tomorrow", ws.Day)

	ws = parseWeatherSend("Send Jon the forecast for friday")
	require.NotNil(t, ws)
	require.Equal(t, "friday", ws.Day)

	require.Nil(t, parseWeatherSend("send Carrie my love"))
	require.Nil(t, parseWeatherSend("what's the weather"))
}

func TestExcuseCatalogSize(t *testing.T) {
	require.GreaterOrEqual(t, len(excuses), 20)
	for _, e := range excuses {
		require.NotEmpty(t, e)
	}
}
