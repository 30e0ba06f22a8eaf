package router

import (
	"regexp"
	"strings"
)

// sendPattern matches the very common "send <Name> <something>" shape.
var sendPattern = regexp.MustCompile(`(?i)^send\s+([A-Za-z]+)\s+(.+)$`)

var weekdays = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// weatherSend is a parsed "send <contact> the weather" request.
type weatherSend struct {
	Contact string
	Day     string
}

// parseWeatherSend detects the deterministic weather-forward shape so
// it can bypass the model entirely. Returns nil when the message is
// anything else.
func parseWeatherSend(message string) *weatherSend {
	m := sendPattern.FindStringSubmatch(strings.TrimSpace(message))
	if m == nil {
		return nil
	}
	rest := strings.ToLower(m[2])
	if !strings.Contains(rest, "weather") && !strings.Contains(rest, "forecast") {
		return nil
	}
	return &weatherSend{Contact: m[1], Day: dayToken(rest)}
}

// dayToken pulls today/tomorrow/a weekday out of the request tail.
func dayToken(rest string) string {
	if strings.Contains(rest, "tomorrow") {
		return "tomorrow"
	}
	for _, day := range weekdays {
		if strings.Contains(rest, day) {
			return day
		}
	}
	return "today"
}
