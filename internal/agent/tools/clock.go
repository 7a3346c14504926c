package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// CurrentTimeName is the tool name of [CurrentTime].
const CurrentTimeName = "current_time"

type currentTimeArgs struct {
	// Timezone is an IANA zone name (e.g. "Europe/Berlin"). Empty means UTC.
	Timezone string `json:"timezone"`
}

type currentTimeResult struct {
	Timezone string `json:"timezone"`
	Time     string `json:"time"`
	Weekday  string `json:"weekday"`
	Spoken   string `json:"spoken"`
}

// CurrentTime returns the "current_time" tool. now supplies the clock; nil
// uses [time.Now].
func CurrentTime(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return Tool{
		Definition: llm.ToolDefinition{
			Name:        CurrentTimeName,
			Description: "Returns the current date and time, optionally in a given IANA time zone.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA time zone name such as Europe/Berlin. Defaults to UTC.",
					},
				},
			},
		},
		Handler: func(_ context.Context, args string) (string, error) {
			var a currentTimeArgs
			if err := decodeArgs(CurrentTimeName, args, &a); err != nil {
				return "", err
			}
			loc := time.UTC
			if a.Timezone != "" {
				l, err := time.LoadLocation(a.Timezone)
				if err != nil {
					return "", fmt.Errorf("%s: unknown time zone %q", CurrentTimeName, a.Timezone)
				}
				loc = l
			}
			t := now().In(loc)
			return encodeResult(CurrentTimeName, currentTimeResult{
				Timezone: loc.String(),
				Time:     t.Format(time.RFC3339),
				Weekday:  t.Weekday().String(),
				Spoken:   t.Format("3:04 PM on Monday, January 2"),
			})
		},
	}
}
