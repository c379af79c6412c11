package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UsageText is shown for help and in response to malformed commands.
const UsageText = "*Pillar assistant commands*\n" +
	"• `/pillar summarize [7d|24h|2w|today|yesterday|week]` summarize this channel\n" +
	"• `/pillar catchup` summarize what you missed since your last catch-up\n" +
	"• `/pillar actions [@user] [7d]` list action items, optionally for one person\n" +
	"• `/pillar agenda [start|view|finalize]` build the Monday meeting agenda\n" +
	"• `/pillar agenda add <investment|pipeline|portfolio|other> <text>` add an agenda item\n" +
	"• `/pillar portfolio [company]` portfolio company update\n" +
	"• `/pillar lp-letter [Q3 2026]` draft the quarterly LP letter\n" +
	"• `/pillar help` show this message\n" +
	"You can also mention me with a question."

// UserMessage converts an error into text that is safe to show in Slack.
// Internal detail never crosses this boundary.
func UserMessage(err error) string {
	var (
		parseErr    *ParseError
		ambiguous   *AmbiguousResolution
		notFound    *NotFoundError
		rateLimited *RateLimited
		authErr     *AuthRequired
		conflict    *StateConflict
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &parseErr):
		got := parseErr.Got
		if got == "" {
			got = "nothing"
		}
		return fmt.Sprintf("I couldn't understand that: expected %s but got `%s`.\n\n%s", parseErr.Expected, got, UsageText)
	case errors.As(err, &ambiguous):
		return fmt.Sprintf("\"%s\" matches more than one company: %s. Which one did you mean?",
			ambiguous.Query, strings.Join(ambiguous.Candidates, ", "))
	case errors.As(err, &notFound):
		if notFound.Note != "" {
			return fmt.Sprintf("I couldn't find %s (%s).", notFound.What, notFound.Note)
		}
		return fmt.Sprintf("I couldn't find %s.", notFound.What)
	case errors.Is(err, ErrNotFound):
		return "I couldn't find what you were looking for."
	case errors.As(err, &authErr):
		if authErr.ConnectURL != "" {
			return fmt.Sprintf("Please connect your %s account first: <%s|connect account>. Then run the command again.",
				authErr.Service, authErr.ConnectURL)
		}
		return fmt.Sprintf("Please connect your %s account first, then run the command again.", authErr.Service)
	case errors.As(err, &conflict):
		if conflict.DocumentURL != "" {
			return fmt.Sprintf("The agenda was just finalized by someone else: <%s|open agenda>.", conflict.DocumentURL)
		}
		return "Someone else just changed the agenda. Please try again."
	case errors.As(err, &rateLimited), errors.Is(err, ErrUpstreamUnavailable):
		return "The assistant is busy right now. Please try again shortly."
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long to answer. Please try again shortly."
	default:
		return "Sorry, something went wrong while handling that request."
	}
}
