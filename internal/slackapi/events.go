package slackapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"pillar.vc/assistant/internal/model"
)

// FromSlashCommand converts a slash command. Slash commands carry no event
// timestamp, so the ingest time stands in for one; trigger ids are unique per
// invocation and serve as the event id.
func FromSlashCommand(cmd slack.SlashCommand, now time.Time) model.InboundEvent {
	id := cmd.TriggerID
	if id == "" {
		id = fmt.Sprintf("%s:%s:%d", cmd.ChannelID, cmd.UserID, now.UnixNano())
	}
	return model.InboundEvent{
		ID:   "cmd:" + id,
		Kind: model.EventKindCommand,
		Text: cmd.Text,
		Invocation: model.InvocationContext{
			ChannelID:   cmd.ChannelID,
			ChannelName: cmd.ChannelName,
			UserID:      cmd.UserID,
			IsDM:        isDM(cmd.ChannelID) || cmd.ChannelName == "directmessage",
			EventTS:     model.FormatOrdinal(model.OrdinalFromTime(now)),
			ResponseURL: cmd.ResponseURL,
		},
	}
}

// FromEventsAPI converts an Events API callback. It reports false for events
// the assistant ignores. botUserID filters out the bot's own messages.
func FromEventsAPI(ev slackevents.EventsAPIEvent, botUserID string) (model.InboundEvent, bool) {
	if ev.Type != slackevents.CallbackEvent {
		return model.InboundEvent{}, false
	}
	var eventID string
	if cb, ok := ev.Data.(*slackevents.EventsAPICallbackEvent); ok {
		eventID = cb.EventID
	}

	switch inner := ev.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if inner.BotID != "" || inner.User == "" || inner.User == botUserID {
			return model.InboundEvent{}, false
		}
		return model.InboundEvent{
			ID:   firstNonEmpty(eventID, "msg:"+inner.Channel+":"+inner.TimeStamp),
			Kind: model.EventKindMention,
			Text: inner.Text,
			Invocation: model.InvocationContext{
				ChannelID: inner.Channel,
				UserID:    inner.User,
				ThreadTS:  firstNonEmpty(inner.ThreadTimeStamp, inner.TimeStamp),
				EventTS:   inner.TimeStamp,
			},
		}, true

	case *slackevents.MessageEvent:
		// Direct messages behave like mentions. Channel messages arrive as app_mention.
		if inner.ChannelType != "im" || inner.SubType != "" || inner.BotID != "" || inner.User == "" || inner.User == botUserID {
			return model.InboundEvent{}, false
		}
		if strings.TrimSpace(inner.Text) == "" {
			return model.InboundEvent{}, false
		}
		return model.InboundEvent{
			ID:   firstNonEmpty(eventID, "msg:"+inner.Channel+":"+inner.TimeStamp),
			Kind: model.EventKindMention,
			Text: inner.Text,
			Invocation: model.InvocationContext{
				ChannelID: inner.Channel,
				UserID:    inner.User,
				ThreadTS:  inner.ThreadTimeStamp,
				IsDM:      true,
				EventTS:   inner.TimeStamp,
			},
		}, true

	case *slackevents.MemberJoinedChannelEvent:
		if inner.User == botUserID {
			return model.InboundEvent{}, false
		}
		return model.InboundEvent{
			ID:   firstNonEmpty(eventID, "join:"+inner.Channel+":"+inner.User),
			Kind: model.EventKindMemberJoined,
			Invocation: model.InvocationContext{
				ChannelID: inner.Channel,
				UserID:    inner.User,
			},
		}, true
	}
	return model.InboundEvent{}, false
}

func isDM(channelID string) bool {
	return strings.HasPrefix(channelID, "D")
}
