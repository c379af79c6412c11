package service

import (
	"context"
	"fmt"

	"pillar.vc/assistant/internal/agenda"
	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/intent"
	"pillar.vc/assistant/internal/model"
)

func (r *CommandRouter) agendaStart(ctx context.Context, inv model.InvocationContext) (model.Response, error) {
	if err := requireChannel(inv); err != nil {
		return model.Response{}, err
	}
	res, err := r.Agendas.Start(ctx, inv.ChannelID, inv.UserID)
	if err != nil {
		return model.Response{}, err
	}
	if res.Resumed {
		return inChannel(fmt.Sprintf("Resuming the open agenda for this channel.\n\n%s", agenda.Summary(res.Draft))), nil
	}
	date := agenda.MeetingDate(r.cfg.Now())
	return inChannel(fmt.Sprintf("<@%s> started the agenda for Monday %s. Add items with `/pillar agenda add <investment|pipeline|portfolio|other> <text>`.",
		inv.UserID, date.Format("January 2"))), nil
}

func (r *CommandRouter) agendaAdd(ctx context.Context, in intent.AgendaAddItem, inv model.InvocationContext) (model.Response, error) {
	if err := requireChannel(inv); err != nil {
		return model.Response{}, err
	}
	res, err := r.Agendas.AddItem(ctx, inv.ChannelID, inv.UserID, in.Category, in.Text, inv.EventTS)
	if err != nil {
		return model.Response{}, err
	}
	if !res.Added {
		return ephemeral("That item is already on the agenda."), nil
	}
	text := fmt.Sprintf("Added to *%s*: %s (%d items so far)", in.Category.Title(), in.Text, len(res.Draft.Items))
	if res.Started {
		text = "Started a new agenda. " + text
	}
	return inChannel(text), nil
}

func (r *CommandRouter) agendaView(ctx context.Context, inv model.InvocationContext) (model.Response, error) {
	draft, err := r.Agendas.View(ctx, inv.ChannelID)
	if err != nil {
		return model.Response{}, err
	}
	return ephemeral(agenda.Summary(draft)), nil
}

func (r *CommandRouter) agendaFinalize(ctx context.Context, inv model.InvocationContext) (model.Response, error) {
	if err := requireChannel(inv); err != nil {
		return model.Response{}, err
	}
	res, err := r.Agendas.Finalize(ctx, inv.ChannelID, inv.UserID)
	if err != nil {
		return model.Response{}, err
	}
	return inChannel(fmt.Sprintf("The Monday meeting agenda is ready (%d items): <%s|open agenda>",
		len(res.Draft.Items), res.DocumentURL)), nil
}

// requireChannel rejects agenda mutations from direct messages; an agenda
// belongs to a team channel.
func requireChannel(inv model.InvocationContext) error {
	if inv.IsDM {
		return &domain.NotFoundError{What: "a channel agenda here", Note: "run agenda commands in a team channel"}
	}
	return nil
}
