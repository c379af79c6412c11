package agenda

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"pillar.vc/assistant/internal/model"
)

const titlePrefix = "Pillar VC - Monday Meeting Agenda - "

// Title is the document title for the meeting on date.
func Title(date time.Time) string {
	return titlePrefix + date.Format("2006-01-02")
}

// MeetingDate is the Monday the agenda is for: today on a Monday, otherwise
// the next Monday.
func MeetingDate(now time.Time) time.Time {
	days := (int(time.Monday) - int(now.Weekday()) + 7) % 7
	d := now.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

// Group returns the draft's items per category, in category order and then
// insertion order. Empty categories are omitted.
func Group(items []model.AgendaItem) [][]model.AgendaItem {
	sorted := make([]model.AgendaItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Category.Rank(), sorted[j].Category.Rank()
		if ri != rj {
			return ri < rj
		}
		return sorted[i].InsertionOrder < sorted[j].InsertionOrder
	})

	var groups [][]model.AgendaItem
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j].Category == sorted[i].Category {
			j++
		}
		groups = append(groups, sorted[i:j])
		i = j
	}
	return groups
}

// Names resolves a Slack user id to a display name. It returns the id when the
// name is unknown.
type Names func(ctx context.Context, userID string) string

// Render builds the agenda document for the meeting on date.
func Render(ctx context.Context, d *model.AgendaDraft, date time.Time, names Names) model.Document {
	if names == nil {
		names = func(_ context.Context, id string) string { return id }
	}
	doc := model.Document{
		Title:    Title(date),
		Preamble: fmt.Sprintf("Monday Meeting Agenda\n%s", date.Format("Monday, January 2, 2006")),
	}
	for _, group := range Group(d.Items) {
		section := model.DocumentSection{Heading: group[0].Category.Title()}
		for _, it := range group {
			section.Lines = append(section.Lines, fmt.Sprintf("%s (added by %s)", it.Text, names(ctx, it.SubmittedBy)))
		}
		doc.Sections = append(doc.Sections, section)
	}
	return doc
}

// Summary formats a draft for Slack.
func Summary(d *model.AgendaDraft) string {
	if len(d.Items) == 0 {
		return "The agenda is empty. Add items with `/pillar agenda add <category> <text>`."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Agenda draft* (%d items)\n", len(d.Items))
	for _, group := range Group(d.Items) {
		fmt.Fprintf(&b, "\n*%s*\n", group[0].Category.Title())
		for _, it := range group {
			fmt.Fprintf(&b, "• %s (<@%s>)\n", it.Text, it.SubmittedBy)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
