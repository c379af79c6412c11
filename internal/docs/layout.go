package docs

import (
	"strings"
	"unicode/utf16"

	gdocs "google.golang.org/api/docs/v1"

	"pillar.vc/assistant/internal/model"
)

// layout turns a document into Docs API requests: one text insert followed by
// heading and bullet styling. Docs indexes text in UTF-16 code units and the
// body starts at index 1.
func layout(doc model.Document) []*gdocs.Request {
	var (
		b      strings.Builder
		styles []*gdocs.Request
		cursor int64 = 1
		write        = func(s string) (start, end int64) {
			start = cursor
			b.WriteString(s)
			cursor += int64(len(utf16.Encode([]rune(s))))
			return start, cursor
		}
	)

	if p := strings.TrimSpace(doc.Preamble); p != "" {
		write(p + "\n\n")
	}

	for _, sec := range doc.Sections {
		start, end := write(sec.Heading + "\n")
		styles = append(styles, paragraphStyle(start, end, "HEADING_2"))

		if len(sec.Lines) > 0 {
			var bStart, bEnd int64
			for i, line := range sec.Lines {
				s, e := write(line + "\n")
				if i == 0 {
					bStart = s
				}
				bEnd = e
			}
			styles = append(styles, &gdocs.Request{CreateParagraphBullets: &gdocs.CreateParagraphBulletsRequest{
				Range:        &gdocs.Range{StartIndex: bStart, EndIndex: bEnd},
				BulletPreset: "BULLET_DISC_CIRCLE_SQUARE",
			}})
		}
		if body := strings.TrimSpace(sec.Body); body != "" {
			write(body + "\n")
		}
		write("\n")
	}

	if b.Len() == 0 {
		return nil
	}
	reqs := []*gdocs.Request{{InsertText: &gdocs.InsertTextRequest{
		Location: &gdocs.Location{Index: 1},
		Text:     b.String(),
	}}}
	return append(reqs, styles...)
}

func paragraphStyle(start, end int64, named string) *gdocs.Request {
	return &gdocs.Request{UpdateParagraphStyle: &gdocs.UpdateParagraphStyleRequest{
		Range:          &gdocs.Range{StartIndex: start, EndIndex: end},
		ParagraphStyle: &gdocs.ParagraphStyle{NamedStyleType: named},
		Fields:         "namedStyleType",
	}}
}
