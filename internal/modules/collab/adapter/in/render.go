package in

import (
	"fmt"
	"strings"

	"livedoc/internal/modules/collab/dto"
	"livedoc/internal/ui/theme"
)

func RenderRoster(roster []dto.ParticipantOutput) string {
	if len(roster) == 0 {
		return theme.Muted.Render("no participants")
	}
	lines := make([]string, 0, len(roster)+1)
	lines = append(lines, theme.Title.Render(fmt.Sprintf("participants (%d)", len(roster))))
	for _, p := range roster {
		line := "● " + theme.Participant(p.Color).Render(p.Name)
		if p.Name != p.ID {
			line += theme.Muted.Render(" (" + p.ID + ")")
		}
		if p.Cursor != nil {
			line += theme.Muted.Render(fmt.Sprintf("  @%d:%d", p.Cursor.Line, p.Cursor.Column))
		}
		if len(p.Selection) == 2 {
			s, e := p.Selection[0], p.Selection[1]
			line += theme.Muted.Render(fmt.Sprintf("  [%d:%d-%d:%d]", s.Line, s.Column, e.Line, e.Column))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func RenderDocument(doc dto.DocumentOutput) string {
	header := theme.Title.Render(doc.ID) + theme.Muted.Render(fmt.Sprintf("  v%d", doc.Version))
	body := make([]string, 0)
	for i, line := range strings.Split(doc.Content, "\n") {
		body = append(body, theme.Muted.Render(fmt.Sprintf("%3d ", i))+line)
	}
	return header + "\n" + theme.Pane.Render(strings.Join(body, "\n"))
}

func RenderOperation(op dto.OperationOutput) string {
	return theme.Good.Render(op.Type) + theme.Muted.Render(fmt.Sprintf(" %d:%d base v%d id %s", op.Line, op.Column, op.Version, op.ID))
}

func RenderStatus(status dto.StatusOutput) string {
	state := theme.Hot.Render(status.Connection)
	if status.Connection == "connected" {
		state = theme.Good.Render(status.Connection)
	}
	out := fmt.Sprintf("connection: %s  queued: %d", state, status.Queued)
	if status.Session != nil {
		out += fmt.Sprintf("\nsession: %s on %s as %s", status.Session.SessionID, status.Session.DocumentID, status.Session.UserID)
	}
	return out
}

func RenderJournal(entries []dto.JournalEntryOutput) string {
	if len(entries) == 0 {
		return theme.Muted.Render("journal is empty")
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			theme.Muted.Render(e.At.Format("15:04:05.000")),
			theme.Title.Render(e.Kind),
			e.DocumentID,
			e.Payload))
	}
	return strings.Join(lines, "\n")
}

func renderError(err error) string {
	return theme.Bad.Render("error: ") + err.Error()
}
