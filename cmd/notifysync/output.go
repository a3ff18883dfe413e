package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"io.eduverse/notifysync/internal/domain"
	"io.eduverse/notifysync/internal/messages"
)

var (
	markerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Width(2)
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Width(24)
	unreadStyle = lipgloss.NewStyle().Bold(true)
	readStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderList prints one notification per entry: a dot for unread ones, the
// push title for its type, the message and how long ago it arrived.
func renderList(w io.Writer, items []domain.Notification, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No notifications."))
		return
	}

	for _, n := range items {
		marker, body := "", readStyle
		if !n.IsRead {
			marker, body = "●", unreadStyle
		}
		fmt.Fprintf(w, "%s%s%s  %s\n",
			markerStyle.Render(marker),
			titleStyle.Render(messages.Title(n.Type)),
			body.Render(n.Message),
			mutedStyle.Render(humanize.RelTime(n.CreatedAt, now, "ago", "from now")),
		)
		fmt.Fprintln(w, mutedStyle.Render("  "+n.ID))
	}
}
