package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dayStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

const (
	formatText     = "text"
	formatMarkdown = "markdown"
)

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func renderTable(tw table.Writer, format string) string {
	if format == formatMarkdown {
		return tw.RenderMarkdown()
	}
	return tw.Render()
}

func heading(format string, level int, text string, style lipgloss.Style) string {
	if format == formatMarkdown {
		return strings.Repeat("#", level) + " " + text
	}
	return style.Render(text)
}

// renderTrip writes a snapshot as a readable itinerary, one section per day.
func renderTrip(w io.Writer, st store.State, format string) error {
	if format != formatText && format != formatMarkdown {
		return fmt.Errorf("unknown format %q (want text or markdown)", format)
	}
	if st.CurrentTrip == nil {
		return fmt.Errorf("no trip loaded")
	}
	trip := st.CurrentTrip
	fmt.Fprintln(w, heading(format, 1, trip.Destination, titleStyle))
	meta := fmt.Sprintf("%s to %s, status %s", trip.StartDate, trip.EndDate, trip.Status)
	if trip.Budget != nil {
		meta += fmt.Sprintf(", budget %.2f", *trip.Budget)
	}
	if format == formatText {
		meta = mutedStyle.Render(meta)
	}
	fmt.Fprintln(w, meta)

	for _, it := range st.Itineraries {
		fmt.Fprintln(w)
		fmt.Fprintln(w, heading(format, 2, fmt.Sprintf("Day %d", it.DayNumber), dayStyle))
		gc := it.GeneratedContent
		if gc.IsPending() {
			fmt.Fprintln(w, "Itinerary is still being generated.")
		} else {
			if gc.Summary != "" {
				fmt.Fprintln(w, gc.Summary)
			}
			if gc.Content != "" && gc.Content != gc.Summary {
				fmt.Fprintln(w, gc.Content)
			}
			if len(gc.Activities) > 0 {
				tw := newTable()
				tw.AppendHeader(table.Row{"Time", "Suggested", "Location", "Description"})
				for _, a := range gc.Activities {
					tw.AppendRow(table.Row{a.Time, a.Name, a.Location, a.Description})
				}
				fmt.Fprintln(w, renderTable(tw, format))
			}
			if len(gc.Recommendations) > 0 {
				for _, r := range gc.Recommendations {
					fmt.Fprintf(w, "- %s\n", r)
				}
			}
		}
		acts := st.ActivitiesFor(it.ID)
		if len(acts) == 0 {
			continue
		}
		fmt.Fprintln(w, renderTable(activityTable(acts), format))
	}
	return nil
}

func activityTable(acts []domain.Activity) table.Writer {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Time", "Activity", "Location", "Duration", "ID"})
	for _, a := range acts {
		tw.AppendRow(table.Row{a.Order, a.Time, a.Name, deref(a.Location), deref(a.Duration), a.ID})
	}
	return tw
}

func dashboardTable(entries []domain.DashboardEntry) table.Writer {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Destination", "Dates", "Status", "Relation"})
	for _, e := range entries {
		relation := e.Relation
		if e.PermissionLevel != "" {
			relation += " (" + e.PermissionLevel + ")"
		}
		tw.AppendRow(table.Row{e.Trip.ID, e.Trip.Destination, e.Trip.StartDate + " to " + e.Trip.EndDate, e.Trip.Status, relation})
	}
	return tw
}

func eventTable(events []domain.Event) table.Writer {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
	for _, e := range events {
		entity := e.EntityKind
		if e.EntityID != "" {
			entity += ":" + e.EntityID
		}
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, entity, e.ActorID})
	}
	return tw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
