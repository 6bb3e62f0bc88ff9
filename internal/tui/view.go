package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"listing_feed/internal/dashboard"
	"listing_feed/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)

	connLive    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	connPending = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	connDown    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var columns = []string{"ID", "Location", "Price", "Beds", "m²", "Days", "Score", "Status"}

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	header := a.renderHeader()
	statusBar := a.renderStatusBar()
	body := a.renderTable(a.height - lipgloss.Height(header) - lipgloss.Height(statusBar))

	return lipgloss.JoinVertical(lipgloss.Left, header, body, statusBar)
}

func (a App) renderHeader() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Fresh listings"))
	fmt.Fprintf(&b, "  %d shown · %d new today", len(a.visible()), dashboard.NewTodayCount(a.listings))
	if a.filter.Status != "" {
		b.WriteString(dimStyle.Render("  status=" + string(a.filter.Status)))
	}
	if a.filter.Location != "" {
		b.WriteString(dimStyle.Render("  location=" + a.filter.Location))
	}
	if a.mode == ModeSearch {
		b.WriteString("\n" + a.search.View())
	}
	return b.String()
}

func (a App) renderTable(h int) string {
	items := a.visible()
	if len(items) == 0 {
		switch a.loadState {
		case dashboard.StateLoading, dashboard.StateIdle:
			return dimStyle.Render("loading listings...")
		default:
			return dimStyle.Render("no listings")
		}
	}

	// header and borders take four lines
	maxVisible := max(h-4, 1)
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}
	end := min(start+maxVisible, len(items))

	rows := make([][]string, 0, end-start)
	for _, l := range items[start:end] {
		rows = append(rows, row(l))
	}

	selected := a.selectedIdx - start
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Width(a.width).
		Headers(columns...).
		Rows(rows...).
		StyleFunc(func(r, c int) lipgloss.Style {
			switch {
			case r == table.HeaderRow:
				return headerStyle.Inherit(cellStyle)
			case r == selected:
				return selectedStyle.Inherit(cellStyle)
			}
			return cellStyle
		})
	return t.Render()
}

func row(l domain.Listing) []string {
	score := "-"
	if l.AIScore != nil {
		score = strconv.FormatFloat(*l.AIScore, 'f', 1, 64)
	}
	return []string{
		truncate(l.ID, 18),
		truncate(l.Location, 24),
		formatPrice(l.Price),
		strconv.Itoa(l.Beds),
		strconv.FormatFloat(l.SurfaceM2, 'f', 0, 64),
		strconv.Itoa(l.DaysOnMarket),
		score,
		string(l.Status),
	}
}

func (a App) renderStatusBar() string {
	conn := connStyle(a.connState).Render("● " + a.connState.String())
	load := a.loadState.String()
	if a.loadState == dashboard.StateFailed && a.loadErr != nil {
		load = connDown.Render(load)
	}

	left := conn + "  " + load
	if a.statusMsg != "" {
		left += "  " + a.statusMsg
	}
	help := helpStyle.Render("↑/↓ move · s status · f filter · / search · r refresh · q quit")
	return left + "\n" + help
}

func connStyle(s dashboard.ConnState) lipgloss.Style {
	switch s {
	case dashboard.ConnOpen:
		return connLive
	case dashboard.ConnConnecting, dashboard.ConnBackingOff:
		return connPending
	}
	return connDown
}

func formatPrice(p float64) string {
	if p == 0 {
		return "-"
	}
	s := strconv.FormatFloat(p, 'f', 0, 64)
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(c)
	}
	return b.String() + " €"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
