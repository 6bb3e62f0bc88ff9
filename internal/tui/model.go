// Package tui renders the acquisition dashboard in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"listing_feed/internal/dashboard"
	"listing_feed/internal/domain"
)

// Source is the dashboard state the TUI reads and edits.
type Source interface {
	Store() *dashboard.Store
	ConnState() (dashboard.ConnState, error)
	Refresh(ctx context.Context) (*domain.RefreshStats, error)
	UpdateStatus(ctx context.Context, listingID string, status domain.Status) error
}

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
)

const refreshTimeout = 30 * time.Second

// App is the root Bubble Tea model.
type App struct {
	source  Source
	changes <-chan struct{}

	listings    []domain.Listing
	loadState   dashboard.LoadState
	loadErr     error
	connState   dashboard.ConnState
	connErr     error
	selectedIdx int
	filter      dashboard.Filter

	mode      Mode
	search    textinput.Model
	width     int
	height    int
	statusMsg string
}

// New creates the TUI model. changes is a Store subscription; the caller
// owns its cancellation.
func New(source Source, changes <-chan struct{}) App {
	si := textinput.New()
	si.Placeholder = "location..."
	si.CharLimit = 64

	a := App{
		source:  source,
		changes: changes,
		search:  si,
		mode:    ModeNormal,
	}
	a.sync()
	return a
}

// storeChangedMsg signals that the Store was modified.
type storeChangedMsg struct{}

// tickMsg triggers a connection state poll.
type tickMsg time.Time

type refreshedMsg struct{ stats *domain.RefreshStats }

type errorMsg struct{ err error }

func (a App) Init() tea.Cmd {
	return tea.Batch(
		waitForChange(a.changes),
		tickCmd(),
		tea.SetWindowTitle("Listing feed"),
	)
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func refreshCmd(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		stats, err := source.Refresh(ctx)
		if err != nil {
			return errorMsg{err}
		}
		return refreshedMsg{stats}
	}
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case storeChangedMsg:
		a.sync()
		return a, waitForChange(a.changes)

	case tickMsg:
		a.connState, a.connErr = a.source.ConnState()
		return a, tickCmd()

	case refreshedMsg:
		a.statusMsg = fmt.Sprintf("refreshed: %d added, %d updated", msg.stats.Added, msg.stats.Replaced)
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			a.filter.Location = strings.TrimSpace(a.search.Value())
			a.clampSelection()
			return a, cmd
		}
		a.filter.Location = strings.TrimSpace(a.search.Value())
		a.clampSelection()
		return a, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "j", "down":
		if n := len(a.visible()); a.selectedIdx < n-1 {
			a.selectedIdx++
		}
	case "k", "up":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "f":
		a.filter.Status = nextFilter(a.filter.Status)
		a.clampSelection()

	case "r":
		a.statusMsg = "refreshing..."
		return a, refreshCmd(a.source)

	case "s":
		l, ok := a.selected()
		if !ok {
			return a, nil
		}
		next := l.Status.Next()
		// the store applies the change before returning; persistence
		// continues in the background
		if err := a.source.UpdateStatus(context.Background(), l.ID, next); err != nil {
			a.statusMsg = "error: " + err.Error()
			return a, nil
		}
		a.statusMsg = l.ID + " → " + string(next)
		a.sync()
	}

	return a, nil
}

// sync copies the Store into the model.
func (a *App) sync() {
	store := a.source.Store()
	a.listings = store.List()
	a.loadState, a.loadErr = store.State()
	a.clampSelection()
}

func (a *App) clampSelection() {
	n := len(a.visible())
	if a.selectedIdx >= n {
		a.selectedIdx = max(0, n-1)
	}
}

func (a App) visible() []domain.Listing {
	return a.filter.Apply(a.listings)
}

func (a App) selected() (domain.Listing, bool) {
	items := a.visible()
	if a.selectedIdx < len(items) {
		return items[a.selectedIdx], true
	}
	return domain.Listing{}, false
}

// nextFilter cycles all -> New -> ... -> Acquired -> all.
func nextFilter(s domain.Status) domain.Status {
	if s == "" {
		return domain.Statuses[0]
	}
	if s == domain.Statuses[len(domain.Statuses)-1] {
		return ""
	}
	return s.Next()
}
