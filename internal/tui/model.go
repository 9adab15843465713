package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"kdsboard/internal/board"
	"kdsboard/internal/kdsapi"
	"kdsboard/internal/render"
)

// ExpiredMessage is printed when the backend rejects the session
const ExpiredMessage = "Session expired, log in again."

// Styling
var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#ff453a")).
			Padding(0, 1)
)

// Controller is the board session driven by the UI
type Controller interface {
	Frame() render.Frame
	Updates() <-chan struct{}
	SwitchView(ctx context.Context, view board.View) error
	MarkReady(ctx context.Context, orderID int64) error
	MarkPaid(ctx context.Context, orderID int64) error
}

// Model defines the application state
type Model struct {
	ctx     context.Context
	ctl     Controller
	expired <-chan struct{}

	spinner spinner.Model
	frame   render.Frame
	cursor  int
	busy    bool
	error   string
	expiry  bool
}

// Custom message types for the tea.Model
type updateMsg struct{}

type expiredMsg struct{}

type doneMsg struct {
	err error
}

// New creates the model. expired is closed when the backend answers 401.
func New(ctx context.Context, ctl Controller, expired <-chan struct{}) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		ctx:     ctx,
		ctl:     ctl,
		expired: expired,
		spinner: s,
		frame:   ctl.Frame(),
	}
}

// Expired reports whether the program ended because the session expired
func (m Model) Expired() bool {
	return m.expiry
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForUpdate(m.ctx, m.ctl.Updates()), waitForExpiry(m.expired))
}

// Update handles UI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "tab":
			next := board.ViewCompleted
			if m.frame.Active == board.ViewCompleted {
				next = board.ViewPending
			}
			m.busy = true
			m.cursor = 0
			return m, switchView(m.ctx, m.ctl, next)
		case "left", "up", "h", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "right", "down", "l", "j":
			if m.cursor < len(m.frame.Selectable())-1 {
				m.cursor++
			}
		case "enter", "r":
			if c, ok := m.selectedCard(); ok && c.Kind == board.ViewPending && !c.Disabled {
				m.busy = true
				return m, markReady(m.ctx, m.ctl, c.ID)
			}
		case "p":
			if c, ok := m.selectedCard(); ok && c.Kind == board.ViewPaymentDue && !c.Disabled {
				m.busy = true
				return m, markPaid(m.ctx, m.ctl, c.ID)
			}
		}
		return m, nil

	case updateMsg:
		m.refresh()
		return m, waitForUpdate(m.ctx, m.ctl.Updates())

	case doneMsg:
		m.busy = false
		m.error = ""
		if errors.Is(msg.err, kdsapi.ErrUnauthorized) {
			return m.expire()
		}
		if msg.err != nil && !errors.Is(msg.err, board.ErrActionInFlight) {
			m.error = msg.err.Error()
		}
		m.refresh()
		return m, nil

	case expiredMsg:
		return m.expire()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if m.expiry {
		return errorStyle.Render(ExpiredMessage) + "\n"
	}

	view := m.frame.Text(m.selectedID())
	if m.error != "" {
		view += "\n" + errorStyle.Render(m.error) + "\n"
	}

	help := "\n'tab' switch view, arrows select, 'enter' mark ready, 'p' mark paid, 'q' quit"
	if m.busy {
		help = "\n" + m.spinner.View() + " working..." + help
	}
	return docStyle.Render(view + helpStyle.Render(help))
}

func (m *Model) refresh() {
	m.frame = m.ctl.Frame()
	if n := len(m.frame.Selectable()); m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) expire() (tea.Model, tea.Cmd) {
	m.expiry = true
	m.busy = false
	return m, tea.Quit
}

func (m Model) selectedID() int64 {
	ids := m.frame.Selectable()
	if m.cursor < 0 || m.cursor >= len(ids) {
		return 0
	}
	return ids[m.cursor]
}

func (m Model) selectedCard() (render.CardView, bool) {
	id := m.selectedID()
	if id == 0 {
		return render.CardView{}, false
	}
	return m.frame.Card(id)
}

func waitForUpdate(ctx context.Context, updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			return updateMsg{}
		}
	}
}

func waitForExpiry(expired <-chan struct{}) tea.Cmd {
	if expired == nil {
		return nil
	}
	return func() tea.Msg {
		<-expired
		return expiredMsg{}
	}
}

func switchView(ctx context.Context, ctl Controller, view board.View) tea.Cmd {
	return func() tea.Msg {
		return doneMsg{err: ctl.SwitchView(ctx, view)}
	}
}

func markReady(ctx context.Context, ctl Controller, id int64) tea.Cmd {
	return func() tea.Msg {
		return doneMsg{err: ctl.MarkReady(ctx, id)}
	}
}

func markPaid(ctx context.Context, ctl Controller, id int64) tea.Cmd {
	return func() tea.Msg {
		return doneMsg{err: ctl.MarkPaid(ctx, id)}
	}
}

// Run starts the terminal program and blocks until it exits
func Run(ctx context.Context, ctl Controller, expired <-chan struct{}) (Model, error) {
	p := tea.NewProgram(New(ctx, ctl, expired), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return Model{}, errors.Wrap(err, "run board ui")
	}
	return final.(Model), nil
}
