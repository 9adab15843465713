package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"kdsboard/internal/board"
)

// Styling
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#30d158")).
			Padding(0, 1)

	offlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#ff453a")).
			Padding(0, 1)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#0a84ff")).
			Padding(0, 1)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Width(34)

	selectedCardStyle = cardStyle.Copy().
				BorderForeground(lipgloss.Color("205"))

	enteringCardStyle = cardStyle.Copy().
				BorderForeground(lipgloss.Color("#30d158"))

	paymentCardStyle = cardStyle.Copy().
				BorderForeground(lipgloss.Color("#ff9f0a"))

	buttonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	disabledButtonStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("236")).
				Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// ConnectionLabel returns the indicator text for the feed state
func ConnectionLabel(connected bool) string {
	if connected {
		return "Connected"
	}
	return "Disconnected"
}

// Text draws the frame for a terminal. selected highlights one card, 0 for none.
func (f Frame) Text(selected int64) string {
	var b strings.Builder

	indicator := offlineStyle.Render(ConnectionLabel(f.Connected))
	if f.Connected {
		indicator = onlineStyle.Render(ConnectionLabel(f.Connected))
	}
	b.WriteString(titleStyle.Render(viewTitle(f.Active)) + " " + indicator + "\n\n")

	if f.Notice != "" {
		b.WriteString(noticeStyle.Render(f.Notice) + "\n\n")
	}

	if len(f.PaymentDue) > 0 {
		b.WriteString(row(f.PaymentDue, selected) + "\n")
	}

	if f.Placeholder != "" {
		b.WriteString(mutedStyle.Render(f.Placeholder) + "\n")
	} else {
		b.WriteString(row(f.Cards, selected) + "\n")
	}

	if len(f.Waiting) > 0 {
		b.WriteString("\n" + titleStyle.Render("Orders waiting") + "\n")
		for _, line := range f.Waiting {
			b.WriteString("• " + line + "\n")
		}
	}
	return b.String()
}

// Selectable returns the IDs of cards that can be targeted, in display order
func (f Frame) Selectable() []int64 {
	ids := make([]int64, 0, len(f.PaymentDue)+len(f.Cards))
	for _, c := range f.PaymentDue {
		ids = append(ids, c.ID)
	}
	for _, c := range f.Cards {
		ids = append(ids, c.ID)
	}
	return ids
}

// Card finds a rendered card by order ID
func (f Frame) Card(id int64) (CardView, bool) {
	for _, lane := range [][]CardView{f.PaymentDue, f.Cards} {
		for _, c := range lane {
			if c.ID == id {
				return c, true
			}
		}
	}
	return CardView{}, false
}

func row(cards []CardView, selected int64) string {
	blocks := make([]string, 0, len(cards))
	for _, c := range cards {
		blocks = append(blocks, c.Text(c.ID == selected))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, blocks...)
}

// Text draws a single card
func (c CardView) Text(selected bool) string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("#%d  %s", c.ID, c.Title)))
	b.WriteString("  " + mutedStyle.Render(c.Elapsed) + "\n")
	for _, line := range c.Items {
		b.WriteString(line + "\n")
	}
	if c.Amount != "" {
		b.WriteString("Amount: " + c.Amount + "\n")
	}
	if c.Footer != "" {
		b.WriteString(mutedStyle.Render(c.Footer) + "\n")
	}
	if c.Button != "" {
		if c.Disabled {
			b.WriteString(disabledButtonStyle.Render(c.Button))
		} else {
			b.WriteString(buttonStyle.Render(c.Button))
		}
	}

	style := cardStyle
	switch {
	case selected:
		style = selectedCardStyle
	case c.Entering:
		style = enteringCardStyle
	case c.Kind == board.ViewPaymentDue:
		style = paymentCardStyle
	}
	return style.Render(strings.TrimRight(b.String(), "\n"))
}

func viewTitle(v board.View) string {
	switch v {
	case board.ViewCompleted:
		return "Completed orders"
	case board.ViewPaymentDue:
		return "Payments due"
	default:
		return "Pending orders"
	}
}
