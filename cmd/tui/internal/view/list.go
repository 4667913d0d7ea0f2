package view

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/payments/cmd/tui/internal/client"
)

const listLimit = 100

type ListModel struct {
	api *client.Client

	table table.Model
	txs   []client.Transaction

	statusFilterIdx int
	detail          *client.Transaction

	loading bool
	err     error
	status  string
}

func NewListModel(api *client.Client) ListModel {
	columns := []table.Column{
		{Title: "Created", Width: 20},
		{Title: "Status", Width: 12},
		{Title: "Amount", Width: 12},
		{Title: "Cur", Width: 4},
		{Title: "ID", Width: 36},
		{Title: "External ID", Width: 30},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return ListModel{
		api:     api,
		table:   t,
		loading: true,
	}
}

func (m ListModel) Title() string { return "Transactions" }
func (m ListModel) ShortHelp() string {
	return "Esc: back | enter: details | c: capture | f: refund | s: status filter | r: refresh"
}

func (m ListModel) Init() tea.Cmd {
	return m.loadCmd()
}

func (m ListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadListMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}

		m.err = nil
		m.txs = msg.txs
		m.refreshTable()

		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
			return m, nil
		}

		m.status = fmt.Sprintf("%s %s: %s", msg.action, msg.tx.ID, msg.tx.Status)
		m.detail = msg.tx

		return m, m.loadCmd()

	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			if m.detail != nil {
				m.detail = nil
				return m, nil
			}

			return m, Back
		case "r":
			m.loading = true
			return m, m.loadCmd()
		case "s":
			m.statusFilterIdx = (m.statusFilterIdx + 1) % len(statusFilters)
			m.loading = true

			return m, m.loadCmd()
		case "enter":
			if tx := m.selected(); tx != nil {
				m.detail = tx
			}

			return m, nil
		case "c":
			if tx := m.selected(); tx != nil {
				return m, captureCmd(m.api, tx.ID)
			}

			return m, nil
		case "f":
			if tx := m.selected(); tx != nil {
				return m, refundCmd(m.api, tx.ID)
			}

			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m ListModel) selected() *client.Transaction {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.txs) {
		return nil
	}

	tx := m.txs[idx]

	return &tx
}

func (m ListModel) View() string {
	if m.loading {
		return lipgloss.NewStyle().Padding(2).Render("Loading transactions...")
	}

	if m.err != nil {
		return lipgloss.NewStyle().Padding(2).Render(fmt.Sprintf("Error: %v", m.err))
	}

	filter := statusFilters[m.statusFilterIdx]
	if filter == "" {
		filter = "All"
	}

	header := fmt.Sprintf("Filter: [s] Status: %s | %d shown", activeStyle(filter), len(m.txs))

	tableView := lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Render(m.table.View())

	content := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().PaddingBottom(1).Render(header),
		tableView,
	)

	if m.detail != nil {
		content = lipgloss.JoinHorizontal(lipgloss.Top, content, panel(Details(m.detail)))
	}

	if m.status != "" {
		content = lipgloss.NewStyle().Faint(true).Render(m.status) + "\n" + content
	}

	return lipgloss.NewStyle().Padding(1).Render(content)
}

func (m *ListModel) refreshTable() {
	rows := make([]table.Row, 0, len(m.txs))

	for _, tx := range m.txs {
		external := ""
		if tx.ExternalID != nil {
			external = *tx.ExternalID
		}

		rows = append(rows, table.Row{
			FormatTime(tx.CreatedAt),
			tx.Status,
			tx.Amount,
			tx.Currency,
			tx.ID,
			external,
		})
	}

	m.table.SetRows(rows)
}

// Messages

type loadListMsg struct {
	txs []client.Transaction
	err error
}

func (m ListModel) loadCmd() tea.Cmd {
	status := statusFilters[m.statusFilterIdx]

	return func() tea.Msg {
		ctx, cancel := API()
		defer cancel()

		txs, err := m.api.List(ctx, status, listLimit)

		return loadListMsg{txs: txs, err: err}
	}
}

type actionMsg struct {
	action string
	tx     *client.Transaction
	err    error
}

func captureCmd(api *client.Client, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := API()
		defer cancel()

		tx, err := api.Capture(ctx, id)

		return actionMsg{action: "Capture", tx: tx, err: err}
	}
}

func refundCmd(api *client.Client, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := API()
		defer cancel()

		tx, err := api.Refund(ctx, id)

		return actionMsg{action: "Refund", tx: tx, err: err}
	}
}
