package view

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/payments/cmd/tui/internal/client"
)

type lookupState int

const (
	lookupStateForm lookupState = iota
	lookupStateLoading
	lookupStateShow
)

// LookupModel fetches one transaction by id and lets the operator capture or refund it.
type LookupModel struct {
	api *client.Client

	state  lookupState
	form   *huh.Form
	id     *string
	tx     *client.Transaction
	err    error
	status string
}

func NewLookupModel(api *client.Client) LookupModel {
	m := LookupModel{api: api, id: new(string)}
	m.form = m.newForm()

	return m
}

func (m *LookupModel) newForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("id").
				Title("Transaction ID").
				Value(m.id).
				Validate(func(s string) error {
					if _, err := uuid.Parse(strings.TrimSpace(s)); err != nil {
						return errors.New("not a valid transaction id")
					}

					return nil
				}),
		),
	).WithWidth(50).WithShowHelp(false)
}

func (m LookupModel) Title() string { return "Look Up Transaction" }

func (m LookupModel) ShortHelp() string {
	if m.state == lookupStateShow {
		return "c: capture | f: refund | r: reload | n: new lookup | Esc: back"
	}

	return "Enter: look up | Esc: back"
}

func (m LookupModel) Init() tea.Cmd {
	return m.form.Init()
}

func (m LookupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case lookupMsg:
		m.state = lookupStateShow
		m.tx, m.err = msg.tx, msg.err

		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
			return m, nil
		}

		m.status = fmt.Sprintf("%s succeeded", msg.action)
		m.tx = msg.tx

		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyEsc {
			return m, Back
		}

		if m.state == lookupStateShow {
			id := strings.TrimSpace(*m.id)

			switch msg.String() {
			case "c":
				m.status = ""
				return m, captureCmd(m.api, id)
			case "f":
				m.status = ""
				return m, refundCmd(m.api, id)
			case "r":
				m.state = lookupStateLoading
				return m, m.fetchCmd()
			case "n":
				m.state = lookupStateForm
				m.id, m.status = new(string), ""
				m.tx, m.err = nil, nil
				m.form = m.newForm()

				return m, m.form.Init()
			}

			return m, nil
		}
	}

	if m.state != lookupStateForm {
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State != huh.StateCompleted {
		return m, cmd
	}

	m.state = lookupStateLoading

	return m, m.fetchCmd()
}

func (m LookupModel) View() string {
	switch m.state {
	case lookupStateLoading:
		return lipgloss.NewStyle().Padding(2).Render("Loading...")
	case lookupStateShow:
		var body string
		if m.err != nil {
			body = fmt.Sprintf("Error: %v", m.err)
		} else {
			body = panel(Details(m.tx))
		}

		if m.status != "" {
			body = lipgloss.NewStyle().Faint(true).Render(m.status) + "\n" + body
		}

		return lipgloss.NewStyle().Padding(1).Render(body)
	default:
		return lipgloss.NewStyle().Padding(1).Render(m.form.View())
	}
}

type lookupMsg struct {
	tx  *client.Transaction
	err error
}

func (m LookupModel) fetchCmd() tea.Cmd {
	id := strings.TrimSpace(*m.id)

	return func() tea.Msg {
		ctx, cancel := API()
		defer cancel()

		tx, err := m.api.Get(ctx, id)

		return lookupMsg{tx: tx, err: err}
	}
}
