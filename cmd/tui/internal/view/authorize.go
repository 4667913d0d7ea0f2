package view

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MrJamesThe3rd/payments/cmd/tui/internal/client"
)

type authorizeState int

const (
	authorizeStateForm authorizeState = iota
	authorizeStateSubmitting
	authorizeStateResult
)

type AuthorizeModel struct {
	api *client.Client

	state   authorizeState
	form    *huh.Form
	spinner spinner.Model

	tx  *client.Transaction
	err error

	// Form bindings live behind a pointer so they survive model copies.
	fields *authorizeFields
}

type authorizeFields struct {
	amount   string
	currency string
	key      string
	metadata string
}

func NewAuthorizeModel(api *client.Client) AuthorizeModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := AuthorizeModel{
		api:     api,
		spinner: s,
		fields:  &authorizeFields{currency: "USD", key: uuid.NewString()},
	}
	m.form = m.newForm()

	return m
}

func (m *AuthorizeModel) newForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("amount").
				Title("Amount").
				Placeholder("50.00").
				Value(&m.fields.amount).
				Validate(validateAmount),

			huh.NewInput().
				Key("currency").
				Title("Currency").
				CharLimit(3).
				Value(&m.fields.currency).
				Validate(func(s string) error {
					if len(strings.TrimSpace(s)) != 3 {
						return errors.New("currency must be a 3-letter code")
					}

					return nil
				}),

			huh.NewInput().
				Key("idempotency_key").
				Title("Idempotency key").
				Description("Reuse a key to retry safely").
				Value(&m.fields.key).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("idempotency key cannot be empty")
					}

					return nil
				}),

			huh.NewInput().
				Key("metadata").
				Title("Metadata").
				Placeholder("order=42, customer=acme").
				Value(&m.fields.metadata).
				Validate(func(s string) error {
					_, err := ParseMetadata(s)
					return err
				}),
		),
	).WithWidth(50).WithShowHelp(false)
}

func validateAmount(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return errors.New("amount must be a decimal number")
	}

	if !d.IsPositive() {
		return errors.New("amount must be greater than zero")
	}

	return nil
}

// ParseMetadata reads comma-separated key=value pairs.
func ParseMetadata(s string) (map[string]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	out := map[string]string{}

	for pair := range strings.SplitSeq(s, ",") {
		k, v, ok := strings.Cut(pair, "=")

		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", strings.TrimSpace(pair))
		}

		out[k] = strings.TrimSpace(v)
	}

	return out, nil
}

func (m AuthorizeModel) Title() string { return "Authorize Payment" }

func (m AuthorizeModel) ShortHelp() string {
	switch m.state {
	case authorizeStateResult:
		return "n: new payment | r: resend same key | Esc: back"
	default:
		return "Navigate form | Esc: back"
	}
}

func (m AuthorizeModel) Init() tea.Cmd {
	return m.form.Init()
}

func (m AuthorizeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case authorizeResultMsg:
		m.state = authorizeStateResult
		m.tx, m.err = msg.tx, msg.err

		return m, nil

	case spinner.TickMsg:
		if m.state != authorizeStateSubmitting {
			return m, nil
		}

		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyEsc {
			return m, Back
		}

		if m.state == authorizeStateResult {
			switch msg.String() {
			case "n":
				m.fields = &authorizeFields{currency: m.fields.currency, key: uuid.NewString()}

				return m.restart()
			case "r":
				return m.submit()
			}

			return m, nil
		}
	}

	if m.state != authorizeStateForm {
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State != huh.StateCompleted {
		return m, cmd
	}

	return m.submit()
}

func (m AuthorizeModel) restart() (tea.Model, tea.Cmd) {
	m.state = authorizeStateForm
	m.tx, m.err = nil, nil
	m.form = m.newForm()

	return m, m.form.Init()
}

func (m AuthorizeModel) submit() (tea.Model, tea.Cmd) {
	metadata, err := ParseMetadata(m.fields.metadata)
	if err != nil {
		m.state = authorizeStateResult
		m.err = err

		return m, nil
	}

	req := client.AuthorizeRequest{
		Amount:         strings.TrimSpace(m.fields.amount),
		Currency:       strings.ToUpper(strings.TrimSpace(m.fields.currency)),
		Metadata:       metadata,
		IdempotencyKey: strings.TrimSpace(m.fields.key),
	}

	m.state = authorizeStateSubmitting

	return m, tea.Batch(m.spinner.Tick, authorizeCmd(m.api, req))
}

func (m AuthorizeModel) View() string {
	switch m.state {
	case authorizeStateSubmitting:
		return lipgloss.NewStyle().Padding(2).Render(m.spinner.View() + " Authorizing...")
	case authorizeStateResult:
		if m.err != nil {
			return lipgloss.NewStyle().Padding(2).Render(fmt.Sprintf("Error: %v", m.err))
		}

		return lipgloss.NewStyle().Padding(1).Render(panel(Details(m.tx)))
	default:
		return lipgloss.NewStyle().Padding(1).Render(m.form.View())
	}
}

type authorizeResultMsg struct {
	tx  *client.Transaction
	err error
}

func authorizeCmd(api *client.Client, req client.AuthorizeRequest) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := API()
		defer cancel()

		tx, err := api.Authorize(ctx, req)

		return authorizeResultMsg{tx: tx, err: err}
	}
}
