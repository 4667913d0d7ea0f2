package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/MrJamesThe3rd/payments/cmd/tui/internal/client"
	"github.com/MrJamesThe3rd/payments/cmd/tui/internal/view"
	"github.com/MrJamesThe3rd/payments/internal/http/auth"
)

type consoleConfig struct {
	APIURL     string        `envconfig:"PAYMENTS_API_URL" default:"http://localhost:8080"`
	JWTSecret  string        `envconfig:"JWT_SECRET"`
	JWTIssuer  string        `envconfig:"JWT_ISSUER" default:"payments"`
	Operator   string        `envconfig:"CONSOLE_OPERATOR" default:"console"`
	TokenTTL   time.Duration `envconfig:"CONSOLE_TOKEN_TTL" default:"8h"`
	APITimeout time.Duration `envconfig:"CONSOLE_API_TIMEOUT" default:"45s"`
}

type model struct {
	api *client.Client

	currentView View

	authorizeView view.AuthorizeModel
	lookupView    view.LookupModel
	listView      view.ListModel
}

type View int

const (
	ViewMenu      View = 0
	ViewAuthorize View = 1
	ViewLookup    View = 2
	ViewList      View = 3
)

func newClient() (*client.Client, error) {
	_ = godotenv.Load()

	var cfg consoleConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	var token string

	if cfg.JWTSecret != "" {
		var err error

		token, err = auth.IssueToken(cfg.JWTSecret, cfg.JWTIssuer, cfg.Operator, cfg.TokenTTL)
		if err != nil {
			return nil, err
		}
	}

	return client.New(cfg.APIURL, token, cfg.APITimeout), nil
}

func initialModel(api *client.Client) model {
	return model{
		api:         api,
		currentView: ViewMenu,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if m.currentView == ViewMenu {
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "1":
				m.currentView = ViewAuthorize
				m.authorizeView = view.NewAuthorizeModel(m.api)

				return m, m.authorizeView.Init()
			case "2":
				m.currentView = ViewLookup
				m.lookupView = view.NewLookupModel(m.api)

				return m, m.lookupView.Init()
			case "3":
				m.currentView = ViewList
				m.listView = view.NewListModel(m.api)

				return m, m.listView.Init()
			}
		}
	case view.BackMsg:
		m.currentView = ViewMenu
		return m, nil
	}

	switch m.currentView {
	case ViewAuthorize:
		var newModel tea.Model
		newModel, cmd = m.authorizeView.Update(msg)
		m.authorizeView = newModel.(view.AuthorizeModel)
	case ViewLookup:
		var newModel tea.Model
		newModel, cmd = m.lookupView.Update(msg)
		m.lookupView = newModel.(view.LookupModel)
	case ViewList:
		var newModel tea.Model
		newModel, cmd = m.listView.Update(msg)
		m.listView = newModel.(view.ListModel)
	}

	return m, cmd
}

func (m model) View() string {
	var current view.View

	switch m.currentView {
	case ViewMenu:
		return lipgloss.NewStyle().Padding(2).Render(
			"Payments Console\n\n" +
				"1. Authorize Payment\n" +
				"2. Look Up Transaction\n" +
				"3. List Transactions\n\n" +
				"q. Quit",
		)
	case ViewAuthorize:
		current = m.authorizeView
	case ViewLookup:
		current = m.lookupView
	case ViewList:
		current = m.listView
	default:
		return "Unknown View"
	}

	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render(current.Title())
	help := lipgloss.NewStyle().Faint(true).Render(current.ShortHelp())

	return lipgloss.JoinVertical(lipgloss.Left, title, current.View(), help)
}

func main() {
	api, err := newClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	p := tea.NewProgram(initialModel(api), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to run TUI:", err)
		os.Exit(1)
	}
}
