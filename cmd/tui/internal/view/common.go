package view

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/payments/cmd/tui/internal/client"
)

const apiTimeout = 10 * time.Second

// Statuses the list view cycles through; empty means all.
var statusFilters = []string{"", "PENDING", "AUTHORIZED", "CAPTURED", "REFUNDED", "DECLINED", "FAILED"}

// API returns a context with a standard timeout for API calls.
func API() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), apiTimeout)
}

// FormatTime formats a timestamp in local time to the second.
func FormatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func statusStyle(status string) lipgloss.Style {
	color := "245"

	switch status {
	case "AUTHORIZED":
		color = "39"
	case "CAPTURED":
		color = "42"
	case "REFUNDED":
		color = "141"
	case "DECLINED", "FAILED":
		color = "196"
	}

	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
}

func activeStyle(s string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Render(s)
}

func panel(content string) string {
	return lipgloss.NewStyle().
		Padding(1, 2).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Render(content)
}

// Details renders every field of a transaction.
func Details(tx *client.Transaction) string {
	external := "-"
	if tx.ExternalID != nil {
		external = *tx.ExternalID
	}

	out := fmt.Sprintf(
		"ID:          %s\nStatus:      %s\nAmount:      %s %s\nExternal ID: %s\nIdem key:    %s\nCreated:     %s\nUpdated:     %s",
		tx.ID,
		statusStyle(tx.Status).Render(tx.Status),
		tx.Amount, tx.Currency,
		external,
		tx.IdempotencyKey,
		FormatTime(tx.CreatedAt),
		FormatTime(tx.UpdatedAt),
	)

	for _, k := range slices.Sorted(maps.Keys(tx.Metadata)) {
		out += fmt.Sprintf("\n  %s = %s", k, tx.Metadata[k])
	}

	return out
}
