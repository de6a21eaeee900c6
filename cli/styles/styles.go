// Package styles provides consistent styling for the scd CLI.
package styles

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette.
var (
	Primary      = lipgloss.Color("#0891B2") // Dark cyan
	PrimaryLight = lipgloss.Color("#22D3EE") // Light cyan
	Success      = lipgloss.Color("#10B981") // Emerald green
	Warning      = lipgloss.Color("#F59E0B") // Amber
	Error        = lipgloss.Color("#EF4444") // Red
	Info         = lipgloss.Color("#3B82F6") // Blue
	Text         = lipgloss.Color("#F9FAFB") // Almost white
	TextMuted    = lipgloss.Color("#9CA3AF") // Gray
	Border       = lipgloss.Color("#374151") // Border gray
)

// Text styles.
var (
	Bold = lipgloss.NewStyle().
		Bold(true)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryLight)

	Normal = lipgloss.NewStyle().
		Foreground(Text)

	Muted = lipgloss.NewStyle().
		Foreground(TextMuted)

	Highlight = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryLight)

	Code = lipgloss.NewStyle().
		Foreground(Warning).
		Padding(0, 1)
)

// Status styles.
var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error)

	InfoStyle = lipgloss.NewStyle().
			Foreground(Info)
)

// Icons.
const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "⚠"
	IconInfo    = "ℹ"
	IconArrow   = "→"
	IconDot     = "•"
)

// Box is a container style with a rounded border.
var Box = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Border).
	Padding(1, 2)

// FormatSuccess formats a success message with icon.
func FormatSuccess(msg string) string {
	return SuccessStyle.Render(IconSuccess) + " " + Normal.Render(msg)
}

// FormatError formats an error message with icon.
func FormatError(msg string) string {
	return ErrorStyle.Render(IconError) + " " + Normal.Render(msg)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(msg string) string {
	return WarningStyle.Render(IconWarning) + " " + Normal.Render(msg)
}

// FormatInfo formats an info message with icon.
func FormatInfo(msg string) string {
	return InfoStyle.Render(IconInfo) + " " + Normal.Render(msg)
}

// FormatKeyValue formats a key-value pair for status output.
func FormatKeyValue(key, value string) string {
	keyStyle := lipgloss.NewStyle().
		Foreground(TextMuted).
		Width(20)
	return keyStyle.Render(key+":") + " " + Highlight.Render(value)
}

// DisableColors disables all colors for terminals that don't support them.
func DisableColors() {
	Primary = lipgloss.Color("")
	PrimaryLight = lipgloss.Color("")
	Success = lipgloss.Color("")
	Warning = lipgloss.Color("")
	Error = lipgloss.Color("")
	Info = lipgloss.Color("")
	Text = lipgloss.Color("")
	TextMuted = lipgloss.Color("")
	Border = lipgloss.Color("")
}
