package cli

import "github.com/charmbracelet/lipgloss"

var (
	PromptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("183"))
	AssistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	ErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	HeadingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("222")).Bold(true)
	BulletStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("180"))
	CodeGutterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	HrStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	BlockquoteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	BoldInlineStyle    = lipgloss.NewStyle().Bold(true)
	ItalicInlineStyle  = lipgloss.NewStyle().Italic(true)
	StrikethroughStyle = lipgloss.NewStyle().Strikethrough(true)
	InlineCodeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	LinkTextStyle      = lipgloss.NewStyle()
	LinkURLStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
)
