// Package ui provides terminal styling for command output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderAccent highlights identifiers like table names and PIDs.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass marks healthy status output.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn marks degraded but running status output.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail marks errors and stopped components.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderDim de-emphasizes secondary details.
func RenderDim(s string) string { return dimStyle.Render(s) }
