package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/MrWong99/livetalk/internal/config"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and provider wiring without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			parts, err := buildSession(cfg, reg)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), "configuration ok", parts.summary, cfg.Server.ListenAddr)
			return nil
		},
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

var (
	summaryBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00a6ed")).
			Padding(0, 1)
	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00a6ed"))
	summaryLabel = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("#6e7681"))
)

// printSummary renders rows in a bordered box.
func printSummary(w io.Writer, title string, rows []summaryRow, listenAddr string) {
	lines := []string{summaryTitle.Render(title), ""}
	for _, r := range rows {
		lines = append(lines, summaryLabel.Render(r.label)+r.value)
	}
	if listenAddr != "" && listenAddr != "-" {
		lines = append(lines, summaryLabel.Render("Control")+"http://"+displayAddr(listenAddr))
	}
	fmt.Fprintln(w, summaryBox.Render(strings.Join(lines, "\n")))
}

// displayAddr turns ":8089" into "localhost:8089".
func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
