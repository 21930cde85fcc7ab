package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"deepresearcher/internal/research"
)

var (
	flagMaxLoops int
	flagPlain    bool

	stepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

var researchCmd = &cobra.Command{
	Use:   "research <topic>",
	Short: "Run a research session on a topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := strings.Join(args, " ")
		if flagMaxLoops != 0 {
			cfg.Research.MaxLoops = flagMaxLoops
		}

		controller, store, err := buildController(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		controller.SetProgress(func(state research.State, loop int, detail string) {
			line := fmt.Sprintf("[%d/%d] %s", loop, cfg.Research.MaxLoops, state)
			if detail != "" {
				line += " " + detailStyle.Render(detail)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), stepStyle.Render(line))
		})

		session, err := controller.Run(cmd.Context(), topic)
		if err != nil {
			return err
		}
		if session.Degraded {
			fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render(
				"research ended early: "+session.DegradedReason))
		}
		return printReport(cmd, session.FinalReport)
	},
}

func init() {
	researchCmd.Flags().IntVar(&flagMaxLoops, "max-loops", 0, "override the research loop budget (1-10)")
	researchCmd.Flags().BoolVar(&flagPlain, "plain", false, "print raw markdown without terminal rendering")
}

func printReport(cmd *cobra.Command, report string) error {
	if flagPlain {
		fmt.Fprintln(cmd.OutOrStdout(), report)
		return nil
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), report)
		return nil
	}
	rendered, err := renderer.Render(report)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), report)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}
