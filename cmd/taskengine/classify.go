package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/taskengine/internal/classifier"
)

func newClassifyCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "classify [text...]",
		Short: "Classify failure text the way recovery does",
		Long: `Classify prints the error kind, severity and source location found in
failure text. With no arguments, or "-", the text is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.Join(args, " ")
			if len(args) == 0 || raw == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				raw = string(data)
			}

			ce := classifier.Classify(raw)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ce)
			}
			printClassified(cmd.OutOrStdout(), ce)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the classification as JSON")
	return cmd
}

func printClassified(w io.Writer, ce classifier.ClassifiedError) {
	severity := ce.Severity
	var sev string
	switch severity {
	case classifier.SeverityHigh:
		sev = color.RedString(string(severity))
	case classifier.SeverityMedium:
		sev = color.YellowString(string(severity))
	default:
		sev = string(severity)
	}

	fixable := "no"
	if classifier.CanAutoFix(ce.Kind) {
		fixable = color.GreenString("yes")
	}

	fmt.Fprintf(w, "Kind:     %s\n", color.New(color.Bold).Sprint(ce.Kind))
	fmt.Fprintf(w, "Severity: %s\n", sev)
	fmt.Fprintf(w, "Fixable:  %s\n", fixable)
	fmt.Fprintf(w, "Message:  %s\n", ce.Message)
	if loc := ce.Location; loc != nil {
		pos := loc.File
		if loc.Line > 0 {
			pos += fmt.Sprintf(":%d", loc.Line)
		}
		if loc.Column > 0 {
			pos += fmt.Sprintf(":%d", loc.Column)
		}
		fmt.Fprintf(w, "Location: %s\n", pos)
	}
}
