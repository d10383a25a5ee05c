// Package cmd - normalize command
package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"medbill-verify/core/normalize"
	"medbill-verify/internal/config"
	"medbill-verify/internal/logging"
)

var normalizeJSON bool

// normalizeCmd shows what the normalizer extracts from bill text
var normalizeCmd = &cobra.Command{
	Use:   "normalize <text>...",
	Short: "Show the medical core extracted from bill line text",
	Long: `Run the bill line normalizer and print the normalized text, token tiers,
medical attributes and artifact/package flags. Useful when tuning keyword sets.

Examples:
  medbill normalize "PARACETAMOL 500MG TAB (STRIP OF 10) | LOT A123"
  medbill normalize --json "MRI BRAIN PLAIN" "Page 1 of 2"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ex := normalize.New(config.Get().Normalizer, logging.Logger)
		out := cmd.OutOrStdout()

		if normalizeJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			for _, a := range args {
				if err := enc.Encode(ex.Extract(a)); err != nil {
					return err
				}
			}
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, a := range args {
			e := ex.Extract(a)
			fmt.Fprintf(tw, "raw\t%s\n", e.Raw)
			fmt.Fprintf(tw, "normalized\t%s\n", e.Normalized)
			tokens := make([]string, 0, len(e.Tokens))
			for _, t := range e.Tokens {
				tokens = append(tokens, fmt.Sprintf("%s(%s)", t.Text, t.Tier))
			}
			fmt.Fprintf(tw, "tokens\t%s\n", strings.Join(tokens, " "))
			if e.Attributes.Dosage != nil {
				fmt.Fprintf(tw, "dosage\t%s\n", e.Attributes.Dosage)
			}
			if e.Attributes.Form != "" {
				fmt.Fprintf(tw, "form\t%s\n", e.Attributes.Form)
			}
			if e.Attributes.Modality != "" {
				fmt.Fprintf(tw, "modality\t%s\n", e.Attributes.Modality)
			}
			if e.Attributes.BodyPart != "" {
				fmt.Fprintf(tw, "body part\t%s\n", e.Attributes.BodyPart)
			}
			fmt.Fprintf(tw, "artifact\t%t\n", e.IsArtifact)
			fmt.Fprintf(tw, "package\t%t\n\n", e.IsPackage)
		}
		return tw.Flush()
	},
}

func init() {
	normalizeCmd.Flags().BoolVar(&normalizeJSON, "json", false, "print the extraction as JSON")
}
