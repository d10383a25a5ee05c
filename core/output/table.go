package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"medbill-verify/core/engine"
	"medbill-verify/core/types"
	"medbill-verify/core/views"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	categoryStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	statusStyles = map[types.Status]lipgloss.Style{
		types.StatusGreen:                lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		types.StatusRed:                  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		types.StatusMismatch:             lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		types.StatusAllowedNotComparable: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		types.StatusIgnoredArtifact:      mutedStyle,
	}
)

func styledStatus(s types.Status) string {
	if st, ok := statusStyles[s]; ok {
		return st.Render(string(s))
	}
	return string(s)
}

// TableFormatter renders views as aligned text tables
type TableFormatter struct{}

// Format implements Formatter
func (TableFormatter) Format() Format { return FormatTable }

// Render implements Formatter
func (t TableFormatter) Render(w io.Writer, resp *engine.Response, view View) error {
	if resp.Partial {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("PARTIAL RESULT: run stopped after %s", resp.Phase)))
	}
	if !resp.Consistent {
		fmt.Fprintln(w, warnStyle.Render("WARNING: debug and final views are inconsistent: "+
			strings.Join(resp.Checks.Failed(), ", ")))
	}
	if (view == ViewDebug || view == ViewBoth) && resp.Debug != nil {
		if err := t.renderDebug(w, resp.Debug); err != nil {
			return err
		}
	}
	if (view == ViewFinal || view == ViewBoth) && resp.Final != nil {
		return t.renderFinal(w, resp.Final)
	}
	return nil
}

func (TableFormatter) renderFinal(w io.Writer, v *views.FinalView) error {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("Hospital:"), v.Hospital)
	fmt.Fprintf(w, "%s %s\n\n", headerStyle.Render("Matched catalog:"), v.MatchedHospital)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range v.Categories {
		fmt.Fprintln(tw, categoryStyle.Render(c.Category))
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			headerStyle.Render("Item"),
			headerStyle.Render("Status"),
			headerStyle.Render("Billed"),
			headerStyle.Render("Allowed"),
			headerStyle.Render("Extra"),
			headerStyle.Render("Reason"))
		for _, it := range c.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				it.DisplayName, styledStatus(it.Status),
				it.Billed.StringFixed(2), it.Allowed.StringFixed(2), it.Extra.StringFixed(2),
				it.ReasonTag)
		}
		fmt.Fprintf(tw, "%s\t\t%s\t%s\t%s\t\n\n",
			mutedStyle.Render("subtotal"),
			c.Billed.StringFixed(2), c.Allowed.StringFixed(2), c.Extra.StringFixed(2))
	}
	fmt.Fprintf(tw, "%s\t\t%s\t%s\t%s\t\n",
		headerStyle.Render("TOTAL"),
		v.Billed.StringFixed(2), v.Allowed.StringFixed(2), v.Extra.StringFixed(2))
	if err := tw.Flush(); err != nil {
		return err
	}

	counts := make([]string, 0, len(types.AllStatuses))
	for _, s := range types.AllStatuses {
		if n := v.StatusCounts[s]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s %d", styledStatus(s), n))
		}
	}
	_, err := fmt.Fprintf(w, "\n%s\n", strings.Join(counts, "  "))
	return err
}

func (TableFormatter) renderDebug(w io.Writer, v *views.DebugView) error {
	fmt.Fprintf(w, "%s %s -> %s (similarity %.4f)\n\n",
		headerStyle.Render("Hospital:"), v.Hospital, v.MatchedHospital, v.HospitalScore)

	for _, c := range v.Categories {
		fmt.Fprintln(w, categoryStyle.Render(c.Category))
		for _, it := range c.Items {
			fmt.Fprintf(w, "  [%s] %q -> %q\n", it.ItemID, it.OriginalText, it.NormalizedText)
			fmt.Fprintf(w, "    %s via %s, score %.4f, category %s -> %s\n",
				styledStatus(it.Status), it.Strategy, it.Score, it.DeclaredCategory, it.FinalCategory)
			if it.Matched != "" {
				fmt.Fprintf(w, "    matched: %s\n", it.Matched)
			}
			if it.FailureReason != types.ReasonNone {
				fmt.Fprintf(w, "    reason: %s: %s\n", it.FailureReason, it.Explanation)
			}
			if len(it.CategoriesTried) > 0 {
				fmt.Fprintf(w, "    tried: %s\n", strings.Join(it.CategoriesTried, ", "))
			}
			if it.ReconciliationNote != "" {
				fmt.Fprintf(w, "    %s\n", it.ReconciliationNote)
			}
			if it.Oracle != nil {
				fmt.Fprintf(w, "    oracle: match=%t confidence=%.2f accepted=%t %s\n",
					it.Oracle.Match, it.Oracle.Confidence, it.Oracle.Accepted, it.Oracle.Error)
			}
			for _, e := range it.ServiceErrors {
				fmt.Fprintf(w, "    %s\n", mutedStyle.Render("service error: "+e))
			}

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			for _, cand := range it.Candidates {
				mark := " "
				if cand.Accepted {
					mark = "*"
				}
				fmt.Fprintf(tw, "    %s %s\t%s\tsem %.3f\tjac %.3f\tanc %.3f\thyb %.3f\t%s\t%s\n",
					mark, cand.Name, cand.Category,
					cand.Semantic, cand.Overlap, cand.Anchor, cand.Hybrid,
					cand.Decision, cand.RejectionReason)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}
		fmt.Fprintln(w)
	}
	_, err := fmt.Fprintf(w, "%s billed %s, allowed %s, extra %s across %d aggregates\n\n",
		headerStyle.Render("Summary:"),
		v.Summary.Grand.Billed.StringFixed(2),
		v.Summary.Grand.Allowed.StringFixed(2),
		v.Summary.Grand.Extra.StringFixed(2),
		v.Summary.Grand.Aggregates)
	return err
}
