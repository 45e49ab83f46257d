package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/petsync"
)

// outputAsJSON writes any value as formatted JSON to the command's stdout.
func outputAsJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError prints an error to stderr with configured API keys redacted.
func outputError(w io.Writer, err error) {
	printError(w, "%s", scrubSensitiveData(err.Error()))
}

func scrubSensitiveData(msg string) string {
	for _, key := range []string{loadedConfig.Booking.APIKey, loadedConfig.Questionnaire.APIKey} {
		if key != "" {
			msg = strings.ReplaceAll(msg, key, "[REDACTED]")
		}
	}
	return msg
}

func outputReports(cmd *cobra.Command, reports []*petsync.SyncReport) error {
	if outputJSON {
		return outputAsJSON(cmd, reports)
	}
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		outputReportHuman(cmd.OutOrStdout(), r)
	}
	return nil
}

func outputReportHuman(out io.Writer, r *petsync.SyncReport) {
	printInfo(out, "%s sync complete (took %s)", r.Source, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  total %d · imported %d · failed %d · already imported %d\n",
		r.Total, r.Successful, r.Failed, r.Skipped)
	if r.Degraded {
		printWarning(out, "remote processed flag unavailable; deduplicated against local records")
	}
	for _, res := range r.Results {
		id := res.SubmissionID
		if res.Reference != "" {
			id = res.Reference
		}
		switch {
		case res.Skipped:
			continue
		case res.Success:
			parts := []string{fmt.Sprintf("client %d", res.ClientID)}
			if res.ClientCreated {
				parts[0] += " (new)"
			}
			if res.PetID != 0 {
				p := fmt.Sprintf("pet %d", res.PetID)
				if res.PetCreated {
					p += " (new)"
				}
				parts = append(parts, p)
			}
			printSuccess(out, "%s: %s", id, strings.Join(parts, ", "))
		default:
			printError(out, "%s: %s", id, res.Error)
		}
		for _, w := range res.Warnings {
			printMuted(out, "    warning: %s", w)
		}
	}
}

func outputReconcile(cmd *cobra.Command, r *petsync.ReconcileResult) error {
	if outputJSON {
		return outputAsJSON(cmd, r)
	}
	out := cmd.OutOrStdout()

	var b strings.Builder
	fmt.Fprintf(&b, "## %s submission %s\n\n", r.Submission.Source, r.Submission.Key())
	writeComparisonTable(&b, "Client", r.ClientComparisons)
	if r.PetID == nil {
		b.WriteString("_No pet with this name yet; applying pet fields creates one._\n\n")
	}
	writeComparisonTable(&b, "Pet", r.PetComparisons)
	fmt.Fprintln(out, renderMarkdown(b.String()))

	if !r.HasChanges() {
		printSuccess(out, "No changes needed")
		return nil
	}
	var fields []string
	for _, c := range r.ClientComparisons {
		if c.Actionable() {
			fields = append(fields, "--client-field "+c.Field)
		}
	}
	for _, c := range r.PetComparisons {
		if c.Actionable() {
			fields = append(fields, "--pet-field "+c.Field)
		}
	}
	printMuted(out, "Apply with: petsync apply %d %s %s", r.ClientID, r.PayloadPath, strings.Join(fields, " "))
	return nil
}

func writeComparisonTable(b *strings.Builder, title string, rows []petsync.FieldComparison) {
	fmt.Fprintf(b, "### %s\n\n| Field | Current | Incoming | Status |\n|---|---|---|---|\n", title)
	for _, c := range rows {
		fmt.Fprintf(b, "| %s | %s | %s | %s |\n",
			c.Label, mdEscape(c.CurrentValue), mdEscape(c.IncomingValue), statusCell(c.Status, c.Informational))
	}
	b.WriteString("\n")
}

func outputApply(cmd *cobra.Command, req petsync.ApplyRequest, res *petsync.ApplyResult) error {
	if outputJSON {
		return outputAsJSON(cmd, res)
	}
	out := cmd.OutOrStdout()
	if len(req.Client) > 0 {
		printSuccess(out, "Updated client %d (%s): %s", res.Client.ID, res.Client.FullName(), strings.Join(req.Client, ", "))
	}
	if res.Pet != nil {
		verb := "Updated"
		if res.PetCreated {
			verb = "Created"
		}
		printSuccess(out, "%s pet %d (%s): %s", verb, res.Pet.ID, res.Pet.Name, strings.Join(req.Pet, ", "))
	}
	return nil
}

func outputSubmissions(cmd *cobra.Command, items []petsync.PayloadInfo) error {
	if outputJSON {
		if items == nil {
			items = []petsync.PayloadInfo{}
		}
		return outputAsJSON(cmd, items)
	}
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "No stored submissions for this client.")
		return nil
	}
	fmt.Fprintf(out, "Stored submissions (%d):\n\n", len(items))
	for _, it := range items {
		fmt.Fprintf(out, "  %-40s %-13s %s\n", it.Name, it.Source, it.ModTime.Format("2006-01-02 15:04"))
	}
	return nil
}

func outputRules(cmd *cobra.Command, rules []petsync.RuleSummary) error {
	if outputJSON {
		return outputAsJSON(cmd, rules)
	}
	out := cmd.OutOrStdout()
	for _, r := range rules {
		state := ""
		if !r.Enabled {
			state = " (disabled)"
		}
		printInfo(out, "%s on %s%s", r.Name, r.Trigger, state)
		for _, a := range r.Actions {
			fmt.Fprintf(out, "    %s\n", a)
		}
		if r.Origin != "" {
			printMuted(out, "    from %s", r.Origin)
		}
	}
	return nil
}

func outputStats(cmd *cobra.Command, stats *petsync.StoreStats, health *petsync.HealthStatus) error {
	if outputJSON {
		if health != nil {
			return outputAsJSON(cmd, map[string]any{"stats": stats, "health": health})
		}
		return outputAsJSON(cmd, stats)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Local Records")
	fmt.Fprintln(out, "-------------")
	printLabel(out, "Clients       ", fmt.Sprint(stats.Clients))
	printLabel(out, "Pets          ", fmt.Sprint(stats.Pets))
	printLabel(out, "Events        ", fmt.Sprint(stats.Events))
	printLabel(out, "Tasks         ", fmt.Sprintf("%d (%d open)", stats.Tasks, stats.OpenTasks))
	printLabel(out, "Processed     ", fmt.Sprint(stats.Processed))
	printLabel(out, "Schema version", stats.SchemaVersion)

	sources := make([]string, 0, len(stats.LastSync))
	for s := range stats.LastSync {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	if len(sources) == 0 {
		printLabel(out, "Last sync     ", "never")
	}
	for _, s := range sources {
		printLabel(out, fmt.Sprintf("Last %-9s", s), stats.LastSync[s])
	}

	if health != nil {
		fmt.Fprintln(out)
		if health.Healthy {
			printSuccess(out, "healthy")
		} else {
			printError(out, "unhealthy: %s", health.Error)
		}
		fmt.Fprintf(out, "  booking source:       %v\n", health.BookingSource)
		fmt.Fprintf(out, "  questionnaire source: %v\n", health.QuestionnaireSource)
	}
	return nil
}
