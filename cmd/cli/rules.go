package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/vulns"
)

var (
	rulesFile     string
	rulesSeverity string
)

// rulesCmd lists the vulnerability rules the engine matches against.
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the vulnerability rules",
	Long: `List the vulnerability rules used to match scan results. Without
--file the rules configured in engine.rules_file are shown, or the
built-in rule set when none is configured. Loading a file also
validates it.`,
	Example: `  netsentry rules
  netsentry rules --severity high
  netsentry rules --file ./custom-rules.yaml -o json`,
	Args: cobra.NoArgs,
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.Flags().StringVar(&rulesFile, "file", "", "rule file to load instead of the configured rules")
	rulesCmd.Flags().StringVar(&rulesSeverity, "severity", "", "only show rules of this severity or higher")
}

func runRules(cmd *cobra.Command, _ []string) error {
	path := rulesFile
	if path == "" {
		cfg, err := config.Load(getConfigFilePath())
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		path = cfg.Engine.RulesFile
	}

	matcher, err := vulns.NewDefaultMatcher(path)
	if err != nil {
		return err
	}

	rules, err := filterRules(matcher.Rules(), rulesSeverity)
	if err != nil {
		return err
	}
	return printRules(cmd.OutOrStdout(), rules)
}

// filterRules keeps the rules at or above minSeverity.
func filterRules(rules []vulns.Rule, minSeverity string) ([]vulns.Rule, error) {
	if minSeverity == "" {
		return rules, nil
	}
	floor := vulns.SeverityRank(strings.ToLower(minSeverity))
	if floor == 0 {
		return nil, fmt.Errorf("unknown severity %q", minSeverity)
	}
	out := make([]vulns.Rule, 0, len(rules))
	for _, r := range rules {
		if vulns.SeverityRank(r.Severity) >= floor {
			out = append(out, r)
		}
	}
	return out, nil
}

func printRules(w io.Writer, rules []vulns.Rule) error {
	if outputFormat == formatJSON {
		return printJSON(w, rules)
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Severity", "Services", "Constraint", "Title")
	for _, r := range rules {
		_ = table.Append([]string{r.ID, r.Severity, strings.Join(r.Services, ","), ruleConstraint(r), r.Title})
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d rule(s)\n", len(rules))
	return nil
}

func ruleConstraint(r vulns.Rule) string {
	var parts []string
	if r.Product != "" {
		parts = append(parts, "product~"+r.Product)
	}
	if r.Version != "" {
		parts = append(parts, "version "+r.Version)
	}
	if r.TLSVersion != "" {
		parts = append(parts, "tls "+r.TLSVersion)
	}
	if r.Banner != "" {
		parts = append(parts, "banner~"+r.Banner)
	}
	if len(r.Ports) > 0 {
		ports := make([]string, len(r.Ports))
		for i, p := range r.Ports {
			ports[i] = fmt.Sprint(p)
		}
		parts = append(parts, "ports "+strings.Join(ports, ","))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "; ")
}
