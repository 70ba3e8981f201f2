package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the effective rule set as YAML",
		Long: `Prints the sources, sinks, sanitizers and entry points the analyzer would use
with the current configuration. Redirect the output to a file to start a custom rule set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			ruleSet, err := loadRules(cfg.Rules())
			if err != nil {
				return err
			}
			out, err := ruleSet.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	rulesCmd.Flags().String("rules", "", "Additional rule file merged after the defaults")
	return rulesCmd
}

// loadRules builds the rule set selected by cfg: the built-in rules unless
// disabled, followed by the rules file when one is configured.
func loadRules(cfg config.RulesConfig) (*rules.Rules, error) {
	var sets []*rules.Rules
	if cfg.UseDefaults {
		sets = append(sets, rules.Default())
	}
	if cfg.Path != "" {
		custom, err := rules.Load(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		sets = append(sets, custom)
	}
	merged, err := rules.Merge(sets...)
	if err != nil {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}
	return merged, nil
}
