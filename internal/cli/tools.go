package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/tradegate/pkg/query"
	"github.com/harun/tradegate/pkg/schema"
	"github.com/harun/tradegate/pkg/toolexecutor"
	"github.com/harun/tradegate/pkg/tools"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tool catalog",
	Long: `List every tool the gateway exposes after the configured policy, without
connecting to the store or the broker.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print name, description and input schema as JSON")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Tools.Policy.Validate(zerolog.Nop()); err != nil {
		return err
	}

	executor, err := catalogExecutor(&cfg.Tools.Policy)
	if err != nil {
		return err
	}
	list := executor.ListTools()

	out := cmd.OutOrStdout()
	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, t := range list {
		write := ""
		if def := executor.GetTool(t.Name); def != nil && def.Mutating {
			write = "write"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, write, t.Description)
	}
	return w.Flush()
}

// catalogExecutor registers the catalog against engines with no database;
// only the declarations are used.
func catalogExecutor(policy *toolexecutor.ToolPolicy) (*toolexecutor.ToolExecutor, error) {
	executor := toolexecutor.New(toolexecutor.Config{Logger: zerolog.Nop(), Policy: policy})
	err := tools.Register(executor, tools.Deps{
		Market:  query.NewEngine(schema.MarketTables, nil, query.Postgres),
		Private: query.NewEngine(schema.PrivateTables, nil, query.Postgres),
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		return nil, err
	}
	return executor, nil
}
