package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/liamcoop/automations/internal/app"
	"github.com/liamcoop/automations/internal/config"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/pool"
	"github.com/liamcoop/automations/rules"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var rootCmd = &cobra.Command{
	Use:   "rulesctl",
	Short: "Manage meeting automation rules",
	Long: `rulesctl manages the automation rules stored in the automations database
and runs them against meeting files without going through the HTTP API.
Settings come from AUTOMATIONS_* environment variables, an optional config file
and the flags below.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("database-url", "", "postgres:// or sqlite:// database URL")
	rootCmd.PersistentFlags().String("log-level", "WARN", "log level")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log at DEBUG regardless of --log-level")
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(runCmd())
}

// withApp loads the configuration and hands a wired app to fn
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	cfg.EventsEnabled = false

	if err := logger.Setup(ctx, logger.Options{Level: cfg.LogLevel, Output: os.Stderr}); err != nil {
		return err
	}
	if verbose, _ := rootCmd.PersistentFlags().GetBool("verbose"); verbose {
		logger.SetLevel(logger.LevelDebug)
	}

	a, err := app.New(ctx, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "Manage rules"}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesCreateCmd())
	cmd.AddCommand(rulesSetEnabledCmd("enable", true))
	cmd.AddCommand(rulesSetEnabledCmd("disable", false))
	cmd.AddCommand(rulesDeleteCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				list, err := a.Engine.ListRules(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Enabled", "Triggers", "Actions", "Runs", "Last Triggered"})
				for _, r := range list {
					last := ""
					if r.LastTriggered != nil {
						last = r.LastTriggered.Format("2006-01-02 15:04:05")
					}
					tw.AppendRow(table.Row{r.ID, r.Name, r.Enabled, len(r.Triggers), len(r.Actions), r.ExecutionCount, last})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// ruleFile is the YAML shape accepted by "rules create"
type ruleFile struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Enabled     *bool           `yaml:"enabled"`
	Triggers    []rules.Trigger `yaml:"triggers"`
	Actions     []rules.Action  `yaml:"actions"`
}

func rulesCreateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := readRuleFile(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.CreateRule(ctx, rule); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rule)
				}
				fmt.Printf("created rule %s (%s)\n", rule.ID, rule.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule definition file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readRuleFile(path string) (*rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	enabled := true
	if rf.Enabled != nil {
		enabled = *rf.Enabled
	}
	return &rules.Rule{
		Name:        rf.Name,
		Description: rf.Description,
		Enabled:     enabled,
		Triggers:    rf.Triggers,
		Actions:     rf.Actions,
	}, nil
}

func rulesSetEnabledCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <rule-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.SetRuleEnabled(ctx, args[0], enabled); err != nil {
					return err
				}
				fmt.Printf("rule %s %sd\n", args[0], use)
				return nil
			})
		},
	}
}

func rulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteRule(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("rule %s deleted\n", args[0])
				return nil
			})
		},
	}
}

// runResult is one row of "run" output
type runResult struct {
	File    string                  `json:"file"`
	Outcome *rules.ExecutionOutcome `json:"outcome,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

func runCmd() *cobra.Command {
	var (
		files       []string
		ruleID      string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run rules against meeting files (JSON or YAML)",
		RunE: func(cmd *cobra.Command, args []string) error {
			meetings := make([]rules.MeetingContext, len(files))
			for i, f := range files {
				mc, err := readMeetingFile(f)
				if err != nil {
					return err
				}
				meetings[i] = mc
			}

			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				results, err := pool.Run(ctx, meetings, concurrency, func(ctx context.Context, mc rules.MeetingContext) (runResult, error) {
					out, err := a.Engine.Run(ctx, mc, ruleID)
					if err != nil {
						return runResult{Error: err.Error()}, nil
					}
					return runResult{Outcome: out}, nil
				})
				if err != nil {
					return err
				}
				for i := range results {
					results[i].File = files[i]
				}
				if viper.GetBool("json") {
					return printJSON(results)
				}
				printRunTable(results)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "meeting file (repeatable)")
	cmd.Flags().StringVar(&ruleID, "rule", "", "only run this rule")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "meetings processed at once")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readMeetingFile(path string) (rules.MeetingContext, error) {
	var mc rules.MeetingContext
	data, err := os.ReadFile(path)
	if err != nil {
		return mc, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &mc)
	} else {
		err = yaml.Unmarshal(data, &mc)
	}
	if err != nil {
		return mc, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return mc, nil
}

func printRunTable(results []runResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"File", "Triggered", "Actions OK", "Actions Failed", "Error"})
	for _, r := range results {
		if r.Outcome == nil {
			tw.AppendRow(table.Row{r.File, "", 0, 0, r.Error})
			continue
		}
		ok, failed := 0, 0
		for _, a := range r.Outcome.Actions {
			if a.Success {
				ok++
			} else {
				failed++
			}
		}
		tw.AppendRow(table.Row{r.File, strings.Join(r.Outcome.TriggeredWorkflows, ", "), ok, failed, ""})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
