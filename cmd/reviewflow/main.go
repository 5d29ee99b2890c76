package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reviewflow/internal/app"
	"reviewflow/internal/config"
	"reviewflow/internal/domain"
	"reviewflow/internal/engine"
	"reviewflow/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "reviewflow",
	Short: "Reviewflow approval and assignment engine",
	Long: `Reviewflow routes compliance artifacts to human reviewers.
- Items: a risk assessment, registration, document or training submitted for approval. One open item per module at a time.
- Statuses: pending -> assigned -> in_progress -> completed or rejected.
- Assignment: manual (explicit reviewers) or automatic with the configured strategy (workload_balanced, round_robin, department_based, expertise_based).
- Expert reviews: legal texts analyzed first, then completed by a legal expert with feedback.
- Event log: every change is recorded; view it with 'reviewflow log tail'.`,
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
	viper.SetEnvPrefix("REVIEWFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default <workspace>/reviewflow.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(expertCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(reviewerCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage reviewflow.yml",
		Long:  "The config seeds the reviewer directory and the initial auto-assignment settings, and sets up routing, notifications and the text-analysis endpoint.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default reviewflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show item counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Summary(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := newTable("Status", "Items")
				for _, s := range []domain.Status{domain.StatusPending, domain.StatusAssigned, domain.StatusInProgress, domain.StatusCompleted, domain.StatusRejected} {
					tw.AppendRow(table.Row{s, counts[s]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func itemCmd() *cobra.Command {
	it := &cobra.Command{Use: "item", Short: "Submit, assign and review items"}
	it.AddCommand(itemSubmitCmd())
	it.AddCommand(itemShowCmd())
	it.AddCommand(itemListCmd())
	it.AddCommand(itemExistsCmd())
	it.AddCommand(itemAssignCmd())
	it.AddCommand(itemAutoAssignCmd())
	it.AddCommand(itemStatusCmd())
	it.AddCommand(itemHistoryCmd())
	return it
}

func itemSubmitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	var moduleType, priority string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an artifact for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ModuleType = domain.ModuleType(moduleType)
				opts.Priority = domain.Priority(priority)
				opts.ActorID = viper.GetString("actor-id")
				it, err := e.SubmitForApproval(ctx, opts)
				if err != nil {
					return err
				}
				return printItem(it)
			})
		},
	}
	cmd.Flags().StringVar(&moduleType, "module-type", "", "risk_assessment, system_registration, document or training")
	cmd.Flags().StringVar(&opts.ModuleID, "module-id", "", "id of the artifact")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "medium", "low, medium or high")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD or RFC 3339)")
	_ = cmd.MarkFlagRequired("module-type")
	_ = cmd.MarkFlagRequired("module-id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printItem(it)
			})
		},
	}
}

func itemListCmd() *cobra.Command {
	var q engine.ItemQuery
	var status, moduleType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q.Status = domain.Status(status)
				q.ModuleType = domain.ModuleType(moduleType)
				page, err := e.ListItems(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable("ID", "Module", "Title", "Priority", "Status", "Assignees")
				for _, it := range page.Items {
					tw.AppendRow(table.Row{it.ID, string(it.ModuleType) + "/" + it.ModuleID, it.Title, it.Priority, it.Status, strings.Join(it.Assignees, ",")})
				}
				tw.Render()
				if page.NextCursor != "" {
					fmt.Println("next cursor:", page.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&moduleType, "module-type", "", "module type filter")
	cmd.Flags().StringVar(&q.ModuleID, "module-id", "", "module id filter")
	cmd.Flags().StringVar(&q.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&q.Cursor, "cursor", "", "cursor from a previous page")
	return cmd
}

func itemExistsCmd() *cobra.Command {
	var moduleType, moduleID string
	cmd := &cobra.Command{
		Use:   "exists",
		Short: "Check whether a module has an open item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, ok, err := e.CheckExists(ctx, domain.ModuleType(moduleType), moduleID)
				if err != nil {
					return err
				}
				out := map[string]any{"exists": ok}
				if ok {
					out["item_id"] = it.ID
					out["status"] = it.Status
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				if ok {
					fmt.Printf("open item %s (%s)\n", it.ID, it.Status)
				} else {
					fmt.Println("no open item")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&moduleType, "module-type", "", "module type")
	cmd.Flags().StringVar(&moduleID, "module-id", "", "module id")
	_ = cmd.MarkFlagRequired("module-type")
	_ = cmd.MarkFlagRequired("module-id")
	return cmd
}

func itemAssignCmd() *cobra.Command {
	var opts engine.AssignOptions
	cmd := &cobra.Command{
		Use:   "assign <item-id>",
		Short: "Assign explicit reviewers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ItemID = args[0]
				opts.ActorID = viper.GetString("actor-id")
				it, err := e.AssignManually(ctx, opts)
				if err != nil {
					return err
				}
				return printItem(it)
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.ReviewerIDs, "reviewer", nil, "reviewer id (repeatable)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note for the reviewers")
	cmd.Flags().Int64Var(&opts.ExpectedRevision, "expected-revision", 0, "fail if the item revision differs")
	return cmd
}

func itemAutoAssignCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "auto-assign <item-id>",
		Short: "Assign reviewers with the configured strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.AutoAssign(ctx, engine.AutoAssignOptions{
					ItemID:      args[0],
					ForceAssign: force,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printItem(it)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even when auto-assignment is disabled")
	return cmd
}

func itemStatusCmd() *cobra.Command {
	var feedback string
	var expected int64
	cmd := &cobra.Command{
		Use:   "status <item-id> <status>",
		Short: "Apply a review transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.StatusUpdateOptions{
					ItemID:           args[0],
					Status:           domain.Status(args[1]),
					ActorID:          viper.GetString("actor-id"),
					ExpectedRevision: expected,
				}
				if cmd.Flags().Changed("feedback") {
					opts.Feedback = &feedback
				}
				it, err := e.UpdateStatus(ctx, opts)
				if err != nil {
					return err
				}
				return printItem(it)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "reviewer feedback")
	cmd.Flags().Int64Var(&expected, "expected-revision", 0, "fail if the item revision differs")
	return cmd
}

func itemHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <item-id>",
		Short: "Show assignments and events of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				assignments, err := e.ListAssignments(ctx, args[0])
				if err != nil {
					return err
				}
				evs, err := e.ListEvents(ctx, repo.EventFilters{ItemID: args[0], Limit: 200})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"assignments": assignments, "events": evs})
				}
				tw := newTable("Assigned At", "Strategy", "By", "Reviewers", "Note")
				for _, a := range assignments {
					tw.AppendRow(table.Row{a.AssignedAt, a.StrategyUsed, a.AssignedBy, strings.Join(a.AssignedTo, ","), a.Note})
				}
				tw.Render()
				printEvents(evs)
				return nil
			})
		},
	}
}

func expertCmd() *cobra.Command {
	ex := &cobra.Command{Use: "expert", Short: "Expert legal reviews"}
	ex.AddCommand(expertRequestCmd())
	ex.AddCommand(expertCompleteCmd())
	return ex
}

func expertRequestCmd() *cobra.Command {
	var opts engine.ExpertRequestOptions
	var priority, textFile string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Analyze a text and request an expert review",
		RunE: func(cmd *cobra.Command, args []string) error {
			if textFile != "" {
				data, err := os.ReadFile(textFile)
				if err != nil {
					return err
				}
				opts.Text = string(data)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Priority = domain.Priority(priority)
				opts.ActorID = viper.GetString("actor-id")
				it, err := e.RequestExpertReview(ctx, opts)
				if err != nil {
					return err
				}
				return printItem(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ModuleID, "module-id", "", "id of the reviewed text")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Text, "text", "", "text to review")
	cmd.Flags().StringVar(&textFile, "text-file", "", "read the text from a file")
	cmd.Flags().StringVar(&opts.Context, "context", "", "context passed to the analysis")
	cmd.Flags().StringVar(&priority, "priority", "medium", "low, medium or high")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date")
	_ = cmd.MarkFlagRequired("module-id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func expertCompleteCmd() *cobra.Command {
	var opts engine.ExpertCompleteOptions
	cmd := &cobra.Command{
		Use:   "complete <item-id>",
		Short: "Complete an expert review with feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ItemID = args[0]
				opts.ActorID = viper.GetString("actor-id")
				it, err := e.CompleteExpertReview(ctx, opts)
				if err != nil {
					return err
				}
				return printItem(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Feedback, "feedback", "", "expert feedback")
	cmd.Flags().Int64Var(&opts.ExpectedRevision, "expected-revision", 0, "fail if the item revision differs")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

func settingsCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "settings",
		Short: "Auto-assignment settings",
		Long:  "Settings are stored in the workspace database. The config file only seeds them the first time.",
	}
	st.AddCommand(settingsShowCmd())
	st.AddCommand(settingsSetCmd())
	return st
}

func settingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show auto-assignment settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSettings(ctx)
				if err != nil {
					return err
				}
				return printSettings(s)
			})
		},
	}
}

func settingsSetCmd() *cobra.Command {
	var enabled bool
	var strategy string
	var roles, departments []string
	var expected int64
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace auto-assignment settings",
		Long:  "Flags not given keep their current value.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cur, err := e.GetSettings(ctx)
				if err != nil {
					return err
				}
				next := cur
				if cmd.Flags().Changed("enabled") {
					next.Enabled = enabled
				}
				if cmd.Flags().Changed("strategy") {
					next.StrategyType = domain.StrategyType(strategy)
				}
				if cmd.Flags().Changed("roles") {
					next.EligibleRoles = roles
				}
				if cmd.Flags().Changed("departments") {
					next.EligibleDepartments = departments
				}
				opts := engine.SettingsUpdateOptions{Settings: next, ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("expected-version") {
					opts.ExpectedVersion = &expected
				}
				s, err := e.UpdateAutoAssignmentSettings(ctx, opts)
				if err != nil {
					return err
				}
				return printSettings(s)
			})
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", false, "enable automatic assignment")
	cmd.Flags().StringVar(&strategy, "strategy", "", "workload_balanced, round_robin, department_based or expertise_based")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "eligible roles")
	cmd.Flags().StringSliceVar(&departments, "departments", nil, "eligible departments")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail if the stored version differs")
	return cmd
}

func reviewerCmd() *cobra.Command {
	rv := &cobra.Command{Use: "reviewer", Short: "Reviewer directory"}
	rv.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active reviewers and their open assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.ListReviewers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable("ID", "Name", "Role", "Department", "Open")
				for _, r := range rows {
					tw.AppendRow(table.Row{r.ID, r.DisplayName, r.Role, r.Department, r.OpenAssignmentCount})
				}
				tw.Render()
				return nil
			})
		},
	})
	return rv
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evs, err := e.Repo.LatestEvents(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				printEvents(evs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	return cmd
}

// --- helpers ---

func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.Path(viper.GetString("workspace"))
}

func loadConfig() (*config.Config, error) {
	if p := viper.GetString("config"); p != "" {
		return config.FromFile(p)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, e, err := app.Open(ctx, viper.GetString("workspace"), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printItem(it domain.Item) error {
	if viper.GetBool("json") {
		return printJSON(it)
	}
	tw := newTable("Field", "Value")
	tw.AppendRow(table.Row{"ID", it.ID})
	tw.AppendRow(table.Row{"Module", string(it.ModuleType) + "/" + it.ModuleID})
	tw.AppendRow(table.Row{"Title", it.Title})
	tw.AppendRow(table.Row{"Priority", it.Priority})
	tw.AppendRow(table.Row{"Status", it.Status})
	tw.AppendRow(table.Row{"Assignees", strings.Join(it.Assignees, ",")})
	tw.AppendRow(table.Row{"Revision", it.Revision})
	if it.DueDate != nil {
		tw.AppendRow(table.Row{"Due", *it.DueDate})
	}
	if it.Feedback != "" {
		tw.AppendRow(table.Row{"Feedback", it.Feedback})
	}
	if vr := it.ValidationResult; vr != nil {
		tw.AppendRow(table.Row{"Analysis", vr.Outcome})
		for _, issue := range vr.Issues {
			tw.AppendRow(table.Row{"Issue", issue})
		}
	}
	if it.ExpertFeedback != "" {
		tw.AppendRow(table.Row{"Expert feedback", it.ExpertFeedback})
	}
	tw.Render()
	return nil
}

func printSettings(s domain.AutoAssignmentSettings) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	tw := newTable("Setting", "Value")
	tw.AppendRow(table.Row{"Enabled", s.Enabled})
	tw.AppendRow(table.Row{"Strategy", s.StrategyType})
	tw.AppendRow(table.Row{"Eligible roles", strings.Join(s.EligibleRoles, ",")})
	tw.AppendRow(table.Row{"Eligible departments", strings.Join(s.EligibleDepartments, ",")})
	tw.AppendRow(table.Row{"Version", s.Version})
	tw.AppendRow(table.Row{"Updated", s.UpdatedAt + " by " + s.UpdatedBy})
	tw.Render()
	return nil
}

func printEvents(evs []domain.Event) {
	tw := newTable("ID", "Time", "Type", "Item", "Actor", "Transition", "Assignees")
	for _, ev := range evs {
		transition := ""
		if ev.NewStatus != "" {
			transition = fmt.Sprintf("%s -> %s", ev.OldStatus, ev.NewStatus)
		}
		tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.ItemID, ev.ActorID, transition, strings.Join(ev.Assignees, ",")})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
