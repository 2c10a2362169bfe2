package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldwork/internal/app"
	"fieldwork/internal/config"
	"fieldwork/internal/db"
	"fieldwork/internal/domain"
	"fieldwork/internal/engine"
	"fieldwork/internal/logger"
	"fieldwork/internal/notify"
	"fieldwork/internal/repo"
	"fieldwork/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fw",
	Short: "Fieldwork CLI",
	Long: `Fieldwork runs field tasks built from reusable templates.
Core concepts:
- Template: a tree of functions, fields and inputs describing a kind of job.
- Task: one instance of a template; its tree mirrors the template at creation.
- Conditional action: a rule on an input, dropdown option or checkbox that fires when a value matches (mark done, notify users, add an input).
- Completion: inputs complete fields, fields complete functions, functions unlock followers and drive task progress.
- Workspace: the .fieldwork directory holding the SQLite database next to fieldwork.yml.
- Event log: every change, view with 'fw log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FIELDWORK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("actor-id", 1, "acting user id")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error, disabled); defaults to fieldwork.yml")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func registerCommands() {
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{
		Use:   "template",
		Short: "Manage task templates",
		Long:  "Templates are authored as YAML definitions and imported; every task is instantiated from one.",
	}
	tpl.AddCommand(templateImportCmd())
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateShowCmd())
	tpl.AddCommand(templateDeleteCmd())
	return tpl
}

func templateImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.yml>",
		Short: "Build a template from a YAML definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				tpl, err := svc.ImportDefinition(ctx, data, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tpl)
				}
				fns, fields, inputs := tpl.Shape()
				fmt.Printf("imported template %d %q (%d fns, %d fields, %d inputs)\n", tpl.ID, tpl.Name, fns, fields, inputs)
				return nil
			})
		},
	}
	return cmd
}

func templateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				items, err := svc.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Instances", "Updated"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Instances, t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a template tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				tpl, err := svc.GetTemplate(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tpl)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle(fmt.Sprintf("%d %s", tpl.ID, tpl.Name))
				tw.AppendHeader(table.Row{"Fn", "Field", "Input", "ID", "Type", "Required", "Action"})
				for _, in := range tpl.Metadata {
					tw.AppendRow(table.Row{"(metadata)", "", in.Name, in.ID, in.Type, in.IsRequired, describeAction(in.Action)})
				}
				for _, fn := range tpl.Fns {
					tw.AppendRow(table.Row{fn.Name, "", "", fn.ID, fn.Type, "", ""})
					for _, f := range fn.Fields {
						for _, in := range f.Inputs {
							tw.AppendRow(table.Row{"", f.Name, in.Name, in.ID, in.Type, in.IsRequired, describeAction(in.Action)})
						}
					}
				}
				for _, in := range tpl.DynamicInputs {
					tw.AppendRow(table.Row{"(dynamic)", "", in.Name, in.ID, in.Type, in.IsRequired, ""})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func templateDeleteCmd() *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				purged, err := svc.DeleteTemplate(ctx, id, cascade, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": id, "deleted_task_ids": purged})
				}
				fmt.Printf("deleted template %d and %d task(s)\n", id, len(purged))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also delete tasks instantiated from the template")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are instantiated from templates. Values are set per input instance id; see 'fw task show' for ids.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskSetCmd())
	task.AddCommand(taskCheckCmd())
	task.AddCommand(taskBranchCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskFlagCmd("archive", "Archive a task", (*app.Service).Archive))
	task.AddCommand(taskFlagCmd("trash", "Move a task to the trash", (*app.Service).Trash))
	task.AddCommand(taskFlagCmd("restore", "Clear the archive and trash flags", (*app.Service).Restore))
	task.AddCommand(taskPurgeCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.InstantiateOptions
	var templateID, customerID, assigneeID int64
	var priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Instantiate a task from a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePriority(priority)
			if err != nil {
				return err
			}
			opts.Priority = p
			opts.CreatedByID = actorID()
			if cmd.Flags().Changed("customer-id") {
				opts.CustomerID = &customerID
			}
			if cmd.Flags().Changed("assignee-id") {
				opts.AssigneeID = &assigneeID
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				task, err := svc.Instantiate(ctx, templateID, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(task)
				}
				fmt.Printf("created task %s (id %d)\n", task.Code, task.ID)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&templateID, "template", 0, "task template id")
	cmd.Flags().StringVar(&opts.Code, "code", "", "task code (generated from the template name if omitted)")
	cmd.Flags().StringVar(&priority, "priority", "", "NORMAL, MEDIUM or HIGH")
	cmd.Flags().Int64Var(&customerID, "customer-id", 0, "customer id")
	cmd.Flags().Int64Var(&assigneeID, "assignee-id", 0, "assignee id")
	cmd.Flags().StringVar(&opts.Remarks, "remarks", "", "remarks")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilter
	var statuses []string
	var archived string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range statuses {
				st, err := domain.ParseTaskStatus(raw)
				if err != nil {
					return err
				}
				f.Statuses = append(f.Statuses, st)
			}
			if archived != "" {
				v, err := strconv.ParseBool(archived)
				if err != nil {
					return fmt.Errorf("--archived must be true or false")
				}
				f.Archived = &v
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				tasks, err := svc.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Status", "Priority", "Progress", "Assignee"})
				for _, t := range tasks {
					assignee := ""
					if t.AssigneeID != nil {
						assignee = strconv.FormatInt(*t.AssigneeID, 10)
					}
					tw.AppendRow(table.Row{t.ID, t.Code, t.Status, t.Priority, fmt.Sprintf("%d%%", t.Progress), assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&f.TemplateID, "template", 0, "template filter")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable or comma separated)")
	cmd.Flags().StringVar(&archived, "archived", "", "true or false")
	cmd.Flags().BoolVar(&f.Trashed, "trashed", false, "list only trashed tasks")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|code>",
		Short: "Show a task tree with instance ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				task, err := svc.ResolveTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(task)
				}
				tpl, err := svc.GetTemplate(ctx, task.TaskTemplateID)
				if err != nil {
					return err
				}
				printTaskTree(task, tpl)
				return nil
			})
		},
	}
}

func taskSetCmd() *cobra.Command {
	var expected int64
	cmd := &cobra.Command{
		Use:   "set <task> <input-id> <value>",
		Short: "Set an input value",
		Long:  "Dropdown values are given as the option name or id. An empty value clears the input.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return mutateTask(cmd.Context(), args[0], func(ctx context.Context, svc *app.Service, task *domain.TaskInstance) (*app.Result, error) {
				return svc.ApplyInputValue(ctx, task.ID, engine.ValueUpdate{InputInstanceID: inputID, Value: args[2], ActorID: actorID(), ExpectedVersion: expected})
			})
		},
	}
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail if the input version moved")
	return cmd
}

func taskCheckCmd() *cobra.Command {
	var uncheck bool
	cmd := &cobra.Command{
		Use:   "check <task> <checkbox-id>",
		Short: "Check a checkbox option",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cbID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return mutateTask(cmd.Context(), args[0], func(ctx context.Context, svc *app.Service, task *domain.TaskInstance) (*app.Result, error) {
				return svc.ToggleCheckbox(ctx, task.ID, engine.CheckboxUpdate{CheckboxInstanceID: cbID, Checked: !uncheck, ActorID: actorID()})
			})
		},
	}
	cmd.Flags().BoolVar(&uncheck, "uncheck", false, "uncheck instead")
	return cmd
}

func taskBranchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "branch <task> <fn-id> <item-id>",
		Short: "Select the branch of a function",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fnID, err := parseID(args[1])
			if err != nil {
				return err
			}
			itemID, err := parseID(args[2])
			if err != nil {
				return err
			}
			return mutateTask(cmd.Context(), args[0], func(ctx context.Context, svc *app.Service, task *domain.TaskInstance) (*app.Result, error) {
				return svc.SelectFnBranch(ctx, task.ID, engine.BranchSelection{FnInstanceID: fnID, ItemID: itemID, ActorID: actorID()})
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	var remarks string
	var force bool
	cmd := &cobra.Command{
		Use:   "status <task> <status>",
		Short: "Change the task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := domain.ParseTaskStatus(args[1])
			if err != nil {
				return err
			}
			return mutateTask(cmd.Context(), args[0], func(ctx context.Context, svc *app.Service, task *domain.TaskInstance) (*app.Result, error) {
				return svc.SetStatus(ctx, task.ID, engine.StatusChange{Status: st, ActorID: actorID(), Remarks: remarks, Force: force})
			})
		},
	}
	cmd.Flags().StringVar(&remarks, "remarks", "", "remarks")
	cmd.Flags().BoolVar(&force, "force", false, "skip the transition table")
	return cmd
}

func taskFlagCmd(name, short string, op func(*app.Service, context.Context, int64, int64) (*app.Result, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <task>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateTask(cmd.Context(), args[0], func(ctx context.Context, svc *app.Service, task *domain.TaskInstance) (*app.Result, error) {
				return op(svc, ctx, task.ID, actorID())
			})
		},
	}
}

func taskPurgeCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete tasks trashed before the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				ids, err := svc.PurgeTrashed(ctx, time.Duration(days)*24*time.Hour, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"purged_task_ids": ids})
				}
				fmt.Printf("purged %d task(s)\n", len(ids))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "older-than-days", 0, "age threshold in days (defaults to trash.retention_days)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "fieldwork.yml sets code generation, the template cache, webhooks, logging and the API server. Missing keys keep their defaults.",
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
		Short: "Write a default fieldwork.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
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
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate fieldwork.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
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

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				evts, err := svc.Events(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, fmt.Sprintf("%s:%d", e.EntityKind, e.EntityID), e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().Int64Var(&f.EntityID, "entity-id", 0, "entity id")
	cmd.Flags().StringVar(&f.CorrelationID, "correlation-id", "", "correlation id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the API and delivers events to the webhooks configured in fieldwork.yml. Without FIELDWORK_JWT_SECRET or server.jwt_secret the server runs in development mode and trusts X-Actor-Id.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				cfg := svc.Config
				if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = cfg.BasePath()
				}
				secret := os.Getenv("FIELDWORK_JWT_SECRET")
				if secret == "" {
					secret = cfg.Server.JWTSecret
				}
				authCfg := server.AuthConfig{JWTSecret: secret, AllowActorHeader: secret == ""}
				if authCfg.AllowActorHeader {
					svc.Log.Warn("no jwt secret configured; trusting X-Actor-Id")
				}
				handler, err := server.New(server.Config{Service: svc, BasePath: basePath, Auth: authCfg, Logger: svc.Log})
				if err != nil {
					return err
				}

				dispatcher := notify.NewDispatcher(svc.Repo, notify.OptionsFromConfig(cfg, svc.Log))
				go dispatcher.Run(ctx)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Fieldwork API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (defaults to server.base_path)")
	return cmd
}

// --- helpers ---

func withService(ctx context.Context, fn func(context.Context, *app.Service) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	level := viper.GetString("log-level")
	if level == "" {
		level = cfg.Log.Level
	}
	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(level),
		Output:     os.Stderr,
		JSON:       viper.GetBool("log-json") || cfg.Log.JSON,
		TimeFormat: "15:04:05",
	})
	svc, err := app.OpenWithConfig(ctx, workspace, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(logger.ContextWithLogger(ctx, log), svc)
}

// mutateTask resolves ref, runs op and prints the outcome. Effect failures
// are reported but do not fail the command since the change was saved.
func mutateTask(ctx context.Context, ref string, op func(context.Context, *app.Service, *domain.TaskInstance) (*app.Result, error)) error {
	return withService(ctx, func(ctx context.Context, svc *app.Service) error {
		task, err := svc.ResolveTask(ctx, ref)
		if err != nil {
			return err
		}
		res, err := op(ctx, svc, task)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return printJSON(res)
		}
		if !res.Changed {
			fmt.Println("no change")
			return nil
		}
		fmt.Printf("%s: status %s, progress %d%%, version %d\n", res.Task.Code, res.Task.Status, res.Task.Progress, res.Task.Version)
		for _, eff := range res.Effects {
			fmt.Printf("  effect %s on %s %d\n", eff.Kind, eff.TargetKind, eff.TargetID)
		}
		for _, f := range res.Failures {
			fmt.Println("  failed:", f)
		}
		return nil
	})
}

func actorID() int64 {
	return viper.GetInt64("actor-id")
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func describeAction(a *domain.ConditionalAction) string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%s %s -> %s", a.ConditionType, a.ConditionValue, a.ActionType)
}

func printTaskTree(task *domain.TaskInstance, tpl *domain.TaskTemplate) {
	name := func(in *domain.InputInstance) string {
		if t := tpl.Input(in.InputTemplateID); t != nil {
			return t.Name
		}
		return fmt.Sprintf("input %d", in.InputTemplateID)
	}
	done := func(b bool) string {
		if b {
			return "x"
		}
		return ""
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(fmt.Sprintf("%s  %s  %d%%  v%d", task.Code, task.Status, task.Progress, task.Version))
	tw.AppendHeader(table.Row{"Fn", "Field", "Input", "ID", "Value", "Done"})
	for _, in := range task.Metadata {
		tw.AppendRow(table.Row{"(metadata)", "", name(in), in.ID, in.Value.String(), done(in.IsComplete)})
	}
	for _, fn := range task.Fns {
		fnName := fmt.Sprintf("fn %d", fn.FnTemplateID)
		if t := tpl.Fn(fn.FnTemplateID); t != nil {
			fnName = t.Name
		}
		if fn.IsLocked {
			fnName += " (locked)"
		}
		tw.AppendRow(table.Row{fnName, "", "", fn.ID, "", done(fn.IsComplete)})
		for _, f := range fn.Fields {
			fieldName := fmt.Sprintf("field %d", f.FieldTemplateID)
			if t := tpl.Field(f.FieldTemplateID); t != nil {
				fieldName = t.Name
			}
			tw.AppendRow(table.Row{"", fieldName, "", f.ID, "", done(f.IsComplete)})
			for _, in := range f.Inputs {
				tw.AppendRow(table.Row{"", "", name(in), in.ID, in.Value.String(), done(in.IsComplete)})
				for _, cb := range in.Checkboxes {
					tw.AppendRow(table.Row{"", "", "  checkbox", cb.ID, strconv.FormatBool(cb.IsChecked), ""})
				}
			}
		}
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
