package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"webloop/internal/config"
	"webloop/internal/llm"
	"webloop/pkg/agent"
	"webloop/pkg/artifacts"
	"webloop/pkg/bootstrap"
	"webloop/pkg/database"
	"webloop/pkg/evaluator"
	"webloop/pkg/events"
	"webloop/pkg/gitops"
	"webloop/pkg/logger"
	"webloop/pkg/mcpclient"
	"webloop/pkg/paths"
	"webloop/pkg/planner"
	"webloop/pkg/runner"
	"webloop/pkg/statusapi"
)

var runCmd = &cobra.Command{
	Use:   "run [task...]",
	Short: "Execute one full generation run for a task",
	Long: `Run the full loop for one task: plan, generate, evaluate, and patch
until the page passes the rubric or the iteration budget is exhausted.

The task comes from the positional arguments or the --task flag:

  webloop run "Build a landing page for a coffee shop"

All outputs land under <workspace_root>/<run-id>/: the generated page,
artifacts, trace.jsonl, manifest.json, report.json, and view.html.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("task", "", "the natural-language task to build")
	runCmd.Flags().String("notes", "", "extra guidance passed to the planner")
	runCmd.Flags().String("workspace-root", "", "base directory for run workspaces")
	runCmd.Flags().Int("max-iterations", 10, "iteration budget")
	runCmd.Flags().Int("preview-port", 8000, "preview server port")
	runCmd.Flags().String("agent-mode", "mock", "code generation backend: local or mock")
	runCmd.Flags().String("agent-command", "", "agent CLI command line (required for local mode)")
	runCmd.Flags().String("mcp-command", "", "browser automation server command line")
	runCmd.Flags().String("template-repo-url", "", "template repository to bootstrap from")
	runCmd.Flags().Bool("publish-snapshots", false, "commit and push each iteration to git_remote_url")
	runCmd.Flags().Int("status-port", 0, "serve the status API on this port during the run (0 disables)")

	viper.BindPFlag("task", runCmd.Flags().Lookup("task"))
	viper.BindPFlag("notes", runCmd.Flags().Lookup("notes"))
	viper.BindPFlag("workspace_root", runCmd.Flags().Lookup("workspace-root"))
	viper.BindPFlag("max_iterations", runCmd.Flags().Lookup("max-iterations"))
	viper.BindPFlag("preview_port", runCmd.Flags().Lookup("preview-port"))
	viper.BindPFlag("agent_mode", runCmd.Flags().Lookup("agent-mode"))
	viper.BindPFlag("agent_command", runCmd.Flags().Lookup("agent-command"))
	viper.BindPFlag("mcp_command", runCmd.Flags().Lookup("mcp-command"))
	viper.BindPFlag("template_repo_url", runCmd.Flags().Lookup("template-repo-url"))
	viper.BindPFlag("publish_snapshots", runCmd.Flags().Lookup("publish-snapshots"))
	viper.BindPFlag("status_port", runCmd.Flags().Lookup("status-port"))
}

func runRun(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	if len(args) > 0 {
		v.Set("task", strings.Join(args, " "))
	}
	task := strings.TrimSpace(v.GetString("task"))
	if task == "" {
		return fmt.Errorf("a task is required: webloop run \"Build a landing page\"")
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log, err := logger.CreateLogger(cfg.LogFile, cfg.LogLevel, cfg.LogFormat, true)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()

	rubric := evaluator.DefaultRubric()
	if cfg.RubricID != "" && cfg.RubricID != rubric.ID {
		return fmt.Errorf("unknown rubric %q (available: %s)", cfg.RubricID, rubric.ID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pc, err := paths.New(cfg.WorkspaceRoot, cfg.ProjectDirName, paths.NewRunID(), cfg.PreviewHost, cfg.PreviewPort)
	if err != nil {
		return fmt.Errorf("establish run layout: %w", err)
	}
	log.Infof("📁 Run workspace: %s", pc.WorkspaceDir)

	store, err := artifacts.NewStore(pc.ArtifactsDir, log)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}

	plannerModel, err := llm.InitializeLLM(llm.Config{
		Provider: llm.Provider(cfg.LLMProvider),
		ModelID:  cfg.PlannerModel,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("initialize planner model: %w", err)
	}
	evalModel, err := llm.InitializeLLM(llm.Config{
		Provider: llm.Provider(cfg.LLMProvider),
		ModelID:  cfg.EvaluatorModel,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("initialize evaluator model: %w", err)
	}

	mcpParts := strings.Fields(cfg.MCPCommand)
	if len(mcpParts) == 0 {
		return fmt.Errorf("mcp_command must not be empty")
	}
	browser := mcpclient.New(mcpParts[0], mcpParts[1:], log)

	maxTurns := cfg.AgenticMaxSteps
	if !cfg.AgenticEval {
		// Screenshot-only scoring: a single observation turn.
		maxTurns = 1
	}
	eval := evaluator.New(evalModel, cfg.EvaluatorModel, browser, evaluator.Options{
		MaxTurns:      maxTurns,
		ScreenshotDir: filepath.Join(pc.WorkspaceDir, ".screenshots"),
		Rubric:        rubric,
	}, log)

	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}
	log.Infof("🤖 Agent backend: %s", backend.Name())

	var publisher *gitops.Publisher
	if cfg.PublishSnapshots {
		publisher = gitops.New(pc.ProjectRoot, pc.RunID, gitops.Options{
			RemoteURL:  cfg.GitRemoteURL,
			Token:      cfg.GitToken,
			BaseBranch: cfg.GitBaseBranch,
		}, log)
	}

	var db database.Database
	if sdb, dbErr := database.NewSQLiteDB(cfg.DatabasePath); dbErr != nil {
		log.Warnf("⚠️ Run history database unavailable, continuing without it: %v", dbErr)
	} else {
		db = sdb
		defer sdb.Close()
	}

	bus := events.NewBus()
	defer bus.Close()

	if port := v.GetInt("status_port"); port > 0 {
		api := statusapi.New(db, pc.BaseDir, bus, log)
		go func() {
			if serveErr := api.Start(fmt.Sprintf("127.0.0.1:%d", port)); serveErr != nil {
				log.Warnf("⚠️ Status API stopped: %v", serveErr)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = api.Stop(shutdownCtx)
		}()
	}

	ctrl, err := runner.NewController(pc, runner.Options{
		Task:          task,
		Notes:         v.GetString("notes"),
		MaxIterations: cfg.MaxIterations,
		RubricID:      rubric.ID,
		Bootstrap: bootstrap.Options{
			TemplateRepoURL: cfg.TemplateRepoURL,
			TemplateRef:     cfg.TemplateRef,
			RunInit:         cfg.RunTemplateInit,
		},
	}, runner.Deps{
		Planner:   planner.New(plannerModel, cfg.PlannerModel, log),
		Evaluator: eval,
		Agent:     agent.NewClient(backend, store, log),
		Store:     store,
		Browser:   browser,
		Publisher: publisher,
		DB:        db,
		Bus:       bus,
	}, log)
	if err != nil {
		return err
	}

	manifest, runErr := ctrl.Run(ctx)
	if manifest != nil {
		printSummary(manifest)
	}
	return runErr
}

func buildBackend(cfg *config.Config) (agent.Backend, error) {
	switch cfg.AgentMode {
	case config.AgentModeLocal:
		return agent.NewLocalBackend(cfg.AgentCommand)
	case config.AgentModeMock:
		return agent.NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("unknown agent mode %q", cfg.AgentMode)
	}
}

func printSummary(m *runner.Manifest) {
	status := "FAILED"
	if m.FinalPassed {
		status = "PASSED"
	}
	fmt.Printf("\nRun %s: %s\n", m.RunID, status)
	fmt.Printf("  Score:      %d/100 (%s)\n", m.FinalScore, m.StopReason)
	fmt.Printf("  Iterations: %d\n", m.IterationCount)
	fmt.Printf("  Duration:   %.1fs\n", m.DurationSeconds)
	fmt.Printf("  Preview:    %s\n", m.PreviewURL)
	fmt.Printf("  Workspace:  %s\n", m.WorkspaceDir)
	fmt.Printf("  Summary:    %s\n", filepath.Join(m.WorkspaceDir, "view.html"))
	if m.GitBranch != "" {
		fmt.Printf("  Branch:     %s\n", m.GitBranch)
	}
	if m.ErrorMessage != "" {
		fmt.Printf("  Error:      %s\n", m.ErrorMessage)
	}
}
