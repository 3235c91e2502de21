package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverd/drover/pkg/api"
	"github.com/droverd/drover/pkg/client"
	"github.com/droverd/drover/pkg/config"
	"github.com/droverd/drover/pkg/dispatch"
	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/lifecycle"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/queue"
	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/scheduler"
	"github.com/droverd/drover/pkg/security"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/trigger"
	"github.com/droverd/drover/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Drover - automation control plane",
	Long: `Drover schedules automation processes onto enrolled worker machines.
Triggers decide when sessions are created, the dispatcher pairs them with
capable resources, and workqueues hand data items to running sessions.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Drover version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", envOr("DROVER_SERVER", "http://localhost:8080"), "Drover server address")
	rootCmd.PersistentFlags().String("token", os.Getenv("DROVER_TOKEN"), "Bearer token for the API")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(resourceCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(tokenCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// apiClient builds a client from the persistent connection flags.
func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	return client.NewClient(addr, token)
}

// Server command

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Drover control plane",
	Long: `Run the Drover control plane: the HTTP API, the event broker, and the
scheduling loop, all backed by a single embedded database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})
		logger := log.WithComponent("main")
		metrics.SetVersion(Version)

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()
		metrics.RegisterComponent("storage", true, "")

		var encryptor *security.Encryptor
		if cfg.Auth.EncryptionPassword != "" {
			encryptor, err = security.NewEncryptorFromPassword(cfg.Auth.EncryptionPassword)
			if err != nil {
				return fmt.Errorf("failed to initialize encryption: %w", err)
			}
		} else {
			logger.Warn().Msg("no encryption password set, credential endpoints disabled")
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		reg := registry.NewService(broker, time.Duration(cfg.Scheduler.StaleResourceMinutes)*time.Minute)
		sessions := lifecycle.NewService(broker, time.Duration(cfg.Scheduler.DanglingSessionHours)*time.Hour)
		queues := queue.NewService(store, broker)
		dispatcher := dispatch.NewDispatcher(reg, broker)
		triggers := trigger.NewEngine(sessions, broker, cfg.Scheduler.MaxParameterLength)

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if cfg.Scheduler.Enabled {
			sched := scheduler.New(store, sessions, dispatcher, triggers, scheduler.Config{
				Interval:     time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
				ErrorBackoff: time.Duration(cfg.Scheduler.ErrorBackoffSeconds) * time.Second,
			})
			go sched.Run(ctx)
		} else {
			logger.Warn().Msg("scheduling loop disabled")
			metrics.RegisterComponent("scheduler", true, "disabled by configuration")
		}

		srv := api.NewServer(api.Options{
			Store:     store,
			Registry:  reg,
			Sessions:  sessions,
			Queues:    queues,
			Encryptor: encryptor,
			Broker:    broker,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(cfg.ListenAddr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serverCmd.Flags().String("config", "", "Path to YAML configuration file")
}

// Resource commands

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Manage enrolled worker machines",
}

var resourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		resources, err := apiClient(cmd).ListResources()
		if err != nil {
			return err
		}
		fmt.Printf("%-36s  %-30s  %-9s  %s\n", "ID", "FQDN", "AVAILABLE", "CAPABILITIES")
		for _, r := range resources {
			fmt.Printf("%-36s  %-30s  %-9t  %s\n", r.ID, r.FQDN, r.Available, r.Capabilities)
		}
		return nil
	},
}

var resourceDetachCmd = &cobra.Command{
	Use:   "detach ID",
	Short: "Detach a resource and flush its pending sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DetachResource(args[0]); err != nil {
			return err
		}
		fmt.Printf("Resource detached: %s\n", args[0])
		return nil
	},
}

func init() {
	resourceCmd.AddCommand(resourceListCmd)
	resourceCmd.AddCommand(resourceDetachCmd)
}

// Process commands

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Manage automation processes",
}

var processCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requirements, _ := cmd.Flags().GetString("requirements")
		description, _ := cmd.Flags().GetString("description")

		p, err := apiClient(cmd).CreateProcess(&types.Process{
			Name:         args[0],
			Description:  description,
			Requirements: requirements,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Process created: %s (ID: %s)\n", p.Name, p.ID)
		return nil
	},
}

var processListCmd = &cobra.Command{
	Use:   "list",
	Short: "List processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		processes, err := apiClient(cmd).ListProcesses()
		if err != nil {
			return err
		}
		fmt.Printf("%-36s  %-24s  %s\n", "ID", "NAME", "REQUIREMENTS")
		for _, p := range processes {
			fmt.Printf("%-36s  %-24s  %s\n", p.ID, p.Name, p.Requirements)
		}
		return nil
	},
}

var processDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DeleteProcess(args[0]); err != nil {
			return err
		}
		fmt.Printf("Process deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	processCmd.AddCommand(processCreateCmd)
	processCmd.AddCommand(processListCmd)
	processCmd.AddCommand(processDeleteCmd)

	processCreateCmd.Flags().String("requirements", "", "Capability requirements, e.g. \"python linux\"")
	processCreateCmd.Flags().String("description", "", "Free-form description")
}

// Session commands

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage process sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start PROCESS_ID",
	Short: "Queue a session for a process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parameters, _ := cmd.Flags().GetString("parameters")
		force, _ := cmd.Flags().GetBool("force")

		sess, err := apiClient(cmd).CreateSession(client.CreateSessionRequest{
			ProcessID:  args[0],
			Parameters: parameters,
			Force:      force,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Session queued: %s\n", sess.ID)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := apiClient(cmd).ListSessions()
		if err != nil {
			return err
		}
		fmt.Printf("%-36s  %-36s  %-12s  %s\n", "ID", "PROCESS", "STATUS", "RESOURCE")
		for _, s := range sessions {
			fmt.Printf("%-36s  %-36s  %-12s  %s\n", s.ID, s.ProcessID, s.Status, s.ResourceID)
		}
		return nil
	},
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop ID",
	Short: "Request a running session to stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).StopSession(args[0]); err != nil {
			return err
		}
		fmt.Printf("Stop requested: %s\n", args[0])
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionStopCmd)

	sessionStartCmd.Flags().String("parameters", "", "Parameters forwarded to the worker")
	sessionStartCmd.Flags().Bool("force", false, "Create even when the process already has a pending session")
}

// Workqueue commands

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage workqueues",
}

var queueCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a workqueue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := apiClient(cmd).CreateWorkqueue(&types.Workqueue{Name: args[0], Enabled: true})
		if err != nil {
			return err
		}
		fmt.Printf("Workqueue created: %s (ID: %s)\n", q.Name, q.ID)
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workqueues",
	RunE: func(cmd *cobra.Command, args []string) error {
		queues, err := apiClient(cmd).ListWorkqueues()
		if err != nil {
			return err
		}
		fmt.Printf("%-36s  %-24s  %s\n", "ID", "NAME", "ENABLED")
		for _, q := range queues {
			fmt.Printf("%-36s  %-24s  %t\n", q.ID, q.Name, q.Enabled)
		}
		return nil
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add QUEUE_ID",
	Short: "Add a work item to a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		reference, _ := cmd.Flags().GetString("reference")

		item, err := apiClient(cmd).AddWorkItem(args[0], data, reference)
		if err != nil {
			return err
		}
		fmt.Printf("Work item added: %s\n", item.ID)
		return nil
	},
}

var queueInfoCmd = &cobra.Command{
	Use:   "info QUEUE_ID",
	Short: "Show per-status item counts for a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := apiClient(cmd).WorkqueueInfo(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Workqueue: %s\n", info.Workqueue.Name)
		fmt.Printf("  New:                 %d\n", info.New)
		fmt.Printf("  In progress:         %d\n", info.InProgress)
		fmt.Printf("  Completed:           %d\n", info.Completed)
		fmt.Printf("  Failed:              %d\n", info.Failed)
		fmt.Printf("  Pending user action: %d\n", info.PendingUserAction)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueCreateCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueInfoCmd)

	queueAddCmd.Flags().String("data", "", "Item payload, typically JSON")
	queueAddCmd.Flags().String("reference", "", "Correlation reference")
	_ = queueAddCmd.MarkFlagRequired("data")
}

// Trigger commands

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Manage scheduling triggers",
}

var triggerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List triggers",
	RunE: func(cmd *cobra.Command, args []string) error {
		processID, _ := cmd.Flags().GetString("process-id")
		triggers, err := apiClient(cmd).ListTriggers(processID)
		if err != nil {
			return err
		}
		fmt.Printf("%-36s  %-10s  %-7s  %s\n", "ID", "TYPE", "ENABLED", "PROCESS")
		for _, trg := range triggers {
			fmt.Printf("%-36s  %-10s  %-7t  %s\n", trg.ID, trg.Type, trg.Enabled, trg.ProcessID)
		}
		return nil
	},
}

var triggerDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a trigger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DeleteTrigger(args[0]); err != nil {
			return err
		}
		fmt.Printf("Trigger deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	triggerCmd.AddCommand(triggerListCmd)
	triggerCmd.AddCommand(triggerDeleteCmd)

	triggerListCmd.Flags().String("process-id", "", "Only triggers of this process")
}

// Token commands

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API access tokens",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create IDENTIFIER",
	Short: "Mint a bearer token",
	Long: `Mint a bearer token for the given identifier. The secret is printed
once and cannot be recovered afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minted, err := apiClient(cmd).CreateToken(args[0], nil)
		if err != nil {
			return err
		}
		fmt.Printf("Token created: %s (ID: %s)\n", minted.Identifier, minted.ID)
		fmt.Printf("Secret: %s\n", minted.Secret)
		fmt.Println("Store the secret now; it is not retrievable later.")
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := apiClient(cmd).ListTokens()
		if err != nil {
			return err
		}
		fmt.Printf("%-36s  %-24s  %s\n", "ID", "IDENTIFIER", "EXPIRES")
		for _, tok := range tokens {
			expires := "never"
			if tok.ExpiresAt != nil {
				expires = tok.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Printf("%-36s  %-24s  %s\n", tok.ID, tok.Identifier, expires)
		}
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke ID",
	Short: "Revoke a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DeleteToken(args[0]); err != nil {
			return err
		}
		fmt.Printf("Token revoked: %s\n", args[0])
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
}
