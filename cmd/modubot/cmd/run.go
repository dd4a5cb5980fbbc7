package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/modubot"
	"github.com/GoCodeAlone/modubot/admin"
	"github.com/GoCodeAlone/modubot/config"
	"github.com/GoCodeAlone/modubot/configwatch"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	ConfigPath       string
	Actor            string
	Guild            string
	VoiceChannel     string
	NoConsole        bool
	NoWatch          bool
	ConcurrentPhases bool
	ShutdownTimeout  time.Duration

	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := RunOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the configured modules and serve commands",
		Long: `Load every enabled module from the configuration file, read commands from
standard input, serve the admin API when enabled and hot-reload modules when
the configuration file changes. Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = configPath(cmd)
			opts.In = cmd.InOrStdin()
			opts.Out = cmd.OutOrStdout()
			opts.Err = cmd.ErrOrStderr()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "console", "actor id used for console commands")
	cmd.Flags().StringVar(&opts.Guild, "guild", "console", "guild id used for console commands")
	cmd.Flags().StringVar(&opts.VoiceChannel, "voice", "console-voice", "voice channel the console actor is in")
	cmd.Flags().BoolVar(&opts.NoConsole, "no-console", false, "do not read commands from standard input")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "do not reload modules when the config file changes")
	cmd.Flags().BoolVar(&opts.ConcurrentPhases, "concurrent-phases", false, "run the hooks of one lifecycle phase concurrently")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for unloading modules on exit")
	return cmd
}

// Run loads the host from opts.ConfigPath and serves until ctx is done.
func Run(ctx context.Context, opts RunOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger, err := NewLogger(cfg.DebugLevel, opts.Err)
	if err != nil {
		return err
	}

	hostOpts := []modubot.Option{
		modubot.WithLogger(logger),
		modubot.WithObserver(modubot.NewFunctionalObserver("event-log", func(_ context.Context, event cloudevents.Event) error {
			logger.Debug("Host event", "type", event.Type(), "source", event.Source(), "id", event.ID())
			return nil
		})),
	}
	if opts.ConcurrentPhases {
		hostOpts = append(hostOpts, modubot.WithConcurrentPhases())
	}
	host := modubot.NewHost(NewCatalog(), hostOpts...)

	if err = host.LoadModules(ctx, cfg.Specs()); err != nil {
		return fmt.Errorf("load modules: %w", err)
	}
	logger.Info("Host started", "modules", host.ListModules(), "prefix", cfg.CommandPrefix)

	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		if unloadErr := host.UnloadAll(shutdownCtx); unloadErr != nil {
			logger.Error("Errors while unloading modules", "error", unloadErr)
		}
		logger.Info("Host stopped")
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Admin.Enabled {
		server := admin.NewServer(cfg.Admin.Addr, host)
		g.Go(func() error { return server.Run(gctx) })
	}

	if !opts.NoWatch {
		watcher := configwatch.New(opts.ConfigPath, host, cfg, configwatch.WithLogger(logger))
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if !opts.NoConsole && opts.In != nil {
		console := &Console{
			Dispatcher:   host,
			Prefix:       cfg.CommandPrefix,
			Actor:        opts.Actor,
			Guild:        opts.Guild,
			Channel:      "console",
			VoiceChannel: opts.VoiceChannel,
			Out:          opts.Out,
		}
		// Reads from the input cannot be interrupted, so the console is not
		// waited for on shutdown.
		go func() {
			if runErr := console.Run(gctx, opts.In); runErr != nil {
				logger.Warn("Console input failed", "error", runErr)
			}
		}()
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}
