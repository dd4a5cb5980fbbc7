package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/GoCodeAlone/modubot"
	"github.com/GoCodeAlone/modubot/modules/music"
	"github.com/GoCodeAlone/modubot/modules/permission"
	"github.com/spf13/cobra"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// OsExit is swapped out by tests.
var OsExit = os.Exit

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "modubot.yaml"

// PrintVersion returns the version line.
func PrintVersion() string {
	return fmt.Sprintf("ModuBot v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

// NewRootCommand creates the root command for the modubot binary.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modubot",
		Short: "ModuBot - a chat bot host built from hot-reloadable modules",
		Long: `ModuBot loads the modules named in its configuration file, dispatches
chat commands to them and reloads them when the configuration changes.`,
		Version:       PrintVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringP("config", "c", DefaultConfigPath, "host configuration file (.yaml, .yml or .toml)")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewModulesCommand())
	cmd.AddCommand(NewValidateCommand())

	return cmd
}

// NewCatalog returns the catalog of bundled modules.
func NewCatalog() *modubot.Catalog {
	catalog := modubot.NewCatalog()
	catalog.MustRegister(permission.ModuleName, permission.New)
	catalog.MustRegister(music.ModuleName, music.Factory)
	return catalog
}

// NewLogger builds a text logger writing to w at level, one of debug, info,
// warn or error.
func NewLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid debug_level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
