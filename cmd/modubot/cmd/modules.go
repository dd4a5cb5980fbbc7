package cmd

import (
	"errors"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/GoCodeAlone/modubot"
	"github.com/GoCodeAlone/modubot/config"
	"github.com/spf13/cobra"
)

// NewModulesCommand lists the bundled modules and how the configuration uses
// them.
func NewModulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the available modules",
		Long:  `List the modules compiled into this binary and whether the configuration file enables them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.HostConfig
			if loaded, err := config.Load(configPath(cmd)); err == nil {
				cfg = loaded
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "config not loaded: %s\n", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODULE\tSTATUS")
			for _, name := range NewCatalog().Names() {
				fmt.Fprintf(w, "%s\t%s\n", name, moduleStatus(cfg, name))
			}
			return w.Flush()
		},
	}
}

func moduleStatus(cfg *config.HostConfig, name string) string {
	if cfg == nil {
		return "-"
	}
	if _, ok := cfg.Entry(name); ok {
		return "enabled"
	}
	for _, entry := range cfg.Modules {
		if entry.Name == name {
			return "disabled"
		}
	}
	return "not configured"
}

// NewValidateCommand checks a configuration file without loading modules.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long:  `Parse the configuration file, apply defaults and environment overrides, and check that every enabled module exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			if _, err = NewLogger(cfg.DebugLevel, cmd.ErrOrStderr()); err != nil {
				return err
			}
			if err = checkCatalog(NewCatalog(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d modules enabled)\n", configPath(cmd), len(cfg.ModuleNames()))
			return nil
		},
	}
}

func checkCatalog(catalog *modubot.Catalog, cfg *config.HostConfig) error {
	names := catalog.Names()
	var errs []error
	for _, name := range cfg.ModuleNames() {
		if !slices.Contains(names, name) {
			errs = append(errs, &modubot.ResolveError{Module: name, Err: modubot.ErrModuleNotFound})
		}
	}
	return errors.Join(errs...)
}
