// Command livetalk holds a live voice conversation with a remote
// speech-to-speech service from the local microphone and speaker.
//
// Usage:
//
//	livetalk run      [--config livetalk.yaml] [--gate auto|manual] [--listen :8089]
//	livetalk validate [--config livetalk.yaml]
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livetalk/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "livetalk.yaml"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFiles   []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "livetalk:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "livetalk",
		Short:         "Live voice conversation with a speech-to-speech model",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", nil, "dotenv files to load before reading credentials (default .env)")

	root.AddCommand(newRunCmd(g), newValidateCmd(g))
	return root
}

// loadConfig reads the .env files and the configuration. A missing file at
// the default path yields the default configuration.
func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(g.envFiles...); err != nil {
		return nil, err
	}

	cfg, err := config.Load(g.configPath)
	if f := cmd.Flag("config"); errors.Is(err, os.ErrNotExist) && (f == nil || !f.Changed) {
		slog.Debug("no config file, using defaults", "path", g.configPath)
		cfg, err = config.LoadFromReader(strings.NewReader(""))
	}
	if err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg)
	return cfg, nil
}
