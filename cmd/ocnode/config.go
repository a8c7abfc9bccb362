package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.openclipboard.dev/node/internal/logging"
)

// bindViper wires a command's flags into a viper instance with the
// standard config file search order and OCNODE_ env var prefix.
//
// Precedence (lowest → highest): defaults → config file → OCNODE_ env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("ocnode")
		v.SetConfigType("toml")
		for _, p := range configPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("OCNODE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// configPaths returns the ordered list of directories to search for
// ocnode.toml. Viper searches them in this order and uses the first
// directory that holds the file.
func configPaths() []string {
	var paths []string

	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			paths = append(paths, fmt.Sprintf(`%s\ocnode`, appdata))
		}
	} else {
		paths = append(paths, "/etc/ocnode")
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, fmt.Sprintf("%s/.config/ocnode", home))
		}
	}

	return paths
}

// defaultStateDir returns the directory identity.json and trust.json
// live in absent an explicit --id-path/--trust-path.
func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "ocnode")
	}
	return "."
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addIdentityFlags adds the flags every command touching a node's
// identity/trust files shares.
func addIdentityFlags(cmd *cobra.Command) {
	cmd.Flags().String("id-path", filepath.Join(defaultStateDir(), "identity.json"), "path to this node's identity file")
	cmd.Flags().String("trust-path", filepath.Join(defaultStateDir(), "trust.json"), "path to the trust store file")
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"))
}
