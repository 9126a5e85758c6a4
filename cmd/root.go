package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/config"
)

// Exit codes of the converge binary.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitFailed      = 2
	ExitBuildError  = 3
	ExitUnreachable = 4
)

const defaultConfigFile = "converge.yaml"

var (
	configFile string
	cfg        *config.Config
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// LoadConfig reads the given config file, or ./converge.yaml when present.
func LoadConfig(configFile string) (*config.Config, error) {
	var paths []string
	if configFile != "" {
		paths = append(paths, configFile)
	} else if _, err := os.Stat(defaultConfigFile); err == nil {
		paths = append(paths, defaultConfigFile)
	}

	loaded, err := config.Load(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := common.Configure(loaded.Logging); err != nil {
		return nil, err
	}
	return loaded, nil
}

var RootCmd = &cobra.Command{
	Use:   "converge",
	Short: "Declarative host configuration",
	Long: `Converge applies ansible-style playbooks to the hosts of an inventory,
running tasks over SSH or locally until every host reaches the declared state.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := LoadConfig(configFile)
		if err != nil {
			return &exitError{code: ExitError, err: err}
		}
		cfg = loaded
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file path (default: ./converge.yaml)")
	RootCmd.AddCommand(newRunCmd())
	RootCmd.AddCommand(newInventoryCmd())
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := RootCmd.Execute()
	if err == nil {
		return ExitOK
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(os.Stderr, exit.err)
		}
		return exit.code
	}
	fmt.Fprintln(os.Stderr, err)
	return ExitError
}
