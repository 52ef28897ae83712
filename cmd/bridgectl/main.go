// Command bridgectl talks to a bridge host from the shell: it creates objects,
// calls static methods and prints what the host reports about them.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bridge-rpc/config"
	"bridge-rpc/logging"
	"bridge-rpc/middleware"
	"bridge-rpc/proxy"
	"bridge-rpc/session"
)

type globalFlags struct {
	address    string
	configPath string
	logLevel   int
	timeout    time.Duration
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:           "bridgectl",
	Short:         "Bridge host command line client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.address, "address", "a", "", "bridge address, e.g. tcp://127.0.0.1:8089/JavaBridge")
	pf.StringVarP(&flags.configPath, "config", "c", "", "YAML option file")
	pf.IntVar(&flags.logLevel, "log-level", 0, "bridge log level 0..7 (0 disables logging)")
	pf.DurationVar(&flags.timeout, "timeout", 30*time.Second, "per-call timeout (0 for none)")

	rootCmd.AddCommand(inspectCmd, invokeCmd, classNameCmd, versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig merges the option file with the command line; flags win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	options := map[string]any{}
	if flags.configPath != "" {
		loaded, err := config.LoadOptions(flags.configPath)
		if err != nil {
			return nil, err
		}
		options = loaded
	}
	if flags.address != "" {
		options[config.KeyAddress] = flags.address
	}
	// an unset level stays unset: the host keeps its own and the local logger is a no-op
	if cmd.Flags().Changed("log-level") {
		options[config.KeyLogLevel] = flags.logLevel
	}
	return config.Parse(options)
}

// newInvoker builds an invoker and its logger. The caller closes both.
func newInvoker(cmd *cobra.Command) (*proxy.Invoker, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	opts := []session.Option{session.WithLogger(logger)}
	if flags.timeout > 0 {
		opts = append(opts, session.WithMiddleware(middleware.TimeOutMiddleware(flags.timeout)))
	}
	return proxy.NewInvoker(session.NewManager(cfg, opts...), logger), logger, nil
}
