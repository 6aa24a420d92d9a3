// Command modhost discovers, inspects and runs modules.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/modhost/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

// globals holds the persistent flags.
type globals struct {
	configPath string
	root       string
	modType    string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "modhost",
		Short: "Discover, inspect and run isolated modules",
		Long: `modhost loads module archives from a directory. Each module runs inside
its own isolation boundary; modules whose instances are work units can be
run on a bounded worker pool.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&g.root, "root", "r", "", "Module directory (overrides modules.root)")
	rootCmd.PersistentFlags().StringVarP(&g.modType, "type", "t", "", "Expected module type (overrides modules.type)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newScanCmd(g),
		newInspectCmd(g),
		newRunCmd(g),
		newWatchCmd(g),
		newPackCmd(),
		newConfigCmd(g),
	)
	return rootCmd
}

// newApp builds the application from the persistent flags.
func (g *globals) newApp() (*app.Application, error) {
	return app.New(app.Options{
		ConfigPath: g.configPath,
		Root:       g.root,
		Type:       g.modType,
		LogLevel:   g.logLevel,
	})
}

func shutdown(a *app.Application) {
	ctx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
	}
}
