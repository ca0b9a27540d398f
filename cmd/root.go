package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scan-io-git/scanguard/cmd/analyse"
	"github.com/scan-io-git/scanguard/cmd/version"
	"github.com/scan-io-git/scanguard/pkg/shared/config"
	errs "github.com/scan-io-git/scanguard/pkg/shared/errors"
)

var (
	cfgFile   string
	AppConfig *config.Config
	rootCmd   = &cobra.Command{
		Use:                   "scanguard [command]",
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
		Short:                 "Scanguard runs static analyzers over source files in parallel.",
		Long: `Scanguard orchestrates security, code quality and merge conflict analyzers over a set of files.
	It schedules work across a bounded worker pool, streams large files in chunks, caches results
	for unchanged files and filters likely false positives before reporting.
	`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $SCANGUARD_CONFIG or config.yml)")
	rootCmd.AddCommand(version.NewVersionCmd())
	rootCmd.AddCommand(analyse.AnalyseCmd)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		var cmdErr *errs.CommandError
		if errors.As(err, &cmdErr) {
			return cmdErr.ExitCode
		}
		return errs.ExitFailure
	}
	return errs.ExitOK
}

func initConfig() {
	var err error

	if cfgFile == "" {
		cfgFile = os.Getenv("SCANGUARD_CONFIG")
	}
	if cfgFile == "" {
		cfgFile = "config.yml"
	}
	AppConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing config file function is crashed - %v \n", err)
		os.Exit(errs.ExitFailure)
	}
	if err := config.ValidateConfig(AppConfig); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errs.ExitFailure)
	}
	if err := config.ResolvePaths(AppConfig); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errs.ExitFailure)
	}

	version.Init(AppConfig)
	analyse.Init(AppConfig, version.CoreVersion)
}
