package cmd

import (
	"fmt"
	"os"

	"github.com/journeyos/godeye/config"
	"github.com/journeyos/godeye/openapi"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "0.1.0"

var (
	envFile    string
	socketPath string
	adminPath  string
)

var rootCmd = &cobra.Command{
	Use:           "godeye",
	Short:         "Refresh rate coordination daemon",
	Long:          "godeye tracks processes that want factor callbacks and drives the display refresh rate.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		if socketPath != "" {
			cfg.Socket = socketPath
		}
		if adminPath != "" {
			cfg.Admin = adminPath
		}
		config.Conf = cfg
		openapi.Version = Version
		return config.OpenLog(cfg)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		config.CloseLog()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFile, "env", "e", "", "load environment variables from this .env file")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "listener socket (overrides GODEYE_SOCKET)")
	rootCmd.PersistentFlags().StringVar(&adminPath, "admin", "", "admin API socket (overrides GODEYE_ADMIN)")

	rootCmd.AddCommand(startCmd, dumpCmd, checkCmd, rateCmd, windowCmd, notifyCmd, watchCmd, versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "godeye:", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}
