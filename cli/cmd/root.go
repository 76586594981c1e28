package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"callboard/pkg/clients/callboard"
	"callboard/pkg/logging"
)

const defaultServer = "http://localhost:18030"

var (
	cfgFile string
	output  string
	verbose bool
)

// NewRootCmd returns the root command for the callboard CLI
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "callboard",
		Short:         "callboard: clinic announcement board CLI",
		Long:          "Publish, list, acknowledge and watch patient call announcements on a Crier server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.callboard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "", "output format: json|text (default: text)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().String("server", "", "Crier base URL (default "+defaultServer+")")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.AddCommand(newAnnounceCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newAckCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// Execute runs the CLI
func Execute() error {
	return NewRootCmd().Execute()
}

func initConfig(cmd *cobra.Command) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".callboard"))
			viper.SetConfigName("config")
		}
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CALLBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server", defaultServer)
	viper.SetDefault("kafka.topic", "callboard.announcements")
	viper.SetDefault("kafka.client_id", "callboard-cli")

	// Ignore missing config
	_ = viper.ReadInConfig()

	setColor(cmd.OutOrStdout())

	if output != "" && output != "json" && output != "text" {
		return usageError(cmd, "--output must be json or text")
	}
	return nil
}

func jsonOutput() bool {
	return output == "json"
}

func cliLogger(cmd *cobra.Command) logging.Logger {
	level := logging.WarnLevel
	if verbose {
		level = logging.DebugLevel
	}
	return logging.NewTextLogger(cmd.ErrOrStderr(), level)
}

func newClient(cmd *cobra.Command) *callboard.Client {
	return callboard.NewClient(viper.GetString("server"), callboard.WithLogger(cliLogger(cmd)))
}
