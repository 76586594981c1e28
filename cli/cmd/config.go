package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape of ~/.callboard/config.yaml.
type fileConfig struct {
	Server string      `yaml:"server,omitempty"`
	Kafka  kafkaConfig `yaml:"kafka,omitempty"`
}

type kafkaConfig struct {
	Brokers  string `yaml:"brokers,omitempty"`
	Topic    string `yaml:"topic,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`
}

var settableKeys = []string{"server", "kafka.brokers", "kafka.topic", "kafka.client_id"}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".callboard", "config.yaml"), nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

func saveFileConfig(path string, fc fileConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(&fc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func (fc *fileConfig) set(key, value string) bool {
	switch key {
	case "server":
		fc.Server = value
	case "kafka.brokers":
		fc.Kafka.Brokers = value
	case "kafka.topic":
		fc.Kafka.Topic = value
	case "kafka.client_id":
		fc.Kafka.ClientID = value
	default:
		return false
	}
	return true
}

func newConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	cfg.AddCommand(newConfigShowCmd())
	cfg.AddCommand(newConfigInitCmd())
	cfg.AddCommand(newConfigSetCmd())
	return cfg
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := map[string]interface{}{
				"config_file":     viper.ConfigFileUsed(),
				"server":          viper.GetString("server"),
				"kafka.brokers":   kafkaBrokers(),
				"kafka.topic":     viper.GetString("kafka.topic"),
				"kafka.client_id": viper.GetString("kafka.client_id"),
			}
			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), settings)
			}
			file := viper.ConfigFileUsed()
			if file == "" {
				file = "(none)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config file: %s\n", file)
			fmt.Fprintf(out, "server: %s\n", viper.GetString("server"))
			fmt.Fprintf(out, "kafka.brokers: %v\n", kafkaBrokers())
			fmt.Fprintf(out, "kafka.topic: %s\n", viper.GetString("kafka.topic"))
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the current effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return usageError(cmd, path+" already exists (use --force to overwrite)")
			}
			fc := fileConfig{
				Server: viper.GetString("server"),
				Kafka: kafkaConfig{
					Brokers:  strings.Join(kafkaBrokers(), ","),
					Topic:    viper.GetString("kafka.topic"),
					ClientID: viper.GetString("kafka.client_id"),
				},
			}
			if err := saveFileConfig(path, fc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist one setting (" + strings.Join(settableKeys, ", ") + ")",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fc, err := loadFileConfig(path)
			if err != nil {
				return err
			}
			if !fc.set(args[0], args[1]) {
				return usageError(cmd, fmt.Sprintf("unknown key %q (valid: %s)", args[0], strings.Join(settableKeys, ", ")))
			}
			if err := saveFileConfig(path, fc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}
}
