package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/riverwatch/internal/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "riverwatch",
		Short: "riverwatch - concurrent video analytics for river cameras",
		Long: `riverwatch ingests many camera streams at once, runs analysis algorithms
on every stream and delivers the resulting alarms to remote sinks without
stalling video ingestion.

Features:
  • OpenCV and GStreamer decoding backends
  • Background modelling for motion and intrusion detection
  • Bounded per-camera alarm queues with drop-on-full
  • HTTP, MQTT, Kafka, Redis and Postgres alarm sinks
  • Watchdog that restarts failed camera pipelines
  • REST API, Prometheus metrics and a live alarm websocket`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/riverwatch/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-friendly console logs")
	rootCmd.PersistentFlags().String("time-zone", "", "IANA time zone for alarm timestamps (default is Local)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
	viper.BindPFlag("time_zone", rootCmd.PersistentFlags().Lookup("time-zone"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config manager with flag and environment overrides applied.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	configMgr.ApplyOverrides(viper.GetViper())
	return configMgr, nil
}
