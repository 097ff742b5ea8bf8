package cmd

import (
	"fmt"
	"os"

	"github.com/knowtide/knowtide/pkg/config"
	"github.com/knowtide/knowtide/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "knowtide",
	Short: "Terminal client for the knowtide tutoring backend",
	Long: `knowtide streams tutoring sessions from the backend into your
terminal, keeps the conversation in the hosted store, and can read
answers aloud.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(cfgFile); err != nil {
			return err
		}
		if err := logger.Init(); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func Execute() {
	defer logger.Close()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.knowtide/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().Bool("show-thinking", true, "render the assistant's thinking spans")
	viper.BindPFlag("show_thinking", rootCmd.PersistentFlags().Lookup("show-thinking"))

	rootCmd.PersistentFlags().Bool("speak", false, "read assistant answers aloud")
	viper.BindPFlag("speech.enabled", rootCmd.PersistentFlags().Lookup("speak"))

	rootCmd.PersistentFlags().String("document", "", "document id to open a session for")
	viper.BindPFlag("document", rootCmd.PersistentFlags().Lookup("document"))

	rootCmd.PersistentFlags().String("session", "", "resume an existing session by id")
	viper.BindPFlag("session", rootCmd.PersistentFlags().Lookup("session"))
}
