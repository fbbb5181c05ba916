package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relaytester",
	Short: "Manual checks for the audio relay and speech providers",
	Long: `relaytester exercises the speech path without a browser.

"send" pushes audio files through a running /ws relay and prints each reply.
"transcribe" calls the configured speech provider directly.`,
	SilenceUsage: true,
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("无法加载 .env，改用系统环境变量")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
