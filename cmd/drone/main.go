package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// chat flags
	ioMode            string
	botName           string
	conversationModel string

	// weather flags
	weatherDate      string
	weatherAttribute string
)

var rootCmd = &cobra.Command{
	Use:   "drone",
	Short: "Drone - a text assistant for weather, music and small talk",
	Long: `Drone answers weather questions, controls Spotify playback and falls back to a
conversation model for everything else.

Configuration is read from config/{ENV_NAME}.yaml and config/secrets.yaml in the
working directory. Run "drone chat" to start a session.`,
	SilenceUsage: true,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start a conversation on the console or over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var weatherCmd = &cobra.Command{
	Use:   "weather [city]",
	Short: "Print the weather for a city without going through intent parsing",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWeather,
}

func init() {
	chatCmd.Flags().StringVar(&ioMode, "io", ioConsole, "I/O mode: console or http")
	chatCmd.Flags().StringVar(&botName, "bot-name", "", "override assistant.bot_name")
	chatCmd.Flags().StringVar(&conversationModel, "conversation-model", "", "override conversation.model (gemini-* or gpt-*)")

	weatherCmd.Flags().StringVar(&weatherDate, "date", "", "day to report as YYYY-MM-DD (default today)")
	weatherCmd.Flags().StringVar(&weatherAttribute, "attribute", "", "single attribute: temperature, precipitation, wind, sunrise, sunset or moon_phase")

	rootCmd.AddCommand(chatCmd, weatherCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
