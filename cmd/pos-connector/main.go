package main

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {

	var listenAddr string

	// rootCmd represents the base command when called without any subcommands
	var rootCmd = &cobra.Command{
		Use: "pos-connector",
	}

	var apiServerCmd = &cobra.Command{
		Use:   "api_server",
		Short: "POS-Connector API Server",
		Run: func(cmd *cobra.Command, args []string) {
			startApiServer(listenAddr)
		},
	}

	var sessionSweeperCmd = &cobra.Command{
		Use:   "session_sweeper",
		Short: "Remove expired onboarding sessions from the session store",
		Run: func(cmd *cobra.Command, args []string) {
			startSessionSweeper()
		},
	}

	rootCmd.AddCommand(apiServerCmd)
	apiServerCmd.Flags().StringVarP(&listenAddr, "listen-addr", "l", ":8080", "Hostname:port")

	rootCmd.AddCommand(sessionSweeperCmd)

	return rootCmd
}

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
