package main

import (
	"log"

	"github.com/spf13/cobra"
)

// rootCmd runs the server when no subcommand is given.
var rootCmd = &cobra.Command{
	Use:   "skygames-rooms",
	Short: "Room matchmaking and friend presence for Sky Games",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err.Error())
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}
