package main

import "github.com/spf13/cobra"

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Manage Census ZCTA boundary data",
	Long:  "Fetch TIGER/Line ZCTA archives and load them into the local boundary cache or Postgres.",
}

func init() { rootCmd.AddCommand(boundariesCmd) }
