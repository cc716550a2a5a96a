package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "plccoms",
	Short: "PlcComS client CLI",
	Long:  `A command line interface for reading and writing Tecomat Foxtrot PLC variables through a PlcComS server.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
