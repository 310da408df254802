package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wasmforge/wasmforge/cmd/cli/commands"
)

var rootCmd = &cobra.Command{
	Use:   "wasmforge",
	Short: "wasmforge CLI - submit and follow contract build and deploy jobs",
	Long: `wasmforge CLI submits contract sources for compilation, deploys the
resulting WASM artifacts and follows job progress through the wasmforge API.`,
}

func init() {
	commands.RegisterFlags(rootCmd)
	rootCmd.AddCommand(commands.GetCompileCmd())
	rootCmd.AddCommand(commands.GetDeployCmd())
	rootCmd.AddCommand(commands.GetJobsCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
