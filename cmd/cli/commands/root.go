// Package commands implements the CLI subcommands.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wasmforge/wasmforge/pkg/api/v1/client"
)

// flag names
const (
	flagServerAddress = "server-address"
	flagToken         = "token"
	flagProject       = "project"
)

// environment variable names
const (
	envServerAddress = "WASMFORGE_SERVER_ADDRESS"
	envToken         = "WASMFORGE_API_TOKEN"
)

var (
	// apiClient is the shared API client instance
	apiClient *client.APIClient
	// serverAddress holds the target API server address
	serverAddress string
	// authToken holds the bearer token
	authToken string
)

// initClient initializes the shared API client from flags and environment.
func initClient() error {
	if serverAddress == "" {
		serverAddress = os.Getenv(envServerAddress)
	}
	if authToken == "" {
		authToken = os.Getenv(envToken)
	}

	opts := client.DefaultOptions()
	if serverAddress != "" {
		opts.BaseURL = serverAddress
	}
	opts.AuthToken = authToken

	var err error
	apiClient, err = client.NewClient(opts)
	return err
}

// RegisterFlags attaches the shared flags to the root command.
func RegisterFlags(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&serverAddress, flagServerAddress, "s", "",
		"Address of the API server (env: "+envServerAddress+")")
	root.PersistentFlags().StringVarP(&authToken, flagToken, "t", "",
		"API bearer token (env: "+envToken+")")
}
