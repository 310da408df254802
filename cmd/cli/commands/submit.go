package commands

import (
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wasmforge/wasmforge/internal/types"
	"github.com/wasmforge/wasmforge/pkg/api/v1/handlers"
)

// sourceExtensions are the file types collected from a compile directory.
var sourceExtensions = map[string]bool{
	".rs":   true,
	".toml": true,
	".lock": true,
}

// GetCompileCmd returns the compile submission command.
func GetCompileCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "compile <source-dir>",
		Short: "Submit a source directory for compilation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initClient(); err != nil {
				return err
			}

			files, err := collectSources(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no source files found under %s", args[0])
			}

			resp, err := apiClient.SubmitCompile(cmd.Context(), handlers.CompileRequest{
				ProjectID: projectID,
				Files:     files,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Compile job accepted: %s\n", resp.JobID)
			printLogs(resp.Logs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, flagProject, "p", "", "Project id (required)")
	_ = cmd.MarkFlagRequired(flagProject)
	return cmd
}

// GetDeployCmd returns the deploy submission command.
func GetDeployCmd() *cobra.Command {
	var projectID, network string

	cmd := &cobra.Command{
		Use:   "deploy <wasm-file>",
		Short: "Submit a compiled WASM artifact for deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initClient(); err != nil {
				return err
			}

			wasm, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read artifact: %w", err)
			}

			resp, err := apiClient.SubmitDeploy(cmd.Context(), handlers.DeployRequest{
				ProjectID:  projectID,
				WasmBase64: base64.StdEncoding.EncodeToString(wasm),
				Network:    network,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Deploy job accepted: %s\n", resp.JobID)
			printLogs(resp.Logs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, flagProject, "p", "", "Project id (required)")
	cmd.Flags().StringVarP(&network, "network", "n", "", "Target network (testnet or mainnet)")
	_ = cmd.MarkFlagRequired(flagProject)
	return cmd
}

// collectSources gathers source files relative to root, skipping build output.
func collectSources(root string) ([]types.SourceFile, error) {
	var files []types.SourceFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "target" || strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, types.SourceFile{
			Name:    filepath.ToSlash(rel),
			Content: string(content),
		})
		return nil
	})
	return files, err
}
