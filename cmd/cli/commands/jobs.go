package commands

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/wasmforge/wasmforge/internal/db/models"
)

// watchPollInterval is how often the watch command polls the job.
const watchPollInterval = 2 * time.Second

// GetJobsCmd returns the jobs command group.
func GetJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect compile and deploy jobs",
	}
	cmd.AddCommand(getJobCmd())
	cmd.AddCommand(listJobsCmd())
	cmd.AddCommand(watchJobCmd())
	return cmd
}

func getJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Get a job by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initClient(); err != nil {
				return err
			}
			job, err := apiClient.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJob(job)
			printLogs(job.Logs)
			return nil
		},
	}
}

func listJobsCmd() *cobra.Command {
	var projectID, status, jobType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initClient(); err != nil {
				return err
			}

			query := url.Values{}
			if projectID != "" {
				query.Set("project_id", projectID)
			}
			if status != "" {
				query.Set("status", status)
			}
			if jobType != "" {
				query.Set("type", jobType)
			}

			jobs, err := apiClient.ListJobs(cmd.Context(), query)
			if err != nil {
				return err
			}
			for i := range jobs {
				printJob(&jobs[i])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, flagProject, "p", "", "Filter by project id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&jobType, "type", "", "Filter by job type")
	return cmd
}

// watchJobCmd polls a job until it reaches a terminal status, printing log
// records as they are persisted.
func watchJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initClient(); err != nil {
				return err
			}

			printed := 0
			for {
				job, err := apiClient.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				// logs holds the tail, so the printed offset tracks the
				// overall count, not the slice length.
				skip := printed - (job.LogsCount - len(job.Logs))
				if skip < 0 {
					skip = 0
				}
				for _, record := range job.Logs[min(skip, len(job.Logs)):] {
					fmt.Printf("[%s] %s\n", record.Kind, record.Message)
				}
				printed = job.LogsCount

				if job.Status.Terminal() {
					printJob(job)
					return nil
				}

				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(watchPollInterval):
				}
			}
		},
	}
}

func printJob(job *models.Job) {
	fmt.Printf("%s  %-8s %-10s project=%s created=%s\n",
		job.ID, job.Type, job.Status, job.ProjectID, job.CreatedAt.Format(time.RFC3339))
	if job.Error != "" {
		fmt.Printf("  error: %s\n", job.Error)
	}
}

func printLogs(logs models.LogTail) {
	for _, record := range logs {
		fmt.Printf("[%s] %s\n", record.Kind, record.Message)
	}
}
