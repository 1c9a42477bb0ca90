package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/thermalgait/internal/utils"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:         "status <job_id>",
	Short:       "Show the state and result of a job",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		job, err := DB.GetJob(cmd.Context(), args[0])
		if err != nil {
			utils.ShowError("Failed to load job", err, nil)
			return err
		}
		if statusJSON {
			return printJSON(os.Stdout, job)
		}
		printJob(os.Stdout, job)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the job as JSON")
	rootCmd.AddCommand(statusCmd)
}
