package cli

import (
	"github.com/spf13/cobra"

	"github.com/skypro1111/chunkrec/internal/capture"
	"github.com/skypro1111/chunkrec/internal/recorder"
)

type recoveredReport struct {
	SessionID string  `json:"session_id"`
	Duration  float64 `json:"duration"`
	Chunks    int     `json:"chunks"`
	Reupload  int     `json:"reuploaded"`
	Error     string  `json:"error,omitempty"`
}

func newRecoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Close sessions abandoned by a crash",
		Long:  "Find recordings that never stopped cleanly, re-upload their cached chunks and mark them completed with the best-known duration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.remoteClient()
			if err != nil {
				return err
			}
			local, err := a.localStore()
			if err != nil {
				return err
			}
			defer local.Close()

			rec := recorder.New(a.recorderConfig(), a.captureConfig(), capture.Sources{}, local, client, client,
				recorder.WithLogger(a.logger))
			defer rec.Close()

			recovered, err := rec.Recover(cmd.Context())
			if err != nil {
				return err
			}

			reports := make([]recoveredReport, 0, len(recovered))
			for _, r := range recovered {
				report := recoveredReport{SessionID: r.SessionID, Duration: r.Duration, Chunks: r.Chunks, Reupload: r.Reupload}
				if r.Err != nil {
					report.Error = r.Err.Error()
				}
				reports = append(reports, report)
			}
			return printJSON(cmd.OutOrStdout(), reports)
		},
	}
}
