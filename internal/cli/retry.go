package cli

import (
	"github.com/spf13/cobra"

	"github.com/skypro1111/chunkrec/internal/capture"
	"github.com/skypro1111/chunkrec/internal/recorder"
)

type retryReport struct {
	SessionID string         `json:"session_id"`
	Uploaded  []int          `json:"uploaded"`
	Created   int            `json:"created"`
	Failed    map[int]string `json:"failed,omitempty"`
	Purged    bool           `json:"purged"`
}

func newRetryCmd(a *app) *cobra.Command {
	var sessionID string
	var purge bool

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-upload a session's locally cached chunks",
		Long:  "Re-upload every chunk cached locally for a session. Uploads overwrite by chunk id, so retrying is always safe.\nWith --purge the local copy is deleted once every chunk was uploaded.",
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

			res, retryErr := rec.Retry(cmd.Context(), sessionID)
			if res == nil {
				return retryErr
			}

			report := retryReport{SessionID: res.SessionID, Uploaded: res.Uploaded, Created: res.Created}
			if len(res.Failed) > 0 {
				report.Failed = make(map[int]string, len(res.Failed))
				for idx, err := range res.Failed {
					report.Failed[idx] = err.Error()
				}
			}

			if purge && retryErr == nil {
				if err := rec.Purge(cmd.Context(), sessionID); err != nil {
					return err
				}
				report.Purged = true
			}

			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return retryErr
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to re-upload")
	cmd.Flags().BoolVar(&purge, "purge", false, "Delete the local copy after a complete re-upload")
	cmd.MarkFlagRequired("session")

	return cmd
}
