package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skypro1111/chunkrec/internal/remote"
	"github.com/skypro1111/chunkrec/internal/transcription"
)

func newTranscribeCmd(a *app) *cobra.Command {
	var sessionID string
	var local, merged bool

	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Transcribe a whole session",
		Long:  "Transcribe a session on the chunk service. With --local the session is reassembled here and sent to the configured speech-to-text endpoint directly.\nWith --merged the per-chunk transcripts stored on the service are joined instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case merged:
				client, err := a.remoteClient()
				if err != nil {
					return err
				}
				text, err := client.Transcript(cmd.Context(), sessionID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), remote.Transcript{Text: text, Empty: text == "", Skipped: []int{}})

			case local:
				return a.transcribeLocal(cmd, sessionID)

			default:
				client, err := a.remoteClient()
				if err != nil {
					return err
				}
				t, err := client.Transcribe(cmd.Context(), sessionID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			}
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to transcribe")
	cmd.Flags().BoolVar(&local, "local", false, "Reassemble locally and call the speech-to-text endpoint directly")
	cmd.Flags().BoolVar(&merged, "merged", false, "Join the stored per-chunk transcripts")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagsMutuallyExclusive("local", "merged")

	return cmd
}

func (a *app) transcribeLocal(cmd *cobra.Command, sessionID string) error {
	cfg := a.config.Transcription
	if !cfg.Enabled() {
		return fmt.Errorf("transcription endpoint is not configured")
	}

	res, err := a.reassemble(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	out := remote.Transcript{Empty: true, Skipped: res.Skipped}
	if out.Skipped == nil {
		out.Skipped = []int{}
	}
	if res.Empty() {
		return printJSON(cmd.OutOrStdout(), out)
	}

	client, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Endpoint,
		APIKey:        cfg.APIKey,
		Timeout:       cfg.GetTimeoutDuration(),
		MaxRetries:    cfg.MaxRetries,
		MaxConcurrent: cfg.MaxConcurrent,
		Language:      cfg.Language,
		Model:         cfg.Model,
	}, nil, a.logger)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Transcribe(cmd.Context(), &transcription.Request{
		SessionID:  sessionID,
		SampleRate: a.config.Capture.SampleRate,
		Channels:   a.config.Capture.Channels,
		Size:       res.Size,
		Duration:   res.TotalDuration,
		Audio:      res.Reader,
	})
	if err != nil {
		return err
	}

	out.Text, out.Empty = result.Text, result.Empty
	return printJSON(cmd.OutOrStdout(), out)
}
