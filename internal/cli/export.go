package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/skypro1111/chunkrec/internal/audio"
	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/reassembly"
)

type exportReport struct {
	SessionID string  `json:"session_id"`
	Output    string  `json:"output"`
	Source    string  `json:"source"`
	Chunks    int     `json:"chunks"`
	Skipped   []int   `json:"skipped"`
	Duration  float64 `json:"duration"`
	Bytes     int64   `json:"bytes"`
}

func newExportCmd(a *app) *cobra.Command {
	var sessionID, out string
	var sampleRate, channels int

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Reassemble a session into a WAV file",
		Long:  "Reassemble a session from the local cache, falling back to the chunk service, and write it as a WAV file.\nMissing chunks are skipped and reported.",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.reassemble(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			if res.Empty() {
				return fmt.Errorf("session %s has no audio to export", sessionID)
			}

			if sampleRate <= 0 {
				sampleRate = a.config.Capture.SampleRate
			}
			if channels <= 0 {
				channels = a.config.Capture.Channels
			}
			if err := writeWAVFile(out, res, sampleRate, channels); err != nil {
				return err
			}

			report := exportReport{
				SessionID: sessionID,
				Output:    out,
				Source:    res.Source,
				Chunks:    len(res.Chunks),
				Skipped:   res.Skipped,
				Duration:  res.TotalDuration,
				Bytes:     res.Size,
			}
			if report.Skipped == nil {
				report.Skipped = []int{}
			}
			if err := res.Incomplete(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to export")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output WAV file")
	cmd.Flags().IntVar(&sampleRate, "sample-rate", 0, "Sample rate of the recorded PCM (default from capture config)")
	cmd.Flags().IntVar(&channels, "channels", 0, "Channel count of the recorded PCM (default from capture config)")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("out")

	return cmd
}

// reassemble prefers the local cache and falls back to the chunk service
func (a *app) reassemble(ctx context.Context, sessionID string) (*reassembly.Result, error) {
	client, err := a.remoteClient()
	if err != nil {
		return nil, err
	}

	var src reassembly.LocalSource
	if local, err := a.localStore(); err != nil {
		a.logger.Warn("Local cache unavailable, using chunk service only", slog.String("error", err.Error()))
	} else {
		defer local.Close()
		src = local
	}

	engine := reassembly.New(src, client,
		reassembly.WithStreamingThreshold(a.config.Reassembly.StreamingThreshold),
		reassembly.WithLogger(a.logger),
	)
	return engine.Reassemble(ctx, sessionID)
}

// writeWAVFile encodes the reassembled stream chunk by chunk
func writeWAVFile(path string, res *reassembly.Result, sampleRate, channels int) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("output path cannot be empty")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	format := &goaudio.Format{NumChannels: channels, SampleRate: sampleRate}

	for _, c := range res.Chunks {
		if err := enc.Write(toIntBuffer(c, format)); err != nil {
			f.Close()
			return fmt.Errorf("encode chunk %d: %w", c.Index, err)
		}
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return f.Close()
}

func toIntBuffer(c chunk.AudioChunk, format *goaudio.Format) *goaudio.IntBuffer {
	samples := audio.BytesToSamples(c.Data)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	return &goaudio.IntBuffer{Format: format, Data: data, SourceBitDepth: 16}
}
