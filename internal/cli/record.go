package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/skypro1111/chunkrec/internal/capture"
	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/recorder"
)

type recordOptions struct {
	sessionID string
	input     string
	secondary string
	realtime  bool
	maxLength time.Duration
}

func newRecordCmd(a *app) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a session",
		Long:  "Record from the microphone, or replay a WAV file with --input, into a chunk service session.\nA new session is created unless --session is given. Ctrl+C stops the recording.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRecord(ctx, a, cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Existing session to record into")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "WAV file to replay instead of the microphone")
	cmd.Flags().StringVar(&opts.secondary, "secondary", "", "WAV file mixed in as the secondary source (mixed-source mode)")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "Pace WAV input at its sample rate")
	cmd.Flags().DurationVar(&opts.maxLength, "max-duration", 0, "Stop automatically after this long (0 for no limit)")

	return cmd
}

func runRecord(ctx context.Context, a *app, cmd *cobra.Command, opts *recordOptions) error {
	client, err := a.remoteClient()
	if err != nil {
		return err
	}
	local, err := a.localStore()
	if err != nil {
		return err
	}
	defer local.Close()

	captureCfg := a.captureConfig()
	sources, err := a.sources(opts, &captureCfg)
	if err != nil {
		return err
	}
	mode := chunk.ModeSingleSource
	if sources.Secondary != nil {
		mode = chunk.ModeMixedSource
	}

	rec := recorder.New(a.recorderConfig(), captureCfg, sources, local, client, client,
		recorder.WithLogger(a.logger),
		recorder.WithErrorHandler(func(err error) {
			a.logger.Warn("Recording error", slog.String("error", err.Error()))
		}),
	)
	defer rec.Close()

	recovered, err := rec.Recover(ctx)
	if err != nil {
		a.logger.Warn("Recovery of abandoned sessions failed", slog.String("error", err.Error()))
	}
	for _, r := range recovered {
		a.logger.Info("Recovered abandoned session",
			slog.String("session_id", r.SessionID),
			slog.Float64("duration", r.Duration))
	}

	sessionID := opts.sessionID
	if sessionID == "" {
		s, err := client.CreateSession(ctx, a.owner())
		if err != nil {
			return err
		}
		sessionID = s.ID
	}

	if err := rec.Start(ctx, sessionID, mode); err != nil {
		return fmt.Errorf("starting recording: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Recording session %s (%s)\n", sessionID, mode)

	var limit <-chan time.Time
	if opts.maxLength > 0 {
		timer := time.NewTimer(opts.maxLength)
		defer timer.Stop()
		limit = timer.C
	}

	select {
	case <-ctx.Done():
	case <-rec.CaptureDone():
	case <-limit:
	}

	// the signal context is done on Ctrl+C; finish the stop on a fresh one
	stopCtx, cancel := context.WithTimeout(context.Background(), a.recorderConfig().DrainTimeout+a.recorderConfig().StatusTimeout)
	defer cancel()

	result, err := rec.Stop(stopCtx)
	if result != nil {
		if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d chunk(s) failed to upload; run 'chunkctl retry --session %s'\n", len(result.Failed), sessionID)
	}
	return nil
}

func (a *app) captureConfig() capture.Config {
	c := a.config.Capture
	return capture.Config{
		ChunkDuration: c.GetChunkDuration(),
		StopTimeout:   c.GetStopFlushTimeout(),
		SampleRate:    c.SampleRate,
		Channels:      c.Channels,
		FrameSize:     c.FrameSize,
		PrimaryGain:   c.MicGain,
		SecondaryGain: c.SecondaryGain,
	}
}

func (a *app) recorderConfig() recorder.Config {
	u := a.config.Upload
	return recorder.Config{
		MaxParallelUploads: u.MaxParallel,
		DrainTimeout:       u.GetDrainTimeoutDuration(),
		UploadTimeout:      u.GetRequestTimeoutDuration(),
		StatusTimeout:      5 * time.Second,
	}
}

// sources builds the capture inputs. WAV input dictates the capture format.
func (a *app) sources(opts *recordOptions, cfg *capture.Config) (capture.Sources, error) {
	var sources capture.Sources

	if opts.input != "" {
		rate, channels, err := wavFormat(opts.input)
		if err != nil {
			return sources, err
		}
		if rate != cfg.SampleRate || channels != cfg.Channels {
			a.logger.Info("Using WAV input format",
				slog.Int("sample_rate", rate),
				slog.Int("channels", channels))
		}
		cfg.SampleRate, cfg.Channels = rate, channels
		sources.Primary = capture.NewWAVFileSource(opts.input, opts.realtime)
	} else {
		mic, err := capture.NewMicrophoneSource(cfg.SampleRate, cfg.Channels, cfg.FrameSize)
		if err != nil {
			return sources, err
		}
		sources.Primary = mic
	}

	if opts.secondary != "" {
		rate, channels, err := wavFormat(opts.secondary)
		if err != nil {
			return sources, err
		}
		if rate != cfg.SampleRate || channels != cfg.Channels {
			return sources, fmt.Errorf("%w: secondary input is %d Hz/%d ch, capture is %d Hz/%d ch",
				chunk.ErrSourceUnavailable, rate, channels, cfg.SampleRate, cfg.Channels)
		}
		sources.Secondary = capture.NewWAVFileSource(opts.secondary, opts.realtime)
	}

	return sources, nil
}

// wavFormat reads the sample rate and channel count from a WAV header
func wavFormat(path string) (sampleRate, channels int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", chunk.ErrSourceUnavailable, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, 0, fmt.Errorf("%w: invalid WAV file %s", chunk.ErrSourceUnavailable, path)
	}
	if dec.BitDepth != 16 {
		return 0, 0, fmt.Errorf("%w: %s is %d-bit, only 16-bit PCM is supported", chunk.ErrSourceUnavailable, path, dec.BitDepth)
	}
	return int(dec.SampleRate), int(dec.NumChans), nil
}
