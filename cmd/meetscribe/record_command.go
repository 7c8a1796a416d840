package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"meetscribe/internal/app"
	"meetscribe/internal/capture"
	"meetscribe/internal/config"
	"meetscribe/internal/logging"
	"meetscribe/internal/recording"
	"meetscribe/internal/services"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var title string
	var id string
	var fileName string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "record [file|-]",
		Short: "Record a meeting from a media file or stdin",
		Long: "Record a meeting from a media file or from stdin (for example an ffmpeg pipe).\n" +
			"Media is uploaded every flush interval and transcribed chunk by chunk.\n" +
			"Interrupting the command stops capture and finalizes what was received.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			input, closeInput, err := openRecordInput(args)
			if err != nil {
				return err
			}
			defer closeInput()
			if fileName == "" && len(args) == 1 && args[0] != "-" {
				fileName = args[0]
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			printer := newProgressPrinter(out, !quiet && isTerminal(out))
			result, err := a.Manager.Record(signalCtx, recording.StartOptions{
				ID:         strings.TrimSpace(id),
				Title:      strings.TrimSpace(title),
				FileName:   fileName,
				Source:     &capture.ReaderSource{R: input},
				OnProgress: printer.update,
			})
			printer.done()
			if err != nil {
				var fallback *services.FallbackUploadError
				if errors.As(err, &fallback) && fallback.LocalPath != "" {
					fmt.Fprintf(out, "Upload failed; recording saved to %s\n", fallback.LocalPath)
				}
				return err
			}
			printRecordResult(out, result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Meeting title")
	cmd.Flags().StringVar(&id, "id", "", "Session id (generated when empty)")
	cmd.Flags().StringVar(&fileName, "name", "", "Object file name in the blob store")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the live progress line")
	return cmd
}

func openRecordInput(args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return os.Stdin, func() {}, nil
	}
	path, err := config.ExpandPath(args[0])
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open recording input: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

func printRecordResult(out io.Writer, result recording.Result) {
	rows := [][]string{
		{"Meeting", result.SessionID},
		{"Object", result.ObjectName},
		{"Size", formatBytes(result.Size)},
		{"Download URL", orDash(result.Reference.URL)},
		{"Upload", uploadMode(result.Monolithic)},
		{"Transcript", statusLabel(result.Transcript.Status)},
	}
	if len(result.Gaps) > 0 {
		rows = append(rows, []string{"Missing chunks", joinInts(result.Gaps)})
	}
	if result.Transcript.SummaryError != "" {
		rows = append(rows, []string{"Summary error", result.Transcript.SummaryError})
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows))
	if summary := strings.TrimSpace(result.Transcript.Summary); summary != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, summary)
	}
}

func uploadMode(monolithic bool) string {
	if monolithic {
		return "Single request (fallback)"
	}
	return "Resumable"
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}

// progressPrinter rewrites a single status line on a terminal.
type progressPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	printed bool
}

func newProgressPrinter(out io.Writer, enabled bool) *progressPrinter {
	return &progressPrinter{out: out, enabled: enabled}
}

func (p *progressPrinter) update(progress recording.Progress) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	line := fmt.Sprintf("Uploaded %s of %s in %d chunks", formatBytes(progress.Offset), formatBytes(progress.Expected), progress.Chunks)
	if progress.Fallback {
		line = fmt.Sprintf("Captured %s (uploading when the meeting ends)", formatBytes(progress.Expected))
	}
	fmt.Fprintf(p.out, "\r\x1b[2K%s", line)
	p.printed = true
}

func (p *progressPrinter) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed {
		fmt.Fprintln(p.out)
		p.printed = false
	}
	p.enabled = false
}
