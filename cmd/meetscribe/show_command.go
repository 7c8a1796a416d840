package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"meetscribe/internal/ingest"
	"meetscribe/internal/meetings"
	"meetscribe/internal/transcript"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var transcriptOnly bool

	cmd := &cobra.Command{
		Use:   "show <meeting-id>",
		Short: "Show a meeting, its transcript, and summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withStore(func(store *meetings.Store) error {
				m, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if m == nil {
					return fmt.Errorf("meeting %s not found", id)
				}
				if asJSON {
					return writeJSON(cmd, ingest.NewMeetingResponse(m))
				}
				out := cmd.OutOrStdout()
				if transcriptOnly {
					fmt.Fprintln(out, strings.TrimSpace(m.Transcript.Text))
					return nil
				}
				fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, meetingRows(m)))
				if summary := strings.TrimSpace(m.Transcript.Summary); summary != "" {
					fmt.Fprintln(out, "\nSummary")
					fmt.Fprintln(out, summary)
				}
				if text := strings.TrimSpace(m.Transcript.Text); text != "" {
					fmt.Fprintln(out, "\nTranscript")
					fmt.Fprintln(out, text)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&transcriptOnly, "transcript", false, "Print only the transcript text")
	return cmd
}

func meetingRows(m *meetings.Meeting) [][]string {
	rows := [][]string{
		{"ID", m.ID},
		{"Title", orDash(m.Title)},
		{"Status", statusLabel(string(m.Status))},
		{"Created", formatTime(m.CreatedAt)},
		{"File", orDash(m.FileName)},
		{"Size", formatBytes(m.FileSize)},
		{"Duration", formatDuration(m.DurationSeconds)},
		{"Download URL", orDash(m.DownloadURL)},
		{"Transcript", statusLabel(m.Transcript.Status)},
	}
	if m.Transcript.Language != "" {
		rows = append(rows, []string{"Language", m.Transcript.Language})
	}
	var gaps []int
	for _, chunk := range m.Transcript.Chunks {
		if chunk.Status == transcript.ChunkFailed {
			gaps = append(gaps, chunk.Index)
		}
	}
	if len(gaps) > 0 {
		rows = append(rows, []string{"Missing chunks", joinInts(gaps)})
	}
	if m.Transcript.SummaryError != "" {
		rows = append(rows, []string{"Summary error", m.Transcript.SummaryError})
	}
	if m.Status == meetings.StatusFailed {
		rows = append(rows,
			[]string{"Error", orDash(m.ErrorMessage)},
			[]string{"Error kind", orDash(m.ErrorKind)},
		)
		if m.LocalPath != "" {
			rows = append(rows, []string{"Local copy", m.LocalPath})
		}
	}
	return rows
}
