package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"meetscribe/internal/ingest"
	"meetscribe/internal/meetings"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recorded meetings",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *meetings.Store) error {
				list, err := store.List(cmd.Context(), filter...)
				if err != nil {
					return err
				}
				if asJSON {
					resp := ingest.MeetingListResponse{Meetings: make([]ingest.MeetingResponse, 0, len(list))}
					for _, m := range list {
						resp.Meetings = append(resp.Meetings, ingest.NewMeetingResponse(m))
					}
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No meetings recorded")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, m := range list {
					rows = append(rows, []string{
						m.ID,
						orDash(m.Title),
						statusLabel(string(m.Status)),
						statusLabel(m.Transcript.Status),
						formatBytes(m.FileSize),
						formatTime(m.CreatedAt),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"ID", "Title", "Status", "Transcript", "Size", "Created"}, rows, 4))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, recording, processing, completed, failed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func parseStatuses(values []string) ([]meetings.Status, error) {
	valid := map[meetings.Status]bool{
		meetings.StatusPending:    true,
		meetings.StatusRecording:  true,
		meetings.StatusProcessing: true,
		meetings.StatusCompleted:  true,
		meetings.StatusFailed:     true,
	}
	out := make([]meetings.Status, 0, len(values))
	for _, value := range values {
		status := meetings.Status(strings.ToLower(strings.TrimSpace(value)))
		if status == "" {
			continue
		}
		if !valid[status] {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		out = append(out, status)
	}
	return out, nil
}
