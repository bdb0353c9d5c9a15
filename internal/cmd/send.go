package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"touchgrass/internal/daemon"
)

func newSendCmd() *cobra.Command {
	var file bool
	cmd := &cobra.Command{
		Use:   "send <session-id> <text...>",
		Short: "Type text into a bridged session, or upload a file to its chat",
		Long: `Send queues text as if it were typed into the assistant's terminal.
With --file the second argument is a local path uploaded to the chat the
session is bound to; any further arguments become the caption.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			client := daemon.NewClient()

			if file {
				path, err := filepath.Abs(args[1])
				if err != nil {
					return err
				}
				if _, err := os.Stat(path); err != nil {
					return fmt.Errorf("file %s: %w", args[1], err)
				}
				caption := strings.Join(args[2:], " ")
				if err := client.SendFile(ctx, id, path, caption); err != nil {
					return sendError(id, err)
				}
				fmt.Printf("Sent %s to %s's chat\n", filepath.Base(path), id)
				return nil
			}

			text := strings.Join(args[1:], " ")
			if err := client.SendInput(ctx, id, text); err != nil {
				return sendError(id, err)
			}
			fmt.Printf("Queued for %s\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&file, "file", false, "Upload a file to the session's chat instead of typing text")
	return cmd
}

func sendError(id string, err error) error {
	if daemon.IsStatus(err, http.StatusNotFound) {
		return unknownSessionError(id)
	}
	var apiErr *daemon.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("daemon unreachable; is the session still running? (%v)", err)
	}
	return err
}
