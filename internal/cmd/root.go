// Package cmd implements the mediascribe command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mediascribe/mediascribe/internal/observability"
)

// Exit codes for CLI failures.
const (
	ExitInvalidArgument = 2
	ExitFileWriteError  = 3
	ExitServiceError    = 4
	ExitSignalInt       = 130
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "mediascribe",
	Short: "Turn audio and video files into text summaries",
	Long: `mediascribe converts a directory of audio and video files into
per-file Markdown summaries.

A run walks five stages: discover media files, extract audio with
ffmpeg, upload to object storage, transcribe via a speech-to-text
service, and summarize with a chat model. Progress is checkpointed so
an interrupted run resumes where it left off.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.Init(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so stages can stop cleanly.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if ctx.Err() != nil {
			return ExitSignalInt
		}
		return 1
	}
	return 0
}

// exitError creates an error that records the intended exit code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}
