package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adclip/adclip/internal/config"
)

func main() {
	_ = godotenv.Load() // .env is optional

	root := &cobra.Command{
		Use:          "adclip",
		Short:        "Transcribe, shorten and cut video ads",
		Version:      config.Version,
		SilenceUsage: true,
	}
	root.SilenceErrors = true
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)

	root.AddCommand(serveCmd(), cutCmd(), doctorCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job runner and inbox watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			origins, _ := cmd.Flags().GetStringSlice("allow-origin")
			return serve(origins)
		},
	}
	cmd.Flags().StringSlice("allow-origin", nil, "Extra browser origins allowed by CORS")
	return cmd
}

func cutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cut <video-path>",
		Short: "Render the lines of a transcript file into landscape and vertical clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transcriptFile, _ := cmd.Flags().GetString("transcript")
			watermark, _ := cmd.Flags().GetBool("watermark")
			return cut(cmd, args[0], transcriptFile, watermark)
		},
	}
	cmd.Flags().String("transcript", "", "JSON file holding the transcript lines to keep")
	cmd.Flags().Bool("watermark", false, "Stamp the configured watermarks on the outputs")
	_ = cmd.MarkFlagRequired("transcript")
	return cmd
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that ffmpeg, ffprobe and whisper are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doctor(cmd)
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the stored API token, creating one if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rotate, _ := cmd.Flags().GetBool("rotate")
			return token(cmd, rotate)
		},
	}
	cmd.Flags().Bool("rotate", false, "Replace the stored token with a new one")
	return cmd
}
