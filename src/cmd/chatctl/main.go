package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chat-autoreply/src/config"
	"chat-autoreply/src/history"
	"chat-autoreply/src/llm"
	"chat-autoreply/src/logutil"
	"chat-autoreply/src/ocr"
	"chat-autoreply/src/runtimeinit"
	"chat-autoreply/src/textfilter"
)

const (
	maxFileSizeMB = 10
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
)

type cliOptions struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCmd(&cliOptions{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	var restoreLogs func()
	cmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Inspect and exercise the chat-autoreply pipeline from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Logs stay quiet unless asked for; stdout carries results.
			if opts.verbose {
				_, restoreLogs = logutil.Setup(logutil.Options{Verbose: true})
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if restoreLogs != nil {
				restoreLogs()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to user_config.json")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")

	cmd.AddCommand(
		newOCRCmd(opts),
		newReplyCmd(opts),
		newPingCmd(opts),
		newModelsCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
		newFilterCmd(),
	)
	return cmd
}

func (o *cliOptions) load() (*config.Config, config.Settings, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{ConfigPath: o.configPath})
	if err != nil {
		return nil, config.Settings{}, err
	}
	s, err := cfg.Settings()
	if err != nil {
		return nil, config.Settings{}, err
	}
	return cfg, s, nil
}

// bootstrapLLM installs the model client and fails when the endpoint is down.
func (o *cliOptions) bootstrapLLM() error {
	_, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions:   config.LoadOptions{ConfigPath: o.configPath},
		RequireLLM:    true,
		SkipClipboard: true,
	})
	return err
}

type OCRResult struct {
	Text      string  `json:"text"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
	Duration  float64 `json:"duration_seconds"`
	CharCount int     `json:"character_count"`
}

func newOCRCmd(opts *cliOptions) *cobra.Command {
	var filePath string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Run the OCR pipeline on a PNG or JPEG file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readImage(filePath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			_, s, err := opts.load()
			if err != nil {
				return err
			}
			p := ocr.NewProcessor(ocr.NewTesseractEngine(s.Monitoring.OCRLang, s.Paths.TessdataPrefix), nil, ocr.Options{
				Attempts:      s.Monitoring.OCRAttempts,
				MinConfidence: s.Monitoring.ConfidenceThreshold,
				MinLength:     s.Monitoring.MinTextLength,
			})
			ctx, cancel := context.WithTimeout(cmd.Context(), s.OCRDeadline())
			defer cancel()

			started := time.Now()
			text, err := p.ExtractImageData(ctx, data)
			if err != nil {
				return fmt.Errorf("OCR failed: %w", err)
			}
			return writeOCRResult(cmd.OutOrStdout(), text, filePath, time.Since(started), jsonOutput)
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "Path to image file (use '-' for stdin)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readImage(path string, stdin io.Reader) ([]byte, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(io.LimitReader(stdin, maxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("input file is empty")
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}
	if !bytes.HasPrefix(data, pngMagic) && !bytes.HasPrefix(data, jpegMagic) {
		return nil, fmt.Errorf("input is not a PNG or JPEG file")
	}
	return data, nil
}

func writeOCRResult(w io.Writer, text, source string, elapsed time.Duration, jsonOutput bool) error {
	if !jsonOutput {
		_, err := fmt.Fprint(w, text)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(OCRResult{
		Text:      text,
		Source:    source,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Duration:  elapsed.Seconds(),
		CharCount: len([]rune(text)),
	}); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

func newReplyCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <text>",
		Short: "Ask the model for a reply to a chat message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.bootstrapLLM(); err != nil {
				return err
			}
			reply, err := llm.Reply(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}

func newPingCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the model endpoint answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.bootstrapLLM(); err != nil {
				return err
			}
			c, err := llm.Default()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok (%s)\n", c.Model())
			return nil
		},
	}
}

func newModelsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the endpoint serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.bootstrapLLM(); err != nil {
				return err
			}
			names, err := llm.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent exchanges, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := opts.load()
			if err != nil {
				return err
			}
			store, err := history.Open(s.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			items, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ex := range items {
				fmt.Fprintf(out, "%s [%s] %s -> %s\n",
					ex.CreatedAt.Format("2006-01-02 15:04:05"), ex.Mode,
					logutil.Sanitize(ex.Incoming, 60), logutil.Sanitize(ex.Reply, 60))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of exchanges to show")
	return cmd
}

func newConfigCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or change user_config.json",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print the value at a dotted key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			v := cfg.Get(args[0])
			if v == nil {
				return fmt.Errorf("key %q is not set", args[0])
			}
			switch v.(type) {
			case map[string]any:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value at a dotted key and save",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			cfg.Set(args[0], parseValue(args[1]))
			s, err := cfg.Settings()
			if err != nil {
				return err
			}
			if err := s.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", args[0], cfg.Get(args[0]))
			return nil
		},
	})
	return cmd
}

// parseValue turns a command-line value into a bool, int or float when it
// looks like one.
func parseValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func newFilterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "filter <text>",
		Short: "Show how the OCR text filter scores a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.Join(args, " ")
			corrected := textfilter.CorrectOCRErrors(raw)
			cleaned := textfilter.Clean(corrected)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cleaned:    %s\n", cleaned)
			fmt.Fprintf(out, "quality:    %.1f\n", textfilter.Quality(cleaned))
			fmt.Fprintf(out, "meaningful: %t\n", textfilter.IsMeaningful(cleaned))
			return nil
		},
	}
}
