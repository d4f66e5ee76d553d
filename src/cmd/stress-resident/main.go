package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"chat-autoreply/src/messages"
	"chat-autoreply/src/singleinstance"
)

type stressOptions struct {
	n        int
	command  string
	deadline time.Duration
}

type tally struct {
	ok, busy, missing, failed int32
}

func main() {
	if err := newRootCmd(&stressOptions{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *stressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-resident",
		Short:         "Send many concurrent control requests to the resident",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runWithOptions(*opts, singleinstance.NewClient, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of concurrent clients")
	cmd.Flags().StringVar(&opts.command, "command", "STATUS", "command each client sends")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 5*time.Second, "per-client timeout")
	return cmd
}

func runWithOptions(opts stressOptions, newClient func() singleinstance.Client, out io.Writer) (tally, error) {
	cmd, err := messages.ParseCommand(opts.command)
	if err != nil {
		return tally{}, err
	}

	var wg sync.WaitGroup
	var t tally
	start := time.Now()
	for i := 0; i < opts.n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), opts.deadline)
			defer cancel()
			delegated, _, err := newClient().Send(ctx, cmd)
			switch {
			case err != nil && strings.Contains(strings.ToLower(err.Error()), "busy"):
				atomic.AddInt32(&t.busy, 1)
			case err != nil:
				atomic.AddInt32(&t.failed, 1)
			case !delegated:
				atomic.AddInt32(&t.missing, 1)
			default:
				atomic.AddInt32(&t.ok, 1)
			}
		}()
	}
	wg.Wait()
	fmt.Fprintf(out, "command=%s launched=%d ok=%d busy=%d missing=%d err=%d elapsed=%s\n",
		cmd, opts.n, t.ok, t.busy, t.missing, t.failed, time.Since(start).Round(time.Millisecond))
	return t, nil
}
