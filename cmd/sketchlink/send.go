package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/sketchlink/channel"
	"github.com/vinayprograms/sketchlink/message"
	"github.com/vinayprograms/sketchlink/relay"
)

var (
	sendPositive string
	sendNegative string
	sendTimeout  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <sketch.png>",
	Short: "Send a sketch as a task and wait for its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		rt, err := setup(ctx, "send")
		if err != nil {
			return err
		}
		defer rt.shutdown.Shutdown(context.Background())

		task := message.Task{
			TaskID:         uuid.NewString(),
			ImageData:      base64.StdEncoding.EncodeToString(raw),
			PositivePrompt: sendPositive,
			NegativePrompt: sendNegative,
		}

		ctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		res, err := sendAndWait(ctx, rt.service, task, func(s message.Status) {
			line := s.Status
			if s.Progress != nil && s.Total != nil {
				line = fmt.Sprintf("%s %g/%g", s.Status, *s.Progress, *s.Total)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), line)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.ImageURL)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendPositive, "prompt", "p", "", "positive prompt")
	sendCmd.Flags().StringVarP(&sendNegative, "negative", "n", "", "negative prompt")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Minute, "how long to wait for a result")
	rootCmd.AddCommand(sendCmd)
}

// sendAndWait sends task and blocks until its Result or failed Status
// arrives, reporting every other Status for it to onStatus.
func sendAndWait(ctx context.Context, svc *channel.Service, task message.Task, onStatus func(message.Status)) (message.Result, error) {
	type outcome struct {
		res message.Result
		err error
	}
	done := make(chan outcome, 1)
	finish := func(o outcome) {
		select {
		case done <- o:
		default:
		}
	}

	unsub := svc.Receive(func(m message.Message) {
		if m.ID() != task.TaskID {
			return
		}
		switch v := m.(type) {
		case message.Result:
			finish(outcome{res: v})
		case message.Status:
			if strings.HasPrefix(v.Status, relay.StatusFailed) {
				finish(outcome{err: fmt.Errorf("task %s: %s", task.TaskID, v.Status)})
				return
			}
			if onStatus != nil {
				onStatus(v)
			}
		}
	})
	defer unsub()

	if err := svc.Send(task); err != nil {
		return message.Result{}, err
	}

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return message.Result{}, fmt.Errorf("waiting for task %s: %w", task.TaskID, ctx.Err())
	}
}
