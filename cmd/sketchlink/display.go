package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/sketchlink/channel"
	"github.com/vinayprograms/sketchlink/generation"
	"github.com/vinayprograms/sketchlink/message"
	"github.com/vinayprograms/sketchlink/relay"
	"github.com/vinayprograms/sketchlink/shutdown"
)

var displayAddr string

var displayCmd = &cobra.Command{
	Use:   "display",
	Short: "Relay tasks to the generation backend",
	Long: "Listens on the channel for tasks, runs each one against the generation " +
		"backend and reports status and results back. Serves the latest message " +
		"per task over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := setup(ctx, "display")
		if err != nil {
			return err
		}
		coord := rt.shutdown

		client, err := generation.New(rt.cfg.GenerationConfig())
		if err != nil {
			coord.Shutdown(ctx)
			return err
		}

		r, err := relay.New(relay.Config{
			Channel:      rt.service,
			Generator:    client,
			InlineResult: rt.cfg.Backend.InlineResult,
			Logger:       rt.logger,
		})
		if err != nil {
			coord.Shutdown(ctx)
			return err
		}
		if err := r.Start(ctx); err != nil {
			coord.Shutdown(ctx)
			return err
		}
		coord.Register("relay", shutdown.PhaseIntake, func(context.Context) error { return r.Stop() })

		tracker := channel.NewTracker(rt.service)
		coord.Register("tracker", shutdown.PhaseIntake, func(context.Context) error { tracker.Stop(); return nil })

		if displayAddr != "" {
			srv := &http.Server{
				Addr:              displayAddr,
				Handler:           statusRouter(tracker, rt.service),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					rt.logger.Error("status server failed", map[string]interface{}{"error": err.Error()})
				}
			}()
			coord.Register("http", shutdown.PhaseIntake, srv.Shutdown)
			rt.logger.Info("status server listening", map[string]interface{}{"addr": displayAddr})
		}

		coord.HandleSignals()
		<-coord.Done()
		return coord.Err()
	},
}

func init() {
	displayCmd.Flags().StringVar(&displayAddr, "addr", ":8090", "status HTTP address (empty disables)")
	rootCmd.AddCommand(displayCmd)
}

// statusRouter exposes the tracker:
//
//	GET /healthz          strategy name
//	GET /tasks            known task ids
//	GET /tasks/{taskID}   latest message for a task, in wire form
func statusRouter(tracker *channel.Tracker, svc *channel.Service) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		name := "none"
		if st := svc.Strategy(); st != nil {
			name = st.Name()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"strategy": name,
			"messages": tracker.Count(),
		})
	})

	r.Get("/tasks", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tracker.Tasks()})
	})

	r.Get("/tasks/{taskID}", func(w http.ResponseWriter, req *http.Request) {
		msg, ok := tracker.LastFor(chi.URLParam(req, "taskID"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown task"})
			return
		}
		data, err := message.Marshal(msg)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
