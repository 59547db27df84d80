package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/podushkina/sarflow/internal/client"
	"github.com/podushkina/sarflow/internal/log"
	"github.com/podushkina/sarflow/internal/task"
	"github.com/spf13/cobra"
)

var (
	serverURL    string
	statePath    string
	pollInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "sarctl",
	Short:         "Start and follow InSAR processing tasks",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("SARFLOW_URL", "http://localhost:8080"), "sarflow server URL")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", defaultStatePath(), "file remembering the last task per job")
	rootCmd.PersistentFlags().DurationVar(&pollInterval, "interval", client.DefaultPollInterval, "status poll interval")

	rootCmd.AddCommand(startCmd(), watchCmd(), statusCmd(), logsCmd(), cancelCmd(), listCmd(), statsCmd(), searchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var spec task.JobSpec
	var follow bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start processing a job, or resume following it if already started",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Normalize()
			if err := spec.Validate(); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			store, err := client.OpenStateStore(statePath)
			if err != nil {
				return err
			}
			if !follow {
				id, err := newAPI().Start(ctx, spec)
				if err != nil {
					return err
				}
				if err := store.Put(spec.JobID, id); err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			}

			r := client.NewReconciler(newAPI(), store, pollInterval, log.GetLogger())
			updates, err := r.Run(ctx, spec)
			if err != nil {
				return err
			}
			return render(os.Stdout, updates)
		},
	}

	f := cmd.Flags()
	f.StringVar(&spec.JobID, "job", "", "job id (generated when empty)")
	f.StringVar(&spec.Name, "name", "", "task name")
	f.BoolVar(&follow, "follow", true, "follow the task until it finishes")
	areaFlags(cmd, &spec)
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch JOB_ID [TASK_ID]",
		Short: "Follow a job's task until it finishes",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newReconciler()
			if err != nil {
				return err
			}

			jobID := args[0]
			taskID := ""
			if len(args) == 2 {
				taskID = args[1]
			} else {
				store, err := client.OpenStateStore(statePath)
				if err != nil {
					return err
				}
				id, ok := store.Get(jobID)
				if !ok {
					return fmt.Errorf("no task remembered for job %s; pass the task id", jobID)
				}
				taskID = id
			}

			ctx, stop := signalContext()
			defer stop()
			return render(os.Stdout, r.Follow(ctx, jobID, taskID))
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Print a task's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newAPI().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return errors.New("task not found")
			}
			return printJSON(t)
		},
	}
}

func logsCmd() *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "logs TASK_ID",
		Short: "Print a task's log entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := newAPI().Logs(cmd.Context(), args[0], offset, limit)
			if err != nil {
				return err
			}
			for _, e := range page.Entries {
				printEntry(os.Stdout, e)
			}
			fmt.Fprintf(os.Stderr, "%d of %d entries\n", len(page.Entries), page.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "first entry to print")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to print")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := newAPI().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("task is unknown or already finished")
			}
			fmt.Println("cancelled")
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := newAPI().List(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range list {
				fmt.Printf("%s  %-10s %3d%%  %s  %s\n", s.ID, s.Status, s.Progress, s.StartedAt.Local().Format(time.DateTime), s.Name)
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := newAPI().Stats(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range []task.Status{task.StatusPending, task.StatusProcessing, task.StatusCompleted, task.StatusFailed, task.StatusCancelled} {
				fmt.Printf("%-10s %d\n", s, stats[s])
			}
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var spec task.JobSpec
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Preview the scenes and pair a job would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			preview, err := newAPI().Search(cmd.Context(), spec)
			if err != nil {
				return err
			}
			for _, p := range preview.Products {
				fmt.Printf("%s  %s  %s\n", p.StartTime.UTC().Format(time.DateTime), p.FlightDirection, p.Granule)
			}
			if preview.Pair == nil {
				return fmt.Errorf("no usable pair: %s", preview.PairError)
			}
			fmt.Printf("pair: %s + %s (%d days)\n", preview.Pair.Reference, preview.Pair.Secondary, preview.Pair.BaselineDays)
			return nil
		},
	}
	areaFlags(cmd, &spec)
	return cmd
}

// areaFlags registers the job area, date and workflow flags on cmd.
func areaFlags(cmd *cobra.Command, spec *task.JobSpec) {
	f := cmd.Flags()
	f.Float64Var(&spec.Area.North, "north", 0, "northern latitude")
	f.Float64Var(&spec.Area.South, "south", 0, "southern latitude")
	f.Float64Var(&spec.Area.East, "east", 0, "eastern longitude")
	f.Float64Var(&spec.Area.West, "west", 0, "western longitude")
	f.StringVar(&spec.StartDate, "from", "", "start date, YYYY-MM-DD")
	f.StringVar(&spec.EndDate, "to", "", "end date, YYYY-MM-DD")
	f.StringVar(&spec.Workflow.Satellite, "satellite", "", "platform (default Sentinel-1)")
	f.StringVar(&spec.Workflow.OrbitDirection, "orbit", "", "ASCENDING or DESCENDING")
	f.StringVar(&spec.Workflow.Polarization, "polarization", "", "polarization filter, e.g. VV")
	for _, name := range []string{"north", "south", "east", "west", "from", "to"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func newAPI() *client.API {
	return client.NewAPI(serverURL, nil)
}

func newReconciler() (*client.Reconciler, error) {
	store, err := client.OpenStateStore(statePath)
	if err != nil {
		return nil, err
	}
	return client.NewReconciler(newAPI(), store, pollInterval, log.GetLogger()), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".sarctl-state.json"
	}
	return filepath.Join(dir, "sarctl", "state.json")
}
