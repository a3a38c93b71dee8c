package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hydroplante/internal/replay"
	"github.com/roach88/hydroplante/internal/statesync"
)

// SyncStatus is the output of the sync subcommands.
type SyncStatus struct {
	Endpoint string               `json:"endpoint"`
	State    string               `json:"state"`
	Pending  bool                 `json:"pending"`
	Outcome  string               `json:"outcome,omitempty"`
	Retried  *bool                `json:"retried,omitempty"`
	Local    statesync.PlantState `json:"local"`

	// Set by status --remote.
	Remote   *statesync.PlantState `json:"remote,omitempty"`
	Revision string                `json:"revision,omitempty"`
}

// Text implements Texter.
func (s SyncStatus) Text() string {
	var b strings.Builder
	if s.Outcome != "" {
		fmt.Fprintf(&b, "Sync %s\n", s.Outcome)
	}
	if s.Retried != nil && !*s.Retried {
		b.WriteString("Nothing pending; no retry made\n")
	}
	fmt.Fprintf(&b, "Endpoint:          %s\n", s.Endpoint)
	fmt.Fprintf(&b, "State:             %s\n", s.State)
	fmt.Fprintf(&b, "Last watering:     %s\n", formatTimestamp(s.Local.LastWatering))
	fmt.Fprintf(&b, "Last notification: %s", formatTimestamp(s.Local.LastNotification))
	if s.Remote != nil {
		revision := s.Revision
		if revision == "" {
			revision = "(absent)"
		}
		fmt.Fprintf(&b, "\nRemote revision:   %s\n", revision)
		fmt.Fprintf(&b, "Remote watering:   %s\n", formatTimestamp(s.Remote.LastWatering))
		fmt.Fprintf(&b, "Remote notified:   %s", formatTimestamp(s.Remote.LastNotification))
	}
	return b.String()
}

func formatTimestamp(t statesync.Timestamp) string {
	if !t.Set() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// NewSyncCommand creates the sync command and its subcommands.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect and drive the remote plant state sync",
		Long: `Inspect and drive the remote plant state sync.

A write that fails because the network is unreachable stays pending, across
restarts, until a later attempt succeeds or the API rejects it. The token
is read from $HYDRO_SYNC_TOKEN.`,
	}

	cmd.AddCommand(newSyncStatusCommand(rootOpts))
	cmd.AddCommand(newSyncPushCommand(rootOpts))
	cmd.AddCommand(newSyncRetryCommand(rootOpts))

	return cmd
}

// openSyncApp opens the app and checks a sync endpoint is configured.
func openSyncApp(opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*app, error) {
	a, err := openApp(cmd.Context(), opts, cmd, f)
	if err != nil {
		return nil, err
	}
	if a.sync == nil {
		a.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeSync, "sync is not configured (set sync.endpoint)", nil)
	}
	return a, nil
}

func (a *app) syncStatus() (SyncStatus, error) {
	local, err := statesync.FileSource{Path: a.cfg.Sync.StateFile}.State()
	state := a.replay.State()
	return SyncStatus{
		Endpoint: a.cfg.Sync.Endpoint,
		State:    state.String(),
		Pending:  state == replay.PendingRetry,
		Local:    local,
	}, err
}

func newSyncStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a write is pending",
		Long: `Show the local plant state and whether a write is pending.

With --remote the remote document is read as well. Reading it needs the
network; offline the command fails.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			a, err := openSyncApp(rootOpts, cmd, f)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.syncStatus()
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeSync, "failed to read local state", err)
			}
			if remote {
				state, revision, err := a.sync.Fetch(cmd.Context())
				if err != nil {
					return f.Fail(ExitFailure, ErrCodeSync, "failed to read remote state", err)
				}
				status.Remote = &state
				status.Revision = revision
			}
			return f.Success(status)
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Also read the remote document")

	return cmd
}

func newSyncPushCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		watered  bool
		notified bool
		at       string
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Record plant events and write them to the remote document",
		Long: `Record plant events in the local state file and write the state to the
remote document. When the network is unreachable the write stays pending and
is replayed on the next restoration seen by a running serve, or by sync retry.

Example:
  hydroplante sync push --watered
  hydroplante sync push --notified --at 2026-04-01T08:00:00Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			when := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeGeneric, "invalid --at timestamp", err)
				}
				when = parsed
			}

			a, err := openSyncApp(rootOpts, cmd, f)
			if err != nil {
				return err
			}
			defer a.Close()

			source := statesync.FileSource{Path: a.cfg.Sync.StateFile}
			local, err := source.State()
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeSync, "failed to read local state", err)
			}
			if watered {
				local.LastWatering = statesync.At(when)
			}
			if notified {
				local.LastNotification = statesync.At(when)
			}
			if watered || notified {
				if err := source.Save(local); err != nil {
					return f.Fail(ExitCommandError, ErrCodeSync, "failed to save local state", err)
				}
			}

			outcome, pushErr := a.sync.Push(cmd.Context(), local)
			status, err := a.syncStatus()
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeSync, "failed to read local state", err)
			}
			status.Outcome = outcome.String()

			if outcome == replay.Rejected {
				return f.Fail(ExitFailure, ErrCodeSync, "sync rejected by the remote", pushErr)
			}
			return f.Success(status)
		},
	}

	cmd.Flags().BoolVar(&watered, "watered", false, "record a watering")
	cmd.Flags().BoolVar(&notified, "notified", false, "record a notification")
	cmd.Flags().StringVar(&at, "at", "", "event time, RFC 3339 (default: now)")

	return cmd
}

func newSyncRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Replay a pending write now",
		Long: `Replay the pending write as if connectivity had just been restored.
Does nothing when no write is pending.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			a, err := openSyncApp(rootOpts, cmd, f)
			if err != nil {
				return err
			}
			defer a.Close()

			retried := a.replay.OnOnline(cmd.Context())
			a.replay.Wait()

			status, err := a.syncStatus()
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeSync, "failed to read local state", err)
			}
			status.Retried = &retried
			if retried {
				if status.Pending {
					status.Outcome = replay.Unreachable.String()
				} else {
					status.Outcome = "completed"
				}
			}
			return f.Success(status)
		},
	}
}
