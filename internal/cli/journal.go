package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/layercache/internal/journal"
	"github.com/roach88/layercache/internal/protocol"
)

// JournalEntry is one pending change as reported by the journal commands.
type JournalEntry struct {
	Handle string `json:"handle"`
	Verb   string `json:"verb"`
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	TimeMs int64  `json:"time_ms"`
}

func newJournalEntry(handle string, req *protocol.Request) JournalEntry {
	return JournalEntry{
		Handle: handle,
		Verb:   string(req.Verb),
		Type:   req.Type,
		ID:     req.ID,
		TimeMs: req.TimeMs,
	}
}

func (e JournalEntry) String() string {
	if e.ID == "" {
		return fmt.Sprintf("%s  %-12s %s", e.Handle, e.Verb, e.Type)
	}
	return fmt.Sprintf("%s  %-12s %s/%s", e.Handle, e.Verb, e.Type, e.ID)
}

// NewJournalCommand creates the journal command group.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect pending offline changes",
		Long: `Inspect the journal of write requests recorded while the origin was
unreachable. Entries are listed oldest first, in the order they must be
replayed.`,
	}
	cmd.AddCommand(newJournalListCommand(rootOpts))
	cmd.AddCommand(newJournalShowCommand(rootOpts))
	cmd.AddCommand(newJournalRemoveCommand(rootOpts))
	cmd.AddCommand(newJournalWatchCommand(rootOpts))
	return cmd
}

func newJournalListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List pending changes oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts, f)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			handles, err := rt.Journal.List()
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeGeneric, "failed to list journal", err)
			}
			entries := make([]JournalEntry, 0, len(handles))
			lines := make([]string, 0, len(handles))
			for _, h := range handles {
				req, err := rt.Journal.Load(h)
				if err != nil {
					// An entry removed since List is not an error.
					if errors.Is(err, fs.ErrNotExist) {
						continue
					}
					return f.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("failed to load %s", h), err)
				}
				e := newJournalEntry(h, req)
				entries = append(entries, e)
				lines = append(lines, e.String())
			}
			if len(lines) == 0 {
				lines = append(lines, "No pending changes")
			}
			return f.Success(entries, strings.Join(lines, "\n"))
		},
	}
}

func newJournalShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <handle>",
		Short:         "Print one pending change in its stored form",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts, f)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			req, err := rt.Journal.Load(args[0])
			switch {
			case errors.Is(err, journal.ErrInvalidHandle):
				return f.Fail(ExitCommandError, ErrCodeBadRequest, err.Error(), nil)
			case errors.Is(err, fs.ErrNotExist):
				return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no journal entry %s", args[0]), nil)
			case err != nil:
				return f.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("failed to load %s", args[0]), err)
			}

			data, err := protocol.EncodeRequest(req)
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeGeneric, "failed to encode entry", err)
			}
			return f.Success(map[string]any{
				"handle":  args[0],
				"request": newJournalEntry(args[0], req),
			}, string(data))
		},
	}
}

func newJournalRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <handle>...",
		Short:         "Discard pending changes",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts, f)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			for _, h := range args {
				if err := rt.Journal.Remove(h); err != nil {
					if errors.Is(err, journal.ErrInvalidHandle) {
						return f.Fail(ExitCommandError, ErrCodeBadRequest, err.Error(), nil)
					}
					return f.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("failed to remove %s", h), err)
				}
				f.VerboseLog("Removed %s", h)
			}
			return f.Success(map[string]any{"removed": args},
				fmt.Sprintf("Removed %d pending change(s)", len(args)))
		},
	}
}

func newJournalWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print pending changes as they are recorded",
		Long: `Print each pending change as it is appended to the journal, until
interrupted. In JSON mode every entry is written as its own response line.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts, f)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			f.VerboseLog("Watching %s", rt.Journal.Dir())
			err = rt.Journal.Watch(ctx, func(handle string) {
				req, err := rt.Journal.Load(handle)
				if err != nil {
					f.VerboseLog("Skipping %s: %v", handle, err)
					return
				}
				e := newJournalEntry(handle, req)
				_ = f.Success(e, e.String())
			})
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeGeneric, "watch failed", err)
			}
			<-ctx.Done()
			return nil
		},
	}
}
