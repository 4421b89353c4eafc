package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/layercache/internal/config"
)

// HoldOptions holds flags for the hold subcommands.
type HoldOptions struct {
	*RootOptions
	Keys bool // arguments are collection keys rather than record ids
}

// HeldType lists what is held for one type.
type HeldType struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
	Keys []string `json:"keys"`
}

// NewHoldCommand creates the hold command group.
func NewHoldCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hold",
		Short: "Keep records through eviction",
		Long: `Mark records or collections as held. Held entries survive
"layercache clear --except-held" and persist across runs.`,
	}
	cmd.AddCommand(newHoldChangeCommand(rootOpts, "add", "Hold records or collections", true))
	cmd.AddCommand(newHoldChangeCommand(rootOpts, "remove", "Release held records or collections", false))
	cmd.AddCommand(newHoldListCommand(rootOpts))
	return cmd
}

func newHoldChangeCommand(rootOpts *RootOptions, use, short string, hold bool) *cobra.Command {
	opts := &HoldOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           use + " <type> <id>...",
		Short:         short,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts, f)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			typeName, targets := args[0], args[1:]
			for _, target := range targets {
				if err := changeHold(rt, typeName, target, opts.Keys, hold); err != nil {
					return f.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("failed to %s %s/%s", use, typeName, target), err)
				}
			}

			verb := "Held"
			if !hold {
				verb = "Released"
			}
			return f.Success(heldType(rt, typeName),
				fmt.Sprintf("%s %d %s of %s", verb, len(targets), noun(opts.Keys), typeName))
		},
	}
	cmd.Flags().BoolVar(&opts.Keys, "key", false, "arguments are collection keys")
	return cmd
}

func changeHold(rt *config.Runtime, typeName, target string, key, hold bool) error {
	switch {
	case key && hold:
		return rt.Holds.HoldKey(typeName, target)
	case key:
		return rt.Holds.UnholdKey(typeName, target)
	case hold:
		return rt.Holds.Hold(typeName, target)
	default:
		return rt.Holds.Unhold(typeName, target)
	}
}

func noun(keys bool) string {
	if keys {
		return "collection(s)"
	}
	return "record(s)"
}

func heldType(rt *config.Runtime, typeName string) HeldType {
	return HeldType{
		Type: typeName,
		IDs:  rt.Holds.HeldIDs(typeName),
		Keys: rt.Holds.HeldKeys(typeName),
	}
}

func newHoldListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list [type]",
		Short:         "List held records and collections",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts, f)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			types := rt.Holds.Types()
			if len(args) == 1 {
				types = []string{args[0]}
			}

			held := make([]HeldType, 0, len(types))
			var lines []string
			for _, typeName := range types {
				h := heldType(rt, typeName)
				if len(h.IDs) == 0 && len(h.Keys) == 0 {
					continue
				}
				held = append(held, h)
				for _, id := range h.IDs {
					lines = append(lines, fmt.Sprintf("%s/%s", typeName, id))
				}
				for _, key := range h.Keys {
					lines = append(lines, fmt.Sprintf("%s[%s]", typeName, key))
				}
			}
			if len(lines) == 0 {
				lines = append(lines, "Nothing held")
			}
			return f.Success(held, strings.Join(lines, "\n"))
		},
	}
}
