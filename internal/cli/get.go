package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/layercache/internal/clock"
	"github.com/roach88/layercache/internal/config"
	"github.com/roach88/layercache/internal/engine"
	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
)

// ReadOptions holds flags shared by get and query.
type ReadOptions struct {
	*RootOptions
	Freshness int
	Populate  []string
}

// ReadResult is the JSON payload of get and query.
type ReadResult struct {
	Type      string      `json:"type"`
	ID        string      `json:"id,omitempty"`
	Key       string      `json:"key,omitempty"`
	Exists    bool        `json:"exists"`
	AgeMs     int64       `json:"age_ms,omitempty"`
	Record    ir.Object   `json:"record,omitempty"`
	Records   []ir.Object `json:"records,omitempty"`
	IDs       []string    `json:"ids,omitempty"`
	Connected bool        `json:"connected"`
}

func addReadFlags(cmd *cobra.Command, opts *ReadOptions) {
	cmd.Flags().IntVar(&opts.Freshness, "freshness", 0,
		"maximum age in seconds (default from configuration, -1 rejects cached data)")
	cmd.Flags().StringSliceVarP(&opts.Populate, "populate", "p", nil, "associations to resolve")
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Read one record from the cache tiers",
		Long: `Read one record from the cache tiers.

The nearest tier holding a fresh copy answers. Without one, the newest
cached copy is returned regardless of age, since no origin is consulted.

Example:
  layercache get Post p1
  layercache get Post p1 --populate author,comments --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(opts, cmd, func(now int64, freshness int) (*protocol.Request, error) {
				return protocol.NewGet(args[0], args[1], freshness, now, opts.Populate...), nil
			})
		},
	}
	addReadFlags(cmd, opts)
	return cmd
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}
	var key string

	cmd := &cobra.Command{
		Use:   "query <type> <name> [field=value...]",
		Short: "Read a cached collection",
		Long: `Read a cached collection and its member records.

The collection key is derived from the type, the query name and the
field=value criteria, the same way the library derives it. Values that
parse as JSON are used as such, anything else is a string. Use --key to
address a collection by its stored key instead.

Example:
  layercache query Post recent
  layercache query Comment by_post post_id=p1
  layercache query Post --key featured`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(opts, cmd, func(now int64, freshness int) (*protocol.Request, error) {
				if key != "" {
					if len(args) != 1 {
						return nil, fmt.Errorf("%w: --key takes only a type argument", protocol.ErrInvalidRequest)
					}
					return protocol.NewCollection(args[0], key, nil, freshness, now, opts.Populate...), nil
				}
				if len(args) < 2 {
					return nil, fmt.Errorf("%w: query name is required", protocol.ErrInvalidRequest)
				}
				criteria, err := parseCriteria(args[2:])
				if err != nil {
					return nil, err
				}
				return protocol.NewQuery(args[0], args[1], criteria, freshness, now, opts.Populate...)
			})
		},
	}
	addReadFlags(cmd, opts)
	cmd.Flags().StringVar(&key, "key", "", "explicit collection key")
	return cmd
}

// parseCriteria turns field=value arguments into a criteria object.
func parseCriteria(args []string) (ir.Object, error) {
	if len(args) == 0 {
		return nil, nil
	}
	criteria := make(ir.Object, len(args))
	for _, arg := range args {
		field, raw, ok := strings.Cut(arg, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("%w: criterion %q is not field=value", protocol.ErrInvalidRequest, arg)
		}
		v, err := ir.ParseValue([]byte(raw))
		if err != nil {
			v = ir.String(raw)
		}
		criteria[field] = v
	}
	return criteria, nil
}

func runRead(opts *ReadOptions, cmd *cobra.Command, build func(now int64, freshness int) (*protocol.Request, error)) error {
	f := newFormatter(opts.RootOptions, cmd)

	rt, err := openRuntime(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	freshness := rt.Config.DefaultFreshness
	if cmd.Flags().Changed("freshness") {
		freshness = opts.Freshness
	}

	orch := localOrchestrator(rt)
	req, err := build(orch.Now(), freshness)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBadRequest, err.Error(), nil)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := orch.Process(ctx, req)
	if err != nil {
		return readFailure(f, req, err)
	}
	if !resp.Exists {
		return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("%s does not exist", req), nil)
	}

	f.VerboseLog("Served %s (age %dms)", req, resp.AgeMs())
	result, text, err := renderRead(req, resp)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, "failed to render result", err)
	}
	return f.Success(result, text)
}

// localOrchestrator wires the runtime to an origin that is never reachable.
func localOrchestrator(rt *config.Runtime) *engine.Orchestrator {
	origin := newLocalOrigin(rt.Config.Schema(), clock.Wall{})
	return rt.Orchestrator(origin, engine.WithErrorPolicy(
		engine.NewErrorPolicy().Report(engine.LogReporter(nil)),
	))
}

func renderRead(req *protocol.Request, resp *protocol.Response) (*ReadResult, string, error) {
	result := &ReadResult{
		Type:      req.Type,
		ID:        req.ID,
		Key:       req.Key,
		Exists:    resp.Exists,
		AgeMs:     resp.AgeMs(),
		IDs:       resp.IDs,
		Connected: resp.Connected,
	}

	var lines []string
	if resp.Records != nil {
		result.Records = make([]ir.Object, len(resp.Records))
		for i, rec := range resp.Records {
			obj := rec.Materialize()
			result.Records[i] = obj
			data, err := ir.MarshalCanonical(obj)
			if err != nil {
				return nil, "", err
			}
			lines = append(lines, string(data))
		}
	} else if !resp.Record.IsZero() {
		result.Record = resp.Record.Materialize()
		data, err := ir.MarshalCanonical(result.Record)
		if err != nil {
			return nil, "", err
		}
		lines = append(lines, string(data))
	}
	return result, strings.Join(lines, "\n"), nil
}
