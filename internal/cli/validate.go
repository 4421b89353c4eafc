package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/layercache/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Root   string            `json:"root,omitempty"`
	Tiers  []string          `json:"tiers,omitempty"`
	Types  []string          `json:"types,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one configuration problem.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		Long: `Check the configuration file without opening the cache root.

Reports every schema and consistency problem found: unknown tier kinds,
malformed durations, out-of-range concurrency and associations that
target undeclared types.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		result := ValidationResult{Valid: false, Errors: validationErrors(err)}
		if f.Format == "json" {
			if outErr := f.Success(result, ""); outErr != nil {
				return outErr
			}
		} else {
			for _, e := range result.Errors {
				if e.Field != "" {
					fmt.Fprintf(f.Writer, "Error [%s]: %s: %s\n", e.Code, e.Field, e.Message)
				} else {
					fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message)
				}
			}
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("%s is invalid", opts.Config), err)
	}

	result := ValidationResult{
		Valid: true,
		Root:  cfg.Root,
		Tiers: cfg.TierNames(),
		Types: cfg.Schema().Names(),
	}
	text := fmt.Sprintf("\u2713 %s is valid (%d tiers: %s; %d types)",
		opts.Config, len(result.Tiers), strings.Join(result.Tiers, ", "), len(result.Types))
	return f.Success(result, text)
}

// validationErrors flattens joined configuration errors.
func validationErrors(err error) []ValidationError {
	var leaves []error
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		leaves = append(leaves, e)
	}
	walk(err)

	out := make([]ValidationError, 0, len(leaves))
	for _, e := range leaves {
		var cfgErr *config.Error
		if errors.As(e, &cfgErr) {
			out = append(out, ValidationError{Code: cfgErr.Code, Field: cfgErr.Field, Message: cfgErr.Message})
			continue
		}
		out = append(out, ValidationError{Code: ErrCodeConfig, Message: e.Error()})
	}
	return out
}
