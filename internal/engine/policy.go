package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/layercache/internal/protocol"
)

// ErrorFilter may translate an error or drop it by returning nil.
type ErrorFilter func(ctx context.Context, req *protocol.Request, err error) error

// ErrorReporter observes an error after filtering.
type ErrorReporter func(ctx context.Context, req *protocol.Request, err error)

// ErrorPolicy is the filter chain and reporter chain applied to every error
// leaving the Orchestrator. A nil *ErrorPolicy passes errors through.
//
// Build it before handing it to New; it is not safe to extend concurrently
// with request processing.
type ErrorPolicy struct {
	filters   []ErrorFilter
	reporters []ErrorReporter
}

// NewErrorPolicy creates an empty policy.
func NewErrorPolicy() *ErrorPolicy {
	return &ErrorPolicy{}
}

// Filter appends a filter. Filters run in the order they were added.
func (p *ErrorPolicy) Filter(f ErrorFilter) *ErrorPolicy {
	p.filters = append(p.filters, f)
	return p
}

// Report appends a reporter. Reporters run in the order they were added.
func (p *ErrorPolicy) Report(r ErrorReporter) *ErrorPolicy {
	p.reporters = append(p.reporters, r)
	return p
}

// Handle runs err through the filters and, if it survives, the reporters.
// It returns the error the caller should see, or nil if a filter dropped it.
func (p *ErrorPolicy) Handle(ctx context.Context, req *protocol.Request, err error) error {
	if p == nil || err == nil {
		return err
	}
	for _, f := range p.filters {
		if err = f(ctx, req, err); err == nil {
			return nil
		}
	}
	for _, r := range p.reporters {
		r(ctx, req, err)
	}
	return err
}

// LogReporter logs every reported error at Error level.
func LogReporter(logger *slog.Logger) ErrorReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req *protocol.Request, err error) {
		logger.ErrorContext(ctx, "request failed", "request", req.String(), "error", err)
	}
}

// DropOfflineReads is a filter that turns data-not-available-offline errors
// into non-present responses.
func DropOfflineReads(ctx context.Context, req *protocol.Request, err error) error {
	if IsDataNotAvailableOffline(err) {
		return nil
	}
	return err
}
