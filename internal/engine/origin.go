package engine

import (
	"context"

	"github.com/roach88/layercache/internal/ir"
	"github.com/roach88/layercache/internal/protocol"
)

// Origin is the authoritative data source behind the cache tiers.
//
// Process executes a request and returns the origin's answer. Failures to
// reach the backend must be reported as errors IsNetworkError recognizes
// (ErrNoNetwork, net.Error and so on); anything else is treated as a hard
// failure and propagated unchanged.
//
// Responses should carry full record snapshots in Record.Base. ArrivedAtMs
// and TimeMs default to CurrentTimeMs when left zero.
type Origin interface {
	Process(ctx context.Context, req *protocol.Request, online bool) (*protocol.Response, error)
	CurrentTimeMs() int64
	EnsureAuthenticated(ctx context.Context, typeName string) error
	ResolveType(name string) (ir.TypeDescriptor, error)
	NewIdentifier() string
	ListTypes() []ir.TypeDescriptor
}
