package supervise

import "context"

// Runner represents a lifecycle-managed component such as a supervised HTTP or
// gRPC listener.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

var _ Runner = (*Supervisor)(nil)
