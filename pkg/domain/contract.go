package domain

import (
	"context"
)

// Contract is the status surface shared by the gRPC handler and the client
// gateway. Status returns "running", "broken" or "not running".
type Contract interface {
	Status(ctx context.Context) (string, error)
}
