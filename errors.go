package rayworker

import "github.com/gordian-engine/rayworker/rerrors"

// Re-exported for callers that only import the root package; see
// rerrors for the canonical definitions shared across subpackages.
type UnknownPeerError = rerrors.UnknownPeerError
type InvariantViolationError = rerrors.InvariantViolationError
type DeferredError = rerrors.DeferredError
