package coding

import "errors"

// ErrLinkage marks a non-diagnosis assignment that omits its required
// diagnosis linkage or links a code the run never assigned.
var ErrLinkage = errors.New("linkage violation")
