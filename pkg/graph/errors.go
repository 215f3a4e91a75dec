package graph

import "errors"

// ErrConfig is returned for an ingestor that is missing a collaborator it
// needs. It is raised before any store query runs.
var ErrConfig = errors.New("graph: invalid configuration")
