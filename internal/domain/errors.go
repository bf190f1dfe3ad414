package domain

import "errors"

// ErrNotFound is returned when an input directory or a stored trip is absent.
// Loaders treat a missing input as a reported no-op, never as a run failure.
var ErrNotFound = errors.New("not found")

// ErrNoSnapshot is returned when the snapshot root has no capture directory.
var ErrNoSnapshot = errors.New("no snapshot directory")

// ErrUnknownFeed is returned by the snapshot store for a feed that has no
// provisioned table.
var ErrUnknownFeed = errors.New("unknown feed")
