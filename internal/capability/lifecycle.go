// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package capability

import (
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// Status is the lifecycle state of a capability provider.
type Status string

const (
	StatusUnloaded Status = "unloaded"
	StatusLoading  Status = "loading"
	StatusActive   Status = "active"
	StatusError    Status = "error"
)

func (s Status) String() string {
	return string(s)
}

// validTransitions defines allowed status transitions as an adjacency list.
// A provider's tools are discoverable only while it is active.
var validTransitions = map[Status]map[Status]bool{
	StatusUnloaded: {
		StatusLoading: true,
	},
	StatusLoading: {
		StatusActive: true,
		StatusError:  true,
	},
	StatusActive: {
		StatusUnloaded: true,
		StatusError:    true,
	},
	StatusError: {
		StatusLoading: true,
	},
}

// ValidTransition returns true if transitioning from one status to another is allowed.
func ValidTransition(from, to Status) bool {
	allowed, exists := validTransitions[from][to]
	return exists && allowed
}

// transition validates and applies a status change on a descriptor copy.
func transition(desc *Descriptor, to Status) error {
	if !ValidTransition(desc.Status, to) {
		return finerr.Errorf(finerr.CodePluginStateInvalid,
			"invalid status transition for %s: %s -> %s", desc.Name, desc.Status, to)
	}
	desc.Status = to
	return nil
}
