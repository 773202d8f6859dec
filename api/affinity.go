// Package api
// Author: momentics@gmail.com
//
// CPU identity and preemption control definitions.

package api

// CPUContext is the execution unit a caller runs on.
//
// PushOff disables preemption and may be nested; PopOff undoes one PushOff.
// ID reports the current CPU index and is only meaningful between a PushOff
// and its matching PopOff: implementations panic when called with
// preemption enabled.
type CPUContext interface {
	PushOff()
	PopOff()
	ID() int
}
