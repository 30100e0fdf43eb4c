package repository

import "errors"

// Common errors returned by repository implementations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a claim lost to a concurrent claimant: the task
	// was already moved out of ready.
	ErrConflict = errors.New("task already claimed")

	// ErrDependencyNotMet indicates a status transition was rejected because
	// at least one dependency is not done.
	ErrDependencyNotMet = errors.New("dependency not met")

	// ErrSelfDependency indicates a task cannot depend on itself.
	ErrSelfDependency = errors.New("task cannot depend on itself")

	// ErrDependencyCycle indicates the edge would make the dependency graph
	// cyclic.
	ErrDependencyCycle = errors.New("dependency would create a cycle")

	// ErrAlreadyResponded indicates a signal or input request was already
	// answered; the stored row is unchanged.
	ErrAlreadyResponded = errors.New("already responded")

	// ErrNoActivePrompt indicates no active prompt version exists for the
	// requested (role, model) scope.
	ErrNoActivePrompt = errors.New("no active prompt version")
)
