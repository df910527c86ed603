// Package ki provides structured concurrency with lexically scoped child
// lifetimes. A scope owns every child spawned within it: the scope cannot be
// left while a child is still running, and leaving it abnormally terminates
// all remaining children before the scope completes. No child outlives its
// scope.
package ki
