// Package agent implements the autonomous web-navigation loop that drives
// a remote browser session against an insurance provider directory.
//
// One Agent Loop instance owns one search: it acquires a browser session,
// repeatedly observes the page, asks the planner for the next atomic
// action, executes it, and terminates on a completion signal from the
// planner or when the consecutive-error budget is exhausted. At
// termination it extracts the structured provider list and tears the
// session down on every exit path.
//
// Multiple searches may run concurrently as unrelated Agent instances;
// they share no mutable state.
package agent
