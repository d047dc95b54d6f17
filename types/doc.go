// Package types defines the core data model shared across CareScout:
// search criteria, planned actions, action history, provider records, and
// the structured error type used by every component.
package types
