package types

import (
	"strings"
	"time"
)

// Location is the target geography for a provider search.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// SearchCriteria is the immutable per-session input: the specialist priority
// list (most general first), the target location, and the insurance
// directory's entry URL. It is created once per search request and owned by
// the agent loop for the lifetime of that search.
type SearchCriteria struct {
	Specialists  []string `json:"specialists"`
	Location     Location `json:"location"`
	DirectoryURL string   `json:"directory_url"`
}

// Validate rejects criteria the loop cannot act on. The specialist list is
// consumed as-is beyond an emptiness check.
func (c SearchCriteria) Validate() error {
	if len(c.Specialists) == 0 {
		return NewError(ErrInvalidCriteria, "specialist list is empty")
	}
	for _, s := range c.Specialists {
		if strings.TrimSpace(s) == "" {
			return NewError(ErrInvalidCriteria, "specialist list contains an empty entry")
		}
	}
	if strings.TrimSpace(c.DirectoryURL) == "" {
		return NewError(ErrInvalidCriteria, "directory URL is empty")
	}
	return nil
}

// ProviderRecord is one in-network provider extracted from the directory.
type ProviderRecord struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Address   string `json:"address"`
	Phone     string `json:"phone,omitempty"`
}

// Validate enforces the fixed extraction schema: name, specialty, and
// address are required; phone is optional.
func (p ProviderRecord) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return NewError(ErrExtractionSchema, "provider record missing name")
	}
	if strings.TrimSpace(p.Specialty) == "" {
		return NewError(ErrExtractionSchema, "provider record missing specialty")
	}
	if strings.TrimSpace(p.Address) == "" {
		return NewError(ErrExtractionSchema, "provider record missing address")
	}
	return nil
}

// SearchResult is the sole durable output of one agent loop run.
type SearchResult struct {
	SearchID    string           `json:"search_id"`
	Providers   []ProviderRecord `json:"providers"`
	ActionCount int              `json:"action_count"`
	StartedAt   time.Time        `json:"started_at"`
	Duration    time.Duration    `json:"duration"`
}
