package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carescout/carescout/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(id string) *types.SearchResult {
	return &types.SearchResult{
		SearchID: id,
		Providers: []types.ProviderRecord{
			{Name: "Dr. Rivera", Specialty: "Cardiology", Address: "12 Oak Ave", Phone: "555-0101"},
			{Name: "Dr. Chen", Specialty: "Cardiology", Address: "98 Elm St"},
		},
		ActionCount: 7,
		StartedAt:   time.Now().Add(-time.Minute),
		Duration:    48 * time.Second,
	}
}

func TestSaveAndGetSearch(t *testing.T) {
	s := openTestStore(t)
	criteria := types.SearchCriteria{
		Specialists:  []string{"cardiologist", "internist"},
		Location:     types.Location{Address: "500 Main St, Springfield"},
		DirectoryURL: "https://directory.example.com",
	}

	err := s.SaveResult(context.Background(), "chest pain when climbing stairs", "cigna", criteria, sampleResult("search-1"))
	require.NoError(t, err)

	record, err := s.GetSearch(context.Background(), "search-1")
	require.NoError(t, err)
	assert.Equal(t, "cigna", record.Insurer)
	assert.Equal(t, "cardiologist, internist", record.Specialists)
	assert.Equal(t, 7, record.ActionCount)
	assert.EqualValues(t, 48000, record.DurationMS)
	require.Len(t, record.Providers, 2)
	assert.Equal(t, "Dr. Rivera", record.Providers[0].Name)
	assert.Empty(t, record.Providers[1].Phone)
}

func TestGetSearchNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSearch(context.Background(), "no-such-search")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveDuplicateSearchID(t *testing.T) {
	s := openTestStore(t)
	criteria := types.SearchCriteria{
		Specialists:  []string{"dermatologist"},
		DirectoryURL: "https://directory.example.com",
	}

	require.NoError(t, s.SaveResult(context.Background(), "rash", "aetna", criteria, sampleResult("dup")))
	err := s.SaveResult(context.Background(), "rash", "aetna", criteria, sampleResult("dup"))
	assert.Error(t, err, "search IDs are unique")
}

func TestListRecentOrder(t *testing.T) {
	s := openTestStore(t)
	criteria := types.SearchCriteria{
		Specialists:  []string{"cardiologist"},
		DirectoryURL: "https://directory.example.com",
	}

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.SaveResult(context.Background(), "q", "cigna", criteria, sampleResult(id)))
		time.Sleep(5 * time.Millisecond)
	}

	records, err := s.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "third", records[0].SearchID)
	assert.Equal(t, "second", records[1].SearchID)
}
