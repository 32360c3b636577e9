package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/gatehouse/pkg/session"
)

func filterRecords(now time.Time) []session.Record {
	admin := testRecord("sess-admin", "alice", now.Add(-time.Minute))
	admin.Perspective = 2
	return []session.Record{
		testRecord("sess-fresh", "alice", now.Add(-time.Minute)),
		testRecord("sess-stale", "bob", now.Add(-2*time.Hour)),
		admin,
	}
}

func sessionIDs(records []session.Record) []string {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.SessionID)
	}
	return ids
}

func TestSessionFilter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	perspectives := map[session.Perspective]string{1: "customer", 2: "administrator"}

	tests := []struct {
		name string
		expr string
		want []string
	}{
		{"empty matches all", "", []string{"sess-fresh", "sess-stale", "sess-admin"}},
		{"by agent", `agent_id == "alice"`, []string{"sess-fresh", "sess-admin"}},
		{"by perspective", `perspective == 2`, []string{"sess-admin"}},
		{"by perspective name", `perspective_name == "customer"`, []string{"sess-fresh", "sess-stale"}},
		{"expired only", `expired == true`, []string{"sess-stale"}},
		{"combined", `status == "active" and perspective != 2`, []string{"sess-fresh"}},
		{"pattern", `agent_id matches "^b"`, []string{"sess-stale"}},
		{"no match", `agent_id == "nobody"`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := NewSessionFilter(tt.expr, time.Hour, perspectives)
			require.NoError(t, err)

			got, err := filter.Apply(filterRecords(now), now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sessionIDs(got))
		})
	}
}

func TestSessionFilter_InvalidExpression(t *testing.T) {
	_, err := NewSessionFilter(`agent_id ==`, time.Hour, nil)
	assert.Error(t, err)
}

func TestSessionFilter_UnknownField(t *testing.T) {
	now := time.Now()
	filter, err := NewSessionFilter(`owner == "alice"`, time.Hour, nil)
	require.NoError(t, err)

	_, err = filter.Apply(filterRecords(now), now)
	assert.Error(t, err)
}

func TestSessionFilter_Expired(t *testing.T) {
	now := time.Now()
	filter, err := NewSessionFilter("", time.Hour, nil)
	require.NoError(t, err)

	assert.False(t, filter.Expired(testRecord("a", "alice", now.Add(-59*time.Minute)), now))
	assert.True(t, filter.Expired(testRecord("b", "alice", now.Add(-time.Hour)), now))
}
