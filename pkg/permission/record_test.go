package permission

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/httperr"
)

type document struct {
	Record
	Title string
}

func TestRecordHierarchy(t *testing.T) {
	record := NewRecord("owner", Grants{
		ReadableBy:     []string{"reader"},
		WritableBy:     []string{"writer"},
		ManagedBy:      []string{"manager"},
		AdministeredBy: []string{"admin"},
	})

	tests := []struct {
		name   string
		agent  agent.Agent
		owner  bool
		admin  bool
		manage bool
		read   bool
		write  bool
	}{
		{name: "owner", agent: agent.New("owner"), owner: true, admin: true, manage: true, read: true, write: true},
		{name: "administrator", agent: agent.New("admin"), admin: true, manage: true, read: true, write: true},
		{name: "manager", agent: agent.New("manager"), manage: true, read: true, write: true},
		{name: "reader", agent: agent.New("reader"), read: true},
		{name: "writer", agent: agent.New("writer"), write: true},
		{name: "stranger", agent: agent.New("stranger")},
		{name: "anonymous", agent: agent.Agent{}},
		{name: "machine", agent: agent.Machine(""), admin: true, manage: true, read: true, write: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.owner, record.IsOwnedBy(tt.agent), "owner")
			assert.Equal(t, tt.admin, record.GrantsAdminTo(tt.agent), "admin")
			assert.Equal(t, tt.manage, record.GrantsManagementTo(tt.agent), "manage")
			assert.Equal(t, tt.read, record.GrantsReadTo(tt.agent), "read")
			assert.Equal(t, tt.write, record.GrantsWriteTo(tt.agent), "write")
		})
	}
}

func TestOwnershipImpliesEverything(t *testing.T) {
	for _, id := range []string{"1", "alice", agent.SystemID} {
		record := NewRecord(id, Grants{})
		a := agent.New(id)
		assert.True(t, record.IsOwnedBy(a))
		assert.True(t, record.GrantsAdminTo(a))
		assert.True(t, record.GrantsManagementTo(a))
		assert.True(t, record.GrantsReadTo(a))
		assert.True(t, record.GrantsWriteTo(a))
	}
}

func TestMachineAdministersEveryRecord(t *testing.T) {
	records := []Record{
		NewRecord("someone", Grants{}),
		NewRecord("someone", Grants{AdministeredBy: []string{"other"}}),
		NewRecord("someone", Grants{AdministeredBy: []string{}}),
	}
	for _, record := range records {
		assert.True(t, record.GrantsAdminTo(agent.Machine("")))
		assert.True(t, record.GrantsAdminTo(agent.Machine("custom-machine")))
	}
}

func TestNewRecordCopiesGrants(t *testing.T) {
	readers := []string{"reader"}
	record := NewRecord("owner", Grants{ReadableBy: readers})
	readers[0] = "intruder"

	assert.True(t, record.GrantsReadTo(agent.New("reader")))
	assert.False(t, record.GrantsReadTo(agent.New("intruder")))

	grants := record.Grants()
	grants.ReadableBy[0] = "intruder"
	assert.False(t, record.GrantsReadTo(agent.New("intruder")))
}

func TestDecode(t *testing.T) {
	t.Run("from json object", func(t *testing.T) {
		var raw map[string]any
		require.NoError(t, json.Unmarshal([]byte(`{
			"owned_by": 12,
			"readable_by": [13, "fourteen"],
			"writable_by": [],
			"managed_by": null,
			"administered_by": ["15"]
		}`), &raw))

		record, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, "12", record.OwnedBy())
		assert.True(t, record.GrantsReadTo(agent.New("13")))
		assert.True(t, record.GrantsReadTo(agent.New("fourteen")))
		assert.True(t, record.GrantsAdminTo(agent.New("15")))
		assert.False(t, record.GrantsWriteTo(agent.New("13")))
	})

	t.Run("missing owner", func(t *testing.T) {
		_, err := Decode(map[string]any{"readable_by": []string{"a"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "owned_by is required")
	})

	t.Run("document round trip", func(t *testing.T) {
		original := NewRecord("owner", Grants{ManagedBy: []string{"m"}})
		encoded, err := json.Marshal(original.Document())
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(encoded, &raw))
		decoded, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})
}

func TestAssertions(t *testing.T) {
	record := NewRecord("owner", Grants{ReadableBy: []string{"reader"}})

	assert.NoError(t, AssertReadAvailableTo(record, agent.New("reader")))
	assert.NoError(t, AssertAdminAvailableTo(record, agent.New("owner")))

	err := AssertWriteAvailableTo(record, agent.New("reader"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, httperr.ErrNotAuthorised))

	err = AssertManagementAvailableTo(record, agent.New("reader"))
	assert.True(t, errors.Is(err, httperr.ErrNotAuthorised))
}

func TestGateRead(t *testing.T) {
	reader := agent.New("reader")
	visible := document{Record: NewRecord("owner", Grants{ReadableBy: []string{"reader"}}), Title: "visible"}
	hidden := document{Record: NewRecord("owner", Grants{}), Title: "hidden"}

	t.Run("single readable", func(t *testing.T) {
		assert.NoError(t, GateRead(visible, reader))
		assert.NoError(t, GateRead(&visible, reader))
	})

	t.Run("single denied", func(t *testing.T) {
		err := GateRead(hidden, reader)
		assert.True(t, errors.Is(err, httperr.ErrNotAuthorised))
	})

	t.Run("list with one denied element fails", func(t *testing.T) {
		err := GateRead([]document{visible, hidden}, reader)
		assert.True(t, errors.Is(err, httperr.ErrNotAuthorised))
	})

	t.Run("list all readable", func(t *testing.T) {
		assert.NoError(t, GateRead([]*document{&visible, &visible}, reader))
	})

	t.Run("unprotected values pass", func(t *testing.T) {
		assert.NoError(t, GateRead(map[string]string{"result": "ok"}, reader))
		assert.NoError(t, GateRead(nil, reader))
		assert.NoError(t, GateRead((*document)(nil), reader))
	})

	t.Run("anonymous agent denied", func(t *testing.T) {
		err := GateRead(visible, agent.Agent{})
		assert.True(t, errors.Is(err, httperr.ErrNotAuthorised))
	})

	t.Run("map value denied", func(t *testing.T) {
		err := GateRead(map[string]any{"doc": hidden}, agent.New("nobody"))
		assert.True(t, errors.Is(err, httperr.ErrNotAuthorised))

		err = GateRead(map[string]*document{"doc": &hidden}, reader)
		assert.True(t, errors.Is(err, httperr.ErrNotAuthorised))
	})

	t.Run("map values readable", func(t *testing.T) {
		assert.NoError(t, GateRead(map[string]any{"doc": visible, "count": 1}, reader))
	})

	t.Run("struct field denied", func(t *testing.T) {
		wrapped := struct {
			Items []document `json:"items"`
			Total int        `json:"total"`
		}{Items: []document{visible, hidden}, Total: 2}
		err := GateRead(wrapped, reader)
		assert.True(t, errors.Is(err, httperr.ErrNotAuthorised))

		envelope := struct {
			Data any `json:"data"`
		}{Data: &hidden}
		err = GateRead(envelope, reader)
		assert.True(t, errors.Is(err, httperr.ErrNotAuthorised))
	})

	t.Run("struct fields readable", func(t *testing.T) {
		envelope := struct {
			Data any `json:"data"`
			note string
		}{Data: visible, note: "skipped"}
		assert.NoError(t, GateRead(envelope, reader))
	})
}
