// Package permission evaluates per-object ownership and grant lists against
// an agent.
//
// Grants form a hierarchy: ownership implies administration, administration
// implies management, and management implies both read and write. The
// machine agent administers every record.
package permission

import (
	"fmt"
	"slices"

	"github.com/mitchellh/mapstructure"
	"github.com/terraconstructs/gatehouse/pkg/agent"
)

// Grants lists the agent identifiers holding each right on a record.
type Grants struct {
	ReadableBy     []string `mapstructure:"readable_by" json:"readable_by"`
	WritableBy     []string `mapstructure:"writable_by" json:"writable_by"`
	ManagedBy      []string `mapstructure:"managed_by" json:"managed_by"`
	AdministeredBy []string `mapstructure:"administered_by" json:"administered_by"`
}

// Record is an immutable permission record for one object. Embed it in a
// domain type to make that type Protected.
type Record struct {
	ownedBy string
	grants  Grants
}

// NewRecord builds a record owned by ownedBy. The grant lists are copied.
func NewRecord(ownedBy string, grants Grants) Record {
	return Record{
		ownedBy: ownedBy,
		grants: Grants{
			ReadableBy:     slices.Clone(grants.ReadableBy),
			WritableBy:     slices.Clone(grants.WritableBy),
			ManagedBy:      slices.Clone(grants.ManagedBy),
			AdministeredBy: slices.Clone(grants.AdministeredBy),
		},
	}
}

// OwnedBy returns the owning agent identifier.
func (r Record) OwnedBy() string {
	return r.ownedBy
}

// Grants returns a copy of the grant lists.
func (r Record) Grants() Grants {
	return NewRecord("", r.grants).grants
}

func (r Record) IsOwnedBy(a agent.Agent) bool {
	return a.Is(agent.New(r.ownedBy))
}

func (r Record) GrantsAdminTo(a agent.Agent) bool {
	return a.IsMachine() || r.IsOwnedBy(a) || listed(r.grants.AdministeredBy, a)
}

func (r Record) GrantsManagementTo(a agent.Agent) bool {
	return r.GrantsAdminTo(a) || listed(r.grants.ManagedBy, a)
}

func (r Record) GrantsReadTo(a agent.Agent) bool {
	return r.GrantsManagementTo(a) || listed(r.grants.ReadableBy, a)
}

func (r Record) GrantsWriteTo(a agent.Agent) bool {
	return r.GrantsManagementTo(a) || listed(r.grants.WritableBy, a)
}

func listed(ids []string, a agent.Agent) bool {
	for _, id := range ids {
		if a.Is(agent.New(id)) {
			return true
		}
	}
	return false
}

// Document is the serialised form of a Record.
type Document struct {
	OwnedBy string `mapstructure:"owned_by" json:"owned_by"`
	Grants  `mapstructure:",squash"`
}

// Document returns the serialisable form of r. Record itself has no JSON
// methods so that embedding it does not take over the embedding type's encoding.
func (r Record) Document() Document {
	return Document{OwnedBy: r.ownedBy, Grants: r.Grants()}
}

// Decode builds a record from loosely typed data, typically a JSON object
// decoded into map[string]any. Numeric identifiers are accepted and converted
// to strings.
func Decode(data any) (Record, error) {
	var doc Document
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Record{}, fmt.Errorf("create permission decoder: %w", err)
	}
	if err := decoder.Decode(data); err != nil {
		return Record{}, fmt.Errorf("decode permission record: %w", err)
	}
	if doc.OwnedBy == "" {
		return Record{}, fmt.Errorf("decode permission record: owned_by is required")
	}
	return NewRecord(doc.OwnedBy, doc.Grants), nil
}
