package permission

import (
	"fmt"
	"reflect"

	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/httperr"
)

// ReadProtected is implemented by objects that may only be read by some agents.
type ReadProtected interface {
	GrantsReadTo(a agent.Agent) bool
}

// Protected is implemented by objects carrying the full grant hierarchy.
// Embedding a Record satisfies it.
type Protected interface {
	ReadProtected
	GrantsWriteTo(a agent.Agent) bool
	GrantsManagementTo(a agent.Agent) bool
	GrantsAdminTo(a agent.Agent) bool
}

var (
	_ Protected = Record{}
	_ Protected = (*Record)(nil)
)

// AssertReadAvailableTo fails with NotAuthorised unless p grants read to a.
func AssertReadAvailableTo(p ReadProtected, a agent.Agent) error {
	if !p.GrantsReadTo(a) {
		return httperr.NotAuthorised(fmt.Sprintf("read denied to %s", a))
	}
	return nil
}

// AssertWriteAvailableTo fails with NotAuthorised unless p grants write to a.
func AssertWriteAvailableTo(p Protected, a agent.Agent) error {
	if !p.GrantsWriteTo(a) {
		return httperr.NotAuthorised(fmt.Sprintf("write denied to %s", a))
	}
	return nil
}

// AssertManagementAvailableTo fails with NotAuthorised unless p grants management to a.
func AssertManagementAvailableTo(p Protected, a agent.Agent) error {
	if !p.GrantsManagementTo(a) {
		return httperr.NotAuthorised(fmt.Sprintf("management denied to %s", a))
	}
	return nil
}

// AssertAdminAvailableTo fails with NotAuthorised unless p grants administration to a.
func AssertAdminAvailableTo(p Protected, a agent.Agent) error {
	if !p.GrantsAdminTo(a) {
		return httperr.NotAuthorised(fmt.Sprintf("administration denied to %s", a))
	}
	return nil
}

// GateRead checks v for read access by a before it is serialised. A
// ReadProtected value is checked directly. Slices, arrays, map values and
// exported struct fields are walked, and a single denied value fails the
// whole body.
func GateRead(v any, a agent.Agent) error {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	if p, ok := v.(ReadProtected); ok {
		if err := AssertReadAvailableTo(p, a); err != nil {
			return err
		}
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := GateRead(rv.Index(i).Interface(), a); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if err := GateRead(iter.Value().Interface(), a); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := GateRead(rv.Field(i).Interface(), a); err != nil {
				return err
			}
		}
	case reflect.Pointer, reflect.Interface:
		return GateRead(rv.Elem().Interface(), a)
	}
	return nil
}
