package resource

import (
	_ "embed"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

// PerspectivePolicy decides whether a session's perspective may use a
// secure endpoint. It is a coarse filter ahead of per-object permissions.
type PerspectivePolicy interface {
	Allows(p session.Perspective, r *http.Request) (bool, error)
}

// Perspectives is a static allow-list.
type Perspectives []session.Perspective

// AllowPerspectives returns a static allow-list of ps.
func AllowPerspectives(ps ...session.Perspective) Perspectives {
	return Perspectives(ps)
}

func (ps Perspectives) Allows(p session.Perspective, _ *http.Request) (bool, error) {
	return slices.Contains(ps, p), nil
}

//go:embed perspective_model.conf
var perspectiveModel string

// PerspectiveRule lets a named perspective call method on paths matching
// pattern. Patterns use casbin keyMatch2 syntax ("/agents/:id", "/reports/*")
// and a method of "*" matches any method.
type PerspectiveRule struct {
	Perspective string
	Pattern     string
	Method      string
}

// CasbinPerspectives evaluates perspective rules with a casbin enforcer.
type CasbinPerspectives struct {
	enforcer *casbin.SyncedEnforcer
	names    map[session.Perspective]string
}

// NewCasbinPerspectives builds a policy from rules. names maps perspective
// values to the names rules refer to; unnamed perspectives are referred to by
// their number.
func NewCasbinPerspectives(names map[session.Perspective]string, rules []PerspectiveRule) (*CasbinPerspectives, error) {
	m, err := model.NewModelFromString(perspectiveModel)
	if err != nil {
		return nil, fmt.Errorf("parse perspective model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create perspective enforcer: %w", err)
	}
	for _, rule := range rules {
		if _, err := enforcer.AddPolicy(rule.Perspective, rule.Pattern, rule.Method); err != nil {
			return nil, fmt.Errorf("add perspective rule %s %s %s: %w", rule.Perspective, rule.Method, rule.Pattern, err)
		}
	}
	return &CasbinPerspectives{enforcer: enforcer, names: names}, nil
}

func (c *CasbinPerspectives) name(p session.Perspective) string {
	if n, ok := c.names[p]; ok {
		return n
	}
	return strconv.Itoa(int(p))
}

func (c *CasbinPerspectives) Allows(p session.Perspective, r *http.Request) (bool, error) {
	return c.enforcer.Enforce(c.name(p), r.URL.Path, r.Method)
}
