package auth

import (
	"net/http"
	"strings"
)

// Rule maps a path (exact, or prefix when it ends in "/") to the roles needed to read and write it.
type Rule struct {
	Path  string
	Read  Role
	Write Role
}

func (r Rule) matches(path string) bool {
	if strings.HasSuffix(r.Path, "/") {
		return strings.HasPrefix(path, r.Path)
	}
	return path == r.Path
}

// Policy determines required roles by request. Rules are checked in order.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
	Rules          []Rule
}

// DeviceRules protect the local device API.
var DeviceRules = []Rule{
	{Path: "/status", Read: RoleViewer, Write: RoleAdmin},
	{Path: "/api/v1/diagnostics/", Read: RoleViewer, Write: RoleAdmin},
	{Path: "/api/", Read: RoleViewer, Write: RoleOperator},
}

// NewDefaultPolicy builds the device policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes, Rules: DeviceRules}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves the role for the first matching rule. Unmatched paths are open.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	for _, rule := range p.Rules {
		if !rule.matches(r.URL.Path) {
			continue
		}
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return rule.Read, true
		default:
			return rule.Write, true
		}
	}
	return "", false
}
