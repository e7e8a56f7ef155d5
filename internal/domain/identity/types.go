// Package identity contains the user profile types returned by the identity service.
package identity

// Role is a role assignment on a user profile.
type Role struct {
	// Code is the role code (e.g. "ADM-01").
	Code string `json:"code"`
	// Type is the role type used for route gating (e.g. "admin", "employee").
	Type string `json:"role_type"`
	// Active reports whether the assignment is currently in effect.
	Active bool `json:"is_active"`
}

// Employee is the employee record linked to a user, if any.
type Employee struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	EmployeeNumber string `json:"employee_number,omitempty"`
	OrgUnitID      string `json:"org_unit_id,omitempty"`
}

// OrganizationUnit is the org unit an employee belongs to.
type OrganizationUnit struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// UserProfile is the current user as seen by the dashboards.
// Employee and OrgUnit are populated best-effort and may be nil even when
// EmployeeID is set.
type UserProfile struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Name       string            `json:"name"`
	Roles      []Role            `json:"roles"`
	EmployeeID string            `json:"employee_id,omitempty"`
	Employee   *Employee         `json:"employee,omitempty"`
	OrgUnit    *OrganizationUnit `json:"org_unit,omitempty"`
}

// HasRoleType returns true if the profile holds a role of the given type.
func (p *UserProfile) HasRoleType(roleType string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r.Type == roleType {
			return true
		}
	}
	return false
}

// HasActiveRoleType returns true if the profile holds an active role of
// the given type.
func (p *UserProfile) HasActiveRoleType(roleType string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r.Active && r.Type == roleType {
			return true
		}
	}
	return false
}

// RoleTypes returns the role types on the profile, in order.
func (p *UserProfile) RoleTypes() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		out = append(out, r.Type)
	}
	return out
}

// Clone returns a deep copy of the profile.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Roles = make([]Role, len(p.Roles))
	copy(c.Roles, p.Roles)
	if p.Employee != nil {
		e := *p.Employee
		c.Employee = &e
	}
	if p.OrgUnit != nil {
		o := *p.OrgUnit
		c.OrgUnit = &o
	}
	return &c
}
