package cel

import (
	"path/filepath"
	"reflect"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
)

var stringSliceType = reflect.TypeOf([]string{})

// NewRouteEnvironment creates the CEL environment for route permission rules:
//   - Profile variables: user_id, user_email, user_name, employee_id, org_unit_id, org_unit_code
//   - Role variables: roles (all role types), active_roles (active role types), role_codes
//   - request_time
//   - Custom functions: glob, any_glob
func NewRouteEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("user_id", cel.StringType),
		cel.Variable("user_email", cel.StringType),
		cel.Variable("user_name", cel.StringType),
		cel.Variable("employee_id", cel.StringType),
		cel.Variable("org_unit_id", cel.StringType),
		cel.Variable("org_unit_code", cel.StringType),

		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("active_roles", cel.ListType(cel.StringType)),
		cel.Variable("role_codes", cel.ListType(cel.StringType)),

		cel.Variable("request_time", cel.TimestampType),

		// glob: glob pattern match.
		// Usage: glob("*@example.com", user_email)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// any_glob: true if any list element matches the pattern.
		// Usage: any_glob(role_codes, "ADM-*")
		cel.Function("any_glob",
			cel.Overload("any_glob_list_string",
				[]*cel.Type{cel.ListType(cel.StringType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(listVal, patternVal ref.Val) ref.Val {
					p := patternVal.Value().(string)
					native, err := listVal.ConvertToNative(stringSliceType)
					if err != nil {
						return types.Bool(false)
					}
					for _, s := range native.([]string) {
						if matched, _ := filepath.Match(p, s); matched {
							return types.Bool(true)
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// BuildActivation creates a CEL activation map from a profile.
// Lists are never nil.
func BuildActivation(user *identity.UserProfile, now time.Time) map[string]any {
	roles := []string{}
	active := []string{}
	codes := []string{}
	act := map[string]any{
		"user_id":       "",
		"user_email":    "",
		"user_name":     "",
		"employee_id":   "",
		"org_unit_id":   "",
		"org_unit_code": "",
		"request_time":  now,
	}

	if user != nil {
		act["user_id"] = user.ID
		act["user_email"] = user.Email
		act["user_name"] = user.Name
		act["employee_id"] = user.EmployeeID
		for _, r := range user.Roles {
			roles = append(roles, r.Type)
			codes = append(codes, r.Code)
			if r.Active {
				active = append(active, r.Type)
			}
		}
		if user.Employee != nil {
			act["org_unit_id"] = user.Employee.OrgUnitID
		}
		if user.OrgUnit != nil {
			act["org_unit_id"] = user.OrgUnit.ID
			act["org_unit_code"] = user.OrgUnit.Code
		}
	}

	act["roles"] = roles
	act["active_roles"] = active
	act["role_codes"] = codes
	return act
}
