package cel

import (
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
)

// NewCallEnvironment creates the CEL environment call filters are compiled in.
//
// Variables: interface, method, cap, args (decoded JSON values, numbers are
// doubles), role, conn_id, request_time.
// Functions: glob(pattern, name), arg_contains(args, substring).
func NewCallEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),
		cel.CrossTypeNumericComparisons(true),

		cel.Variable("interface", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("cap", cel.IntType),
		cel.Variable("args", cel.ListType(cel.DynType)),
		cel.Variable("role", cel.StringType),
		cel.Variable("conn_id", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		// glob: shell pattern match, e.g. glob("Init.*", interface + "." + method)
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

		// arg_contains: any string argument contains the substring.
		cel.Function("arg_contains",
			cel.Overload("arg_contains_list_string",
				[]*cel.Type{cel.ListType(cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(listVal, substrVal ref.Val) ref.Val {
					substr := substrVal.Value().(string)
					lister, ok := listVal.(traits.Lister)
					if !ok {
						return types.Bool(false)
					}
					it := lister.Iterator()
					for it.HasNext() == types.True {
						if s, ok := it.Next().Value().(string); ok && strings.Contains(s, substr) {
							return types.Bool(true)
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// BuildActivation maps a call to the variables of the call environment.
func BuildActivation(call proxy.CallContext) map[string]any {
	args := call.Args
	if args == nil {
		args = []any{}
	}
	return map[string]any{
		"interface":    call.Interface,
		"method":       call.Method,
		"cap":          int64(call.Cap),
		"args":         args,
		"role":         call.Role,
		"conn_id":      call.ConnID,
		"request_time": call.RequestTime,
	}
}
