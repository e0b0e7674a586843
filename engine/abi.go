package engine

import (
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/spin-shim/transcoder"
)

const cabiRealloc = "cabi_realloc"

var flatCount = transcoder.GetFlatCount

func flatResultCount(resultTypes []wit.Type) int {
	count := 0
	for _, rt := range resultTypes {
		count += flatCount(rt)
	}
	return count
}

// usesRetptr reports whether results are returned through a pointer
// argument instead of the value stack.
func usesRetptr(resultTypes []wit.Type) bool {
	return flatResultCount(resultTypes) > transcoder.MaxFlatResults
}

func resultSize(t wit.Type) uint32 {
	switch v := t.(type) {
	case wit.String:
		return 8
	case wit.U8, wit.S8, wit.Bool:
		return 1
	case wit.U16, wit.S16:
		return 2
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return 4
	case wit.U64, wit.S64, wit.F64:
		return 8
	case *wit.TypeDef:
		return transcoder.NewLayoutCalculator().Calculate(v).Size
	default:
		return 8
	}
}

// flatTypes returns the core value types t flattens to.
func flatTypes(t wit.Type) []api.ValueType {
	switch t := t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return []api.ValueType{api.ValueTypeI32}
	case wit.U64, wit.S64:
		return []api.ValueType{api.ValueTypeI64}
	case wit.F32:
		return []api.ValueType{api.ValueTypeF32}
	case wit.F64:
		return []api.ValueType{api.ValueTypeF64}
	case wit.String:
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	case *wit.TypeDef:
		switch kind := t.Kind.(type) {
		case *wit.Record:
			var out []api.ValueType
			for _, f := range kind.Fields {
				out = append(out, flatTypes(f.Type)...)
			}
			return out
		case *wit.List:
			return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
		case *wit.Tuple:
			var out []api.ValueType
			for _, elem := range kind.Types {
				out = append(out, flatTypes(elem)...)
			}
			return out
		case *wit.Option:
			return append([]api.ValueType{api.ValueTypeI32}, flatTypes(kind.Type)...)
		case *wit.Result:
			var payload []api.ValueType
			if kind.OK != nil {
				payload = flatTypes(kind.OK)
			}
			if kind.Err != nil {
				if errTypes := flatTypes(kind.Err); len(errTypes) > len(payload) {
					payload = errTypes
				}
			}
			return append([]api.ValueType{api.ValueTypeI32}, payload...)
		case *wit.Variant:
			var payload []api.ValueType
			for _, c := range kind.Cases {
				if c.Type == nil {
					continue
				}
				if caseTypes := flatTypes(c.Type); len(caseTypes) > len(payload) {
					payload = caseTypes
				}
			}
			return append([]api.ValueType{api.ValueTypeI32}, payload...)
		}
	}
	return []api.ValueType{api.ValueTypeI32}
}
