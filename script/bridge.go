package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/baton"
)

// toLValue converts a Go value to its Lua equivalent. Unhandled types
// degrade to their string form.
func toLValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []any:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, toLValue(L, item))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	case baton.Args:
		return argsToTable(L, val)
	case map[string]any:
		return argsToTable(L, val)
	case lua.LValue:
		return val
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// argsToTable builds a Lua table from delivery args. Nested Args become
// nested tables, so a catch-all input crosses intact.
func argsToTable(L *lua.LState, args map[string]any) *lua.LTable {
	t := L.NewTable()
	for k, v := range args {
		t.RawSetString(k, toLValue(L, v))
	}
	return t
}

// fromLValue converts a Lua value to a Go value. Integral numbers become
// int64, other numbers float64. Tables with contiguous integer keys from
// one become []any; all other tables become Args. Functions and userdata
// do not convert and come back nil.
func fromLValue(lv lua.LValue) any {
	return fromLValueVisited(lv, make(map[*lua.LTable]bool))
}

// fromLValueVisited tracks visited tables so cyclic structures terminate.
func fromLValueVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	if lv == nil {
		return nil
	}
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

// tableToArgs converts a Lua table to delivery args, keeping only string
// keys. Used where the API requires named parameters.
func tableToArgs(t *lua.LTable) baton.Args {
	args := baton.Args{}
	t.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			args[string(ks)] = fromLValue(v)
		}
	})
	return args
}

// tableToGo converts a table to either a slice or Args, depending on its
// key shape.
func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	isArray := true
	maxN := 0
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})
	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = fromLValueVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	args := baton.Args{}
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprintf("%v", float64(kv))
		default:
			key = k.String()
		}
		args[key] = fromLValueVisited(v, visited)
	})
	return args
}
