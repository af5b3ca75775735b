package choreography

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// LoadLuaAnimation runs a Lua script that returns an animation table:
//
//	local steps = {}
//	for i = 0, 255, 51 do
//	  table.insert(steps, {command = "CrossFade", colors = {{i, 0, 255 - i}}, seconds = 1, start = "after-previous"})
//	end
//	return {name = "sweep", ["repeat"] = "forever", steps = steps}
//
// Only the base, table, string and math libraries are available.
func LoadLuaAnimation(path string) (Animation, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	if err := L.DoFile(path); err != nil {
		return Animation{}, fmt.Errorf("%w: %s: %v", ErrInvalidAnimation, path, err)
	}
	tbl, ok := L.Get(-1).(*lua.LTable)
	if !ok {
		return Animation{}, fmt.Errorf("%w: %s: script must return a table", ErrInvalidAnimation, path)
	}
	m, ok := luaToGo(tbl).(map[string]any)
	if !ok {
		return Animation{}, fmt.Errorf("%w: %s: script must return a table with named fields", ErrInvalidAnimation, path)
	}

	a, err := animationFromMap(m)
	if err != nil {
		return Animation{}, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// luaToGo converts Lua values into the shapes command.FromMap expects:
// sequences become []any, other tables map[string]any.
func luaToGo(v lua.LValue) any {
	switch v := v.(type) {
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return float64(v)
	case lua.LBool:
		return bool(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 {
			list := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				list = append(list, luaToGo(v.RawGetInt(i)))
			}
			return list
		}
		m := make(map[string]any)
		v.ForEach(func(key, value lua.LValue) {
			if k, ok := key.(lua.LString); ok {
				m[string(k)] = luaToGo(value)
			}
		})
		return m
	default:
		return nil
	}
}
