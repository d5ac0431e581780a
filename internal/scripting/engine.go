package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/fieldsrv/server/internal/world"
)

// FieldOps is the slice of map control surface scripts may drive.
type FieldOps interface {
	EffectScreen(fieldID int32, name string)
	EffectSound(fieldID int32, name string)
	EnablePortal(fieldID int32, portal string, enabled bool)
}

// Engine wraps a single gopher-lua VM for map entry hooks. Guarded by a
// mutex because hooks fire from wherever a field admission happens.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory. ops may be nil; the field builtins then become no-ops.
func NewEngine(scriptsDir string, ops FieldOps, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	e.registerBuiltins(ops)

	for _, sub := range []string{"core", "field"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// registerBuiltins exposes the field control surface to scripts.
func (e *Engine) registerBuiltins(ops FieldOps) {
	e.vm.SetGlobal("field_effect_screen", e.vm.NewFunction(func(L *lua.LState) int {
		if ops != nil {
			ops.EffectScreen(int32(L.CheckInt(1)), L.CheckString(2))
		}
		return 0
	}))
	e.vm.SetGlobal("field_effect_sound", e.vm.NewFunction(func(L *lua.LState) int {
		if ops != nil {
			ops.EffectSound(int32(L.CheckInt(1)), L.CheckString(2))
		}
		return 0
	}))
	e.vm.SetGlobal("field_enable_portal", e.vm.NewFunction(func(L *lua.LState) int {
		if ops != nil {
			ops.EnablePortal(int32(L.CheckInt(1)), L.CheckString(2), L.ToBool(3))
		}
		return 0
	}))
}

// callEnterHook invokes a map entry hook with a context table. Missing
// hooks are logged once per call and otherwise ignored; map entry never
// fails because of a script.
func (e *Engine) callEnterHook(hook string, fieldID int32, u *world.User) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.vm.GetGlobal(hook)
	if fn == lua.LNil {
		e.log.Warn("lua hook not found", zap.String("hook", hook))
		return
	}

	t := e.vm.NewTable()
	t.RawSetString("field_id", lua.LNumber(fieldID))
	t.RawSetString("char_id", lua.LNumber(u.CharID))
	t.RawSetString("name", lua.LString(u.Name))
	t.RawSetString("level", lua.LNumber(u.Level))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua hook error", zap.String("hook", hook), zap.Error(err))
	}
}

// OnFirstUserEnter runs a map's one-time entry hook.
func (e *Engine) OnFirstUserEnter(hook string, fieldID int32, u *world.User) {
	e.callEnterHook(hook, fieldID, u)
}

// OnUserEnter runs a map's per-admission entry hook.
func (e *Engine) OnUserEnter(hook string, fieldID int32, u *world.User) {
	e.callEnterHook(hook, fieldID, u)
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}
