// Package simhost is a stand-in for the editor's own handlers. It keeps a
// small in-memory model of scenes, the selection, play mode and the console so
// the bridge can be run and tested without an editor attached.
//
// Handlers assume they run on the host context; the mutex only guards against
// readers such as tests and the busy check.
package simhost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/methods"
)

// CompilingReason is reported to clients while a script recompile is running.
const CompilingReason = "Unity is compiling, please wait..."

// DefaultCompileTime is how long a simulated script recompile keeps the host
// busy.
const DefaultCompileTime = 2 * time.Second

const maxLogEntries = 500

// LogType mirrors the editor console's entry kinds.
type LogType string

const (
	LogTypeLog     LogType = "log"
	LogTypeWarning LogType = "warning"
	LogTypeError   LogType = "error"
)

// LogEntry is one console line.
type LogEntry struct {
	Type    LogType   `json:"type"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Result is the shape most handlers answer with.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Host holds the simulated editor state.
type Host struct {
	log         *slog.Logger
	now         func() time.Time
	compileTime time.Duration
	compiling   atomic.Bool
	compileGen  atomic.Uint64

	mu          sync.Mutex
	scenes      []string
	activeScene string
	scene       *scene
	selection   []string
	dirty       bool
	playing     bool
	paused      bool
	playStarted time.Time
	console     []LogEntry
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.log = l
		}
	}
}

// WithScenes replaces the build-settings scene list. The first scene is the
// one open at start.
func WithScenes(names ...string) Option {
	return func(h *Host) {
		if len(names) > 0 {
			h.scenes = append([]string(nil), names...)
		}
	}
}

// WithCompileTime sets how long a recompile triggered by execute_csharp
// keeps the host busy.
func WithCompileTime(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.compileTime = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Host) { h.now = now }
}

// New constructs a Host with the default scenes "SampleScene" and "Level1".
func New(opts ...Option) *Host {
	h := &Host{
		log:         slog.Default(),
		now:         time.Now,
		compileTime: DefaultCompileTime,
		scenes:      []string{"SampleScene", "Level1"},
	}
	for _, o := range opts {
		o(h)
	}
	h.activeScene = h.scenes[0]
	h.scene = newScene(true)
	return h
}

// SetCompiling toggles the recompile flag consulted by BusyCheck. It also
// cancels the end of any recompile in progress.
func (h *Host) SetCompiling(v bool) {
	h.compileGen.Add(1)
	h.compiling.Store(v)
	h.log.Info("simhost.compiling", slog.Bool("compiling", v))
}

// Compiling reports whether a recompile is running.
func (h *Host) Compiling() bool { return h.compiling.Load() }

// recompile marks the host busy for compileTime. A later recompile extends
// the busy period.
func (h *Host) recompile() {
	gen := h.compileGen.Add(1)
	h.compiling.Store(true)
	h.log.Info("simhost.compile.start", slog.Duration("duration", h.compileTime))
	time.AfterFunc(h.compileTime, func() {
		if h.compileGen.Load() != gen {
			return
		}
		h.compiling.Store(false)
		h.Logf(LogTypeLog, "Script compilation finished")
		h.log.Info("simhost.compile.done")
	})
}

// BusyCheck is suitable for mainthread.WithBusyCheck.
func (h *Host) BusyCheck() (bool, string) {
	if h.compiling.Load() {
		return true, CompilingReason
	}
	return false, ""
}

// Logf appends an entry to the simulated console.
func (h *Host) Logf(typ LogType, format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLog(typ, fmt.Sprintf(format, args...))
}

func (h *Host) appendLog(typ LogType, msg string) {
	h.console = append(h.console, LogEntry{Type: typ, Message: msg, Time: h.now().UTC()})
	if over := len(h.console) - maxLogEntries; over > 0 {
		h.console = append(h.console[:0], h.console[over:]...)
	}
}

// Registry returns the method registry served by the simulated editor.
func (h *Host) Registry() (*methods.Registry, error) {
	return methods.New(h.Methods()...)
}

// Methods lists the simulated editor methods.
func (h *Host) Methods() []methods.Method {
	return []methods.Method{
		methods.Typed("execute_csharp", "Execute C# code in the editor.", h.executeCSharp),
		methods.Typed("scene_hierarchy", "Get the active scene hierarchy.", h.sceneHierarchy),
		methods.Typed("scene_load", "Load a scene by build index or name.", h.sceneLoad),
		methods.Typed("scene_save", "Save the active scene or all open scenes.", h.sceneSave),
		methods.Typed("console_get_logs", "Read recent console entries.", h.consoleGetLogs),
		methods.Typed("playmode_enter", "Enter play mode.", h.playModeEnter),
		methods.Typed("playmode_exit", "Exit play mode.", h.playModeExit),
		methods.Typed("playmode_status", "Report play mode state.", h.playModeStatus),

		methods.Typed("editor_select", "Select objects by name, tag or name pattern.", h.editorSelect),
		methods.Typed("editor_transform", "Set or offset the transform of the selection.", h.editorTransform),
		methods.Typed("editor_align", "Align the selection along one edge or center line.", h.editorAlign),
		methods.Typed("editor_distribute", "Space the selection evenly along an axis.", h.editorDistribute),
		methods.Typed("editor_duplicate", "Duplicate the selection.", h.editorDuplicate),
		methods.Typed("editor_delete", "Delete the selection.", h.editorDelete),
		methods.Typed("editor_parent", "Reparent the selection.", h.editorParent),
		methods.Typed("editor_component", "Add or remove a component on the selection.", h.editorComponent),
		methods.Typed("editor_find", "Find objects by component type or name pattern.", h.editorFind),
	}
}

type executeParams struct {
	Code string `json:"code" jsonschema:"minLength=1,description=C# statements to run"`
}

// ExecuteResult is returned by execute_csharp.
type ExecuteResult struct {
	Success     bool     `json:"success"`
	Output      []string `json:"output"`
	Recompiling bool     `json:"recompiling,omitempty"`
}

var (
	debugLogCall   = regexp.MustCompile(`Debug\.Log(Warning|Error)?\(\s*"((?:[^"\\]|\\.)*)"\s*\)`)
	compileRequest = regexp.MustCompile(`AssetDatabase\.Refresh\s*\(|CompilationPipeline\.RequestScriptCompilation\s*\(`)
)

// executeCSharp has no compiler behind it. Debug.Log, Debug.LogWarning and
// Debug.LogError calls with string literals are echoed to the console, and
// AssetDatabase.Refresh or CompilationPipeline.RequestScriptCompilation start
// a simulated recompile. Any other code is accepted as a no-op.
func (h *Host) executeCSharp(ctx context.Context, p executeParams) (any, error) {
	if p.Code == "" {
		return nil, &methods.ParamsError{Method: "execute_csharp", Err: errors.New("code is required")}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.dirty = true
	res := ExecuteResult{Success: true, Output: []string{}}
	for _, m := range debugLogCall.FindAllStringSubmatch(p.Code, -1) {
		typ := LogTypeLog
		switch m[1] {
		case "Warning":
			typ = LogTypeWarning
		case "Error":
			typ = LogTypeError
		}
		h.appendLog(typ, m[2])
		res.Output = append(res.Output, m[2])
	}
	if compileRequest.MatchString(p.Code) {
		res.Recompiling = true
		h.recompile()
	}
	return res, nil
}

// Hierarchy is returned by scene_hierarchy.
type Hierarchy struct {
	Scene   string       `json:"scene"`
	Objects []GameObject `json:"objects"`
}

func (h *Host) sceneHierarchy(ctx context.Context, _ struct{}) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	objs := h.scene.tree("")
	if objs == nil {
		objs = []GameObject{}
	}
	return Hierarchy{Scene: h.activeScene, Objects: objs}, nil
}

type sceneLoadParams struct {
	Index     *int   `json:"index,omitempty" jsonschema:"minimum=0,description=Build settings index"`
	SceneName string `json:"sceneName,omitempty" jsonschema:"description=Scene name as listed in build settings"`
}

func (h *Host) sceneLoad(ctx context.Context, p sceneLoadParams) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var name string
	switch {
	case p.Index != nil && *p.Index >= 0:
		if *p.Index >= len(h.scenes) {
			return nil, fmt.Errorf("no scene at build index %d", *p.Index)
		}
		name = h.scenes[*p.Index]
	case p.SceneName != "":
		for _, s := range h.scenes {
			if s == p.SceneName {
				name = s
				break
			}
		}
		if name == "" {
			return nil, fmt.Errorf("scene not found: %s", p.SceneName)
		}
	default:
		return nil, &methods.ParamsError{Method: "scene_load", Err: errors.New("no scene specified")}
	}

	if h.playing {
		return nil, errors.New("cannot load a scene in play mode")
	}
	h.activeScene = name
	h.scene = newScene(name == h.scenes[0])
	h.selection = nil
	h.dirty = false
	h.appendLog(LogTypeLog, "Loaded scene: "+name)
	return Result{Success: true, Message: "Loaded scene: " + name}, nil
}

type sceneSaveParams struct {
	SaveAll bool `json:"saveAll,omitempty" jsonschema:"description=Save every open scene"`
}

func (h *Host) sceneSave(ctx context.Context, p sceneSaveParams) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.playing {
		return nil, errors.New("cannot save while in play mode")
	}
	h.dirty = false
	if p.SaveAll {
		return Result{Success: true, Message: "Saved all open scenes"}, nil
	}
	return Result{Success: true, Message: "Saved scene: " + h.activeScene}, nil
}

type consoleParams struct {
	Limit int     `json:"limit,omitempty" jsonschema:"minimum=0,description=Maximum entries to return (newest last)"`
	Type  LogType `json:"type,omitempty" jsonschema:"enum=log,enum=warning,enum=error,description=Only entries of this type"`
}

// ConsoleLogs is returned by console_get_logs.
type ConsoleLogs struct {
	Logs  []LogEntry `json:"logs"`
	Total int        `json:"total"`
}

func (h *Host) consoleGetLogs(ctx context.Context, p consoleParams) (any, error) {
	switch p.Type {
	case "", LogTypeLog, LogTypeWarning, LogTypeError:
	default:
		return nil, &methods.ParamsError{Method: "console_get_logs", Err: fmt.Errorf("unknown log type %q", p.Type)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]LogEntry, 0, len(h.console))
	for _, e := range h.console {
		if p.Type == "" || e.Type == p.Type {
			out = append(out, e)
		}
	}
	total := len(out)
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[len(out)-p.Limit:]
	}
	return ConsoleLogs{Logs: out, Total: total}, nil
}

type playModeEnterParams struct {
	PauseOnEnter bool `json:"pauseOnEnter,omitempty" jsonschema:"description=Pause immediately after entering play mode"`
}

func (h *Host) playModeEnter(ctx context.Context, p playModeEnterParams) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.playing {
		return Result{Success: true, Message: "Already in play mode"}, nil
	}
	h.playing = true
	h.paused = p.PauseOnEnter
	h.playStarted = h.now()
	h.appendLog(LogTypeLog, "Entered play mode")
	return Result{Success: true, Message: "Entered play mode"}, nil
}

func (h *Host) playModeExit(ctx context.Context, _ struct{}) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.playing {
		return Result{Success: true, Message: "Not in play mode"}, nil
	}
	h.playing = false
	h.paused = false
	h.appendLog(LogTypeLog, "Exited play mode")
	return Result{Success: true, Message: "Exited play mode"}, nil
}

// PlayModeStatus is returned by playmode_status.
type PlayModeStatus struct {
	IsPlaying   bool    `json:"isPlaying"`
	IsPaused    bool    `json:"isPaused"`
	ElapsedSecs float64 `json:"elapsedSeconds"`
	Scene       string  `json:"scene"`
	Dirty       bool    `json:"dirty"`
}

func (h *Host) playModeStatus(ctx context.Context, _ struct{}) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := PlayModeStatus{IsPlaying: h.playing, IsPaused: h.paused, Scene: h.activeScene, Dirty: h.dirty}
	if h.playing {
		st.ElapsedSecs = h.now().Sub(h.playStarted).Seconds()
	}
	return st, nil
}
