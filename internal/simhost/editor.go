package simhost

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ggoodman/unity-mcp-bridge/methods"
)

// Selection-based scene editing. Positions are world space and parenting does
// not move objects. An object with a MeshRenderer is treated as a unit cube
// scaled by its transform for alignment; anything else is a point.

type selectParams struct {
	Names   []string `json:"names,omitempty" jsonschema:"description=Exact object names"`
	Tag     string   `json:"tag,omitempty" jsonschema:"description=Select every object with this tag"`
	Pattern string   `json:"pattern,omitempty" jsonschema:"description=Select objects whose name contains this text"`
	Frame   bool     `json:"frame,omitempty" jsonschema:"description=Frame the selection in the scene view"`
}

// Selection is returned by editor_select.
type Selection struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Objects []string `json:"objects"`
}

func (h *Host) editorSelect(ctx context.Context, p selectParams) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sel []string
	switch {
	case len(p.Names) > 0:
		for _, n := range p.Names {
			if _, ok := h.scene.get(n); ok && !slices.Contains(sel, n) {
				sel = append(sel, n)
			}
		}
	case p.Tag != "":
		for _, o := range h.scene.all() {
			if o.tag == p.Tag {
				sel = append(sel, o.name)
			}
		}
	case p.Pattern != "":
		sel = h.matching(p.Pattern)
	default:
		return nil, &methods.ParamsError{Method: "editor_select", Err: errors.New("one of names, tag or pattern is required")}
	}

	// An empty match keeps the previous selection.
	if len(sel) > 0 {
		h.selection = sel
	}
	return Selection{
		Success: true,
		Message: fmt.Sprintf("Selected %d objects", len(sel)),
		Objects: nonNil(sel),
	}, nil
}

func (h *Host) matching(pattern string) []string {
	var out []string
	for _, o := range h.scene.all() {
		if strings.Contains(o.name, pattern) {
			out = append(out, o.name)
		}
	}
	return out
}

// selected resolves the selection, dropping names that no longer exist.
func (h *Host) selected() []*object {
	out := make([]*object, 0, len(h.selection))
	for _, n := range h.selection {
		if o, ok := h.scene.get(n); ok {
			out = append(out, o)
		}
	}
	return out
}

type transformParams struct {
	Position *Vec3 `json:"position,omitempty" jsonschema:"description=Absolute world position"`
	Rotation *Vec3 `json:"rotation,omitempty" jsonschema:"description=Absolute euler angles"`
	Scale    *Vec3 `json:"scale,omitempty" jsonschema:"description=Absolute local scale"`
	MoveBy   *Vec3 `json:"moveBy,omitempty" jsonschema:"description=Offset added to the position"`
	RotateBy *Vec3 `json:"rotateBy,omitempty" jsonschema:"description=Euler angles added to the rotation"`
	ScaleBy  *Vec3 `json:"scaleBy,omitempty" jsonschema:"description=Per-axis factor applied to the scale"`
}

func (h *Host) editorTransform(ctx context.Context, p transformParams) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	objs := h.selected()
	for _, o := range objs {
		if p.Position != nil {
			o.position = *p.Position
		}
		if p.Rotation != nil {
			o.rotation = *p.Rotation
		}
		if p.Scale != nil {
			o.scale = *p.Scale
		}
		for i := range 3 {
			if p.MoveBy != nil {
				o.position[i] += p.MoveBy[i]
			}
			if p.RotateBy != nil {
				o.rotation[i] += p.RotateBy[i]
			}
			if p.ScaleBy != nil {
				o.scale[i] *= p.ScaleBy[i]
			}
		}
	}
	h.touch(len(objs))
	return Result{Success: true, Message: fmt.Sprintf("Transformed %d objects", len(objs))}, nil
}

type alignParams struct {
	Alignment string `json:"alignment" jsonschema:"enum=left,enum=right,enum=top,enum=bottom,enum=center-horizontal,enum=center-vertical,description=Edge or center line to align to"`
}

func extents(o *object) Vec3 {
	if !o.hasComponent("MeshRenderer") {
		return Vec3{}
	}
	return Vec3{o.scale[0] / 2, o.scale[1] / 2, o.scale[2] / 2}
}

func (h *Host) editorAlign(ctx context.Context, p alignParams) (any, error) {
	var axis int
	switch p.Alignment {
	case "left", "right", "center-horizontal":
		axis = 0
	case "bottom", "top", "center-vertical":
		axis = 1
	default:
		return nil, &methods.ParamsError{Method: "editor_align", Err: fmt.Errorf("unknown alignment %q", p.Alignment)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	objs := h.selected()
	if len(objs) < 2 {
		return nil, errors.New("align needs at least 2 selected objects")
	}

	lo := make([]float64, len(objs))
	hi := make([]float64, len(objs))
	for i, o := range objs {
		e := extents(o)[axis]
		lo[i], hi[i] = o.position[axis]-e, o.position[axis]+e
	}

	switch p.Alignment {
	case "left", "bottom":
		target := slices.Min(lo)
		for _, o := range objs {
			o.position[axis] = target + extents(o)[axis]
		}
	case "right", "top":
		target := slices.Max(hi)
		for _, o := range objs {
			o.position[axis] = target - extents(o)[axis]
		}
	default:
		var sum float64
		for _, o := range objs {
			sum += o.position[axis]
		}
		avg := sum / float64(len(objs))
		for _, o := range objs {
			o.position[axis] = avg
		}
	}
	h.touch(len(objs))
	return Result{Success: true, Message: fmt.Sprintf("Aligned %d objects to %s", len(objs), p.Alignment)}, nil
}

type distributeParams struct {
	Axis string `json:"axis" jsonschema:"enum=horizontal,enum=vertical,enum=x,enum=y,description=Axis to distribute along"`
}

func (h *Host) editorDistribute(ctx context.Context, p distributeParams) (any, error) {
	var axis int
	switch p.Axis {
	case "horizontal", "x":
		axis = 0
	case "vertical", "y":
		axis = 1
	default:
		return nil, &methods.ParamsError{Method: "editor_distribute", Err: fmt.Errorf("unknown axis %q", p.Axis)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	objs := h.selected()
	if len(objs) < 3 {
		return nil, errors.New("distribute needs at least 3 selected objects")
	}
	slices.SortStableFunc(objs, func(a, b *object) int { return cmp.Compare(a.position[axis], b.position[axis]) })

	first, last := objs[0].position[axis], objs[len(objs)-1].position[axis]
	step := (last - first) / float64(len(objs)-1)
	for i, o := range objs[1 : len(objs)-1] {
		o.position[axis] = first + step*float64(i+1)
	}
	h.touch(len(objs))
	return Result{Success: true, Message: fmt.Sprintf("Distributed %d objects along %s", len(objs), p.Axis)}, nil
}

// editorDuplicate copies each selected object with its subtree and selects
// the copies.
func (h *Host) editorDuplicate(ctx context.Context, _ struct{}) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	objs := h.selected()
	copies := make([]string, 0, len(objs))
	for _, o := range objs {
		copies = append(copies, h.clone(o, o.parent, o.name+" (Copy)"))
	}
	if len(copies) > 0 {
		h.selection = copies
	}
	h.touch(len(objs))
	return Selection{
		Success: true,
		Message: fmt.Sprintf("Duplicated %d objects", len(objs)),
		Objects: copies,
	}, nil
}

func (h *Host) clone(o *object, parent, name string) string {
	c := *o
	c.name = h.scene.uniqueName(name)
	c.parent = parent
	c.components = slices.Clone(o.components)
	h.scene.add(&c)
	for _, child := range h.scene.children(o.name) {
		h.clone(child, c.name, child.name)
	}
	return c.name
}

func (h *Host) editorDelete(ctx context.Context, _ struct{}) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	objs := h.selected()
	for _, o := range objs {
		h.scene.remove(o.name)
	}
	h.selection = nil
	h.touch(len(objs))
	return Result{Success: true, Message: fmt.Sprintf("Deleted %d objects", len(objs))}, nil
}

type parentParams struct {
	ParentName string `json:"parentName,omitempty" jsonschema:"description=New parent; created when missing. Empty moves the selection to the scene root"`
}

func (h *Host) editorParent(ctx context.Context, p parentParams) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	objs := h.selected()
	if p.ParentName != "" {
		for _, o := range objs {
			if h.scene.isAncestor(o.name, p.ParentName) {
				return nil, fmt.Errorf("cannot parent %s under its own descendant %s", o.name, p.ParentName)
			}
		}
		if _, ok := h.scene.get(p.ParentName); !ok {
			h.scene.add(&object{name: p.ParentName, components: []string{"Transform"}})
		}
	}
	for _, o := range objs {
		o.parent = p.ParentName
	}
	h.touch(len(objs))

	target := p.ParentName
	if target == "" {
		target = "root"
	}
	return Result{Success: true, Message: fmt.Sprintf("Parented %d objects to %s", len(objs), target)}, nil
}

type componentParams struct {
	Operation     string `json:"operation" jsonschema:"enum=add,enum=remove"`
	ComponentType string `json:"componentType" jsonschema:"minLength=1,description=Component type name such as Rigidbody"`
}

func (h *Host) editorComponent(ctx context.Context, p componentParams) (any, error) {
	if p.ComponentType == "" {
		return nil, &methods.ParamsError{Method: "editor_component", Err: errors.New("componentType is required")}
	}
	switch p.Operation {
	case "add", "remove":
	default:
		return nil, &methods.ParamsError{Method: "editor_component", Err: fmt.Errorf("unknown operation %q", p.Operation)}
	}
	if p.Operation == "remove" && p.ComponentType == "Transform" {
		return nil, errors.New("the Transform component cannot be removed")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	objs := h.selected()
	for _, o := range objs {
		has := o.hasComponent(p.ComponentType)
		switch {
		case p.Operation == "add" && !has:
			o.components = append(o.components, p.ComponentType)
		case p.Operation == "remove" && has:
			o.components = slices.DeleteFunc(o.components, func(c string) bool { return c == p.ComponentType })
		}
	}
	h.touch(len(objs))
	return Result{Success: true, Message: fmt.Sprintf("%s component %s on %d objects", p.Operation, p.ComponentType, len(objs))}, nil
}

type findParams struct {
	Type    string `json:"type,omitempty" jsonschema:"description=Find objects carrying this component type"`
	Pattern string `json:"pattern,omitempty" jsonschema:"description=Find objects whose name contains this text"`
}

// Found is returned by editor_find.
type Found struct {
	Success bool     `json:"success"`
	Count   int      `json:"count"`
	Objects []string `json:"objects"`
}

func (h *Host) editorFind(ctx context.Context, p findParams) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var names []string
	switch {
	case p.Type != "":
		for _, o := range h.scene.all() {
			if o.hasComponent(p.Type) {
				names = append(names, o.name)
			}
		}
	case p.Pattern != "":
		names = h.matching(p.Pattern)
	}
	return Found{Success: true, Count: len(names), Objects: nonNil(names)}, nil
}

func (h *Host) touch(n int) {
	if n > 0 {
		h.dirty = true
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
