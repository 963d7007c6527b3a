package simhost

import (
	"slices"
	"strconv"
)

// Vec3 is an x, y, z triple encoded as a JSON array.
type Vec3 [3]float64

// GameObject is a node in the simulated scene hierarchy.
type GameObject struct {
	Name       string       `json:"name"`
	Tag        string       `json:"tag,omitempty"`
	Active     bool         `json:"active"`
	Position   Vec3         `json:"position"`
	Components []string     `json:"components"`
	Children   []GameObject `json:"children,omitempty"`
}

type object struct {
	name       string
	tag        string
	parent     string
	position   Vec3
	rotation   Vec3
	scale      Vec3
	components []string
}

func (o *object) hasComponent(c string) bool {
	return slices.Contains(o.components, c)
}

// scene is a flat name-indexed object set. Names are unique; order keeps
// creation order so listings are stable.
type scene struct {
	objects map[string]*object
	order   []string
}

// newScene builds the default contents of a freshly opened scene. The first
// build-settings scene is the empty template; every other scene also has an
// environment with a ground plane.
func newScene(template bool) *scene {
	s := &scene{objects: make(map[string]*object)}
	s.add(&object{name: "Main Camera", tag: "MainCamera", position: Vec3{0, 1, -10}, components: []string{"Transform", "Camera", "AudioListener"}})
	s.add(&object{name: "Directional Light", rotation: Vec3{50, -30, 0}, components: []string{"Transform", "Light"}})
	if !template {
		s.add(&object{name: "Environment", components: []string{"Transform"}})
		s.add(&object{name: "Ground", parent: "Environment", scale: Vec3{10, 1, 10}, components: []string{"Transform", "MeshFilter", "MeshRenderer", "BoxCollider"}})
	}
	return s
}

func (s *scene) add(o *object) {
	if o.scale == (Vec3{}) {
		o.scale = Vec3{1, 1, 1}
	}
	s.objects[o.name] = o
	s.order = append(s.order, o.name)
}

func (s *scene) get(name string) (*object, bool) {
	o, ok := s.objects[name]
	return o, ok
}

func (s *scene) all() []*object {
	out := make([]*object, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.objects[n])
	}
	return out
}

func (s *scene) children(parent string) []*object {
	var out []*object
	for _, n := range s.order {
		if o := s.objects[n]; o.parent == parent {
			out = append(out, o)
		}
	}
	return out
}

// remove deletes name and all of its descendants.
func (s *scene) remove(name string) {
	for _, c := range s.children(name) {
		s.remove(c.name)
	}
	delete(s.objects, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
}

// isAncestor reports whether anc is name or one of its parents.
func (s *scene) isAncestor(anc, name string) bool {
	for name != "" {
		if name == anc {
			return true
		}
		o, ok := s.objects[name]
		if !ok {
			return false
		}
		name = o.parent
	}
	return false
}

// uniqueName returns base, or base followed by the first free counter.
func (s *scene) uniqueName(base string) string {
	if _, taken := s.objects[base]; !taken {
		return base
	}
	for i := 2; ; i++ {
		n := base + " " + strconv.Itoa(i)
		if _, taken := s.objects[n]; !taken {
			return n
		}
	}
}

func (s *scene) tree(parent string) []GameObject {
	var out []GameObject
	for _, o := range s.children(parent) {
		out = append(out, GameObject{
			Name:       o.name,
			Tag:        o.tag,
			Active:     true,
			Position:   o.position,
			Components: slices.Clone(o.components),
			Children:   s.tree(o.name),
		})
	}
	return out
}
