package model

// World is a named pair (scene, timeline), created on first reference.
// The replica-side proxies (nodesproxy, timelineproxy) do the heavy
// lifting; this struct is just the name the server-side world is keyed
// on.
type World struct {
	Name string
}

// NewWorld names a world. The server lazily creates the backing state on
// first reference — constructing a World value here has no side effect.
func NewWorld(name string) World {
	return World{Name: name}
}

func (w World) String() string { return "world " + w.Name }
