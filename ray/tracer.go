package ray

// Tracer is the out-of-scope BVH traversal and shading engine (spec.md §1,
// §9). It is modeled as a capability set, not a class hierarchy: a real
// implementation backs both methods with the same underlying scene data,
// but nothing in this package assumes that.
type Tracer interface {
	// Trace advances r's BVH traversal by one step against bvh, returning
	// the updated ray.
	Trace(r *State, bvh BVH) (*State, error)

	// Shade computes the ray's surface interaction against bvh/lights,
	// sampling with sampler, and returns zero or more newly spawned rays
	// plus whether r's path is now complete.
	Shade(r *State, bvh BVH, lights Lights, sampler Sampler) ([]*State, bool, error)
}

// BVH, Lights, and Sampler are opaque handles to scene state the tracer
// consumes. This module never inspects them; a concrete tracer package
// supplies the real types.
type BVH interface{}
type Lights interface{}
type Sampler interface{}

// StorageBackend fetches serialized scene objects by key (spec.md §1's
// "serialized-object storage backend").
type StorageBackend interface {
	Fetch(key string) ([]byte, error)
}

// SceneLoader initializes the camera, sampler, lights, and fake scene from
// fetched objects (spec.md §4.7's GetObjects handler).
type SceneLoader interface {
	Init(objects map[string][]byte) error
}
