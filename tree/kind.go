package tree

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"bough/cas"
)

// Attrs holds the scalar and multi-value attributes of a content instance.
// Values must be JSON-encodable.
type Attrs map[string]interface{}

// Site is the policy object consulted as final authority on every edit.
// Implementations must be free of side effects beyond the decision.
type Site interface {
	ValidateRelationship(parent *Node, child *Kind, inst *Node) error
}

// Builder lets post-create hooks add content below a freshly created node.
type Builder interface {
	AddChild(parent *Node, kind string, attrs Attrs) (*Node, error)
	Site() Site
}

// ChildSpec describes one child created by a default-children policy.
type ChildSpec struct {
	Kind  string
	Attrs Attrs
}

// Contributor adds entries to the template namespace of a node.
type Contributor func(n *Node, ns map[string]interface{})

// TrackerRef declares that an attribute of this kind holds a version tracker id.
// Counted references keep a tracker alive for orphan detection; Counted=false
// opts the relationship out of orphan tracking.
type TrackerRef struct {
	Attr    string
	Counted bool
}

// Kind describes a pluggable content type.
type Kind struct {
	Name  string
	Title string

	AcceptingChildren    bool
	Draggable            bool
	Deletable            bool
	InvisibleInHierarchy bool
	Tabbed               bool

	// ValidChildOf is asked on the child's kind: does it consent to live
	// under parent? inst is nil for class-only queries.
	ValidChildOf func(parent, inst *Node) bool
	// ValidParentOf is asked on the parent's kind with the concrete parent:
	// does it adopt a child of the given kind? inst is nil for class-only queries.
	ValidParentOf func(parent *Node, child *Kind, inst *Node) bool

	DefaultChildren []ChildSpec
	PostCreate      func(b Builder, n *Node) error

	Validate func(Attrs) error
	Clone    func(Attrs) Attrs
	Equal    func(a, b Attrs) bool
	Decode   func(raw []byte) (Attrs, error)

	Contributors []Contributor
	TrackerRefs  []TrackerRef

	unknown bool
}

// Unknown returns the fallback kind used for stored content whose kind is
// not registered. It accepts no children and consents to no parent.
func Unknown(name string) *Kind {
	return &Kind{
		Name:         name,
		Title:        fmt.Sprintf("Unknown(%s)", name),
		Deletable:    true,
		ValidChildOf: func(parent, inst *Node) bool { return false },
		unknown:      true,
	}
}

// IsUnknown reports whether k is the unknown-kind fallback.
func (k *Kind) IsUnknown() bool {
	return k.unknown
}

// DisplayName returns Title, or Name when no title is set.
func (k *Kind) DisplayName() string {
	if k.Title != "" {
		return k.Title
	}
	return k.Name
}

// CloneAttrs duplicates attrs for a fresh identity.
func (k *Kind) CloneAttrs(a Attrs) (Attrs, error) {
	if k.Clone != nil {
		return k.Clone(a), nil
	}
	raw, err := k.EncodeAttrs(a)
	if err != nil {
		return nil, err
	}
	return decodeAttrs(raw)
}

// EqualAttrs compares two attribute sets of this kind.
func (k *Kind) EqualAttrs(a, b Attrs) bool {
	if k.Equal != nil {
		return k.Equal(a, b)
	}
	eq, err := cas.EqualJSON(normalize(a), normalize(b))
	return err == nil && eq
}

// EncodeAttrs serializes attrs as canonical JSON.
func (k *Kind) EncodeAttrs(a Attrs) ([]byte, error) {
	return cas.CanonicalJSON(normalize(a))
}

// DecodeAttrs parses stored attributes.
func (k *Kind) DecodeAttrs(raw []byte) (Attrs, error) {
	if k.Decode != nil {
		return k.Decode(raw)
	}
	return decodeAttrs(raw)
}

// ValidateAttrs runs the kind's Validate hook, if any.
func (k *Kind) ValidateAttrs(a Attrs) error {
	if k.Validate == nil {
		return nil
	}
	return k.Validate(a)
}

func normalize(a Attrs) Attrs {
	if a == nil {
		return Attrs{}
	}
	return a
}

func decodeAttrs(raw []byte) (Attrs, error) {
	attrs := Attrs{}
	if len(raw) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("decoding attrs: %w", err)
	}
	return attrs, nil
}

var (
	ErrRegistryFrozen    = errors.New("kind registry is frozen")
	ErrRegistryNotFrozen = errors.New("kind registry has not been frozen")
	ErrUnknownKind       = errors.New("unknown content kind")
)

var kindNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(/[a-z][a-z0-9_]*)*$`)

// OwnerRef is a counted tracker reference declared by a registered kind.
type OwnerRef struct {
	Kind string
	Attr string
}

// Registry maps stable kind names to kinds. Startup is two-phase: register
// everything, then Freeze once; configuration problems surface from Freeze.
type Registry struct {
	mu       sync.RWMutex
	kinds    map[string]*Kind
	order    []*Kind
	problems []error
	frozen   bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]*Kind)}
}

// Register adds kinds. Problems with individual kinds are reported by Freeze.
func (r *Registry) Register(kinds ...*Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	for _, k := range kinds {
		if k == nil {
			r.problems = append(r.problems, errors.New("nil kind"))
			continue
		}
		if _, dup := r.kinds[k.Name]; dup {
			r.problems = append(r.problems, fmt.Errorf("kind %q registered twice", k.Name))
			continue
		}
		r.kinds[k.Name] = k
		r.order = append(r.order, k)
	}
	return nil
}

// Freeze validates every registered kind and closes the registry. On error
// the registry stays open and nothing may be looked up.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil
	}

	problems := append([]error(nil), r.problems...)
	for _, k := range r.order {
		if !kindNamePattern.MatchString(k.Name) {
			problems = append(problems, fmt.Errorf("kind %q: invalid name", k.Name))
		}
		if len(k.DefaultChildren) > 0 && !k.AcceptingChildren {
			problems = append(problems, fmt.Errorf("kind %q: default children on a kind that accepts none", k.Name))
		}
		for _, spec := range k.DefaultChildren {
			if _, ok := r.kinds[spec.Kind]; !ok {
				problems = append(problems, fmt.Errorf("kind %q: default child kind %q is not registered", k.Name, spec.Kind))
			}
		}
		seen := make(map[string]bool)
		for _, ref := range k.TrackerRefs {
			if ref.Attr == "" {
				problems = append(problems, fmt.Errorf("kind %q: tracker reference without attribute", k.Name))
			}
			if seen[ref.Attr] {
				problems = append(problems, fmt.Errorf("kind %q: tracker reference %q declared twice", k.Name, ref.Attr))
			}
			seen[ref.Attr] = true
		}
	}

	if len(problems) > 0 {
		return errors.Join(problems...)
	}
	r.frozen = true
	return nil
}

// Frozen reports whether Freeze succeeded.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the registered kind for name.
func (r *Registry) Lookup(name string) (*Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// Resolve returns the registered kind for name, or the Unknown fallback.
func (r *Registry) Resolve(name string) *Kind {
	if k, ok := r.Lookup(name); ok {
		return k
	}
	return Unknown(name)
}

// Kinds returns registered kinds in registration order.
func (r *Registry) Kinds() []*Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Kind(nil), r.order...)
}

// TrackerOwners lists every counted tracker reference across registered kinds.
func (r *Registry) TrackerOwners() []OwnerRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var refs []OwnerRef
	for _, k := range r.order {
		for _, ref := range k.TrackerRefs {
			if ref.Counted {
				refs = append(refs, OwnerRef{Kind: k.Name, Attr: ref.Attr})
			}
		}
	}
	return refs
}
