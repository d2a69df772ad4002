package resultstream

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/dbd-testing/teststage/pkg/types"
)

// Resolver resolves a type name inside a namespace to a pointer to a fresh
// zero value of that type, ready to be decoded into.
type Resolver interface {
	Resolve(name string) (interface{}, error)
}

// TypeTable is a Resolver backed by a map of type names to constructors.
type TypeTable map[string]func() interface{}

// Resolve implements Resolver.
func (t TypeTable) Resolve(name string) (interface{}, error) {
	newFn, ok := t[name]
	if !ok {
		return nil, fmt.Errorf("unknown type '%s'", name)
	}
	return newFn(), nil
}

// Registry maps the namespaces found in type references to the Resolvers
// that handle them.
type Registry struct {
	resolvers map[string]Resolver
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register makes r handle every type reference declared under namespace,
// replacing any previous Resolver for it.
func (reg *Registry) Register(namespace string, r Resolver) {
	reg.resolvers[namespace] = r
}

// Namespaces returns the registered namespaces, sorted.
func (reg *Registry) Namespaces() []string {
	ns := make([]string, 0, len(reg.resolvers))
	for n := range reg.resolvers {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}

func (reg *Registry) resolve(ref string) (interface{}, error) {
	namespace, name := splitQualified(ref)
	r, ok := reg.resolvers[namespace]
	if !ok {
		return nil, fmt.Errorf("cannot resolve '%s': unknown namespace '%s' (%v)", ref, namespace, reg.Namespaces())
	}
	v, err := r.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve '%s': %s", ref, err)
	}
	return v, nil
}

// LocalTypes is the table of record types declared in this module.
func LocalTypes() TypeTable {
	return TypeTable{
		"ResultRecord": func() interface{} { return new(types.ResultRecord) },
	}
}

// DefaultRegistry returns a Registry resolving the local namespace and
// mapping the example runner's namespace onto the identically named local
// types.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(LocalNamespace, LocalTypes())
	reg.Register(RunnerNamespace, LocalTypes())
	return reg
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
