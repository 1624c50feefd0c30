package storage

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"

	"github.com/pixil98/go-errors"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9-]*$`)

type ValidatingSpec interface {
	Validate() error
}

type Identifier string

func (id Identifier) String() string {
	return string(id)
}

// Document is the on-disk envelope for a piece of authored world content.
// The spec payload is versioned so content files can migrate independently
// of the engine binary.
type Document[T ValidatingSpec] struct {
	Version    uint       `json:"version"`
	Identifier Identifier `json:"id"`
	Spec       T          `json:"spec"`
}

func (d *Document[T]) Id() string {
	return d.Identifier.String()
}

func (d *Document[T]) Validate() error {
	el := errors.NewErrorList()

	if d.Version == 0 {
		el.Add(fmt.Errorf("version must be set"))
	}

	if d.Identifier == "" {
		el.Add(fmt.Errorf("id must be set"))
	}

	if !identifierPattern.MatchString(d.Identifier.String()) {
		el.Add(fmt.Errorf("id must be alphanumeric"))
	}

	el.Add(d.Spec.Validate())

	return el.Err()
}

// Ref is a by-id reference from one content document to another. It
// marshals as the bare id string and is resolved against a store after
// all content has loaded.
type Ref[T ValidatingSpec] struct {
	key string
	val T
}

func NewRef[T ValidatingSpec](key string) Ref[T] {
	return Ref[T]{key: key}
}

func NewResolvedRef[T ValidatingSpec](key string, val T) Ref[T] {
	return Ref[T]{key: key, val: val}
}

func (r *Ref[T]) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &r.key)
}

func (r Ref[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.key)
}

func (r Ref[T]) Validate() error {
	if r.key == "" {
		var zero T
		return fmt.Errorf("%s identifier is required", reflect.TypeOf(zero).Elem().Name())
	}
	return nil
}

func (r *Ref[T]) Resolve(st Storer[T]) error {
	r.val = st.Get(r.key)
	if reflect.ValueOf(r.val).IsNil() {
		var zero T
		return fmt.Errorf("%s %q not found", reflect.TypeOf(zero).Elem().Name(), r.key)
	}
	return nil
}

func (r Ref[T]) Key() string {
	return r.key
}

func (r Ref[T]) Value() T {
	return r.val
}
