// Package schema is the type registry and field validator for command
// objects. Every object is described by a table of field metadata; the
// same tables drive required/value checks on arrival and the
// immutable/write-once discipline between stored versions.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"vasppay/internal/offchain"
)

// Validate is the shared validator instance used for field value rules.
var Validate = validator.New()

// Kind is the expected JSON kind of a field.
type Kind int

const (
	KindString Kind = iota
	KindUint
	KindInt
	KindBool
	KindObject
	KindStringArray
)

// Field describes one field of a command object.
type Field struct {
	Name       string
	Required   bool
	Immutable  bool // must be byte-equal between versions
	WriteOnce  bool // may transition unset -> set once, then frozen
	AppendOnly bool // arrays only: prior must be a prefix of the new value
	Kind       Kind
	Rule       string // validator tag evaluated against the value
	Object     string // nested schema name for KindObject
}

// Object is a registered command object schema.
type Object struct {
	Name   string
	Fields []Field
}

func (o *Object) field(name string) (Field, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Lookup returns a registered schema by object type name.
func Lookup(name string) (*Object, bool) {
	o, ok := registry[name]
	return o, ok
}

// Decode parses raw JSON into a generic tree, preserving number precision.
func Decode(raw []byte) (map[string]any, *offchain.Error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, offchain.NewCommandError(offchain.CodeInvalidJSON, err.Error())
	}
	return tree, nil
}

// Discover resolves the object type from the _ObjectType discriminator.
func Discover(raw map[string]any) (string, *offchain.Error) {
	v, ok := raw["_ObjectType"]
	if !ok {
		return "", offchain.NewCommandError(offchain.CodeMissingField, "object has no _ObjectType").
			WithField("_ObjectType")
	}
	name, ok := v.(string)
	if !ok {
		return "", offchain.NewCommandError(offchain.CodeInvalidFieldValue, "_ObjectType must be a string").
			WithField("_ObjectType")
	}
	if _, ok := registry[name]; !ok {
		return "", offchain.NewCommandError(offchain.CodeInvalidObject,
			fmt.Sprintf("unknown object type %q", name)).WithField("_ObjectType")
	}
	return name, nil
}

// CommandObjectType maps a command_type to the schema of its command object.
func CommandObjectType(commandType string) (string, bool) {
	name, ok := commandObjects[commandType]
	return name, ok
}

// ValidateObject checks a raw tree against a schema. An empty objectType
// discovers the schema from _ObjectType.
func ValidateObject(raw map[string]any, objectType string) *offchain.Error {
	if objectType == "" {
		name, err := Discover(raw)
		if err != nil {
			return err
		}
		objectType = name
	}
	obj, ok := registry[objectType]
	if !ok {
		return offchain.NewCommandError(offchain.CodeInvalidObject,
			fmt.Sprintf("no schema registered for %q", objectType))
	}
	return validateTree("", obj, raw)
}

func validateTree(path string, obj *Object, raw map[string]any) *offchain.Error {
	// Unknown fields, reported with deterministically sorted names.
	var unknown []string
	for key := range raw {
		if _, ok := obj.field(key); !ok {
			unknown = append(unknown, joinPath(path, key))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return offchain.NewCommandError(offchain.CodeUnknownField,
			"unknown fields: "+strings.Join(unknown, ", ")).WithField(unknown[0])
	}

	for _, f := range obj.Fields {
		fieldPath := joinPath(path, f.Name)
		value, present := raw[f.Name]
		if !present || value == nil {
			if f.Required {
				return offchain.NewCommandError(offchain.CodeMissingField,
					"required field is missing").WithField(fieldPath)
			}
			continue
		}
		if err := validateValue(fieldPath, f, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, f Field, value any) *offchain.Error {
	switch f.Kind {
	case KindString:
		s, ok := value.(string)
		if !ok {
			return valueError(path, "expected a string")
		}
		if f.Rule != "" {
			if err := Validate.Var(s, f.Rule); err != nil {
				return valueError(path, fmt.Sprintf("%q does not satisfy %q", s, f.Rule))
			}
		}

	case KindUint:
		n, ok := value.(json.Number)
		if !ok {
			return valueError(path, "expected an unsigned integer")
		}
		u, err := parseUint(n)
		if err != nil {
			return valueError(path, fmt.Sprintf("%s is not an unsigned integer", n.String()))
		}
		if f.Rule != "" {
			if err := Validate.Var(u, f.Rule); err != nil {
				return valueError(path, fmt.Sprintf("%d does not satisfy %q", u, f.Rule))
			}
		}

	case KindInt:
		n, ok := value.(json.Number)
		if !ok {
			return valueError(path, "expected an integer")
		}
		if _, err := n.Int64(); err != nil {
			return valueError(path, fmt.Sprintf("%s is not an integer", n.String()))
		}

	case KindBool:
		if _, ok := value.(bool); !ok {
			return valueError(path, "expected a boolean")
		}

	case KindObject:
		sub, ok := value.(map[string]any)
		if !ok {
			return valueError(path, "expected an object")
		}
		if f.Object != "" {
			nested, ok := registry[f.Object]
			if !ok {
				return offchain.NewCommandError(offchain.CodeInvalidObject,
					fmt.Sprintf("no schema registered for %q", f.Object)).WithField(path)
			}
			return validateTree(path, nested, sub)
		}

	case KindStringArray:
		arr, ok := value.([]any)
		if !ok {
			return valueError(path, "expected an array")
		}
		for i, item := range arr {
			if _, ok := item.(string); !ok {
				return valueError(fmt.Sprintf("%s[%d]", path, i), "expected a string")
			}
		}
	}
	return nil
}

// ValidateAgainstPrior checks a new version of a previously stored object:
// the new tree must be valid on its own, and every immutable/write-once
// field must honor its discipline against the prior value.
func ValidateAgainstPrior(incoming, prior map[string]any, objectType string) *offchain.Error {
	if err := ValidateObject(incoming, objectType); err != nil {
		return err
	}
	obj, ok := registry[objectType]
	if !ok {
		return offchain.NewCommandError(offchain.CodeInvalidObject,
			fmt.Sprintf("no schema registered for %q", objectType))
	}
	return diffTree("", obj, incoming, prior)
}

func diffTree(path string, obj *Object, incoming, prior map[string]any) *offchain.Error {
	for _, f := range obj.Fields {
		fieldPath := joinPath(path, f.Name)
		newV, hasNew := incoming[f.Name]
		oldV, hasOld := prior[f.Name]
		if !hasNew {
			newV = nil
		}
		if !hasOld {
			oldV = nil
		}

		switch {
		case f.Immutable:
			if !reflect.DeepEqual(newV, oldV) {
				return overwriteError(fieldPath, "immutable field changed")
			}

		case f.WriteOnce:
			if oldV != nil && !reflect.DeepEqual(newV, oldV) {
				return overwriteError(fieldPath, "write-once field changed after being set")
			}

		case f.AppendOnly:
			oldArr, _ := oldV.([]any)
			newArr, _ := newV.([]any)
			if len(newArr) < len(oldArr) {
				return overwriteError(fieldPath, "append-only field shrank")
			}
			for i := range oldArr {
				if !reflect.DeepEqual(newArr[i], oldArr[i]) {
					return overwriteError(fieldPath, "append-only field rewrote an existing element")
				}
			}

		case f.Kind == KindObject && f.Object != "":
			newSub, okNew := newV.(map[string]any)
			oldSub, okOld := oldV.(map[string]any)
			if okNew && okOld {
				nested := registry[f.Object]
				if err := diffTree(fieldPath, nested, newSub, oldSub); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ToTree converts a typed object into the generic tree form the
// validators operate on.
func ToTree(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	tree, derr := Decode(raw)
	if derr != nil {
		return nil, derr
	}
	return tree, nil
}

func parseUint(n json.Number) (uint64, error) {
	i, err := n.Int64()
	if err == nil && i >= 0 {
		return uint64(i), nil
	}
	// Values above MaxInt64 fail Int64; reparse as unsigned.
	var u uint64
	if _, serr := fmt.Sscanf(n.String(), "%d", &u); serr != nil || strings.HasPrefix(n.String(), "-") {
		return 0, fmt.Errorf("not an unsigned integer: %s", n.String())
	}
	return u, nil
}

func valueError(path, msg string) *offchain.Error {
	return offchain.NewCommandError(offchain.CodeInvalidFieldValue, msg).WithField(path)
}

func overwriteError(path, msg string) *offchain.Error {
	return offchain.NewCommandError(offchain.CodeInvalidOverwrite, msg).WithField(path)
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
