// Package gallery holds the enrolled identities and their face signatures.
//
// The gallery is persisted as a JSON object mapping each name to its
// 128-number descriptor. Object key order is preserved on load and decides
// which identity wins when two are equally close to a probe.
package gallery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

// ErrMalformed is returned when the gallery file cannot be decoded.
var ErrMalformed = errors.New("malformed gallery")

// ErrIdentityNotFound is returned when an edit names an unknown identity.
var ErrIdentityNotFound = errors.New("identity not found")

// Identity is an enrolled person.
type Identity struct {
	Name      string
	Signature recognition.Descriptor
}

// FileReader reads whole files. *storage.FileStore satisfies it.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// LoadError reports a gallery that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load gallery %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Store is a read-only, ordered set of identities.
type Store struct {
	identities []Identity
}

// New creates a Store from identities in the given order.
func New(identities ...Identity) *Store {
	s := &Store{identities: make([]Identity, len(identities))}
	copy(s.identities, identities)
	return s
}

// Load reads and decodes the gallery at path.
func Load(path string, files FileReader) (*Store, error) {
	data, err := files.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	identities, err := Parse(data)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return &Store{identities: identities}, nil
}

// All returns every identity in insertion order.
func (s *Store) All() []Identity {
	out := make([]Identity, len(s.identities))
	copy(out, s.identities)
	return out
}

// Len returns the number of identities.
func (s *Store) Len() int {
	return len(s.identities)
}

// Names returns the identity names in insertion order.
func (s *Store) Names() []string {
	names := make([]string, len(s.identities))
	for i, id := range s.identities {
		names[i] = id.Name
	}
	return names
}

// Signatures returns the signatures in insertion order, index-aligned with Names.
func (s *Store) Signatures() []recognition.Descriptor {
	sigs := make([]recognition.Descriptor, len(s.identities))
	for i, id := range s.identities {
		sigs[i] = id.Signature
	}
	return sigs
}

// Parse decodes a gallery document, keeping object key order.
// A repeated key keeps its first position and takes the last value.
func Parse(data []byte) ([]Identity, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected object", ErrMalformed)
	}

	var identities []Identity
	index := make(map[string]int)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected name", ErrMalformed)
		}

		var values []float64
		if err := dec.Decode(&values); err != nil {
			return nil, fmt.Errorf("%w: signature of %q: %v", ErrMalformed, name, err)
		}
		if values == nil {
			return nil, fmt.Errorf("%w: signature of %q is null", ErrMalformed, name)
		}
		sig, err := toDescriptor(values)
		if err != nil {
			return nil, fmt.Errorf("%w: signature of %q: %v", ErrMalformed, name, err)
		}

		if i, dup := index[name]; dup {
			identities[i].Signature = sig
			continue
		}
		index[name] = len(identities)
		identities = append(identities, Identity{Name: name, Signature: sig})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	return identities, nil
}

func toDescriptor(values []float64) (recognition.Descriptor, error) {
	var d recognition.Descriptor
	if len(values) != recognition.DescriptorSize {
		return d, fmt.Errorf("expected %d values, got %d", recognition.DescriptorSize, len(values))
	}
	for i, v := range values {
		d[i] = float32(v)
	}
	return d, nil
}

// Marshal encodes identities as a gallery document in the given order.
func Marshal(identities []Identity) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, id := range identities {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")

		name, err := json.Marshal(id.Name)
		if err != nil {
			return nil, err
		}
		sig, err := json.Marshal(id.Signature)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteString(": ")
		buf.Write(sig)
	}
	if len(identities) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}
