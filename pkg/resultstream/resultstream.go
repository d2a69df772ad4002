// Package resultstream implements the binary stream in which the example
// runner hands its result records over to teststage.
//
// The runner executes inside the cluster containers, where the record type
// lives under a different namespace than it does here. Every record in the
// stream therefore carries a qualified type reference ("namespace.Name"), which
// the decoder resolves through an explicit Registry instead of failing on the
// foreign namespace.
package resultstream

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/pkg/errors"

	"github.com/dbd-testing/teststage/pkg/types"
)

const (
	// Magic identifies a result stream.
	Magic = "teststage-results"

	// Version is the current version of the stream format.
	Version = 1

	// LocalNamespace is the namespace under which the record types are
	// declared in this module.
	LocalNamespace = "types"

	// RunnerNamespace is the namespace the example runner declares the
	// record types under.
	RunnerNamespace = "report"
)

// maxPrealloc bounds the number of records allocated up front.
const maxPrealloc = 1024

type header struct {
	Magic   string
	Version int
	Count   int
}

type envelope struct {
	Type    string
	Payload []byte
}

// Encoder writes result records to a stream, addressing their type under a
// fixed namespace.
type Encoder struct {
	enc       *gob.Encoder
	namespace string
}

// NewEncoder returns an Encoder writing to w. namespace is the namespace the
// record types are declared under in the writing environment.
func NewEncoder(w io.Writer, namespace string) *Encoder {
	return &Encoder{enc: gob.NewEncoder(w), namespace: namespace}
}

// Encode writes records as a single stream. It must be called once per
// stream.
func (e *Encoder) Encode(records []types.ResultRecord) error {
	err := e.enc.Encode(header{Magic: Magic, Version: Version, Count: len(records)})
	if err != nil {
		return errors.Wrap(err, "could not encode stream header")
	}

	typ := e.namespace + "." + reflect.TypeOf(types.ResultRecord{}).Name()
	for i := range records {
		var buf bytes.Buffer
		err = gob.NewEncoder(&buf).Encode(&records[i])
		if err != nil {
			return errors.Wrapf(err, "could not encode record %s", records[i])
		}
		err = e.enc.Encode(envelope{Type: typ, Payload: buf.Bytes()})
		if err != nil {
			return errors.Wrapf(err, "could not encode record %s", records[i])
		}
	}
	return nil
}

// Decode reads a stream written by an Encoder and returns its records in the
// order they were written. Type references are resolved through reg.
//
// Any failure is an ErrDeserialization.
func Decode(r io.Reader, reg *Registry) ([]types.ResultRecord, error) {
	dec := gob.NewDecoder(r)

	var h header
	err := dec.Decode(&h)
	if err != nil {
		return nil, types.ErrDeserialization{Reason: "invalid stream header", Err: err}
	}
	if h.Magic != Magic {
		return nil, types.ErrDeserialization{Reason: "not a result stream"}
	}
	if h.Version != Version {
		return nil, types.ErrDeserialization{Reason: "unsupported stream version " + itoa(h.Version)}
	}
	if h.Count < 0 {
		return nil, types.ErrDeserialization{Reason: "negative record count"}
	}

	// h.Count is untrusted, bound the preallocation
	capacity := h.Count
	if capacity > maxPrealloc {
		capacity = maxPrealloc
	}
	records := make([]types.ResultRecord, 0, capacity)
	for i := 0; i < h.Count; i++ {
		var env envelope
		err = dec.Decode(&env)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, types.ErrDeserialization{
				Reason: "truncated stream, read " + itoa(i) + " of " + itoa(h.Count) + " records",
				Err:    err,
			}
		}

		v, err := reg.resolve(env.Type)
		if err != nil {
			return nil, types.ErrDeserialization{Reason: "record " + itoa(i), Err: err}
		}

		err = gob.NewDecoder(bytes.NewReader(env.Payload)).Decode(v)
		if err != nil {
			return nil, types.ErrDeserialization{Reason: "malformed record " + itoa(i), Err: err}
		}

		rec, ok := v.(*types.ResultRecord)
		if !ok {
			return nil, types.ErrDeserialization{
				Reason: "type " + env.Type + " resolved to " + reflect.TypeOf(v).String() + ", not a result record",
			}
		}
		records = append(records, *rec)
	}

	// trailing data means the writer and the header disagree
	var extra envelope
	err = dec.Decode(&extra)
	if err != io.EOF {
		return nil, types.ErrDeserialization{Reason: "stream contains more than " + itoa(h.Count) + " records", Err: err}
	}

	return records, nil
}

// ReadArtifact decodes the result stream stored in the file at path. If the
// file does not exist the error is ErrArtifactNotFound, so that an already
// consumed artifact is never mistaken for an empty result.
func ReadArtifact(path string, reg *Registry) ([]types.ResultRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(types.ErrArtifactNotFound, path)
		}
		return nil, errors.Wrapf(err, "could not open result artifact %s", path)
	}
	defer f.Close()

	return Decode(f, reg)
}

// splitQualified splits a "namespace.Name" reference on its last dot.
func splitQualified(ref string) (string, string) {
	idx := strings.LastIndex(ref, ".")
	if idx == -1 {
		return "", ref
	}
	return ref[:idx], ref[idx+1:]
}
