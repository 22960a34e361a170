package configdoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// MaxDepth bounds document nesting accepted by Parse
const MaxDepth = 512

// Parse decodes a JSON document into a Value tree, keeping object key
// order and the literal text of numbers.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid config document: %v", simpleasset.ErrInvalidInput, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: invalid config document: trailing data", simpleasset.ErrInvalidInput)
	}
	return v, nil
}

func parseValue(dec *json.Decoder, depth int) (Value, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("nesting exceeds %d levels", MaxDepth)
	}
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			arr := Array{}
			for dec.More() {
				v, err := parseValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		case '{':
			obj := Object{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				v, err := parseValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				obj = append(obj, Member{Key: key, Value: v})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// Marshal encodes a Value tree as compact JSON.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := Visit[error](v, &encoder{buf: &buf}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type encoder struct {
	buf *bytes.Buffer
}

func (e *encoder) VisitNull() error {
	e.buf.WriteString("null")
	return nil
}

func (e *encoder) VisitBool(b Bool) error {
	if b {
		e.buf.WriteString("true")
	} else {
		e.buf.WriteString("false")
	}
	return nil
}

func (e *encoder) VisitNumber(n Number) error {
	if !json.Valid([]byte(n)) {
		return fmt.Errorf("invalid number literal %q", string(n))
	}
	e.buf.WriteString(string(n))
	return nil
}

func (e *encoder) VisitString(s String) error {
	return e.writeString(string(s))
}

func (e *encoder) VisitArray(a Array) error {
	e.buf.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := Visit[error](v, e); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

func (e *encoder) VisitObject(o Object) error {
	e.buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.writeString(m.Key); err != nil {
			return err
		}
		e.buf.WriteByte(':')
		if err := Visit[error](m.Value, e); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) writeString(s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	e.buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// Document wraps a Value so it can be embedded in request and response
// structs handled by encoding/json.
type Document struct {
	Root Value
}

func (d Document) MarshalJSON() ([]byte, error) {
	return Marshal(d.Root)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	d.Root = v
	return nil
}
