package graph

import (
	"encoding/json"
	"fmt"
	"io"
)

// ReadDocument parses one JSON object from r into a Document. Nested objects
// become *Document values, arrays []any and numbers json.Number, so key order
// and integer precision survive a write back.
func ReadDocument(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, &MalformedDocumentError{Reason: "invalid JSON", Err: err}
	}
	if tok != json.Delim('{') {
		return nil, &MalformedDocumentError{Reason: "top level is not an object"}
	}
	doc, err := readObject(dec)
	if err != nil {
		return nil, &MalformedDocumentError{Reason: "invalid JSON", Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &MalformedDocumentError{Reason: "trailing data after document"}
	}
	return doc, nil
}

func readObject(dec *json.Decoder) (*Document, error) {
	doc := NewDocument()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is %T", tok)
		}
		value, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		doc.Set(key, value)
	}
	_, err := dec.Token()
	return doc, err
}

func readValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch tok {
	case json.Delim('{'):
		return readObject(dec)
	case json.Delim('['):
		list := []any{}
		for dec.More() {
			item, err := readValue(dec)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		_, err := dec.Token()
		return list, err
	default:
		return tok, nil
	}
}
