package executor

import (
	"bytes"
	"encoding/json"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// object is a JSON object that keeps the order in which keys were set, so
// responses follow the order of the operation's selection set.
type object struct {
	keys   []string
	values map[string]any
}

func newObject() *object {
	return &object{values: make(map[string]any)}
}

func (o *object) set(key string, value any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Response is a GraphQL response. Data is nil when the whole result bubbled
// to null; it is omitted entirely when the request failed before execution.
type Response struct {
	Data   *object
	Errors gqlerror.List
	// HasData is false for request errors, which carry no data entry.
	HasData bool
}

// ErrorResponse builds a response for a request that never executed.
func ErrorResponse(errs gqlerror.List) *Response {
	return &Response{Errors: errs}
}

// Partial reports whether the response carries both data and errors.
func (r *Response) Partial() bool {
	return r.HasData && len(r.Errors) > 0
}

func (r *Response) MarshalJSON() ([]byte, error) {
	if !r.HasData {
		return json.Marshal(struct {
			Errors gqlerror.List `json:"errors"`
		}{r.Errors})
	}
	var data any
	if r.Data != nil {
		data = r.Data
	}
	return json.Marshal(struct {
		Data   any           `json:"data"`
		Errors gqlerror.List `json:"errors,omitempty"`
	}{data, r.Errors})
}
