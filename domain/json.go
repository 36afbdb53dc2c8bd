package domain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

var (
	_ json.Marshaler   = (*Entity)(nil)
	_ json.Unmarshaler = (*Entity)(nil)
	_ json.Marshaler   = (*Key)(nil)
	_ json.Unmarshaler = (*Key)(nil)
)

// jsonEntity is the decoded JSON form of entities and keys.
type jsonEntity struct {
	Domain    string                     `json:"domain"`
	Entity    string                     `json:"entity"`
	Values    map[string]json.RawMessage `json:"values"`
	Originals map[string]json.RawMessage `json:"originals,omitempty"`
}

// MarshalJSON encodes the entity as an object holding the domain id, the
// entity id, the values and the original values of modified properties.
// Loaded foreign key entities are encoded in place:
//
//	{"domain":"scott","entity":"scott.emp",
//	 "values":{"dept_fk":{"domain":"scott","entity":"scott.dept","values":{...}},"deptno":10,"ename":"CLARKE"},
//	 "originals":{"ename":"CLARK"}}
//
// Dates and times use the DateOnly and TimeOnly layouts, timestamps
// RFC 3339, decimals strings and blobs base64.
func (e *Entity) MarshalJSON() ([]byte, error) {
	out := struct {
		Domain    string         `json:"domain"`
		Entity    string         `json:"entity"`
		Values    map[string]any `json:"values"`
		Originals map[string]any `json:"originals,omitempty"`
	}{
		Domain: e.def.domainID,
		Entity: e.def.id,
		Values: jsonValues(e.def, e.values),
	}
	if len(e.originals) > 0 {
		out.Originals = jsonValues(e.def, e.originals)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an entity encoded by MarshalJSON. The domain must
// be registered, and values are converted to the property types.
func (e *Entity) UnmarshalJSON(b []byte) error {
	var in jsonEntity
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	def, err := lookupDefinition(in.Domain, in.Entity)
	if err != nil {
		return err
	}
	values, err := decodeJSONValues(def, in.Values)
	if err != nil {
		return err
	}
	var originals map[string]any
	if len(in.Originals) > 0 {
		if originals, err = decodeJSONValues(def, in.Originals); err != nil {
			return err
		}
	}
	e.def, e.values, e.originals = def, values, originals
	e.key, e.refKeys, e.str = nil, nil, nil
	return nil
}

// MarshalJSON encodes the key as an object holding the domain id, the
// entity id and the key values by property id.
func (k *Key) MarshalJSON() ([]byte, error) {
	values := make(map[string]any, len(k.values))
	for i, p := range k.def.primaryKey {
		values[p.id] = jsonValue(p, k.values[i])
	}
	return json.Marshal(struct {
		Domain string         `json:"domain"`
		Entity string         `json:"entity"`
		Values map[string]any `json:"values"`
	}{k.def.domainID, k.def.id, values})
}

// UnmarshalJSON decodes a key encoded by MarshalJSON. Missing key values
// are null.
func (k *Key) UnmarshalJSON(b []byte) error {
	var in jsonEntity
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	def, err := lookupDefinition(in.Domain, in.Entity)
	if err != nil {
		return err
	}
	values := make([]any, len(def.primaryKey))
	for pid, raw := range in.Values {
		i := slices.IndexFunc(def.primaryKey, func(p *ColumnProperty) bool { return p.id == pid })
		if i < 0 {
			return fmt.Errorf("%w: %s.%s is not a key column", ErrUnknownProperty, def.id, pid)
		}
		if values[i], err = decodeJSONValue(def.primaryKey[i], raw); err != nil {
			return err
		}
	}
	k.def, k.values = def, values
	return nil
}

func jsonValues(def *Definition, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for pid, v := range values {
		if p, ok := def.byID[pid]; ok {
			out[pid] = jsonValue(p, v)
		}
	}
	return out
}

func jsonValue(p Property, v any) any {
	switch t := p.Type(); v := v.(type) {
	case rune:
		if t == TypeChar {
			return string(v)
		}
	case time.Time:
		switch t {
		case TypeDate:
			return v.Format(time.DateOnly)
		case TypeTime:
			return v.Format("15:04:05.999999999")
		}
		return v.Format(time.RFC3339Nano)
	}
	return v
}

func decodeJSONValues(def *Definition, raw map[string]json.RawMessage) (map[string]any, error) {
	values := make(map[string]any, len(raw))
	for pid, r := range raw {
		p, ok := def.byID[pid]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, def.id, pid)
		}
		v, err := decodeJSONValue(p, r)
		if err != nil {
			return nil, err
		}
		values[pid] = v
	}
	return values, nil
}

func decodeJSONValue(p Property, raw json.RawMessage) (any, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	if p.Type() == TypeEntity {
		ref := new(Entity)
		if err := json.Unmarshal(raw, ref); err != nil {
			return nil, err
		}
		if err := checkType(p, ref); err != nil {
			return nil, err
		}
		return ref, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch jv := v.(type) {
	case json.Number:
		v = jv.String()
	case string:
		if p.Type() == TypeBlob {
			b, err := base64.StdEncoding.DecodeString(jv)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidValue, p.EntityID(), p.ID(), err)
			}
			return b, nil
		}
	}
	cv, err := p.Type().Convert(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidValue, p.EntityID(), p.ID(), err)
	}
	return cv, nil
}
