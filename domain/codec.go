package domain

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

var (
	_ msgpack.CustomEncoder = (*Entity)(nil)
	_ msgpack.CustomDecoder = (*Entity)(nil)
	_ msgpack.CustomEncoder = (*Key)(nil)
	_ msgpack.CustomDecoder = (*Key)(nil)
)

// MarshalEntities encodes the entities with msgpack.
func MarshalEntities(entities []*Entity) ([]byte, error) {
	return msgpack.Marshal(entities)
}

// UnmarshalEntities decodes entities encoded by MarshalEntities.
func UnmarshalEntities(b []byte) ([]*Entity, error) {
	var entities []*Entity
	if err := msgpack.Unmarshal(b, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// EncodeMsgpack encodes the domain id, the entity id, the values and,
// when the entity is modified, the original values. Derived values are
// not encoded.
func (e *Entity) EncodeMsgpack(enc *msgpack.Encoder) error {
	modified := len(e.originals) > 0
	n := 4
	if modified {
		n = 5
	}
	if err := enc.EncodeArrayLen(n); err != nil {
		return err
	}
	if err := enc.EncodeString(e.def.domainID); err != nil {
		return err
	}
	if err := enc.EncodeString(e.def.id); err != nil {
		return err
	}
	if err := encodeValues(enc, e.values); err != nil {
		return err
	}
	if err := enc.EncodeBool(modified); err != nil {
		return err
	}
	if modified {
		return encodeValues(enc, e.originals)
	}
	return nil
}

func encodeValues(enc *msgpack.Encoder, values map[string]any) error {
	pids := make([]string, 0, len(values))
	for pid := range values {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	if err := enc.EncodeMapLen(len(pids)); err != nil {
		return err
	}
	for _, pid := range pids {
		if err := enc.EncodeString(pid); err != nil {
			return err
		}
		if err := encodeValue(enc, values[pid]); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(enc *msgpack.Encoder, v any) error {
	switch v := v.(type) {
	case decimal.Decimal:
		return enc.EncodeString(v.String())
	case rune:
		return enc.EncodeInt(int64(v))
	}
	return enc.Encode(v)
}

// DecodeMsgpack decodes an entity encoded by EncodeMsgpack. The domain
// must be registered, and values are converted to the property types.
func (e *Entity) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 4 && n != 5 {
		return fmt.Errorf("domain: invalid entity encoding with %d fields", n)
	}
	def, err := decodeDefinition(dec)
	if err != nil {
		return err
	}
	e.def = def
	if e.values, err = decodeValues(dec, def); err != nil {
		return err
	}
	modified, err := dec.DecodeBool()
	if err != nil {
		return err
	}
	e.originals, e.key, e.refKeys, e.str = nil, nil, nil, nil
	if modified && n == 5 {
		if e.originals, err = decodeValues(dec, def); err != nil {
			return err
		}
	}
	return nil
}

func decodeDefinition(dec *msgpack.Decoder) (*Definition, error) {
	domainID, err := dec.DecodeString()
	if err != nil {
		return nil, err
	}
	entityID, err := dec.DecodeString()
	if err != nil {
		return nil, err
	}
	return lookupDefinition(domainID, entityID)
}

// lookupDefinition returns the definition of entityID in the registered
// domain domainID.
func lookupDefinition(domainID, entityID string) (*Definition, error) {
	d, ok := Lookup(domainID)
	if !ok {
		return nil, fmt.Errorf("domain: domain %q is not registered", domainID)
	}
	def, ok := d.Definition(entityID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndefinedEntity, entityID)
	}
	return def, nil
}

func decodeValues(dec *msgpack.Decoder, def *Definition) (map[string]any, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, max(n, 0))
	for range n {
		pid, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		p, ok := def.byID[pid]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, def.id, pid)
		}
		v, err := decodeValue(dec, p)
		if err != nil {
			return nil, err
		}
		values[pid] = v
	}
	return values, nil
}

func decodeValue(dec *msgpack.Decoder, p Property) (any, error) {
	if p.Type() == TypeEntity {
		c, err := dec.PeekCode()
		if err != nil {
			return nil, err
		}
		if c == msgpcode.Nil {
			return nil, dec.DecodeNil()
		}
		ref := new(Entity)
		if err := ref.DecodeMsgpack(dec); err != nil {
			return nil, err
		}
		if err := checkType(p, ref); err != nil {
			return nil, err
		}
		return ref, nil
	}
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, err
	}
	if p.Type() == TypeChar {
		if n, err := toInt64(v); err == nil {
			return rune(n), nil
		}
	}
	cv, err := p.Type().Convert(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidValue, p.EntityID(), p.ID(), err)
	}
	return cv, nil
}

// EncodeMsgpack encodes the domain id, the entity id and the key values.
func (k *Key) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2 + len(k.values)); err != nil {
		return err
	}
	if err := enc.EncodeString(k.def.domainID); err != nil {
		return err
	}
	if err := enc.EncodeString(k.def.id); err != nil {
		return err
	}
	for _, v := range k.values {
		if err := encodeValue(enc, v); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack decodes a key encoded by EncodeMsgpack.
func (k *Key) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	def, err := decodeDefinition(dec)
	if err != nil {
		return err
	}
	if n-2 != len(def.primaryKey) {
		return fmt.Errorf("domain: %s key has %d columns, got %d values", def.id, len(def.primaryKey), n-2)
	}
	k.def = def
	k.values = make([]any, len(def.primaryKey))
	for i, p := range def.primaryKey {
		if k.values[i], err = decodeValue(dec, p); err != nil {
			return err
		}
	}
	return nil
}
