package deps

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sunmin89/bazel/internal/node"
)

// KeyCodec converts node keys to and from bytes. The evaluation core treats
// keys as opaque, so persistence of a dependency record is parameterized by
// the surrounding graph system's key encoding.
type KeyCodec interface {
	MarshalKey(key node.Key) ([]byte, error)
	UnmarshalKey(data []byte) (node.Key, error)
}

// Wire layout: a flat protobuf message whose field order carries the group
// order. Field 1 is a singleton group (the marshaled key); field 2 is a
// multi-key group, itself a message of repeated field-1 keys.
const (
	fieldSingleton = protowire.Number(1)
	fieldGroup     = protowire.Number(2)
	fieldGroupKey  = protowire.Number(1)
)

// Encode serializes a compressed store with the given key codec. Decode is
// its exact inverse over key sequence and grouping.
func Encode(c Compressed, kc KeyCodec) ([]byte, error) {
	var buf []byte
	for group := range c.Groups() {
		if len(group) == 1 {
			kb, err := kc.MarshalKey(group[0])
			if err != nil {
				return nil, fmt.Errorf("marshal key: %w", err)
			}
			buf = protowire.AppendTag(buf, fieldSingleton, protowire.BytesType)
			buf = protowire.AppendBytes(buf, kb)
			continue
		}
		var gb []byte
		for _, k := range group {
			kb, err := kc.MarshalKey(k)
			if err != nil {
				return nil, fmt.Errorf("marshal key: %w", err)
			}
			gb = protowire.AppendTag(gb, fieldGroupKey, protowire.BytesType)
			gb = protowire.AppendBytes(gb, kb)
		}
		buf = protowire.AppendTag(buf, fieldGroup, protowire.BytesType)
		buf = protowire.AppendBytes(buf, gb)
	}
	return buf, nil
}

// Decode reconstitutes a compressed store serialized by Encode.
func Decode(data []byte, kc KeyCodec) (Compressed, error) {
	var d GroupedDeps
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Compressed{}, fmt.Errorf("decode deps: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			return Compressed{}, fmt.Errorf("decode deps: unexpected wire type %v for field %d", typ, num)
		}
		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return Compressed{}, fmt.Errorf("decode deps: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldSingleton:
			key, err := kc.UnmarshalKey(raw)
			if err != nil {
				return Compressed{}, fmt.Errorf("unmarshal key: %w", err)
			}
			d.AppendSingleton(key)
		case fieldGroup:
			group, err := decodeGroup(raw, kc)
			if err != nil {
				return Compressed{}, err
			}
			if len(group) < 2 {
				return Compressed{}, fmt.Errorf("decode deps: group with %d key(s)", len(group))
			}
			d.AppendGroup(group)
		default:
			return Compressed{}, fmt.Errorf("decode deps: unknown field %d", num)
		}
	}
	return d.Compress(), nil
}

func decodeGroup(data []byte, kc KeyCodec) ([]node.Key, error) {
	var group []node.Key
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decode group: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != fieldGroupKey || typ != protowire.BytesType {
			return nil, fmt.Errorf("decode group: unexpected field %d (type %v)", num, typ)
		}
		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("decode group: %w", protowire.ParseError(n))
		}
		data = data[n:]
		key, err := kc.UnmarshalKey(raw)
		if err != nil {
			return nil, fmt.Errorf("unmarshal key: %w", err)
		}
		group = append(group, key)
	}
	return group, nil
}
