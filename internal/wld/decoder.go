// Package wld decodes the fragment-based scene description format inside
// decompressed archive files. The output is an ordered fragment table;
// cross-references between fragments are positional indices into that exact
// table, so file order is preserved and no resolution happens here.
package wld

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

const (
	// MagicHeader is the scene file signature.
	MagicHeader = 0x54503D02

	// versionOld identifies the original format revision; it differs from
	// later revisions in texture coordinate encoding.
	versionOld = 0x00015500
)

// Entry is one slot of the fragment table.
type Entry struct {
	Tag  uint32
	Name string
	Frag Fragment
}

// Table is the ordered fragment table of one scene file. Fragment
// references elsewhere are 1-based indices into Fragments.
type Table struct {
	OldVersion bool
	Fragments  []Entry

	hash []byte
}

// Decode parses one decompressed scene file into a fragment table.
// Unrecognized tags and undecodable payloads are retained as opaque
// fragments so later positional references still resolve structurally.
func Decode(data []byte) (*Table, error) {
	if len(data) < 28 {
		return nil, fmt.Errorf("wld: file too small: %d bytes", len(data))
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != MagicHeader {
		return nil, fmt.Errorf("wld: bad magic 0x%08X", magic)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	fragCount := binary.LittleEndian.Uint32(data[8:12])
	hashSize := binary.LittleEndian.Uint32(data[20:24])

	p := 28
	if p+int(hashSize) > len(data) {
		return nil, fmt.Errorf("wld: string table of %d bytes exceeds file size", hashSize)
	}
	t := &Table{
		OldVersion: version == versionOld,
		hash:       decodeString(data[p : p+int(hashSize)]),
	}
	p += int(hashSize)

	t.Fragments = make([]Entry, 0, fragCount)
	for i := uint32(0); i < fragCount; i++ {
		if p+8 > len(data) {
			slog.Warn("Fragment stream ends early", "decoded", len(t.Fragments), "declared", fragCount)
			break
		}
		size := int(binary.LittleEndian.Uint32(data[p:]))
		tag := binary.LittleEndian.Uint32(data[p+4:])
		p += 8

		if size < 4 || p+size > len(data) {
			slog.Warn("Fragment body runs past end of file",
				"index", len(t.Fragments)+1, "tag", fmt.Sprintf("0x%02X", tag), "size", size)
			break
		}

		// The name reference is the first word of the counted body.
		body := data[p : p+size]
		nameRef := int32(binary.LittleEndian.Uint32(body[0:4]))
		payload := body[4:]
		p += size

		name := ""
		if nameRef < 0 {
			name = t.NameAt(nameRef)
		}

		frag, err := decodeFragment(tag, payload, t.OldVersion)
		if err != nil {
			// Recoverable: the slot stays occupied by the raw payload.
			slog.Debug("Storing undecodable fragment as opaque payload",
				"index", len(t.Fragments)+1, "tag", fmt.Sprintf("0x%02X", tag), "error", err)
			frag = &Opaque{RawTag: tag, Data: payload}
		}

		t.Fragments = append(t.Fragments, Entry{Tag: tag, Name: name, Frag: frag})
	}

	return t, nil
}

func decodeFragment(tag uint32, payload []byte, oldVersion bool) (Fragment, error) {
	r := newReader(payload)
	switch tag {
	case TagTextureDef:
		return decodeTextureDef(r)
	case TagTextureList:
		return decodeTextureList(r)
	case TagTextureListRef:
		return decodeTextureListRef(r)
	case TagMaterialDef:
		return decodeMaterialDef(r)
	case TagMaterialList:
		return decodeMaterialList(r)
	case TagMesh:
		return decodeMesh(r, oldVersion)
	case TagMeshRef:
		return decodeMeshRef(r)
	case TagActorDef:
		return decodeActorDef(r)
	case TagObjectInstance:
		return decodeObjectInstance(r)
	case TagLightDef:
		return decodeLightDef(r)
	case TagLightRef:
		return decodeLightRef(r)
	case TagPointLight:
		return decodePointLight(r)
	default:
		return &Opaque{RawTag: tag, Data: payload}, nil
	}
}

// Lookup resolves a positional reference against the table. A non-zero
// index past the table end is a data error and returns false.
func (t *Table) Lookup(ref Ref) (*Entry, bool) {
	if ref <= 0 || int(ref) > len(t.Fragments) {
		return nil, false
	}
	return &t.Fragments[int(ref)-1], true
}

// LookupBefore resolves a positional reference made by the fragment at the
// given 1-based index. References only point backward in the stream: a
// reference at or past the referencing fragment is a data error and
// returns false.
func (t *Table) LookupBefore(ref Ref, at int) (*Entry, bool) {
	if int(ref) >= at {
		return nil, false
	}
	return t.Lookup(ref)
}

// NameAt returns the string table entry addressed by a negative name
// reference.
func (t *Table) NameAt(ref int32) string {
	if ref >= 0 {
		return ""
	}
	return cstring(t.hash, int(-ref))
}
