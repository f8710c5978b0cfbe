package core

import (
	"fmt"
	"io"

	"github.com/abema/go-mp4"
)

// ContainerAtoms defines which atoms should be parsed recursively
var ContainerAtoms = map[string]bool{
	"moov": true,
	"trak": true,
	"edts": true,
	"mdia": true,
	"minf": true,
	"stbl": true,
}

// TableAtoms are decoded into typed payloads.
var TableAtoms = map[string]bool{
	"mvhd": true,
	"tkhd": true,
	"mdhd": true,
	"elst": true,
	"stts": true,
	"ctts": true,
	"stss": true,
	"stsz": true,
	"stsc": true,
	"stco": true,
	"co64": true,
}

// RawAtoms keep their payload bytes; their layout is decoded locally or
// written back verbatim.
var RawAtoms = map[string]bool{
	"hdlr": true,
	"stsd": true,
	"tapt": true,
	"vmhd": true,
	"smhd": true,
	"nmhd": true,
	"gmhd": true,
	"sthd": true,
}

// Atom represents an MP4 box/atom
type Atom struct {
	Offset   int64
	Size     int64
	Type     string
	Payload  mp4.IBox // set for TableAtoms
	Raw      []byte   // set for RawAtoms
	Children []Atom
}

// String returns a formatted string representation of the Atom
func (a Atom) String() string {
	return fmt.Sprintf("[%s] @ %d (Size: %d)", a.Type, a.Offset, a.Size)
}

// Child returns the first direct child of the given type.
func (a *Atom) Child(typ string) *Atom {
	for i := range a.Children {
		if a.Children[i].Type == typ {
			return &a.Children[i]
		}
	}
	return nil
}

// Find follows a path of child types starting below a.
func (a *Atom) Find(path ...string) *Atom {
	cur := a
	for _, typ := range path {
		if cur = cur.Child(typ); cur == nil {
			return nil
		}
	}
	return cur
}

// FindAtom returns the first top-level atom of the given type.
func FindAtom(atoms []Atom, typ string) *Atom {
	for i := range atoms {
		if atoms[i].Type == typ {
			return &atoms[i]
		}
	}
	return nil
}

// FastProbe analyzes the file structure without loading sample data.
func FastProbe(r io.ReadSeeker) ([]Atom, error) {
	vals, err := mp4.ReadBoxStructure(r, func(h *mp4.ReadHandle) (interface{}, error) {
		atom := Atom{
			Offset: int64(h.BoxInfo.Offset),
			Size:   int64(h.BoxInfo.Size),
			Type:   h.BoxInfo.Type.String(),
		}

		switch {
		case ContainerAtoms[atom.Type]:
			children, err := h.Expand()
			if err != nil {
				return nil, err
			}
			atom.Children = collectAtoms(children)
		case TableAtoms[atom.Type]:
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", atom, err)
			}
			atom.Payload = box
		case RawAtoms[atom.Type]:
			raw, err := readRawPayload(r, &h.BoxInfo)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", atom, err)
			}
			atom.Raw = raw
		}
		return atom, nil
	})
	if err != nil {
		return nil, err
	}
	return collectAtoms(vals), nil
}

func collectAtoms(vals []interface{}) []Atom {
	atoms := make([]Atom, 0, len(vals))
	for _, v := range vals {
		if a, ok := v.(Atom); ok {
			atoms = append(atoms, a)
		}
	}
	return atoms
}

func readRawPayload(r io.ReadSeeker, bi *mp4.BoxInfo) ([]byte, error) {
	if _, err := r.Seek(int64(bi.Offset+bi.HeaderSize), io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, bi.Size-bi.HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
