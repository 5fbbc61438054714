package regionfix

import (
	"github.com/pkg/errors"

	"github.com/mattkeenan/regionfix/pkg/nbt"
)

// RecordSchema identifies where a record keeps its coordinate and entity
// list. Different game versions nest them differently.
type RecordSchema int

const (
	// SchemaLevel nests everything under a "Level" compound.
	SchemaLevel RecordSchema = iota
	// SchemaFlat keeps xPos/zPos at the root and an optional "entities" list.
	SchemaFlat
	// SchemaEntities is the separate entity container layout with a
	// "Position" int array.
	SchemaEntities
	// SchemaPOI carries neither a coordinate nor entities.
	SchemaPOI
)

func (s RecordSchema) String() string {
	switch s {
	case SchemaLevel:
		return "level"
	case SchemaFlat:
		return "flat"
	case SchemaEntities:
		return "entities"
	case SchemaPOI:
		return "poi"
	default:
		return "unknown"
	}
}

// ErrMissingTag is wrapped by every extraction failure caused by an absent
// or mistyped required tag.
var ErrMissingTag = errors.New("regionfix: required tag missing")

// RecordInfo is what classification needs from one decoded record.
type RecordInfo struct {
	Schema    RecordSchema
	HasCoords bool
	X, Z      int // declared global coordinate
	Entities  int
}

// DetectSchema picks the extractor for root.
func DetectSchema(root *nbt.Compound) RecordSchema {
	if _, ok := root.GetCompound("Level"); ok {
		return SchemaLevel
	}
	if _, ok := root.Get("Position"); ok {
		return SchemaEntities
	}
	if _, ok := root.Get("xPos"); ok {
		return SchemaFlat
	}
	if _, ok := root.GetCompound("Sections"); ok {
		return SchemaPOI
	}
	return SchemaFlat
}

func missing(path string) error {
	return errors.Wrap(ErrMissingTag, path)
}

// entityHolder returns the compound that owns the entity list, the list
// name, and whether the list is required.
func entityHolder(root *nbt.Compound, schema RecordSchema) (*nbt.Compound, string, bool, error) {
	switch schema {
	case SchemaLevel:
		level, ok := root.GetCompound("Level")
		if !ok {
			return nil, "", false, missing("Level")
		}
		return level, "Entities", true, nil
	case SchemaEntities:
		return root, "Entities", true, nil
	case SchemaFlat:
		return root, "entities", false, nil
	default:
		return nil, "", false, nil
	}
}

// ExtractRecord reads the declared coordinate and entity count from root.
func ExtractRecord(root *nbt.Compound) (RecordInfo, error) {
	info := RecordInfo{Schema: DetectSchema(root)}

	switch info.Schema {
	case SchemaLevel:
		level, _ := root.GetCompound("Level")
		x, okX := level.GetInt("xPos")
		z, okZ := level.GetInt("zPos")
		if !okX || !okZ {
			return info, missing("Level.xPos/zPos")
		}
		info.X, info.Z, info.HasCoords = int(x), int(z), true
	case SchemaEntities:
		pos, ok := root.GetIntArray("Position")
		if !ok || len(pos) < 2 {
			return info, missing("Position")
		}
		info.X, info.Z, info.HasCoords = int(pos[0]), int(pos[1]), true
	case SchemaFlat:
		x, okX := root.GetInt("xPos")
		z, okZ := root.GetInt("zPos")
		if !okX || !okZ {
			return info, missing("xPos/zPos")
		}
		info.X, info.Z, info.HasCoords = int(x), int(z), true
	}

	holder, name, required, err := entityHolder(root, info.Schema)
	if err != nil {
		return info, err
	}
	if holder == nil {
		return info, nil
	}
	list, ok := holder.GetList(name)
	if !ok {
		if required {
			return info, missing(name)
		}
		return info, nil
	}
	info.Entities = list.Len()
	return info, nil
}

// ClearEntities replaces the entity list with an empty one and returns
// how many entities were dropped.
func ClearEntities(root *nbt.Compound) (int, error) {
	holder, name, _, err := entityHolder(root, DetectSchema(root))
	if err != nil {
		return 0, err
	}
	if holder == nil {
		return 0, nil
	}
	list, _ := holder.GetList(name)
	n := list.Len()
	holder.Set(name, nbt.NewList(nbt.TagEnd))
	return n, nil
}

// InjectEntities adds an empty entity list where the schema expects one.
// An existing list is left untouched.
func InjectEntities(root *nbt.Compound) error {
	holder, name, _, err := entityHolder(root, DetectSchema(root))
	if err != nil {
		return err
	}
	if holder == nil {
		return nil
	}
	if _, ok := holder.GetList(name); ok {
		return nil
	}
	holder.Set(name, nbt.NewList(nbt.TagEnd))
	return nil
}
