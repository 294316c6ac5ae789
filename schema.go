package syncdata

// RelationKind distinguishes the two relation shapes carrying store metadata.
// Fields declared hash-related without any relation metadata resolve in
// scalar context (the direct-identifier escape hatch).
type RelationKind int

const (
	RelationSingle RelationKind = iota // single foreign reference
	RelationMany                       // many-valued association
)

// Relation describes one relation field of an entity.
type Relation struct {
	Kind   RelationKind
	Entity string // target entity name in the store.

	// RelatedField is the target attribute the relation joins against,
	// commonly but not necessarily the target's identifier. Empty means the
	// target's identifier field.
	RelatedField string

	// Join table configuration, used for RelationMany only. The association
	// set is stored as (OwnerKey, TargetKey) pairs in JoinTable.
	JoinTable string
	OwnerKey  string
	TargetKey string
}

// Schema declares the store shape of one entity type.
type Schema struct {
	Entity  string // entity key, unique across the run (e.g. "catalog.product").
	Table   string // store table/collection name; defaults to Entity.
	IDField string // primary identifier attribute; defaults to "id".

	// Fields is the declared field set. On update only these fields are
	// merged onto the target row; target fields outside this set are left
	// untouched. Empty means all cleaned fields.
	Fields []string

	// NaturalKeys are the non-identifier fields used to resolve an item to
	// an already persisted row when no explicit identifier is carried.
	NaturalKeys []string

	Relations map[string]Relation
}

// TableName returns the store table for this entity.
func (s Schema) TableName() string {
	if s.Table != "" {
		return s.Table
	}
	return s.Entity
}

// IDFieldName returns the primary identifier attribute name.
func (s Schema) IDFieldName() string {
	if s.IDField != "" {
		return s.IDField
	}
	return "id"
}

// Relation returns the relation metadata for a field, if declared.
func (s Schema) Relation(field string) (Relation, bool) {
	r, ok := s.Relations[field]
	return r, ok
}

// RelatedFieldName returns the join attribute of a relation. Empty defaults
// to "id", the conventional identifier attribute.
func (r Relation) RelatedFieldName() string {
	if r.RelatedField != "" {
		return r.RelatedField
	}
	return "id"
}

// joinsOnID reports whether the relation joins against the target identifier.
func (r Relation) joinsOnID() bool {
	return r.RelatedField == "" || r.RelatedField == "id"
}

// declaredFields returns the fields the schema allows to be written,
// defaulting to every cleaned field.
func (s Schema) declaredFields(cleaned map[string]any) []string {
	if len(s.Fields) > 0 {
		return s.Fields
	}
	fields := make([]string, 0, len(cleaned))
	for name := range cleaned {
		fields = append(fields, name)
	}
	return fields
}
