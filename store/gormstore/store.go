// Package gormstore persists staged collections through GORM, mapping entity
// keys to tables so the import pipeline stays free of SQL concerns.
package gormstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/rrgmc/syncdata"
)

type tableInfo struct {
	table    string
	idColumn string
}

// Store implements syncdata.Store on a relational database. Every entity key
// the pipeline uses must be mapped to a table before the run.
type Store struct {
	db     *gorm.DB
	tables map[string]tableInfo
}

type Option func(*Store)

// WithEntity maps an entity key to a table and identifier column.
func WithEntity(entity, table, idColumn string) Option {
	return func(s *Store) {
		if idColumn == "" {
			idColumn = "id"
		}
		s.tables[entity] = tableInfo{table: table, idColumn: idColumn}
	}
}

// WithSchema maps an entity from its declared schema.
func WithSchema(schema syncdata.Schema) Option {
	return func(s *Store) {
		s.tables[schema.Entity] = tableInfo{
			table:    schema.TableName(),
			idColumn: schema.IDFieldName(),
		}
	}
}

func New(db *gorm.DB, options ...Option) *Store {
	s := &Store{
		db:     db,
		tables: make(map[string]tableInfo),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

var _ syncdata.Store = (*Store)(nil)

func (s *Store) table(entity string) (tableInfo, error) {
	info, ok := s.tables[entity]
	if !ok {
		return tableInfo{}, fmt.Errorf("no table mapped for entity '%s'", entity)
	}
	return info, nil
}

func (s *Store) FindFirst(ctx context.Context, entity string, filter map[string]any, attrs []string) (map[string]any, error) {
	info, err := s.table(entity)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	tx := s.db.WithContext(ctx).Table(info.table).Where(filter).Limit(1)
	if len(attrs) > 0 {
		tx = tx.Select(attrs)
	}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying '%s': %w", info.table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Store) FindIn(ctx context.Context, entity string, field string, values []any, attrs []string) ([]map[string]any, error) {
	info, err := s.table(entity)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	var rows []map[string]any
	tx := s.db.WithContext(ctx).Table(info.table).Where(fmt.Sprintf("%s IN ?", field), values)
	if len(attrs) > 0 {
		tx = tx.Select(attrs)
	}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying '%s': %w", info.table, err)
	}
	return rows, nil
}

func (s *Store) Get(ctx context.Context, entity string, id any, attrs []string) (map[string]any, error) {
	info, err := s.table(entity)
	if err != nil {
		return nil, err
	}
	return s.FindFirst(ctx, entity, map[string]any{info.idColumn: id}, attrs)
}

// Save merges fields into the identified row, or creates a new row when id is
// nil, returning the persisted identifier. Fields absent from the map keep
// their stored values.
func (s *Store) Save(ctx context.Context, entity string, id any, fields map[string]any) (any, error) {
	info, err := s.table(entity)
	if err != nil {
		return nil, err
	}

	if id != nil {
		tx := s.db.WithContext(ctx).Table(info.table).
			Where(map[string]any{info.idColumn: id}).
			Updates(fields)
		if tx.Error != nil {
			return nil, fmt.Errorf("error updating '%s': %w", info.table, tx.Error)
		}
		return id, nil
	}

	if err := s.db.WithContext(ctx).Table(info.table).Create(fields).Error; err != nil {
		return nil, fmt.Errorf("error inserting into '%s': %w", info.table, err)
	}
	if given, ok := fields[info.idColumn]; ok {
		return given, nil
	}

	// map-based creates do not report the generated key, read it back.
	var newID any
	row := s.db.WithContext(ctx).Raw("SELECT LAST_INSERT_ID()").Row()
	if err := row.Scan(&newID); err != nil {
		return nil, fmt.Errorf("error reading generated id for '%s': %w", info.table, err)
	}
	return newID, nil
}

// ReplaceSet rewrites a many-valued association so the join table holds
// exactly the given related identifiers for the owner.
func (s *Store) ReplaceSet(ctx context.Context, rel syncdata.Relation, ownerID any, related []any) error {
	if rel.JoinTable == "" {
		return fmt.Errorf("no join table declared for related entity '%s'", rel.Entity)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		clear := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", rel.JoinTable, rel.OwnerKey)
		if err := tx.Exec(clear, ownerID).Error; err != nil {
			return fmt.Errorf("error clearing '%s': %w", rel.JoinTable, err)
		}
		for _, target := range related {
			if err := tx.Table(rel.JoinTable).Create(map[string]any{
				rel.OwnerKey:  ownerID,
				rel.TargetKey: target,
			}).Error; err != nil {
				return fmt.Errorf("error inserting into '%s': %w", rel.JoinTable, err)
			}
		}
		return nil
	})
}
