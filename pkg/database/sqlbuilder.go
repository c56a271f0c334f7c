package database

import (
	"github.com/huandu/go-sqlbuilder"
)

// Every builder here renders PostgreSQL placeholders ($1..$n).
var flavor = sqlbuilder.PostgreSQL

// Now is the server-side timestamp used for created/updated columns.
func Now() interface{} {
	return sqlbuilder.Raw("NOW()")
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{flavor.NewInsertBuilder()}
}

// NewBatchInsert builds one multi-row INSERT of rows into table.
func NewBatchInsert(table string, cols []string, rows [][]interface{}) *InsertBuilder {
	ib := flavor.NewInsertBuilder()
	ib.InsertInto(table).Cols(cols...)
	for _, row := range rows {
		ib.Values(row...)
	}
	return &InsertBuilder{ib}
}

type UpdateBuilder struct {
	*sqlbuilder.UpdateBuilder
}

func NewUpdateBuilder() *UpdateBuilder {
	return &UpdateBuilder{flavor.NewUpdateBuilder()}
}

// Touch assigns updated_at = NOW().
func (ub *UpdateBuilder) Touch() string {
	return ub.Assign("updated_at", Now())
}

type DeleteBuilder struct {
	*sqlbuilder.DeleteBuilder
}

func NewDeleteBuilder() *DeleteBuilder {
	return &DeleteBuilder{flavor.NewDeleteBuilder()}
}

type SelectBuilder struct {
	*sqlbuilder.SelectBuilder
}

func NewSelectBuilder() *SelectBuilder {
	return &SelectBuilder{flavor.NewSelectBuilder()}
}

// Struct maps a db-tagged model onto its table's columns.
type Struct struct {
	*sqlbuilder.Struct
}

func NewStruct(v any) *Struct {
	return &Struct{sqlbuilder.NewStruct(v).For(flavor)}
}

// SelectFrom selects every db-tagged column of the model from table.
func (s *Struct) SelectFrom(table string) *SelectBuilder {
	return &SelectBuilder{s.Struct.SelectFrom(table)}
}
