package backend

import (
	"fmt"
	"strings"

	"github.com/navdeck-io/navdeck/core/logger"
)

func quote(column string) string {
	return `"` + column + `"`
}

// createTable creates the entity's table and indexes if they do not exist
// yet. Identifiers are always quoted; "order" and "desc" are reserved words.
func (b *Backend) createTable(e *entityConfiguration) error {
	table := b.table(e)
	createColumns := []string{`"id" BIGSERIAL PRIMARY KEY`}
	var indexColumns []string

	for _, f := range e.Fields {
		column := quote(f.Name)
		switch f.Type {
		case "integer":
			column += " INTEGER NOT NULL DEFAULT 0"
		case "text":
			column += " TEXT"
			if !f.Nullable {
				column += " NOT NULL DEFAULT ''"
			}
		case "string":
			column += " VARCHAR(255)"
			if !f.Nullable {
				column += " NOT NULL DEFAULT ''"
			}
		case "reference":
			column += " BIGINT"
			if !f.Nullable {
				column += " NOT NULL"
			}
			column += fmt.Sprintf(` REFERENCES %s.%s("id") ON DELETE CASCADE`, b.db.Schema, f.References)
			indexColumns = append(indexColumns, f.Name)
		}
		if f.Unique {
			column += " UNIQUE"
		}
		createColumns = append(createColumns, column)
	}
	if e.OrderBy != "" {
		indexColumns = append(indexColumns, e.OrderBy)
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", table, strings.Join(createColumns, ", "))
	for _, column := range indexColumns {
		query += fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);",
			e.Table, column, table, quote(column))
	}

	logger.Default().Debugln("create table:", table)
	_, err := b.db.Exec(query)
	return err
}
