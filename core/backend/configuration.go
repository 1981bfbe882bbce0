package backend

import (
	"fmt"
	"sort"
	"strings"
)

// Operation is a resource operation. Read operations are public, mutating
// operations pass the bearer gate.
type Operation string

// The operations of the resource contract.
const (
	OperationList   Operation = "list"
	OperationRead   Operation = "read"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Configuration holds a complete backend configuration
type Configuration struct {
	Entities []entityConfiguration `json:"entities"`
}

// entityConfiguration describes one entity resource: its table, fields,
// defaulting rules and the asymmetries of its update semantics. The generic
// collection code path interprets these descriptors; there is no per-entity
// handler code.
type entityConfiguration struct {
	// Resource is the singular entity name, e.g. "menu".
	Resource string `json:"resource"`
	// Plural is the route segment; default is the English plural of Resource.
	Plural string `json:"plural"`
	// Table is the table name; default is Plural.
	Table       string               `json:"table"`
	Description string               `json:"description"`
	SchemaID    string               `json:"schema_id"`
	Fields      []fieldConfiguration `json:"fields"`
	// OrderBy names the column list results are ordered by (ascending).
	OrderBy string `json:"order_by"`
	// UpdateMode is "replace" (default; omitted fields reset to their
	// defaults) or "merge" (omitted fields keep their prior value).
	UpdateMode string `json:"update_mode"`
	// Operations enables a subset of the contract; default is all of them.
	Operations []Operation `json:"operations"`
	// ProtectedRead requires a bearer token even for list/read.
	ProtectedRead bool `json:"protected_read"`
	// Scopes are list filters mapped from query parameters to columns,
	// in order of precedence.
	Scopes []scopeConfiguration `json:"scopes"`
	// Embeds attach child listings to every returned object.
	Embeds []embedConfiguration `json:"embeds"`
	// FaviconFallback derives a display logo at read time.
	FaviconFallback *faviconConfiguration `json:"favicon_fallback"`
	// ConflictMessage is the client message for unique violations.
	ConflictMessage string `json:"conflict_message"`
}

// fieldConfiguration describes a single column of an entity.
type fieldConfiguration struct {
	Name string `json:"name"`
	// Type is one of "string", "text", "integer", "reference".
	Type string `json:"type"`
	// Required fields must be present and non-empty on create.
	Required bool `json:"required"`
	// Unique adds a unique constraint; violations surface as conflicts.
	Unique   bool `json:"unique"`
	Nullable bool `json:"nullable"`
	// References names the referenced table; deletes cascade.
	References string `json:"references"`
	// Hidden fields never appear in responses or request bodies.
	Hidden bool `json:"hidden"`
}

// scopeConfiguration maps a list query parameter to a column filter. The
// first scope whose parameter is present wins. If NullColumn is set, the
// filter additionally constrains that column to IS NULL.
type scopeConfiguration struct {
	Parameter  string `json:"parameter"`
	Column     string `json:"column"`
	NullColumn string `json:"null_column"`
}

// embedConfiguration attaches, for every listed object, the child entity's
// rows whose Column equals the object id, as an ordered array under
// Property. Executed as one secondary query per object, no join.
type embedConfiguration struct {
	Property string `json:"property"`
	Entity   string `json:"entity"`
	Column   string `json:"column"`
}

// faviconConfiguration derives Property from URLField's origin plus
// /favicon.ico whenever LogoField is empty. Purely presentational, never
// persisted.
type faviconConfiguration struct {
	URLField  string `json:"url_field"`
	LogoField string `json:"logo_field"`
	Property  string `json:"property"`
}

func plural(s string) string {
	if strings.HasSuffix(s, "y") {
		return strings.TrimSuffix(s, "y") + "ies"
	}
	return s + "s"
}

// applyDefaults fills derived fields and validates the descriptor set.
func (c *Configuration) applyDefaults() error {
	seen := map[string]bool{}
	for i := range c.Entities {
		e := &c.Entities[i]
		if e.Resource == "" {
			return fmt.Errorf("entity without resource name")
		}
		if seen[e.Resource] {
			return fmt.Errorf("duplicate entity %s", e.Resource)
		}
		seen[e.Resource] = true
		if e.Plural == "" {
			e.Plural = plural(e.Resource)
		}
		if e.Table == "" {
			e.Table = e.Plural
		}
		if e.UpdateMode == "" {
			e.UpdateMode = "replace"
		}
		if e.UpdateMode != "replace" && e.UpdateMode != "merge" {
			return fmt.Errorf("entity %s: unknown update mode %s", e.Resource, e.UpdateMode)
		}
		if len(e.Operations) == 0 {
			e.Operations = []Operation{OperationList, OperationRead, OperationCreate, OperationUpdate, OperationDelete}
		}
		for _, f := range e.Fields {
			switch f.Type {
			case "string", "text", "integer":
			case "reference":
				if f.References == "" {
					return fmt.Errorf("entity %s: reference field %s lacks a target table", e.Resource, f.Name)
				}
			default:
				return fmt.Errorf("entity %s: unknown field type %s for %s", e.Resource, f.Type, f.Name)
			}
		}
	}
	return nil
}

// byDependencies sorts entities so that referenced tables are created first.
// The dependency graph here is shallow enough that sorting by the number of
// reference fields gives a valid creation order.
type byDependencies []entityConfiguration

func (r byDependencies) Len() int      { return len(r) }
func (r byDependencies) Swap(i, j int) { r[i], r[j] = r[j], r[i] }
func (r byDependencies) Less(i, j int) bool {
	return r[i].referenceCount() < r[j].referenceCount()
}

func (e *entityConfiguration) referenceCount() int {
	n := 0
	for _, f := range e.Fields {
		if f.Type == "reference" {
			n++
		}
	}
	return n
}

func (e *entityConfiguration) supports(op Operation) bool {
	for _, o := range e.Operations {
		if o == op {
			return true
		}
	}
	return false
}

func (e *entityConfiguration) visibleFields() []fieldConfiguration {
	var fields []fieldConfiguration
	for _, f := range e.Fields {
		if !f.Hidden {
			fields = append(fields, f)
		}
	}
	return fields
}

func sortByDependencies(entities []entityConfiguration) []entityConfiguration {
	sorted := make([]entityConfiguration, len(entities))
	copy(sorted, entities)
	sort.Stable(byDependencies(sorted))
	return sorted
}
