/*Package backend realizes the navigation backend as one generic,
descriptor-driven resource engine.

A Backend is built from a JSON configuration string describing the entity
resources (menus, submenus, cards, ads, friends, users). For every entity it
creates the table (if it does not exist yet) and mounts the routes of the
resource contract: public list and read, bearer-gated create, update and
delete. The account routes (login, profile, password) are mounted alongside
when a "user" entity is configured.
*/
package backend

import (
	"fmt"
	"net/http"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/navdeck-io/navdeck/core/access"
	"github.com/navdeck-io/navdeck/core/apierror"
	"github.com/navdeck-io/navdeck/core/csql"
	"github.com/navdeck-io/navdeck/core/logger"
	"github.com/navdeck-io/navdeck/core/schema"
)

// Backend is the generic rest backend
type Backend struct {
	config    Configuration
	db        *csql.DB
	router    *mux.Router
	tokens    *access.TokenService
	gate      *access.Gate
	validator *schema.Validator
	entities  map[string]*entityConfiguration
	location  *time.Location
	sb        sq.StatementBuilderType
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all entity resources. This is mandatory.
	Config string
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// TokenSecret is the process-wide signing secret. This is mandatory.
	TokenSecret string
	// JSONSchemas are optional JSON schemas for request body validation,
	// referenced from entity descriptors by schema_id.
	JSONSchemas []string
	// JSONSchemaRefs are schemas referenced by the JSONSchemas.
	JSONSchemaRefs []string
}

// MustNew realizes the actual backend. It creates the sql relations (if they
// do not exist) and adds the actual routes to the router. It panics on
// configuration errors; configuration is a startup concern.
func MustNew(bb *Builder) *Backend {
	var config Configuration
	err := json.Unmarshal([]byte(bb.Config), &config)
	if err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}
	if err = config.applyDefaults(); err != nil {
		panic(fmt.Errorf("invalid backend configuration: %s", err))
	}

	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.TokenSecret == "" {
		panic("TokenSecret is missing")
	}

	validator, err := schema.NewValidator(bb.JSONSchemas, bb.JSONSchemaRefs)
	if err != nil {
		panic(fmt.Errorf("invalid JSON schemas: %s", err))
	}

	tokens := access.NewTokenService(bb.TokenSecret)
	b := &Backend{
		config:    config,
		db:        bb.DB,
		router:    bb.Router,
		tokens:    tokens,
		gate:      access.NewGate(tokens),
		validator: validator,
		entities:  make(map[string]*entityConfiguration),
		location:  civilTimeLocation(),
		sb:        sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	for i := range b.config.Entities {
		e := &b.config.Entities[i]
		b.entities[e.Resource] = e
	}

	// dependencies must be created first, otherwise we cannot enforce them
	// via sql foreign keys
	for _, e := range sortByDependencies(b.config.Entities) {
		if err := b.createTable(&e); err != nil {
			panic(fmt.Errorf("cannot create table for %s: %s", e.Resource, err))
		}
	}

	for i := range b.config.Entities {
		b.createEntityResource(b.router, &b.config.Entities[i])
	}
	b.handleAccountRoutes(b.router)
	return b
}

// Tokens exposes the backend's token service, e.g. for seeding tooling.
func (b *Backend) Tokens() *access.TokenService {
	return b.tokens
}

// table returns the schema-qualified table name of an entity.
func (b *Backend) table(e *entityConfiguration) string {
	return b.db.Schema + "." + e.Table
}

// civilTimeLocation is the fixed named zone login timestamps are recorded
// in (see the login handler). The fixed-offset fallback only matters on
// systems without a tz database.
func civilTimeLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, object interface{}) {
	jsonData, _ := json.MarshalWithOption(object, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

// methodNotAllowed is the catch-all for known paths with unsupported
// methods. It reports the supported set in the Allow header.
func methodNotAllowed(allow ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apierror.Write(w, logger.FromContext(r.Context()), apierror.MethodNotAllowed(allow...))
	}
}
