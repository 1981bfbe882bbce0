// Package test contains the integration test suite. It runs the complete
// backend against a throwaway postgres container and exercises the REST
// routes in-process through the client package.
package test

import (
	"context"
	"fmt"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/navdeck-io/navdeck/core/backend"
	"github.com/navdeck-io/navdeck/core/client"
	"github.com/navdeck-io/navdeck/core/csql"
)

const adminUser = "admin"
const adminPassword = "integration-secret"

var configurationJSON string = `
{
	"entities": [
	  {
		"resource": "menu",
		"order_by": "order",
		"conflict_message": "menu name already exists",
		"fields": [
		  {"name": "name", "type": "string", "required": true, "unique": true},
		  {"name": "icon", "type": "string", "nullable": true},
		  {"name": "order", "type": "integer"}
		],
		"embeds": [
		  {"property": "subMenus", "entity": "submenu", "column": "parent_id"}
		]
	  },
	  {
		"resource": "submenu",
		"plural": "submenus",
		"table": "sub_menus",
		"order_by": "order",
		"fields": [
		  {"name": "name", "type": "string", "required": true},
		  {"name": "parent_id", "type": "reference", "required": true, "references": "menus"},
		  {"name": "order", "type": "integer"}
		],
		"scopes": [
		  {"parameter": "parentId", "column": "parent_id"}
		]
	  },
	  {
		"resource": "card",
		"order_by": "order",
		"fields": [
		  {"name": "title", "type": "string", "required": true},
		  {"name": "url", "type": "string", "required": true},
		  {"name": "logo_url", "type": "string", "nullable": true},
		  {"name": "desc", "type": "text", "nullable": true},
		  {"name": "menu_id", "type": "reference", "nullable": true, "references": "menus"},
		  {"name": "sub_menu_id", "type": "reference", "nullable": true, "references": "sub_menus"},
		  {"name": "order", "type": "integer"}
		],
		"scopes": [
		  {"parameter": "subMenuId", "column": "sub_menu_id"},
		  {"parameter": "menuId", "column": "menu_id", "null_column": "sub_menu_id"}
		],
		"favicon_fallback": {
		  "url_field": "url", "logo_field": "logo_url", "property": "display_logo"
		}
	  },
	  {
		"resource": "ad",
		"fields": [
		  {"name": "position", "type": "string", "required": true},
		  {"name": "img", "type": "string", "required": true},
		  {"name": "url", "type": "string", "required": true}
		]
	  },
	  {
		"resource": "friend",
		"update_mode": "merge",
		"conflict_message": "link already exists",
		"fields": [
		  {"name": "title", "type": "string", "required": true},
		  {"name": "url", "type": "string", "required": true, "unique": true},
		  {"name": "logo", "type": "string", "nullable": true}
		]
	  },
	  {
		"resource": "user",
		"table": "users",
		"operations": ["list"],
		"protected_read": true,
		"fields": [
		  {"name": "username", "type": "string", "required": true, "unique": true},
		  {"name": "password", "type": "string", "required": true, "hidden": true},
		  {"name": "last_login_time", "type": "string", "nullable": true, "hidden": true},
		  {"name": "last_login_ip", "type": "string", "nullable": true, "hidden": true}
		]
	  }
	]
}
`

type IntegrationTestSuite struct {
	suite.Suite

	postgresContainer testcontainers.Container
	db                *csql.DB
	router            *mux.Router
	backend           *backend.Backend
	client            client.Client
	admin             client.Client
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	s.db = csql.OpenWithSchema(fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), postgresUser, postgresPassword, postgresDB), "navdeck")

	s.router = mux.NewRouter()
	s.backend = backend.MustNew(&backend.Builder{
		Config:      configurationJSON,
		DB:          s.db,
		Router:      s.router,
		TokenSecret: "integration-test-secret",
	})
	s.Require().NoError(s.backend.EnsureAdminAccount(adminUser, adminPassword))

	token, err := s.backend.Tokens().Issue(1, adminUser)
	s.Require().NoError(err)
	s.client = client.NewWithRouter(s.router)
	s.admin = client.NewWithRouter(s.router).WithToken(token)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.db != nil {
		s.db.Close()
	}
	if s.postgresContainer != nil {
		s.Require().NoError(s.postgresContainer.Terminate(ctx))
	}
}
