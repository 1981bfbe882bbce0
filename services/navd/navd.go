package main

import (
	"net/http"

	"github.com/joeshaw/envdecode"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/navdeck-io/navdeck/core/backend"
	"github.com/navdeck-io/navdeck/core/csql"
	"github.com/navdeck-io/navdeck/core/logger"
)

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

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres      string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	JWTSecret     string `env:"JWT_SECRET,required" description:"the signing secret for bearer tokens"`
	Port          string `env:"PORT,default=3000" description:"the port the service listens on"`
	AdminUser     string `env:"ADMIN_USER,default=admin" description:"the seeded administrator account"`
	AdminPassword string `env:"ADMIN_PASSWORD,default=admin123" description:"the initial administrator password"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logger.InitLogger(logrus.InfoLevel)

	db := csql.OpenWithSchema(service.Postgres, "navdeck")
	defer db.Close()

	router := mux.NewRouter()
	logger.AddRequestID(router)
	b := backend.MustNew(&backend.Builder{
		Config:      configurationJSON,
		DB:          db,
		Router:      router,
		TokenSecret: service.JWTSecret,
	})
	if err := b.EnsureAdminAccount(service.AdminUser, service.AdminPassword); err != nil {
		panic(err)
	}

	handler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(router)
	handler = handlers.CombinedLoggingHandler(logrus.StandardLogger().Writer(), handler)

	logrus.Infoln("listen on port :" + service.Port)
	if err := http.ListenAndServe(":"+service.Port, handler); err != nil {
		panic(err)
	}
}
