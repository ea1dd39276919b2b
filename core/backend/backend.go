package backend

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/gardenbase/core"
	"github.com/relabs-tech/gardenbase/core/access"
	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/gateway"
	"github.com/relabs-tech/gardenbase/core/logger"
	"github.com/relabs-tech/gardenbase/core/registry"
	"github.com/relabs-tech/gardenbase/core/schema"
)

// maxLimit is the largest accepted limit query parameter
const maxLimit = 1000

// Backend is the generic data backend
type Backend struct {
	db        *csql.DB
	router    *mux.Router
	gateway   *gateway.Gateway
	validator *schema.Validator
	notifier  core.Notifier
	verifier  access.Verifier
	hooks     map[string][]EntryHook

	// Registry is the schema registry of the backend's tables
	Registry *registry.Registry
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is the database. This is mandatory.
	DB *csql.DB
	// Registry describes the tables. This is mandatory.
	Registry *registry.Registry
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Verifier verifies bearer tokens. This is mandatory.
	Verifier access.Verifier
	// Notifier receives a notification after every successful write. This is optional.
	Notifier core.Notifier
	// CreateTables creates missing tables of the registry during New
	CreateTables bool
}

// New realizes the actual backend. It creates the sql tables (if requested and they
// do not exist) and adds the routes to the router.
func New(bb *Builder) *Backend {
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Registry == nil {
		panic("Registry is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.Verifier == nil {
		panic("Verifier is missing")
	}

	validator, err := schema.NewValidatorFromRegistry(bb.Registry)
	if err != nil {
		panic(err)
	}

	b := &Backend{
		db:        bb.DB,
		router:    bb.Router,
		gateway:   gateway.New(bb.DB, bb.Registry),
		validator: validator,
		notifier:  bb.Notifier,
		verifier:  bb.Verifier,
		hooks:     make(map[string][]EntryHook),
		Registry:  bb.Registry,
	}

	if bb.CreateTables {
		if err := bb.Registry.CreateTables(context.Background(), bb.DB); err != nil {
			panic(err)
		}
	}

	b.handleRoutes()
	return b
}

// Gateway returns the entry gateway of the backend, for in-process callers
// which do not go through HTTP
func (b *Backend) Gateway() *gateway.Gateway {
	return b.gateway
}

func (b *Backend) handleRoutes() {
	nillog := logger.Default()
	nillog.Debugln("backend: handle routes")

	logger.AddRequestID(b.router)
	b.handleCORS()
	b.handleCompression()

	b.handleHealth(b.router)
	b.handleVersion(b.router)

	api := b.router.PathPrefix("/api").Subrouter()
	api.Use(access.NewBearerMiddleware(b.verifier))
	b.handleData(api)

	b.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "no such route")
	})
}
