package httpserver

import (
	"net/http"

	"github.com/dua-ia/dua-credits/internal/userstore"
)

// EndpointRoute is one method/path pair. A non-empty Capability restricts the
// route to users holding it.
type EndpointRoute struct {
	Method     string
	Path       string
	Handler    http.Handler
	Capability userstore.Capability
}

// Endpoint groups related routes.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}
