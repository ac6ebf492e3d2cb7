// Package api exposes the resolution engine over HTTP for the dashboard and
// automation callers.
//
// Handlers depend on the narrow Engine interface so tests can substitute a
// fake. Request IDs, structured request logging, metrics, CORS and panic
// recovery are installed by NewRouter; handlers assume that stack is present
// and only shape responses.
//
// An unknown channel is always answered with 404 and category
// "resource_not_found". An undetermined verdict is a normal 200 response
// whose active_input is null.
package api
