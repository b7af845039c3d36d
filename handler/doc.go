// Package handler adapts typed request handlers to net/http for the billing
// JSON API.
//
// Wrap binds the request into R with the configured binders, runs the
// decorators and the handler, and renders the returned Response. Every
// failure, from binding to rendering, goes through one ErrorHandler, which
// answers with a JSON envelope:
//
//	{"error":{"code":"not_found","message":"subscription not found"}}
//
// Services register Classifiers with NewErrorHandler to map their own error
// types onto status codes.
package handler
