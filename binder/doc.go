// Package binder fills request structs from JSON bodies, path parameters and
// query strings. Binders are applied in order by handler.Wrap, so a later
// binder overwrites fields set by an earlier one.
package binder
