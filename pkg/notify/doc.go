// Package notify defines the Notifier the lifecycle engine calls after a
// billing event, an email implementation on top of pkg/email, and Safe, the
// wrapper that bounds each call with a timeout and turns failures into log
// lines.
package notify
