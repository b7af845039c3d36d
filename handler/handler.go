package handler

import (
	"errors"
	"net/http"
)

// HandlerFunc handles a request already bound into R.
//
//	create := handler.HandlerFunc[CheckoutRequest](
//		func(ctx handler.Context, req CheckoutRequest) handler.Response {
//			session, err := svc.Checkout(ctx, req)
//			if err != nil {
//				return handler.Error(err)
//			}
//			return handler.JSON(session, handler.WithStatus(http.StatusCreated))
//		},
//	)
//	r.Post("/checkout", handler.Wrap(create, handler.WithBinders[CheckoutRequest](binder.JSON())))
type HandlerFunc[R any] func(ctx Context, req R) Response

// Response renders itself to w.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Bind fills v from r. Binders run in order.
type Bind func(r *http.Request, v any) error

// ErrorHandler writes the response for a bind, handler or render error.
type ErrorHandler func(ctx Context, err error)

// Decorator wraps a HandlerFunc. The first decorator given is the outermost.
type Decorator[R any] func(HandlerFunc[R]) HandlerFunc[R]

type WrapOption[R any] func(*wrapConfig[R])

type wrapConfig[R any] struct {
	binders      []Bind
	errorHandler ErrorHandler
	decorators   []Decorator[R]
}

func WithBinders[R any](binders ...Bind) WrapOption[R] {
	return func(c *wrapConfig[R]) {
		c.binders = append(c.binders, binders...)
	}
}

func WithErrorHandler[R any](h ErrorHandler) WrapOption[R] {
	return func(c *wrapConfig[R]) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

func WithDecorators[R any](decorators ...Decorator[R]) WrapOption[R] {
	return func(c *wrapConfig[R]) {
		c.decorators = append(c.decorators, decorators...)
	}
}

// Wrap turns h into an http.HandlerFunc. Bind errors go to the error
// handler as 400s unless they already carry an HTTPError.
func Wrap[R any](h HandlerFunc[R], opts ...WrapOption[R]) http.HandlerFunc {
	cfg := &wrapConfig[R]{errorHandler: NewErrorHandler(nil)}
	for _, opt := range opts {
		opt(cfg)
	}

	final := h
	for i := len(cfg.decorators) - 1; i >= 0; i-- {
		final = cfg.decorators[i](final)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := NewContext(w, r)

		var req R
		for _, bind := range cfg.binders {
			if err := bind(r, &req); err != nil {
				var httpErr HTTPError
				if !errors.As(err, &httpErr) {
					err = WithHTTPStatus(ErrBadRequest, err)
				}
				cfg.errorHandler(ctx, err)
				return
			}
		}

		resp := final(ctx, req)
		if resp == nil {
			cfg.errorHandler(ctx, ErrNilResponse)
			return
		}
		if err := resp.Render(w, r); err != nil {
			cfg.errorHandler(ctx, err)
		}
	}
}
