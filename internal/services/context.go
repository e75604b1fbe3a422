package services

import "context"

// Scope carries the correlation values a sync run threads through its
// context. Zero fields are unset.
type Scope struct {
	Reference int
	Stage     string
	RequestID string
}

type scopeKey struct{}

// ScopeFromContext returns the scope attached to ctx, or the zero Scope.
func ScopeFromContext(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

func withScope(ctx context.Context, update func(*Scope)) context.Context {
	s := ScopeFromContext(ctx)
	update(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithReference records the session reference number. Non-positive values
// leave ctx untouched.
func WithReference(ctx context.Context, ref int) context.Context {
	if ref <= 0 {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.Reference = ref })
}

func ReferenceFromContext(ctx context.Context) (int, bool) {
	ref := ScopeFromContext(ctx).Reference
	return ref, ref > 0
}

// WithStage records the workflow stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.Stage = stage })
}

func StageFromContext(ctx context.Context) (string, bool) {
	stage := ScopeFromContext(ctx).Stage
	return stage, stage != ""
}

// WithRequestID records the HTTP request correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.RequestID = id })
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	id := ScopeFromContext(ctx).RequestID
	return id, id != ""
}
