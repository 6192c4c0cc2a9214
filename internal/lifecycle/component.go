// Package lifecycle starts and stops the long-running parts of tailwatch in
// dependency order.
package lifecycle

import "context"

// Component is a long-running part of the process.
type Component interface {
	// Start brings the component up. It must return once the component is
	// serving; background work continues after it returns.
	Start(ctx context.Context) error
	// Stop shuts the component down within the context deadline.
	Stop(ctx context.Context) error
	// Name identifies the component in logs and errors.
	Name() string
}

// Func adapts a pair of functions to a Component. Either function may be
// nil.
type Func struct {
	ComponentName string
	OnStart       func(ctx context.Context) error
	OnStop        func(ctx context.Context) error
}

// Start implements Component.
func (f *Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

// Stop implements Component.
func (f *Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

// Name implements Component.
func (f *Func) Name() string {
	return f.ComponentName
}
