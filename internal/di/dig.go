// Package di provides a lightweight wrapper around uber's dig dependency
// injection framework. It simplifies container setup and provides type-safe
// dependency retrieval with generics.
package di

import (
	"context"

	"go.uber.org/dig"

	"github.com/okabe/linebot-deployer/internal/config"
)

// Container defines a dependency injection container based on uber's dig.
// This interface allows for easy testing and mocking of the DI container.
type Container interface {
	// Invoke executes a function, injecting its dependencies from the container.
	Invoke(function any, opts ...dig.InvokeOption) error

	// Provide registers a constructor function in the container.
	Provide(constructor any, opts ...dig.ProvideOption) error
}

// Get returns an instance constructed via dependency injection. Constructor
// failures (a bad AWS profile, an unresolvable provider) come back as errors,
// so the first resolution on a fresh container reports misconfiguration
// cleanly instead of panicking.
func Get[T any](container Container) (want T, err error) {
	err = container.Invoke(func(got T) {
		want = got
	})
	return want, err
}

// MustGet returns an instance constructed via dependency injection or panics.
// Use it only after a Get on the same container has succeeded, when the
// shared constructors are known to be resolvable.
//
// Example:
//
//	reconciler := MustGet[*stack.Reconciler](container)
func MustGet[T any](container Container) (want T) {
	callback := func(got T) {
		want = got
	}
	if err := container.Invoke(callback); err != nil {
		panic(err)
	}
	return want
}

// New creates a dependency injection container seeded with the run context
// and the immutable configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	container := dig.New()
	if err := container.Provide(func() context.Context { return ctx }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}

	for _, provider := range core {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	for _, provider := range o.providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

var core = []any{
	ProvideAWSConfig,
	ProvideCloudFormation,
	ProvideLambda,
	ProvideSTS,
	ProvideIAM,
	ProvideS3,
	ProvideSSM,
	ProvideSecretsManager,
	ProvideReconciler,
	ProvideRolloutController,
	ProvidePreflightChecker,
	ProvideTemplateValidator,
}
