package locator

import "reflect"

// ServiceLocator is a uniform registration/resolution facade that stays independent of the
// DI engine underneath. Typed helpers live in the servicelocator package.
type ServiceLocator interface {
	// Registration
	RegisterType(serviceType, implType reflect.Type) error
	RegisterKeyedWithDefault(serviceType, implType reflect.Type, key string) error
	RegisterInstance(serviceType reflect.Type, instance any) error
	RegisterFactory(serviceType reflect.Type, factory func() (any, error)) error

	// Resolution
	Resolve(serviceType reflect.Type, key string) (any, error)
	ResolveMany(serviceType reflect.Type) ([]any, error)
	Inject(instance any) (any, error)

	// Lifecycle
	Release(instance any)
	TearDown(instance any)
	Reset() error
	Close() error
	IsClosed() bool
}
