package persistence

import "sync"

// Lazy returns a factory that defers open until a repository is first
// requested, so registering a backend never dials a server.
func Lazy(id, name string, open func() (Factory, error)) Factory {
	return &lazyFactory{id: id, name: name, open: open}
}

type lazyFactory struct {
	id   string
	name string
	open func() (Factory, error)

	mu     sync.Mutex
	opened bool
	inner  Factory
	err    error
}

func (l *lazyFactory) ID() string   { return l.id }
func (l *lazyFactory) Name() string { return l.name }

func (l *lazyFactory) get() (Factory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.opened {
		l.opened = true
		l.inner, l.err = l.open()
	}
	return l.inner, l.err
}

func (l *lazyFactory) KeyedRepository(c Category) (KeyedRepository, error) {
	f, err := l.get()
	if err != nil {
		return nil, err
	}
	return f.KeyedRepository(c)
}

func (l *lazyFactory) SingleRepository(name string) (SingleRepository, error) {
	f, err := l.get()
	if err != nil {
		return nil, err
	}
	return f.SingleRepository(name)
}

// Close closes the underlying factory if it was ever opened.
func (l *lazyFactory) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	inner := l.inner
	l.opened = true
	l.inner, l.err = nil, Error.New("factory %q closed", l.id)
	if inner == nil {
		return nil
	}
	return inner.Close()
}
