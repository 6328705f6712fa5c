package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAnchorNotFound is returned when an insertion anchor is absent.
	ErrAnchorNotFound = errors.New("pipeline anchor not found")
	// ErrDuplicateName is returned when a stage name is already installed.
	ErrDuplicateName = errors.New("pipeline stage name already installed")
	// ErrStageNotFound is returned when removing an unknown stage.
	ErrStageNotFound = errors.New("pipeline stage not found")
)

// Handler processes one chunk of bytes flowing through a stage and returns
// what the next stage receives.
type Handler interface {
	Handle(data []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(data []byte) ([]byte, error)

func (f HandlerFunc) Handle(data []byte) ([]byte, error) { return f(data) }

// Pipeline is the narrow surface a host proxy exposes for its per-connection
// byte-processing chain. Stages are addressed by unique names.
type Pipeline interface {
	AddBefore(anchor, name string, h Handler) error
	AddAfter(anchor, name string, h Handler) error
	Remove(name string) error
	Has(name string) bool
}

type stage struct {
	name    string
	handler Handler
}

// Chain is an ordered, named list of stages. It is safe for concurrent use.
type Chain struct {
	mu     sync.RWMutex
	stages []stage
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddLast appends a stage to the end of the chain.
func (c *Chain) AddLast(name string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(name) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	c.stages = append(c.stages, stage{name: name, handler: h})
	return nil
}

func (c *Chain) AddBefore(anchor, name string, h Handler) error {
	return c.insert(anchor, name, h, 0)
}

func (c *Chain) AddAfter(anchor, name string, h Handler) error {
	return c.insert(anchor, name, h, 1)
}

func (c *Chain) insert(anchor, name string, h Handler, offset int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexLocked(name) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	at := c.indexLocked(anchor)
	if at < 0 {
		return fmt.Errorf("%w: %s", ErrAnchorNotFound, anchor)
	}
	at += offset

	c.stages = append(c.stages, stage{})
	copy(c.stages[at+1:], c.stages[at:])
	c.stages[at] = stage{name: name, handler: h}
	return nil
}

func (c *Chain) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.indexLocked(name)
	if at < 0 {
		return fmt.Errorf("%w: %s", ErrStageNotFound, name)
	}
	c.stages = append(c.stages[:at], c.stages[at+1:]...)
	return nil
}

func (c *Chain) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexLocked(name) >= 0
}

// Names returns the stage names in order.
func (c *Chain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.stages))
	for i, s := range c.stages {
		out[i] = s.name
	}
	return out
}

// Process runs data through every stage in order. A stage returning nil
// data stops the chain without error.
func (c *Chain) Process(data []byte) ([]byte, error) {
	c.mu.RLock()
	stages := make([]stage, len(c.stages))
	copy(stages, c.stages)
	c.mu.RUnlock()

	var err error
	for _, s := range stages {
		if s.handler == nil {
			continue
		}
		if data, err = s.handler.Handle(data); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		if data == nil {
			return nil, nil
		}
	}
	return data, nil
}

func (c *Chain) indexLocked(name string) int {
	for i, s := range c.stages {
		if s.name == name {
			return i
		}
	}
	return -1
}
