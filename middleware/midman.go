package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

type namedMid struct {
	name string
	h    gin.HandlerFunc
}

// Chain is a global middleware list that can change while the engine
// serves; entries are replaced by name and keep their position.
type Chain struct {
	mu   sync.RWMutex
	mids []namedMid
}

func NewChain() *Chain { return &Chain{} }

// Set appends h under name, or swaps it in place if name exists.
func (ch *Chain) Set(name string, h gin.HandlerFunc) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for i := range ch.mids {
		if ch.mids[i].name == name {
			ch.mids[i].h = h
			return
		}
	}
	ch.mids = append(ch.mids, namedMid{name: name, h: h})
}

func (ch *Chain) Remove(name string) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for i := range ch.mids {
		if ch.mids[i].name == name {
			ch.mids = append(ch.mids[:i], ch.mids[i+1:]...)
			return true
		}
	}
	return false
}

func (ch *Chain) Names() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make([]string, len(ch.mids))
	for i, m := range ch.mids {
		out[i] = m.name
	}
	return out
}

// Handler mounts the chain on an engine. Each request runs a snapshot;
// an abort stops the rest of the chain and the route handler.
func (ch *Chain) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ch.mu.RLock()
		snap := make([]gin.HandlerFunc, len(ch.mids))
		for i, m := range ch.mids {
			snap[i] = m.h
		}
		ch.mu.RUnlock()

		for _, h := range snap {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
