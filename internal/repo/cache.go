package repo

import (
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"

	"fieldwork/internal/domain"
)

// templateCache keeps encoded documents so every hit decodes a private copy
// that callers may mutate freely.
type templateCache struct {
	lru *lru.Cache[int64, []byte]
}

func newTemplateCache(size int) (*templateCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[int64, []byte](size)
	if err != nil {
		return nil, err
	}
	return &templateCache{lru: c}, nil
}

func (c *templateCache) get(id int64) (*domain.TaskTemplate, bool) {
	if c == nil {
		return nil, false
	}
	raw, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	var tpl domain.TaskTemplate
	if err := json.Unmarshal(raw, &tpl); err != nil {
		c.lru.Remove(id)
		return nil, false
	}
	return &tpl, true
}

func (c *templateCache) put(id int64, raw []byte) {
	if c != nil {
		c.lru.Add(id, raw)
	}
}

func (c *templateCache) drop(id int64) {
	if c != nil {
		c.lru.Remove(id)
	}
}

func (c *templateCache) size() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
