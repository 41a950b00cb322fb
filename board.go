/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Board owns the one current menu. Mutations run under the write lock and
// encoding under the read lock; the menu is nil until the first load.
type Board struct {
	cfg   *Config
	store Store

	mu   sync.RWMutex
	menu *Menu
}

func newBoard(cfg *Config, store Store) *Board {
	return &Board{cfg: cfg, store: store}
}

// Load installs the most recently saved menu. When nothing has been saved
// yet the default catalog is seeded and an empty draft is used. Storage
// errors are logged and also fall back to an empty draft. A menu installed
// while Load was reading, such as a saved menu a client asked for, is kept.
func (b *Board) Load(ctx context.Context) {
	menu, err := b.store.Latest(ctx)
	switch {
	case err == nil:
		logf(b.cfg, "MENU: Loaded latest saved menu (%d items, %d sections)", len(menu.Items), len(menu.Sections))
	case errors.Is(err, ErrNotFound):
		if err := b.store.Seed(ctx, defaultCatalog()); err != nil {
			errorf("seeding default catalog: %v", err)
		}
		logf(b.cfg, "MENU: No saved menu found, starting from an empty draft")
		menu = NewMenu()
	default:
		errorf("loading latest menu: %v", err)
		menu = NewMenu()
	}

	if !b.install(menu) {
		logf(b.cfg, "MENU: Keeping menu loaded during startup")
	}
}

// install sets menu only if no menu is present yet.
func (b *Board) install(menu *Menu) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.menu != nil {
		return false
	}
	b.menu = menu
	return true
}

func (b *Board) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.menu != nil
}

// Replace swaps in a whole new menu.
func (b *Board) Replace(menu *Menu) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.menu = menu
}

// Mutate runs fn with exclusive access to the menu and reports what fn
// reported.
func (b *Board) Mutate(fn func(m *Menu) bool) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.menu == nil {
		return false, ErrNotReady
	}
	return fn(b.menu), nil
}

// View runs fn with shared access to the menu. fn must not modify it.
func (b *Board) View(fn func(m *Menu)) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.menu == nil {
		return ErrNotReady
	}
	fn(b.menu)
	return nil
}

// Clone copies the menu so it can be written out without holding the lock.
func (b *Board) Clone() (*Menu, error) {
	var c *Menu
	err := b.View(func(m *Menu) { c = m.Clone() })
	return c, err
}

// Encode serializes the whole menu in its wire form.
func (b *Board) Encode() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if verr := b.View(func(m *Menu) { data, err = json.Marshal(m) }); verr != nil {
		return nil, verr
	}
	return data, err
}
