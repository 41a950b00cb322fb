/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSeedsEmptyStore(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	assert.False(t, e.board.Ready())
	_, err := e.board.Encode()
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = e.board.Mutate(func(*Menu) bool { return true })
	assert.ErrorIs(t, err, ErrNotReady)

	e.board.Load(ctx)
	require.True(t, e.board.Ready())
	assert.Empty(t, e.menu(t).Items)

	types, err := e.store.ListCatalog(ctx, PastaTypes)
	require.NoError(t, err)
	assert.NotEmpty(t, types)
}

func TestLoadPicksLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	m := NewMenu()
	require.True(t, m.AddItem("Carbonara", 14, nil))
	_, err := e.store.Save(ctx, m, "Dinner")
	require.NoError(t, err)

	e.board.Load(ctx)

	loaded := e.menu(t)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, "Carbonara", loaded.Items[0].Name)

	catalog, err := e.store.ListCatalog(ctx, PastaTypes)
	require.NoError(t, err)
	assert.Empty(t, catalog)
}

func TestMutateReportsOutcome(t *testing.T) {
	e := newTestEnv(t).ready()

	changed, err := e.board.Mutate(func(m *Menu) bool { return m.AddItem("Espresso", 2, nil) })
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = e.board.Mutate(func(m *Menu) bool { return m.RemoveItem(999) })
	require.NoError(t, err)
	assert.False(t, changed)

	clone, err := e.board.Clone()
	require.NoError(t, err)
	clone.Items[0].Name = "Ristretto"
	assert.Equal(t, "Espresso", e.menu(t).Items[0].Name)
}

// gatedStore holds Latest until release is closed.
type gatedStore struct {
	*SQLStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Latest(ctx context.Context) (*Menu, error) {
	close(s.entered)
	<-s.release
	return s.SQLStore.Latest(ctx)
}

func TestLoadKeepsMenuChosenDuringStartup(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	chosen := NewMenu()
	require.True(t, chosen.AddItem("Chosen", 9, nil))
	saved, err := e.store.Save(ctx, chosen, "Chosen")
	require.NoError(t, err)

	newest := NewMenu()
	require.True(t, newest.AddItem("Newest", 10, nil))
	_, err = e.store.Save(ctx, newest, "Newest")
	require.NoError(t, err)

	gated := &gatedStore{SQLStore: e.store, entered: make(chan struct{}), release: make(chan struct{})}
	board := newBoard(e.cfg, gated)
	dispatcher := newDispatcher(e.cfg, board, gated, newFiles(e.uploads), e.metrics)

	done := make(chan struct{})
	go func() {
		board.Load(ctx)
		close(done)
	}()
	<-gated.entered

	res := dispatcher.Dispatch(ctx, []byte(`{"type":"loadSavedMenu","menuId":`+jsonID(saved.ID)+`}`))
	require.True(t, res.Broadcast)

	close(gated.release)
	<-done

	m, err := board.Clone()
	require.NoError(t, err)
	require.Len(t, m.Items, 1)
	assert.Equal(t, "Chosen", m.Items[0].Name)
}
