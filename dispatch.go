/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// command is implemented by every inbound message variant.
type command interface {
	// needsMenu reports whether the command must wait for the menu to load.
	needsMenu() bool
	run(ctx context.Context, d *Dispatcher) (Result, error)
}

// Result is what a dispatched message asks of the connection layer: an
// optional reply to the sender, and whether every viewer needs the menu.
type Result struct {
	Reply     any
	Broadcast bool
}

type Dispatcher struct {
	cfg     *Config
	board   *Board
	store   Store
	files   *Files
	metrics *metrics
}

func newDispatcher(cfg *Config, board *Board, store Store, files *Files, m *metrics) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		board:   board,
		store:   store,
		files:   files,
		metrics: m,
	}
}

// Dispatch decodes and runs one inbound message. It never panics and never
// returns an error; failures become error replies for the sender.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) (res Result) {
	typ, cmd, err := decodeCommand(data)
	if err != nil {
		var unknown *UnknownTypeError
		if errors.As(err, &unknown) {
			d.metrics.message("unknown", outcomeRejected)
			logf(d.cfg, "WARN: Unknown message type %q", typ)
			return Result{Reply: errorMessage("unknown message type: %s", typ)}
		}
		var payload *PayloadError
		if errors.As(err, &payload) {
			d.metrics.message(typ, outcomeUnchanged)
			logf(d.cfg, "WARN: %v", err)
			return Result{}
		}
		d.metrics.message(typ, outcomeRejected)
		logf(d.cfg, "WARN: %v", err)
		return Result{Reply: errorMessage("invalid message: %v", err)}
	}

	if cmd.needsMenu() && !d.board.Ready() {
		d.metrics.message(typ, outcomeRejected)
		return Result{Reply: errorMessage("%v", ErrNotReady)}
	}

	defer func() {
		if r := recover(); r != nil {
			errorf("%s panicked: %v\n%s", typ, r, debug.Stack())
			d.metrics.message(typ, outcomeFailed)
			res = Result{Reply: errorMessage("%s failed: %v", typ, r)}
		}
	}()

	res, err = cmd.run(ctx, d)
	switch {
	case errors.Is(err, ErrNotReady):
		d.metrics.message(typ, outcomeRejected)
		return Result{Reply: errorMessage("%v", ErrNotReady)}
	case err != nil:
		errorf("%s: %v", typ, err)
		d.metrics.message(typ, outcomeFailed)
		return Result{Reply: errorMessage("%s failed: %v", typ, err)}
	case res.Broadcast:
		d.metrics.message(typ, outcomeChanged)
		logf(d.cfg, "MENU: Applied %s", typ)
	default:
		d.metrics.message(typ, outcomeUnchanged)
		if res.Reply == nil {
			logf(d.cfg, "WARN: %s made no change", typ)
		}
	}

	return res
}

func (d *Dispatcher) mutate(fn func(m *Menu) bool) (Result, error) {
	ok, err := d.board.Mutate(fn)
	return Result{Broadcast: ok}, err
}

// mutateIfLoaded applies fn to the menu when there is one. Store-side
// commands use it to keep the live menu consistent with the rows they
// changed.
func (d *Dispatcher) mutateIfLoaded(fn func(m *Menu) bool) bool {
	ok, err := d.board.Mutate(fn)
	return err == nil && ok
}

func (d *Dispatcher) savedMenus(ctx context.Context) (SavedMenusListMessage, error) {
	menus, err := d.store.List(ctx)
	if err != nil {
		return SavedMenusListMessage{}, err
	}
	return SavedMenusListMessage{Type: "savedMenusList", SavedMenus: menus}, nil
}

func (d *Dispatcher) catalog(ctx context.Context, kind CatalogKind) (CatalogListMessage, error) {
	items, err := d.store.ListCatalog(ctx, kind)
	if err != nil {
		return CatalogListMessage{}, err
	}
	return CatalogListMessage{Type: string(kind) + "List", Kind: kind, Items: items}, nil
}

func (d *Dispatcher) logos(ctx context.Context) (LogosListMessage, error) {
	logos, err := d.store.ListLogos(ctx)
	if err != nil {
		return LogosListMessage{}, err
	}
	return LogosListMessage{Type: "logosList", Logos: logos}, nil
}

func (c *addItemCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	name, price, ok := itemInput(c.Name, c.Price)
	if !ok {
		return Result{}, nil
	}
	return d.mutate(func(m *Menu) bool { return m.AddItem(name, price, c.SectionID) })
}

func (c *updateItemCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.UpdateItem(c.ItemID, c.Name, c.Price) })
}

func (c *removeItemCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.RemoveItem(c.ItemID) })
}

func (c *addCatalogEntryCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	id, ok := c.catalogID()
	if !ok {
		return Result{}, nil
	}

	present := false
	if err := d.board.View(func(m *Menu) { present = m.HasCatalogEntry(c.kind, id) }); err != nil {
		return Result{}, err
	}
	if present {
		return Result{}, nil
	}

	item, err := d.store.CatalogItem(ctx, c.kind, id)
	if errors.Is(err, ErrNotFound) {
		logf(d.cfg, "WARN: %v", err)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}

	return d.mutate(func(m *Menu) bool { return m.AddCatalogEntry(c.kind, item) })
}

func (c *removeCatalogEntryCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	id, ok := c.catalogID()
	if !ok {
		return Result{}, nil
	}
	return d.mutate(func(m *Menu) bool { return m.RemoveCatalogEntry(c.kind, id) })
}

func (c *updateItemImageCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.UpdateItemImage(c.ItemID, c.ImageURL) })
}

func (c *toggleItemShowImageCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.ToggleItemShowImage(c.ItemID, c.ShowImage) })
}

func (c *addImageToItemCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.AddImageToItem(c.ItemID, c.ImageURL) })
}

func (c *removeImageFromItemCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.RemoveImageFromItem(c.ItemID, c.ImageURL) })
}

// The sender of addSection gets the new section back so it can move items
// into it without waiting for the broadcast.
func (c *addSectionCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	var section MenuSection
	res, err := d.mutate(func(m *Menu) bool {
		var ok bool
		section, ok = m.AddSection(c.Name, c.Header)
		return ok
	})
	if res.Broadcast {
		res.Reply = SectionAddedMessage{Type: "sectionAdded", Section: section}
	}
	return res, err
}

func (c *updateSectionCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.UpdateSection(c.SectionID, c.Name, c.Header, c.SectionType) })
}

func (c *removeSectionCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.RemoveSection(c.SectionID) })
}

func (c *updateSectionOrderCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.UpdateSectionOrder(c.Sections) })
}

func (c *moveItemToSectionCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.MoveItemToSection(c.ItemID, c.SectionID, c.Position) })
}

func (c *updateItemPositionsCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.UpdateItemPositions(c.Items) })
}

func (c *setOrientationCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.SetOrientation(c.Orientation) })
}

func (c *updateSectionStyleCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool {
		return m.UpdateSectionStyle(c.SectionID, c.BackgroundColor, c.TextColor)
	})
}

func (c *resetSectionStyleCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.ResetSectionStyle(c.SectionID) })
}

func (c *updateBackgroundCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.UpdateBackground(c.Background) })
}

func (c *resetBackgroundCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.ResetBackground() })
}

func (c *updateDisplaySettingsCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.UpdateDisplaySettings(c.Kind, c.Settings) })
}

func (c *activateLogoCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	logo, err := d.store.Logo(ctx, c.LogoID)
	if errors.Is(err, ErrNotFound) {
		logf(d.cfg, "WARN: %v", err)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return d.mutate(func(m *Menu) bool { return m.ActivateLogo(logo) })
}

func (c *updateLogoSettingsCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.UpdateLogoSettings(c.Position, c.Size, c.Opacity) })
}

func (c *removeLogoCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	return d.mutate(func(m *Menu) bool { return m.RemoveLogo() })
}

// saveCurrentMenu copies the menu under the read lock and writes the copy
// without holding any lock.
func (c *saveCurrentMenuCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	menu, err := d.board.Clone()
	if err != nil {
		return Result{}, err
	}

	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = "Menu " + time.Now().Format("2006-01-02 15:04")
	}

	saved, err := d.store.Save(ctx, menu, name)
	if err != nil {
		return Result{}, err
	}
	logf(d.cfg, "MENU: Saved menu %q as %d", saved.Name, saved.ID)

	return Result{Reply: MenuSavedMessage{Type: "menuSaved", SavedMenu: saved}}, nil
}

func (c *getCurrentMenuCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	data, err := d.board.Encode()
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: json.RawMessage(data)}, nil
}

func (c *getBackgroundConfigCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	var bg *Background
	err := d.board.View(func(m *Menu) {
		if m.Background != nil {
			copied := *m.Background
			bg = &copied
		}
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: BackgroundConfigMessage{Type: "backgroundConfig", Background: bg}}, nil
}

func (c *getDisplaySettingsCmd) run(_ context.Context, d *Dispatcher) (Result, error) {
	settings := make(map[CatalogKind]DisplaySettings)
	err := d.board.View(func(m *Menu) {
		for k, v := range m.DisplaySettings {
			settings[k] = v
		}
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: DisplaySettingsMessage{Type: "displaySettings", Settings: settings}}, nil
}

// loadSavedMenu replaces the live menu wholesale. The snapshot is read
// before the lock is taken.
func (c *loadSavedMenuCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	menu, err := d.store.LoadSnapshot(ctx, c.MenuID)
	if errors.Is(err, ErrNotFound) {
		logf(d.cfg, "WARN: %v", err)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}

	d.board.Replace(menu)
	logf(d.cfg, "MENU: Loaded saved menu %d", c.MenuID)

	return Result{Broadcast: true}, nil
}

func (c *deleteSavedMenuCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	err := d.store.DeleteSnapshot(ctx, c.MenuID)
	switch {
	case errors.Is(err, ErrNotFound):
		logf(d.cfg, "WARN: %v", err)
	case err != nil:
		return Result{}, err
	default:
		logf(d.cfg, "MENU: Deleted saved menu %d", c.MenuID)
	}

	list, err := d.savedMenus(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: list}, nil
}

func (c *getAllSavedMenusCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	list, err := d.savedMenus(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: list}, nil
}

func (c *createCatalogItemCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	if strings.TrimSpace(c.Name) == "" {
		return Result{}, nil
	}

	item, err := d.store.CreateCatalogItem(ctx, c.kind, CatalogItem{
		Name:        c.Name,
		Description: c.Description,
		ImageURL:    c.ImageURL,
	})
	if err != nil {
		return Result{}, err
	}
	logf(d.cfg, "MENU: Created %s %d (%s)", c.kind, item.ID, item.Name)

	list, err := d.catalog(ctx, c.kind)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: list}, nil
}

// updateCatalogItem also refreshes the copy joined into the live menu.
func (c *updateCatalogItemCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	id, ok := c.catalogID()
	if !ok || strings.TrimSpace(c.Name) == "" {
		return Result{}, nil
	}

	item, err := d.store.UpdateCatalogItem(ctx, c.kind, CatalogItem{
		ID:          id,
		Name:        c.Name,
		Description: c.Description,
		ImageURL:    c.ImageURL,
	})
	if errors.Is(err, ErrNotFound) {
		logf(d.cfg, "WARN: %v", err)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}

	changed := d.mutateIfLoaded(func(m *Menu) bool { return m.RefreshCatalogEntry(c.kind, item) })

	list, err := d.catalog(ctx, c.kind)
	if err != nil {
		return Result{Broadcast: changed}, err
	}
	return Result{Reply: list, Broadcast: changed}, nil
}

// deleteCatalogItem also drops the row from the live menu.
func (c *deleteCatalogItemCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	id, ok := c.catalogID()
	if !ok {
		return Result{}, nil
	}

	err := d.store.DeleteCatalogItem(ctx, c.kind, id)
	if errors.Is(err, ErrNotFound) {
		logf(d.cfg, "WARN: %v", err)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}

	changed := d.mutateIfLoaded(func(m *Menu) bool { return m.RemoveCatalogEntry(c.kind, id) })

	list, err := d.catalog(ctx, c.kind)
	if err != nil {
		return Result{Broadcast: changed}, err
	}
	return Result{Reply: list, Broadcast: changed}, nil
}

func (c *listCatalogCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	list, err := d.catalog(ctx, c.kind)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: list}, nil
}

func (c *createLogoCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	imageURL := d.files.Path(c.Filename)
	if imageURL == "" {
		return Result{}, nil
	}

	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = c.Filename
	}

	logo, err := d.store.CreateLogo(ctx, name, imageURL)
	if err != nil {
		return Result{}, err
	}
	logf(d.cfg, "MENU: Created logo %d (%s)", logo.ID, logo.ImageURL)

	list, err := d.logos(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: list}, nil
}

// deleteLogo unlinks the logo everywhere before the row and its file go.
func (c *deleteLogoCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	logo, err := d.store.DeleteLogo(ctx, c.LogoID)
	if errors.Is(err, ErrNotFound) {
		logf(d.cfg, "WARN: %v", err)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}

	changed := d.mutateIfLoaded(func(m *Menu) bool { return m.DetachLogo(logo.ID) })

	if err := d.files.Remove(logo.ImageURL); err != nil {
		errorf("removing logo file %s: %v", logo.ImageURL, err)
	}
	logf(d.cfg, "MENU: Deleted logo %d", logo.ID)

	list, err := d.logos(ctx)
	if err != nil {
		return Result{Broadcast: changed}, fmt.Errorf("logo %d deleted: %w", logo.ID, err)
	}
	return Result{Reply: list, Broadcast: changed}, nil
}

func (c *getAllLogosCmd) run(ctx context.Context, d *Dispatcher) (Result, error) {
	list, err := d.logos(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: list}, nil
}
