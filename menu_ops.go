/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"
)

// Every operation in this file either applies completely and reports true,
// or reports false and leaves the menu untouched.

const (
	sizeSmall  = "small"
	sizeMedium = "medium"
	sizeLarge  = "large"

	defaultLogoPosition = "top-center"
	defaultLogoSize     = 100
	minLogoSize         = 16
	maxLogoSize         = 512
)

var (
	hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

	displaySizes  = []string{sizeSmall, sizeMedium, sizeLarge}
	logoPositions = []string{
		"top-left", "top-center", "top-right",
		"bottom-left", "bottom-center", "bottom-right",
	}
)

// optionalID distinguishes an absent JSON field (Set == false) from an
// explicit null (Set == true, ID == nil).
type optionalID struct {
	Set bool
	ID  *int64
}

func (o *optionalID) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.ID = nil
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	o.ID = &id
	return nil
}

type SectionOrder struct {
	ID       int64 `json:"id"`
	Position int   `json:"position"`
}

type ItemPosition struct {
	ItemID    int64      `json:"itemId"`
	Position  int        `json:"position"`
	SectionID optionalID `json:"sectionId"`
}

func sameScope(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func validColor(c string) bool {
	return hexColor.MatchString(c)
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0)
}

// itemInput checks the loosely typed name and price of an item the way a
// client sends them: name must be a non-empty string, price a number.
func itemInput(name, price any) (string, float64, bool) {
	n, ok := name.(string)
	if !ok || strings.TrimSpace(n) == "" {
		return "", 0, false
	}
	p, ok := price.(float64)
	if !ok || !validPrice(p) {
		return "", 0, false
	}
	return n, p, true
}

func (m *Menu) sectionExists(id *int64) bool {
	return id == nil || m.sectionIndex(*id) >= 0
}

// nextPosition is one past the highest position in the scope, or 0 when
// the scope is empty.
func (m *Menu) nextPosition(sectionID *int64) int {
	next := 0
	for _, it := range m.Items {
		if sameScope(it.SectionID, sectionID) && it.Position+1 > next {
			next = it.Position + 1
		}
	}
	return next
}

func (m *Menu) AddItem(name string, price float64, sectionID *int64) bool {
	if strings.TrimSpace(name) == "" || !validPrice(price) {
		return false
	}
	if !m.sectionExists(sectionID) {
		return false
	}

	m.Items = append(m.Items, MenuItem{
		ID:        m.allocID(),
		Name:      name,
		Price:     price,
		Position:  m.nextPosition(sectionID),
		SectionID: cloneInt64(sectionID),
	})
	return true
}

func (m *Menu) UpdateItem(id int64, name *string, price *float64) bool {
	i := m.itemIndex(id)
	if i < 0 || (name == nil && price == nil) {
		return false
	}
	if name != nil && strings.TrimSpace(*name) == "" {
		return false
	}
	if price != nil && !validPrice(*price) {
		return false
	}

	if name != nil {
		m.Items[i].Name = *name
	}
	if price != nil {
		m.Items[i].Price = *price
	}
	return true
}

func (m *Menu) RemoveItem(id int64) bool {
	i := m.itemIndex(id)
	if i < 0 {
		return false
	}
	m.Items = slices.Delete(m.Items, i, i+1)
	return true
}

func (m *Menu) HasCatalogEntry(kind CatalogKind, id int64) bool {
	entries := m.entries(kind)
	if entries == nil {
		return false
	}
	return slices.ContainsFunc(*entries, func(e CatalogEntry) bool { return e.CatalogID == id })
}

func (m *Menu) AddCatalogEntry(kind CatalogKind, item CatalogItem) bool {
	entries := m.entries(kind)
	if entries == nil || m.HasCatalogEntry(kind, item.ID) {
		return false
	}
	*entries = append(*entries, CatalogEntry{CatalogID: item.ID, Item: item})
	return true
}

func (m *Menu) RemoveCatalogEntry(kind CatalogKind, id int64) bool {
	entries := m.entries(kind)
	if entries == nil {
		return false
	}
	i := slices.IndexFunc(*entries, func(e CatalogEntry) bool { return e.CatalogID == id })
	if i < 0 {
		return false
	}
	*entries = slices.Delete(*entries, i, i+1)
	return true
}

// RefreshCatalogEntry replaces the joined copy of a catalog row after the
// row itself was edited.
func (m *Menu) RefreshCatalogEntry(kind CatalogKind, item CatalogItem) bool {
	entries := m.entries(kind)
	if entries == nil {
		return false
	}
	i := slices.IndexFunc(*entries, func(e CatalogEntry) bool { return e.CatalogID == item.ID })
	if i < 0 {
		return false
	}
	(*entries)[i].Item = item
	return true
}

func (m *Menu) UpdateItemImage(id int64, url string) bool {
	i := m.itemIndex(id)
	if i < 0 {
		return false
	}
	if url == "" {
		m.Items[i].ImageURL = nil
	} else {
		m.Items[i].ImageURL = &url
	}
	return true
}

func (m *Menu) ToggleItemShowImage(id int64, show bool) bool {
	i := m.itemIndex(id)
	if i < 0 {
		return false
	}
	m.Items[i].ShowImage = show
	return true
}

func (m *Menu) AddImageToItem(id int64, url string) bool {
	i := m.itemIndex(id)
	if i < 0 || url == "" {
		return false
	}
	if !slices.Contains(m.AvailableImages, url) {
		m.AvailableImages = append(m.AvailableImages, url)
	}
	m.Items[i].ImageURL = &url
	return true
}

func (m *Menu) RemoveImageFromItem(id int64, url string) bool {
	i := m.itemIndex(id)
	if i < 0 || url == "" {
		return false
	}
	m.AvailableImages = slices.DeleteFunc(m.AvailableImages, func(s string) bool { return s == url })
	if m.Items[i].ImageURL != nil && *m.Items[i].ImageURL == url {
		m.Items[i].ImageURL = nil
	}
	return true
}

func (m *Menu) AddSection(name, header string) (MenuSection, bool) {
	if strings.TrimSpace(name) == "" {
		return MenuSection{}, false
	}

	position := 0
	for _, s := range m.Sections {
		if s.Position+1 > position {
			position = s.Position + 1
		}
	}

	section := MenuSection{
		ID:       m.allocID(),
		Name:     name,
		Header:   header,
		Position: position,
	}
	m.Sections = append(m.Sections, section)
	return section, true
}

func (m *Menu) UpdateSection(id int64, name, header, sectionType *string) bool {
	i := m.sectionIndex(id)
	if i < 0 || (name == nil && header == nil && sectionType == nil) {
		return false
	}
	if name != nil && strings.TrimSpace(*name) == "" {
		return false
	}

	if name != nil {
		m.Sections[i].Name = *name
	}
	if header != nil {
		m.Sections[i].Header = *header
	}
	if sectionType != nil {
		m.Sections[i].SectionType = *sectionType
	}
	return true
}

// RemoveSection moves the section's items onto the first remaining section,
// after that section's own items, or leaves them unsectioned when no section
// remains. Then the section is dropped.
func (m *Menu) RemoveSection(id int64) bool {
	idx := m.sectionIndex(id)
	if idx < 0 {
		return false
	}

	orphans := m.sectionItems(id)
	m.Sections = slices.Delete(m.Sections, idx, idx+1)

	var target *int64
	if len(m.Sections) > 0 {
		target = cloneInt64(&m.Sections[0].ID)
	}

	next := m.nextPosition(target)
	for _, orphan := range orphans {
		i := m.itemIndex(orphan.ID)
		m.Items[i].SectionID = cloneInt64(target)
		m.Items[i].Position = next
		next++
	}
	return true
}

// UpdateSectionOrder ignores unknown section ids.
func (m *Menu) UpdateSectionOrder(orders []SectionOrder) bool {
	applied := false
	for _, o := range orders {
		if i := m.sectionIndex(o.ID); i >= 0 {
			m.Sections[i].Position = o.Position
			applied = true
		}
	}
	if !applied {
		return false
	}
	sort.SliceStable(m.Sections, func(i, j int) bool {
		return m.Sections[i].Position < m.Sections[j].Position
	})
	return true
}

func (m *Menu) MoveItemToSection(itemID int64, target *int64, position *int) bool {
	i := m.itemIndex(itemID)
	if i < 0 || !m.sectionExists(target) {
		return false
	}

	m.Items[i].SectionID = cloneInt64(target)
	m.Items[i].Position = 0
	if position != nil {
		m.Items[i].Position = *position
	}
	return true
}

// UpdateItemPositions applies a bulk reorder. Unknown items are skipped; an
// unknown target section leaves that item's membership unchanged.
func (m *Menu) UpdateItemPositions(updates []ItemPosition) bool {
	applied := false
	for _, u := range updates {
		i := m.itemIndex(u.ItemID)
		if i < 0 {
			continue
		}
		m.Items[i].Position = u.Position
		if u.SectionID.Set && m.sectionExists(u.SectionID.ID) {
			m.Items[i].SectionID = cloneInt64(u.SectionID.ID)
		}
		applied = true
	}
	return applied
}

func (m *Menu) SetOrientation(value string) bool {
	switch o := Orientation(value); o {
	case OrientationVertical, OrientationHorizontal:
		m.Orientation = o
		return true
	}
	return false
}

func (m *Menu) UpdateSectionStyle(id int64, background, text *string) bool {
	i := m.sectionIndex(id)
	if i < 0 || (background == nil && text == nil) {
		return false
	}
	if background != nil && !validColor(*background) {
		return false
	}
	if text != nil && !validColor(*text) {
		return false
	}

	if background != nil {
		m.Sections[i].BackgroundColor = cloneString(background)
	}
	if text != nil {
		m.Sections[i].TextColor = cloneString(text)
	}
	return true
}

// ResetSectionStyle unsets both colors; renderers fall back to the
// section type's defaults.
func (m *Menu) ResetSectionStyle(id int64) bool {
	i := m.sectionIndex(id)
	if i < 0 {
		return false
	}
	m.Sections[i].BackgroundColor = nil
	m.Sections[i].TextColor = nil
	return true
}

func (m *Menu) UpdateBackground(bg Background) bool {
	switch bg.Type {
	case BackgroundColor:
		if !validColor(bg.Value) {
			return false
		}
	case BackgroundGradient, BackgroundImage:
		if strings.TrimSpace(bg.Value) == "" {
			return false
		}
	default:
		return false
	}
	m.Background = &bg
	return true
}

func (m *Menu) ResetBackground() bool {
	if m.Background == nil {
		return false
	}
	m.Background = nil
	return true
}

func (m *Menu) UpdateDisplaySettings(kind CatalogKind, settings DisplaySettings) bool {
	if !kind.valid() {
		return false
	}
	if !slices.Contains(displaySizes, settings.ImageSize) || !slices.Contains(displaySizes, settings.FontSize) {
		return false
	}
	if m.DisplaySettings == nil {
		m.DisplaySettings = defaultDisplaySettings()
	}
	m.DisplaySettings[kind] = settings
	return true
}

// ActivateLogo shows the given logo. Re-activating the current logo keeps
// its placement settings.
func (m *Menu) ActivateLogo(logo Logo) bool {
	if logo.ImageURL == "" {
		return false
	}
	if m.Logo != nil && m.Logo.ID == logo.ID {
		m.Logo.ImageURL = logo.ImageURL
		return true
	}
	m.Logo = &MenuLogo{
		ID:       logo.ID,
		ImageURL: logo.ImageURL,
		Position: defaultLogoPosition,
		Size:     defaultLogoSize,
		Opacity:  1,
	}
	return true
}

func (m *Menu) UpdateLogoSettings(position *string, size *int, opacity *float64) bool {
	if m.Logo == nil || (position == nil && size == nil && opacity == nil) {
		return false
	}
	if position != nil && !slices.Contains(logoPositions, *position) {
		return false
	}
	if size != nil && (*size < minLogoSize || *size > maxLogoSize) {
		return false
	}
	if opacity != nil && (math.IsNaN(*opacity) || *opacity < 0 || *opacity > 1) {
		return false
	}

	if position != nil {
		m.Logo.Position = *position
	}
	if size != nil {
		m.Logo.Size = *size
	}
	if opacity != nil {
		m.Logo.Opacity = *opacity
	}
	return true
}

func (m *Menu) RemoveLogo() bool {
	if m.Logo == nil {
		return false
	}
	m.Logo = nil
	return true
}

// DetachLogo drops the logo only if it is the one being deleted.
func (m *Menu) DetachLogo(id int64) bool {
	if m.Logo == nil || m.Logo.ID != id {
		return false
	}
	m.Logo = nil
	return true
}
