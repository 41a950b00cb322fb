/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"slices"
	"sort"
)

type Orientation string

const (
	OrientationVertical   Orientation = "vertical"
	OrientationHorizontal Orientation = "horizontal"
)

// CatalogKind names one of the reusable catalogs a menu can reference.
// The value doubles as the document field name and the display settings key.
type CatalogKind string

const (
	PastaTypes  CatalogKind = "pastaTypes"
	PastaSauces CatalogKind = "pastaSauces"
)

var catalogKinds = []CatalogKind{PastaTypes, PastaSauces}

func (k CatalogKind) valid() bool {
	return slices.Contains(catalogKinds, k)
}

type BackgroundKind string

const (
	BackgroundColor    BackgroundKind = "color"
	BackgroundGradient BackgroundKind = "gradient"
	BackgroundImage    BackgroundKind = "image"
)

// CatalogItem is a row of a reusable catalog, owned by the store.
type CatalogItem struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ImageURL    *string `json:"imageUrl"`
}

// CatalogEntry joins a catalog row into the menu.
type CatalogEntry struct {
	CatalogID int64       `json:"catalogId"`
	Item      CatalogItem `json:"item"`
}

type MenuItem struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Position  int     `json:"position"`
	SectionID *int64  `json:"sectionId"`
	ImageURL  *string `json:"imageUrl"`
	ShowImage bool    `json:"showImage"`
}

type MenuSection struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Header          string  `json:"header"`
	Position        int     `json:"position"`
	BackgroundColor *string `json:"backgroundColor"`
	TextColor       *string `json:"textColor"`
	SectionType     string  `json:"sectionType"`
}

type MenuLogo struct {
	ID       int64   `json:"id"`
	ImageURL string  `json:"imageUrl"`
	Position string  `json:"position"`
	Size     int     `json:"size"`
	Opacity  float64 `json:"opacity"`
}

type Background struct {
	Type  BackgroundKind `json:"type"`
	Value string         `json:"value"`
}

type DisplaySettings struct {
	ShowImage       bool   `json:"showImage"`
	ImageSize       string `json:"imageSize"`
	ShowDescription bool   `json:"showDescription"`
	FontSize        string `json:"fontSize"`
}

// Menu is the live, editable menu document. It carries no locking of its
// own; Board serializes access to it.
type Menu struct {
	Items           []MenuItem
	Sections        []MenuSection
	PastaTypes      []CatalogEntry
	PastaSauces     []CatalogEntry
	Orientation     Orientation
	AvailableImages []string
	Logo            *MenuLogo
	Background      *Background
	DisplaySettings map[CatalogKind]DisplaySettings

	lastID int64
}

func defaultDisplaySettings() map[CatalogKind]DisplaySettings {
	settings := make(map[CatalogKind]DisplaySettings, len(catalogKinds))
	for _, kind := range catalogKinds {
		settings[kind] = DisplaySettings{
			ShowImage:       false,
			ImageSize:       sizeMedium,
			ShowDescription: true,
			FontSize:        sizeMedium,
		}
	}
	return settings
}

// NewMenu returns an empty draft.
func NewMenu() *Menu {
	return &Menu{
		Items:           []MenuItem{},
		Sections:        []MenuSection{},
		PastaTypes:      []CatalogEntry{},
		PastaSauces:     []CatalogEntry{},
		Orientation:     OrientationVertical,
		AvailableImages: []string{},
		DisplaySettings: defaultDisplaySettings(),
	}
}

// reindex resets the id allocator past every id already in use, so ids
// restored from a snapshot are never handed out twice.
func (m *Menu) reindex() {
	m.lastID = 0
	for _, it := range m.Items {
		m.lastID = max(m.lastID, it.ID)
	}
	for _, s := range m.Sections {
		m.lastID = max(m.lastID, s.ID)
	}
}

func (m *Menu) allocID() int64 {
	m.lastID++
	return m.lastID
}

func (m *Menu) entries(kind CatalogKind) *[]CatalogEntry {
	switch kind {
	case PastaTypes:
		return &m.PastaTypes
	case PastaSauces:
		return &m.PastaSauces
	}
	return nil
}

func (m *Menu) itemIndex(id int64) int {
	return slices.IndexFunc(m.Items, func(it MenuItem) bool { return it.ID == id })
}

func (m *Menu) sectionIndex(id int64) int {
	return slices.IndexFunc(m.Sections, func(s MenuSection) bool { return s.ID == id })
}

// sectionItems is the computed projection of the items belonging to a
// section, ordered by position with insertion order breaking ties.
func (m *Menu) sectionItems(sectionID int64) []MenuItem {
	items := []MenuItem{}
	for _, it := range m.Items {
		if it.SectionID != nil && *it.SectionID == sectionID {
			items = append(items, it)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Position < items[j].Position
	})
	return items
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone returns a deep copy that shares no memory with m.
func (m *Menu) Clone() *Menu {
	c := &Menu{
		Items:           make([]MenuItem, len(m.Items)),
		Sections:        make([]MenuSection, len(m.Sections)),
		PastaTypes:      make([]CatalogEntry, len(m.PastaTypes)),
		PastaSauces:     make([]CatalogEntry, len(m.PastaSauces)),
		Orientation:     m.Orientation,
		AvailableImages: slices.Clone(m.AvailableImages),
		DisplaySettings: make(map[CatalogKind]DisplaySettings, len(m.DisplaySettings)),
		lastID:          m.lastID,
	}
	if c.AvailableImages == nil {
		c.AvailableImages = []string{}
	}

	for i, it := range m.Items {
		it.SectionID = cloneInt64(it.SectionID)
		it.ImageURL = cloneString(it.ImageURL)
		c.Items[i] = it
	}
	for i, s := range m.Sections {
		s.BackgroundColor = cloneString(s.BackgroundColor)
		s.TextColor = cloneString(s.TextColor)
		c.Sections[i] = s
	}
	for i, e := range m.PastaTypes {
		e.Item.ImageURL = cloneString(e.Item.ImageURL)
		c.PastaTypes[i] = e
	}
	for i, e := range m.PastaSauces {
		e.Item.ImageURL = cloneString(e.Item.ImageURL)
		c.PastaSauces[i] = e
	}
	for k, v := range m.DisplaySettings {
		c.DisplaySettings[k] = v
	}
	if m.Logo != nil {
		logo := *m.Logo
		c.Logo = &logo
	}
	if m.Background != nil {
		bg := *m.Background
		c.Background = &bg
	}

	return c
}

type sectionView struct {
	MenuSection
	Items []MenuItem `json:"items"`
}

type menuView struct {
	Items                 []MenuItem                      `json:"items"`
	Sections              []sectionView                   `json:"sections"`
	PastaTypes            []CatalogEntry                  `json:"pastaTypes"`
	PastaSauces           []CatalogEntry                  `json:"pastaSauces"`
	Orientation           Orientation                     `json:"orientation"`
	AvailableImages       []string                        `json:"availableImages"`
	Logo                  *MenuLogo                       `json:"logo"`
	Background            *Background                     `json:"background"`
	GlobalDisplaySettings map[CatalogKind]DisplaySettings `json:"globalDisplaySettings"`
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (m *Menu) view() menuView {
	sections := make([]sectionView, 0, len(m.Sections))
	for _, s := range m.Sections {
		sections = append(sections, sectionView{
			MenuSection: s,
			Items:       m.sectionItems(s.ID),
		})
	}

	return menuView{
		Items:                 orEmpty(m.Items),
		Sections:              sections,
		PastaTypes:            orEmpty(m.PastaTypes),
		PastaSauces:           orEmpty(m.PastaSauces),
		Orientation:           m.Orientation,
		AvailableImages:       orEmpty(m.AvailableImages),
		Logo:                  m.Logo,
		Background:            m.Background,
		GlobalDisplaySettings: m.DisplaySettings,
	}
}

// MarshalJSON encodes the document in its wire form, with each section
// carrying the items currently assigned to it.
func (m *Menu) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.view())
}
