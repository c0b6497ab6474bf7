package main

import (
	"fmt"
	"strings"
)

type Category string

const (
	CategoryLighting  Category = "Освещение"
	CategoryRoads     Category = "Дороги/ямы"
	CategoryCrossings Category = "Переходы"
	CategoryTransport Category = "Транспорт"
	CategoryCourtyard Category = "Двор"
)

type Status string

const (
	StatusPending  Status = "на модерации"
	StatusAccepted Status = "принято"
	StatusResolved Status = "решено"
)

// categoryOrder is the display order used by filters, dashboards and exports.
var categoryOrder = []Category{
	CategoryLighting,
	CategoryRoads,
	CategoryCrossings,
	CategoryTransport,
	CategoryCourtyard,
}

var statusOrder = []Status{StatusPending, StatusAccepted, StatusResolved}

var categoryCodes = map[Category]string{
	CategoryLighting:  "lighting",
	CategoryRoads:     "roads",
	CategoryCrossings: "crossings",
	CategoryTransport: "transport",
	CategoryCourtyard: "courtyard",
}

var categoryColors = map[Category]string{
	CategoryLighting:  "#4CAF50",
	CategoryRoads:     "#F44336",
	CategoryTransport: "#2196F3",
	CategoryCrossings: "#FF9800",
	CategoryCourtyard: "#9C27B0",
}

var statusCodes = map[Status]string{
	StatusPending:  "pending",
	StatusAccepted: "accepted",
	StatusResolved: "resolved",
}

var statusColors = map[Status]string{
	StatusPending:  "#F59E0B",
	StatusAccepted: "#3B82F6",
	StatusResolved: "#10B981",
}

func (c Category) Valid() bool {
	_, ok := categoryCodes[c]
	return ok
}

func (c Category) Code() string { return categoryCodes[c] }

func (s Status) Valid() bool {
	_, ok := statusCodes[s]
	return ok
}

func (s Status) Code() string { return statusCodes[s] }

// ParseCategory accepts either the display label or the latin code.
func ParseCategory(raw string) (Category, error) {
	value := strings.TrimSpace(raw)
	for category, code := range categoryCodes {
		if value == string(category) || strings.EqualFold(value, code) {
			return category, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

// ParseStatus accepts either the display label or the latin code.
func ParseStatus(raw string) (Status, error) {
	value := strings.TrimSpace(raw)
	for status, code := range statusCodes {
		if value == string(status) || strings.EqualFold(value, code) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Coords is a [lat, lng] pair, serialized as a two element array.
type Coords [2]float64

func (c Coords) Lat() float64 { return c[0] }
func (c Coords) Lng() float64 { return c[1] }

type Bounds struct {
	SouthWest Coords `json:"southWest"`
	NorthEast Coords `json:"northEast"`
}

func (b Bounds) Clamp(c Coords) Coords {
	return Coords{
		clampFloat(c.Lat(), b.SouthWest.Lat(), b.NorthEast.Lat()),
		clampFloat(c.Lng(), b.SouthWest.Lng(), b.NorthEast.Lng()),
	}
}

func clampFloat(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

// Teplyi Stan district, where the map is restricted to.
var (
	districtCenter = Coords{55.626, 37.509}
	districtBounds = Bounds{
		SouthWest: Coords{55.602, 37.465},
		NorthEast: Coords{55.650, 37.555},
	}
)

type Report struct {
	ID          int64    `json:"id"`
	Coords      Coords   `json:"coords"`
	Category    Category `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Date        string   `json:"date"`
	Avatar      string   `json:"avatar"`
	Image       *string  `json:"image,omitempty"`
	Status      Status   `json:"status"`
}

// ReportDraft is the address form the resident fills in before submitting.
type ReportDraft struct {
	Address     string   `json:"address"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Image       *string  `json:"image,omitempty"`
	Typing      bool     `json:"typing"`
}

func newReportDraft() ReportDraft {
	return ReportDraft{Category: categoryOrder[0]}
}

type CategoryInfo struct {
	Name  Category `json:"name"`
	Code  string   `json:"code"`
	Color string   `json:"color"`
}

type StatusInfo struct {
	Name  Status `json:"name"`
	Code  string `json:"code"`
	Color string `json:"color"`
}

func categoryCatalog() []CategoryInfo {
	out := make([]CategoryInfo, 0, len(categoryOrder))
	for _, category := range categoryOrder {
		out = append(out, CategoryInfo{Name: category, Code: category.Code(), Color: categoryColors[category]})
	}
	return out
}

func statusCatalog() []StatusInfo {
	out := make([]StatusInfo, 0, len(statusOrder))
	for _, status := range statusOrder {
		out = append(out, StatusInfo{Name: status, Code: status.Code(), Color: statusColors[status]})
	}
	return out
}
