// Package board provides reference layout definitions and the read-only layout store.
package board

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"pcb-inspect/pkg/colorutil"
	"pcb-inspect/pkg/geometry"
)

// Side selects which face of the board a component list belongs to.
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// ParseSide accepts "front"/"back" (case-insensitive); empty means front.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "front":
		return SideFront, nil
	case "back":
		return SideBack, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// HSVRange defines a color range in HSV space for detection.
type HSVRange struct {
	HueMin float64 `json:"hue_min" yaml:"hue_min" mapstructure:"hue_min"` // 0-180 (OpenCV convention)
	HueMax float64 `json:"hue_max" yaml:"hue_max" mapstructure:"hue_max"` // 0-180
	SatMin float64 `json:"sat_min" yaml:"sat_min" mapstructure:"sat_min"` // 0-255
	SatMax float64 `json:"sat_max" yaml:"sat_max" mapstructure:"sat_max"` // 0-255
	ValMin float64 `json:"val_min" yaml:"val_min" mapstructure:"val_min"` // 0-255
	ValMax float64 `json:"val_max" yaml:"val_max" mapstructure:"val_max"` // 0-255
}

// IsZero reports whether no bound has been set.
func (r HSVRange) IsZero() bool {
	return r == HSVRange{}
}

// Contains reports whether c falls inside the range.
func (r HSVRange) Contains(c color.Color) bool {
	h, s, v := colorutil.ColorToHSV(c)
	return h >= r.HueMin && h <= r.HueMax &&
		s >= r.SatMin && s <= r.SatMax &&
		v >= r.ValMin && v <= r.ValMax
}

// GreenSubstrate returns the HSV range for typical green solder mask.
func GreenSubstrate() HSVRange {
	return HSVRange{
		HueMin: 35,
		HueMax: 85,
		SatMin: 40,
		SatMax: 255,
		ValMin: 40,
		ValMax: 255,
	}
}

// ReferenceComponent is one expected part on a known-good board.
type ReferenceComponent struct {
	ClassName string           `json:"class_name" yaml:"class_name"`
	BBox      geometry.BBox    `json:"bbox" yaml:"bbox"`
	Center    geometry.Point2D `json:"center" yaml:"center"`
}

// HoleDistances is the shape signature of the four mounting holes.
type HoleDistances struct {
	Width    float64 `json:"width"`    // TL-TR
	Height   float64 `json:"height"`   // TL-BL
	Diagonal float64 `json:"diagonal"` // TL-BR
}

// Hole indices within ReferenceLayout.MountingHoles.
const (
	TopLeft = iota
	TopRight
	BottomRight
	BottomLeft
)

// ReferenceLayout is the expected geometry of one product. Layouts are built
// offline and treated as immutable once loaded.
type ReferenceLayout struct {
	ProductCode    string               `json:"product_code" yaml:"product_code"`
	Description    string               `json:"description,omitempty" yaml:"description,omitempty"`
	MountingHoles  [4]geometry.Point2D  `json:"mounting_holes" yaml:"mounting_holes"`
	BoardCorners   *[4]geometry.Point2D `json:"board_corners,omitempty" yaml:"board_corners,omitempty"`
	CanonicalSize  geometry.Size        `json:"canonical_size" yaml:"canonical_size"`
	Components     []ReferenceComponent `json:"components" yaml:"components"`
	BackComponents []ReferenceComponent `json:"back_components,omitempty" yaml:"back_components,omitempty"`
	Substrate      HSVRange             `json:"substrate,omitempty" yaml:"substrate,omitempty"`
	Anchor         *AnchorSpec          `json:"anchor,omitempty" yaml:"anchor,omitempty"`

	// SourceDir is the directory the layout was loaded from.
	SourceDir string `json:"-" yaml:"-"`
}

// AnchorSpec describes a single fiducial used for translation-only alignment.
type AnchorSpec struct {
	Template string           `json:"template" yaml:"template"` // image path, relative to the layout file
	Point    geometry.Point2D `json:"point" yaml:"point"`       // template center in canonical coordinates
}

// TemplatePath resolves the anchor template path.
func (l *ReferenceLayout) TemplatePath() string {
	if l.Anchor == nil || l.Anchor.Template == "" {
		return ""
	}
	if filepath.IsAbs(l.Anchor.Template) {
		return l.Anchor.Template
	}
	return filepath.Join(l.SourceDir, l.Anchor.Template)
}

// RelativeComponents returns the side's components re-expressed relative to
// origin, matching detections rebased on a template anchor.
func (l *ReferenceLayout) RelativeComponents(side Side, origin geometry.Point2D) []ReferenceComponent {
	src := l.ComponentsFor(side)
	out := make([]ReferenceComponent, len(src))
	for i, c := range src {
		c.BBox = c.BBox.Translate(origin)
		c.Center = c.Center.Sub(origin)
		out[i] = c
	}
	return out
}

// HoleDistances derives the TL-TR, TL-BL and TL-BR distances.
func (l *ReferenceLayout) HoleDistances() HoleDistances {
	return ComputeHoleDistances(l.MountingHoles)
}

// ComputeHoleDistances derives hole distances for any TL,TR,BR,BL ordered set.
func ComputeHoleDistances(pts [4]geometry.Point2D) HoleDistances {
	return HoleDistances{
		Width:    pts[TopLeft].Distance(pts[TopRight]),
		Height:   pts[TopLeft].Distance(pts[BottomLeft]),
		Diagonal: pts[TopLeft].Distance(pts[BottomRight]),
	}
}

// Outline returns the board corners TL, TR, BR, BL in canonical coordinates.
// Without explicit board_corners the board fills the canonical frame.
func (l *ReferenceLayout) Outline() [4]geometry.Point2D {
	if l.BoardCorners != nil {
		return *l.BoardCorners
	}
	w, h := l.CanonicalSize.Width, l.CanonicalSize.Height
	return [4]geometry.Point2D{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
}

// ComponentsFor returns the component list for a side.
func (l *ReferenceLayout) ComponentsFor(side Side) []ReferenceComponent {
	if side == SideBack {
		return l.BackComponents
	}
	return l.Components
}

// HasSide reports whether the layout defines components for the side.
func (l *ReferenceLayout) HasSide(side Side) bool {
	return side == SideFront || len(l.BackComponents) > 0
}

// SubstrateRange returns the configured substrate color, or green solder mask.
func (l *ReferenceLayout) SubstrateRange() HSVRange {
	if l.Substrate.IsZero() {
		return GreenSubstrate()
	}
	return l.Substrate
}

// Validate checks the layout is usable for alignment and verification.
func (l *ReferenceLayout) Validate() error {
	if strings.TrimSpace(l.ProductCode) == "" {
		return fmt.Errorf("product code is required")
	}
	if l.CanonicalSize.Width <= 0 || l.CanonicalSize.Height <= 0 {
		return fmt.Errorf("canonical size must be positive")
	}
	for i, h := range l.MountingHoles {
		if !h.IsFinite() {
			return fmt.Errorf("mounting hole %d is not finite", i)
		}
	}
	d := l.HoleDistances()
	if d.Width <= 0 || d.Height <= 0 || d.Diagonal <= 0 {
		return fmt.Errorf("mounting holes must be 4 distinct points")
	}
	if l.BoardCorners != nil {
		for i, c := range l.BoardCorners {
			if !c.IsFinite() {
				return fmt.Errorf("board corner %d is not finite", i)
			}
		}
		if d := ComputeHoleDistances(*l.BoardCorners); d.Width <= 0 || d.Height <= 0 || d.Diagonal <= 0 {
			return fmt.Errorf("board corners must be 4 distinct points")
		}
	}
	if r := l.Substrate; !r.IsZero() && (r.HueMin > r.HueMax || r.SatMin > r.SatMax || r.ValMin > r.ValMax) {
		return fmt.Errorf("substrate range has min above max")
	}
	if err := validateComponents(l.Components); err != nil {
		return fmt.Errorf("components: %w", err)
	}
	if err := validateComponents(l.BackComponents); err != nil {
		return fmt.Errorf("back components: %w", err)
	}
	return nil
}

func validateComponents(comps []ReferenceComponent) error {
	for i, c := range comps {
		if strings.TrimSpace(c.ClassName) == "" {
			return fmt.Errorf("component %d: class name is required", i)
		}
		if !c.BBox.Valid() {
			return fmt.Errorf("component %d (%s): invalid bbox", i, c.ClassName)
		}
	}
	return nil
}

// normalize fills derived fields. Called once at load time.
func (l *ReferenceLayout) normalize() {
	l.ProductCode = NormalizeCode(l.ProductCode)
	fill := func(comps []ReferenceComponent) {
		for i := range comps {
			if comps[i].Center == (geometry.Point2D{}) {
				comps[i].Center = comps[i].BBox.Center()
			}
		}
	}
	fill(l.Components)
	fill(l.BackComponents)
}

// NormalizeCode upper-cases and trims a product code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ParseLayout decodes a layout. JSON is used when format is "json", YAML otherwise.
func ParseLayout(data []byte, format string) (*ReferenceLayout, error) {
	unmarshal := yaml.Unmarshal
	if format == "json" {
		unmarshal = json.Unmarshal
	}

	// holes are counted separately so a short list is reported, not zero-filled
	var holes struct {
		MountingHoles []geometry.Point2D `json:"mounting_holes" yaml:"mounting_holes"`
	}
	if err := unmarshal(data, &holes); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	if len(holes.MountingHoles) != 4 {
		return nil, fmt.Errorf("invalid layout: need exactly 4 mounting holes, got %d", len(holes.MountingHoles))
	}

	var layout ReferenceLayout
	if err := unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}

	layout.normalize()
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout %q: %w", layout.ProductCode, err)
	}
	return &layout, nil
}

// LoadFromFile loads a layout from a .yaml, .yml or .json file.
func LoadFromFile(path string) (*ReferenceLayout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	layout, err := ParseLayout(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	layout.SourceDir = filepath.Dir(path)
	return layout, nil
}

// SaveToFile writes the layout as YAML, or JSON for a .json path.
func (l *ReferenceLayout) SaveToFile(path string) error {
	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(l, "", "  ")
	} else {
		data, err = yaml.Marshal(l)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
