package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/earthlaws/terriajs/wps"
)

// ShortReport is one titled section of a catalog item's report panel.
type ShortReport struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Rectangle is a WGS84 extent in degrees, west/south/east/north.
type Rectangle struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Item is the map-displayable result of a finished execution, shaped
// so the browser catalog can take it verbatim.
type Item struct {
	Type         string          `json:"type"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	CreationTime string          `json:"creation_time"`
	ShortReports []ShortReport   `json:"short_report_sections"`
	GeoJSON      json.RawMessage `json:"data,omitempty"`
	Rectangle    *Rectangle      `json:"rectangle,omitempty"`

	// Failed marks items materialized from a failed execution. The
	// browser document does not carry it; job bookkeeping does.
	Failed bool `json:"-"`
}

const geoJSONItemType = "geojson"
const reportItemType = "report"

// NewItem materializes a catalog item from a terminal succeeded
// response. Literal outputs become report sections; the first GeoJSON
// complex output becomes the item's map data; the echoed inputs are
// kept so users can see what they asked for.
func NewItem(functionTitle string, resp *wps.ExecuteResponse, inputs []wps.Input) (*Item, error) {
	if resp.State() != wps.StateSucceeded {
		return nil, fmt.Errorf("cannot materialize an item from a %s execution", resp.State())
	}

	var created string
	if resp.Status != nil {
		created = strings.TrimSpace(resp.Status.CreationTime)
	}
	if len(created) == 0 {
		created = time.Now().UTC().Format(wps.ISOFormat)
	}

	item := &Item{
		Type:         reportItemType,
		Name:         fmt.Sprintf("%s %s", functionTitle, created),
		CreationTime: created,
	}

	if len(inputs) > 0 {
		var lines []string
		for _, input := range inputs {
			val := input.LiteralData
			if input.BoundingBox != nil {
				val = fmt.Sprintf("%s %s (%s)", input.BoundingBox.LowerCorner(), input.BoundingBox.UpperCorner(), input.BoundingBox.CRS)
			} else if len(input.ComplexData) > 0 {
				val = input.ComplexData
			}
			lines = append(lines, fmt.Sprintf("%s: %s", input.Identifier, val))
		}
		item.ShortReports = append(item.ShortReports, ShortReport{Name: "Inputs", Content: strings.Join(lines, "\n")})
	}

	for _, output := range resp.Outputs {
		if output.Data == nil {
			continue
		}

		name := output.Title
		if len(name) == 0 {
			name = output.Identifier
		}

		if len(output.Data.LiteralData) > 0 {
			item.ShortReports = append(item.ShortReports, ShortReport{Name: name, Content: output.Data.LiteralData})
			continue
		}

		if output.Data.ComplexData == nil {
			continue
		}

		payload := strings.TrimSpace(output.Data.ComplexData.Value)
		mime := strings.ToLower(output.Data.ComplexData.MimeType)
		if strings.Contains(mime, "geo+json") && item.GeoJSON == nil {
			if !json.Valid([]byte(payload)) {
				return nil, fmt.Errorf("%v: output '%s' is not valid GeoJSON", wps.ErrInvalidServer, output.Identifier)
			}
			item.Type = geoJSONItemType
			item.GeoJSON = json.RawMessage(payload)
			if rect, err := geoJSONRectangle([]byte(payload)); err == nil {
				item.Rectangle = rect
			}
			continue
		}

		item.ShortReports = append(item.ShortReports, ShortReport{Name: name, Content: payload})
	}

	return item, nil
}

// FailedItem wraps a terminal failure so the browser still gets a
// report section explaining what happened.
func FailedItem(functionTitle string, resp *wps.ExecuteResponse) *Item {
	created := time.Now().UTC().Format(wps.ISOFormat)
	if resp.Status != nil && len(resp.Status.CreationTime) > 0 {
		created = resp.Status.CreationTime
	}
	return &Item{
		Type:         reportItemType,
		Name:         fmt.Sprintf("%s %s", functionTitle, created),
		CreationTime: created,
		ShortReports: []ShortReport{{Name: "Error Details", Content: resp.FailureMessage()}},
		Failed:       true,
	}
}

// geoJSONRectangle walks the raw document for coordinate arrays and
// accumulates their extent. The document structure is not assumed
// beyond GeoJSON's coordinates convention, so bare geometries,
// features and feature collections all work.
func geoJSONRectangle(doc []byte) (*Rectangle, error) {
	var parsed interface{}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, err
	}

	rect := &Rectangle{West: 180, South: 90, East: -180, North: -90}
	found := false

	var walk func(node interface{})
	var extend func(coords interface{})

	extend = func(coords interface{}) {
		arr, ok := coords.([]interface{})
		if !ok || len(arr) == 0 {
			return
		}
		if x, xOk := arr[0].(float64); xOk {
			if len(arr) < 2 {
				return
			}
			y, yOk := arr[1].(float64)
			if !yOk {
				return
			}
			if x < rect.West {
				rect.West = x
			}
			if x > rect.East {
				rect.East = x
			}
			if y < rect.South {
				rect.South = y
			}
			if y > rect.North {
				rect.North = y
			}
			found = true
			return
		}
		for _, sub := range arr {
			extend(sub)
		}
	}

	walk = func(node interface{}) {
		obj, ok := node.(map[string]interface{})
		if !ok {
			if arr, isArr := node.([]interface{}); isArr {
				for _, sub := range arr {
					walk(sub)
				}
			}
			return
		}
		if coords, hasCoords := obj["coordinates"]; hasCoords {
			extend(coords)
		}
		for _, key := range []string{"geometry", "geometries", "features"} {
			if sub, hasSub := obj[key]; hasSub {
				walk(sub)
			}
		}
	}
	walk(parsed)

	if !found {
		return nil, fmt.Errorf("no coordinates found in GeoJSON document")
	}
	return rect, nil
}
