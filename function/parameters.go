package function

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	geo "github.com/nci/geometry"

	"github.com/earthlaws/terriajs/wps"
)

// Parameter is one UI-level function parameter, bound to a value and
// able to serialize itself into a WPS Execute input.
type Parameter interface {
	ID() string
	Kind() string
	// WireInput produces the DataInputs entry for the Execute
	// request.
	WireInput() (wps.Input, error)
}

// parameterInfo carries the fields shared by every variant.
type parameterInfo struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Abstract   string `json:"abstract"`
	Optional   bool   `json:"optional"`
}

func (p *parameterInfo) ID() string { return p.Identifier }

// ParameterDoc renders one parameter as the JSON document served by
// DescribeFunction. The kind discriminator is folded in so the browser
// knows which editor to present.
func ParameterDoc(p Parameter) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["kind"] = p.Kind()

	return json.Marshal(fields)
}

const geoJSONMimeType = "application/vnd.geo+json"

func geometryInput(identifier string, geomType string, coordinates interface{}) (wps.Input, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":        geomType,
		"coordinates": coordinates,
	})
	if err != nil {
		return wps.Input{}, fmt.Errorf("error serialising %s geometry: %v", geomType, err)
	}
	return wps.Input{Identifier: identifier, ComplexData: string(payload), MimeType: geoJSONMimeType}, nil
}

// PointParameter holds a single lon/lat position.
type PointParameter struct {
	parameterInfo
	Coordinates []float64 `json:"coordinates"`
}

func (p *PointParameter) Kind() string { return "point" }

func (p *PointParameter) WireInput() (wps.Input, error) {
	if len(p.Coordinates) < 2 {
		return wps.Input{}, fmt.Errorf("point parameter '%s' needs two coordinates", p.Identifier)
	}
	return geometryInput(p.Identifier, "Point", p.Coordinates)
}

// LineParameter holds an ordered list of positions.
type LineParameter struct {
	parameterInfo
	Coordinates [][]float64 `json:"coordinates"`
}

func (p *LineParameter) Kind() string { return "line" }

func (p *LineParameter) WireInput() (wps.Input, error) {
	if len(p.Coordinates) < 2 {
		return wps.Input{}, fmt.Errorf("line parameter '%s' needs at least two positions", p.Identifier)
	}
	return geometryInput(p.Identifier, "LineString", p.Coordinates)
}

// PolygonParameter holds one or more linear rings. The first ring is
// the outer boundary; rings are expected to be closed by the caller.
type PolygonParameter struct {
	parameterInfo
	Coordinates [][][]float64 `json:"coordinates"`
}

func (p *PolygonParameter) Kind() string { return "polygon" }

func (p *PolygonParameter) WireInput() (wps.Input, error) {
	if len(p.Coordinates) == 0 || len(p.Coordinates[0]) < 4 {
		return wps.Input{}, fmt.Errorf("polygon parameter '%s' needs a closed outer ring", p.Identifier)
	}
	return geometryInput(p.Identifier, "Polygon", p.Coordinates)
}

// RectangleParameter holds a geographic extent serialized as
// BoundingBoxData.
type RectangleParameter struct {
	parameterInfo
	CRS  string  `json:"crs"`
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

func (p *RectangleParameter) Kind() string { return "rectangle" }

func (p *RectangleParameter) WireInput() (wps.Input, error) {
	if p.MinX > p.MaxX || p.MinY > p.MaxY {
		return wps.Input{}, fmt.Errorf("rectangle parameter '%s' has an inverted extent", p.Identifier)
	}
	crs := p.CRS
	if len(crs) == 0 {
		crs = "EPSG:4326"
	}
	return wps.Input{
		Identifier:  p.Identifier,
		BoundingBox: &wps.BoundingBox{CRS: crs, MinX: p.MinX, MinY: p.MinY, MaxX: p.MaxX, MaxY: p.MaxY},
	}, nil
}

// DateTimeParameter serializes into the timestamp ComplexData JSON the
// OWS servers expect:
// {"properties": {"timestamp": {"date-time": "..."}}}
type DateTimeParameter struct {
	parameterInfo
	Value time.Time `json:"value"`
}

func (p *DateTimeParameter) Kind() string { return "dateTime" }

func (p *DateTimeParameter) WireInput() (wps.Input, error) {
	if p.Value.IsZero() {
		return wps.Input{}, fmt.Errorf("dateTime parameter '%s' has no value", p.Identifier)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timestamp": map[string]interface{}{
				"type":      "string",
				"format":    "date-time",
				"date-time": p.Value.UTC().Format(wps.ISOFormat),
			},
		},
	})
	if err != nil {
		return wps.Input{}, err
	}

	return wps.Input{Identifier: p.Identifier, ComplexData: string(payload), MimeType: "application/json"}, nil
}

// EnumerationParameter restricts a literal value to the allowed list
// advertised by the process description.
type EnumerationParameter struct {
	parameterInfo
	AllowedValues []string `json:"allowed_values"`
	Value         string   `json:"value"`
}

func (p *EnumerationParameter) Kind() string { return "enumeration" }

func (p *EnumerationParameter) WireInput() (wps.Input, error) {
	val := strings.TrimSpace(p.Value)
	for _, allowed := range p.AllowedValues {
		if val == allowed {
			return wps.Input{Identifier: p.Identifier, LiteralData: val}, nil
		}
	}
	return wps.Input{}, fmt.Errorf("'%s' is not an allowed value for parameter '%s'", p.Value, p.Identifier)
}

// StringParameter passes a free-form literal through.
type StringParameter struct {
	parameterInfo
	Value string `json:"value"`
}

func (p *StringParameter) Kind() string { return "string" }

func (p *StringParameter) WireInput() (wps.Input, error) {
	return wps.Input{Identifier: p.Identifier, LiteralData: p.Value}, nil
}

// GeoJSONParameter carries a region selection as a full GeoJSON
// feature collection. The first feature's geometry is what goes on
// the wire.
type GeoJSONParameter struct {
	parameterInfo
	FeatureCollection geo.FeatureCollection `json:"feature_collection"`
}

func (p *GeoJSONParameter) Kind() string { return "geojson" }

func (p *GeoJSONParameter) WireInput() (wps.Input, error) {
	if len(p.FeatureCollection.Features) == 0 {
		return wps.Input{}, fmt.Errorf("geojson parameter '%s' has no features", p.Identifier)
	}

	feat, err := json.Marshal(&geo.Feature{Type: "Feature", Geometry: p.FeatureCollection.Features[0].Geometry})
	if err != nil {
		return wps.Input{}, fmt.Errorf("error serialising feature for parameter '%s': %v", p.Identifier, err)
	}

	return wps.Input{Identifier: p.Identifier, ComplexData: string(feat), MimeType: geoJSONMimeType}, nil
}
