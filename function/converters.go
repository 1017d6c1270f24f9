package function

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/earthlaws/terriajs/wps"
)

// Converter owns the bidirectional mapping between one WPS input
// schema and one parameter variant: deriving a typed parameter from a
// process description and binding a client-supplied value onto it.
// Serialization back onto the wire lives on the parameter itself.
type Converter interface {
	ID() string
	CanConvert(inp *wps.InputDescription) bool
	Derive(inp *wps.InputDescription) (Parameter, error)
	Bind(param Parameter, value json.RawMessage) error
}

// Converters is the ordered registry consulted during parameter
// derivation. Order matters: the first converter claiming an input
// wins, so the specific geometry schemas are listed before the
// generic GeoJSON one.
var Converters = []Converter{
	&literalConverter{},
	&dateTimeConverter{},
	&pointConverter{},
	&lineConverter{},
	&polygonConverter{},
	&geoJSONConverter{},
	&rectangleConverter{},
}

// FindConverter returns the first registered converter claiming the
// input, or nil when the input schema is unsupported.
func FindConverter(inp *wps.InputDescription) Converter {
	for _, conv := range Converters {
		if conv.CanConvert(inp) {
			return conv
		}
	}
	return nil
}

// DeriveParameters turns the inputs of a process description into
// typed parameters. Unsupported optional inputs are skipped;
// unsupported required inputs fail the derivation.
func DeriveParameters(desc *wps.ProcessDescription) ([]Parameter, error) {
	var params []Parameter
	for i := range desc.DataInputs.Inputs {
		inp := &desc.DataInputs.Inputs[i]
		conv := FindConverter(inp)
		if conv == nil {
			if inp.Optional() {
				continue
			}
			return nil, fmt.Errorf("required input '%s' of process %s has an unsupported schema", inp.Identifier, desc.Identifier)
		}

		param, err := conv.Derive(inp)
		if err != nil {
			return nil, err
		}
		params = append(params, param)
	}
	return params, nil
}

func infoFromInput(inp *wps.InputDescription) parameterInfo {
	return parameterInfo{
		Identifier: inp.Identifier,
		Title:      inp.Title,
		Abstract:   inp.Abstract,
		Optional:   inp.Optional(),
	}
}

func complexSchema(inp *wps.InputDescription) string {
	if inp.ComplexData == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(inp.ComplexData.Default.Schema))
}

func bindError(conv Converter, param Parameter) error {
	return fmt.Errorf("converter '%s' cannot bind parameter '%s' of kind %s", conv.ID(), param.ID(), param.Kind())
}

// literalConverter maps LiteralData inputs onto enumeration or string
// parameters depending on the advertised AllowedValues.
type literalConverter struct{}

func (c *literalConverter) ID() string { return "literal" }

func (c *literalConverter) CanConvert(inp *wps.InputDescription) bool {
	return inp.LiteralData != nil
}

func (c *literalConverter) Derive(inp *wps.InputDescription) (Parameter, error) {
	if len(inp.LiteralData.AllowedValues) > 0 {
		return &EnumerationParameter{
			parameterInfo: infoFromInput(inp),
			AllowedValues: inp.LiteralData.AllowedValues,
			Value:         inp.LiteralData.DefaultValue,
		}, nil
	}
	return &StringParameter{parameterInfo: infoFromInput(inp), Value: inp.LiteralData.DefaultValue}, nil
}

func (c *literalConverter) Bind(param Parameter, value json.RawMessage) error {
	var val string
	if err := json.Unmarshal(value, &val); err != nil {
		return fmt.Errorf("parameter '%s' expects a string value: %v", param.ID(), err)
	}

	switch p := param.(type) {
	case *EnumerationParameter:
		p.Value = val
	case *StringParameter:
		p.Value = val
	default:
		return bindError(c, param)
	}
	return nil
}

const dateTimeSchemaSuffix = "#datetime"

// dateTimeConverter maps the xmlschema dateTime ComplexData schema
// onto DateTimeParameter.
type dateTimeConverter struct{}

func (c *dateTimeConverter) ID() string { return "dateTime" }

func (c *dateTimeConverter) CanConvert(inp *wps.InputDescription) bool {
	return strings.HasSuffix(complexSchema(inp), dateTimeSchemaSuffix)
}

func (c *dateTimeConverter) Derive(inp *wps.InputDescription) (Parameter, error) {
	return &DateTimeParameter{parameterInfo: infoFromInput(inp)}, nil
}

func (c *dateTimeConverter) Bind(param Parameter, value json.RawMessage) error {
	p, ok := param.(*DateTimeParameter)
	if !ok {
		return bindError(c, param)
	}

	var val string
	if err := json.Unmarshal(value, &val); err != nil {
		return fmt.Errorf("parameter '%s' expects an ISO date string: %v", param.ID(), err)
	}

	ts, err := time.Parse(wps.ISOFormat, strings.TrimSpace(val))
	if err != nil {
		ts, err = time.Parse(time.RFC3339, strings.TrimSpace(val))
	}
	if err != nil {
		return fmt.Errorf("invalid date '%s' for parameter '%s'", val, param.ID())
	}

	p.Value = ts
	return nil
}

const pointSchemaSuffix = "geojson-spec.html#point"

type pointConverter struct{}

func (c *pointConverter) ID() string { return "point" }

func (c *pointConverter) CanConvert(inp *wps.InputDescription) bool {
	return strings.HasSuffix(complexSchema(inp), pointSchemaSuffix)
}

func (c *pointConverter) Derive(inp *wps.InputDescription) (Parameter, error) {
	return &PointParameter{parameterInfo: infoFromInput(inp)}, nil
}

func (c *pointConverter) Bind(param Parameter, value json.RawMessage) error {
	p, ok := param.(*PointParameter)
	if !ok {
		return bindError(c, param)
	}
	if err := json.Unmarshal(value, &p.Coordinates); err != nil {
		return fmt.Errorf("parameter '%s' expects [lon, lat]: %v", param.ID(), err)
	}
	return nil
}

const lineSchemaSuffix = "geojson-spec.html#linestring"

type lineConverter struct{}

func (c *lineConverter) ID() string { return "line" }

func (c *lineConverter) CanConvert(inp *wps.InputDescription) bool {
	return strings.HasSuffix(complexSchema(inp), lineSchemaSuffix)
}

func (c *lineConverter) Derive(inp *wps.InputDescription) (Parameter, error) {
	return &LineParameter{parameterInfo: infoFromInput(inp)}, nil
}

func (c *lineConverter) Bind(param Parameter, value json.RawMessage) error {
	p, ok := param.(*LineParameter)
	if !ok {
		return bindError(c, param)
	}
	if err := json.Unmarshal(value, &p.Coordinates); err != nil {
		return fmt.Errorf("parameter '%s' expects [[lon, lat], ...]: %v", param.ID(), err)
	}
	return nil
}

const polygonSchemaSuffix = "geojson-spec.html#polygon"

type polygonConverter struct{}

func (c *polygonConverter) ID() string { return "polygon" }

func (c *polygonConverter) CanConvert(inp *wps.InputDescription) bool {
	return strings.HasSuffix(complexSchema(inp), polygonSchemaSuffix)
}

func (c *polygonConverter) Derive(inp *wps.InputDescription) (Parameter, error) {
	return &PolygonParameter{parameterInfo: infoFromInput(inp)}, nil
}

func (c *polygonConverter) Bind(param Parameter, value json.RawMessage) error {
	p, ok := param.(*PolygonParameter)
	if !ok {
		return bindError(c, param)
	}
	if err := json.Unmarshal(value, &p.Coordinates); err != nil {
		return fmt.Errorf("parameter '%s' expects polygon rings: %v", param.ID(), err)
	}
	return nil
}

const geoJSONSchemaSuffix = "geojson-spec.html"

// geoJSONConverter handles the generic GeoJSON geometry schema, used
// for region selections where the client ships a whole feature
// collection. Registered after the specific geometry converters so it
// only claims inputs none of them took.
type geoJSONConverter struct{}

func (c *geoJSONConverter) ID() string { return "geojson" }

func (c *geoJSONConverter) CanConvert(inp *wps.InputDescription) bool {
	if inp.ComplexData == nil {
		return false
	}
	schema := complexSchema(inp)
	if len(schema) > 0 {
		return strings.HasSuffix(schema, geoJSONSchemaSuffix)
	}
	return strings.Contains(strings.ToLower(inp.ComplexData.Default.MimeType), "geo+json")
}

func (c *geoJSONConverter) Derive(inp *wps.InputDescription) (Parameter, error) {
	return &GeoJSONParameter{parameterInfo: infoFromInput(inp)}, nil
}

func (c *geoJSONConverter) Bind(param Parameter, value json.RawMessage) error {
	p, ok := param.(*GeoJSONParameter)
	if !ok {
		return bindError(c, param)
	}
	if err := json.Unmarshal(value, &p.FeatureCollection); err != nil {
		return fmt.Errorf("parameter '%s' expects a GeoJSON feature collection: %v", param.ID(), err)
	}
	if len(p.FeatureCollection.Features) == 0 {
		return fmt.Errorf("parameter '%s' feature collection is empty", param.ID())
	}
	return nil
}

// rectangleConverter maps BoundingBoxData inputs onto
// RectangleParameter.
type rectangleConverter struct{}

func (c *rectangleConverter) ID() string { return "rectangle" }

func (c *rectangleConverter) CanConvert(inp *wps.InputDescription) bool {
	return inp.BoundingBoxData != nil
}

func (c *rectangleConverter) Derive(inp *wps.InputDescription) (Parameter, error) {
	crs := inp.BoundingBoxData.DefaultCRS
	if len(strings.TrimSpace(crs)) == 0 {
		crs = "EPSG:4326"
	}
	return &RectangleParameter{parameterInfo: infoFromInput(inp), CRS: crs}, nil
}

func (c *rectangleConverter) Bind(param Parameter, value json.RawMessage) error {
	p, ok := param.(*RectangleParameter)
	if !ok {
		return bindError(c, param)
	}

	var bbox []float64
	if err := json.Unmarshal(value, &bbox); err != nil || len(bbox) != 4 {
		return fmt.Errorf("parameter '%s' expects [minx, miny, maxx, maxy]", param.ID())
	}

	p.MinX, p.MinY, p.MaxX, p.MaxY = bbox[0], bbox[1], bbox[2], bbox[3]
	return nil
}
