package wps

import (
	"strings"
	"testing"
)

const describeDoc = `<?xml version="1.0" encoding="UTF-8"?>
<wps:ProcessDescriptions xmlns:wps="http://www.opengis.net/wps/1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1" service="WPS" version="1.0.0">
  <ProcessDescription storeSupported="true" statusSupported="true">
    <ows:Identifier>geometryDrill</ows:Identifier>
    <ows:Title>Geometry Drill</ows:Title>
    <ows:Abstract>Extracts time series for a geometry.</ows:Abstract>
    <DataInputs>
      <Input minOccurs="1" maxOccurs="1">
        <ows:Identifier>geometry</ows:Identifier>
        <ows:Title>Geometry</ows:Title>
        <ComplexData>
          <Default>
            <Format>
              <MimeType>application/vnd.geo+json</MimeType>
              <Schema>http://geojson.org/geojson-spec.html#polygon</Schema>
            </Format>
          </Default>
          <Supported>
            <Format>
              <MimeType>application/vnd.geo+json</MimeType>
              <Schema>http://geojson.org/geojson-spec.html#polygon</Schema>
            </Format>
          </Supported>
        </ComplexData>
      </Input>
      <Input minOccurs="0" maxOccurs="1">
        <ows:Identifier>start</ows:Identifier>
        <ows:Title>Start date</ows:Title>
        <ComplexData>
          <Default>
            <Format>
              <MimeType>application/json</MimeType>
              <Schema>http://www.example.com/schemas#datetime</Schema>
            </Format>
          </Default>
        </ComplexData>
      </Input>
      <Input minOccurs="1" maxOccurs="1">
        <ows:Identifier>product</ows:Identifier>
        <ows:Title>Product</ows:Title>
        <LiteralData>
          <ows:DataType>string</ows:DataType>
          <AllowedValues>
            <Value>fractional_cover</Value>
            <Value>nbar</Value>
          </AllowedValues>
          <DefaultValue>nbar</DefaultValue>
        </LiteralData>
      </Input>
      <Input minOccurs="0" maxOccurs="1">
        <ows:Identifier>extent</ows:Identifier>
        <ows:Title>Extent</ows:Title>
        <BoundingBoxData>
          <Default>
            <CRS>EPSG:4326</CRS>
          </Default>
        </BoundingBoxData>
      </Input>
    </DataInputs>
    <ProcessOutputs>
      <Output>
        <ows:Identifier>result</ows:Identifier>
        <ows:Title>Result</ows:Title>
      </Output>
    </ProcessOutputs>
  </ProcessDescription>
</wps:ProcessDescriptions>`

func TestParseProcessDescriptions(t *testing.T) {
	descs, err := ParseProcessDescriptions([]byte(describeDoc))
	if err != nil {
		t.Errorf("failed to parse DescribeProcess document: %v", err)
		return
	}

	if len(descs.ProcessDescription) != 1 {
		t.Errorf("expected 1 process description, got %d", len(descs.ProcessDescription))
		return
	}

	desc := &descs.ProcessDescription[0]
	if desc.Identifier != "geometryDrill" {
		t.Errorf("unexpected identifier: %s", desc.Identifier)
	}
	if !desc.StoreSupported || !desc.StatusSupported {
		t.Errorf("storeSupported/statusSupported attributes not parsed")
	}
	if len(desc.DataInputs.Inputs) != 4 {
		t.Errorf("expected 4 inputs, got %d", len(desc.DataInputs.Inputs))
		return
	}

	geom := desc.DataInputs.Inputs[0]
	if geom.ComplexData == nil {
		t.Errorf("geometry input has no ComplexData")
		return
	}
	if geom.ComplexData.Default.Schema != "http://geojson.org/geojson-spec.html#polygon" {
		t.Errorf("unexpected default schema: %s", geom.ComplexData.Default.Schema)
	}
	if geom.Optional() {
		t.Errorf("geometry input should be required")
	}

	start := desc.DataInputs.Inputs[1]
	if !start.Optional() {
		t.Errorf("start input should be optional")
	}

	product := desc.DataInputs.Inputs[2]
	if product.LiteralData == nil {
		t.Errorf("product input has no LiteralData")
		return
	}
	if len(product.LiteralData.AllowedValues) != 2 {
		t.Errorf("expected 2 allowed values, got %d", len(product.LiteralData.AllowedValues))
	}
	if product.LiteralData.DefaultValue != "nbar" {
		t.Errorf("unexpected default value: %s", product.LiteralData.DefaultValue)
	}

	extent := desc.DataInputs.Inputs[3]
	if extent.BoundingBoxData == nil {
		t.Errorf("extent input has no BoundingBoxData")
		return
	}
	if extent.BoundingBoxData.DefaultCRS != "EPSG:4326" {
		t.Errorf("unexpected default CRS: %s", extent.BoundingBoxData.DefaultCRS)
	}
}

func TestParseProcessDescriptionsRejectsWrongRoot(t *testing.T) {
	docs := []string{
		`<?xml version="1.0"?><html><body>service is down</body></html>`,
		`<?xml version="1.0"?><ExceptionReport><Exception/></ExceptionReport>`,
		`<?xml version="1.0"?><wps:ProcessDescriptions xmlns:wps="http://www.opengis.net/wps/1.0.0"></wps:ProcessDescriptions>`,
		`not xml at all`,
	}

	for _, doc := range docs {
		_, err := ParseProcessDescriptions([]byte(doc))
		if err == nil {
			t.Errorf("document accepted but should be invalid: %s", doc)
			continue
		}
		if !strings.Contains(err.Error(), ErrInvalidServer.Error()) {
			t.Errorf("expected uniform invalid server error, got: %v", err)
		}
	}
}

func TestFindInput(t *testing.T) {
	descs, err := ParseProcessDescriptions([]byte(describeDoc))
	if err != nil {
		t.Errorf("failed to parse DescribeProcess document: %v", err)
		return
	}
	desc := &descs.ProcessDescription[0]

	inp, err := desc.FindInput("GEOMETRY")
	if err != nil {
		t.Errorf("case insensitive lookup failed: %v", err)
		return
	}
	if inp.Identifier != "geometry" {
		t.Errorf("unexpected input: %s", inp.Identifier)
	}

	_, err = desc.FindInput("no_such_input")
	if err == nil {
		t.Errorf("lookup of unknown input did not fail")
	}
}
