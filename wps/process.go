package wps

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

// ErrInvalidServer is the uniform failure raised whenever a remote
// response does not carry the expected WPS root element. Every XML
// document coming back from the server is checked against it before
// any field is trusted.
var ErrInvalidServer = fmt.Errorf("invalid WPS server response")

// ProcessDescriptions is the root of a WPS 1.0.0 DescribeProcess
// response. Namespace prefixes are ignored on purpose: servers in the
// wild disagree on them, so matching is done on local names only.
type ProcessDescriptions struct {
	XMLName            xml.Name
	ProcessDescription []ProcessDescription `xml:"ProcessDescription"`
}

// ProcessDescription describes one remote geoprocessing operation.
type ProcessDescription struct {
	Identifier      string         `xml:"Identifier"`
	Title           string         `xml:"Title"`
	Abstract        string         `xml:"Abstract"`
	StoreSupported  bool           `xml:"storeSupported,attr"`
	StatusSupported bool           `xml:"statusSupported,attr"`
	DataInputs      DataInputs     `xml:"DataInputs"`
	ProcessOutputs  ProcessOutputs `xml:"ProcessOutputs"`
}

type DataInputs struct {
	Inputs []InputDescription `xml:"Input"`
}

type ProcessOutputs struct {
	Outputs []OutputDescription `xml:"Output"`
}

// InputDescription holds the schema of one process input. Exactly one
// of LiteralData, ComplexData and BoundingBoxData is expected to be
// present.
type InputDescription struct {
	Identifier      string           `xml:"Identifier"`
	Title           string           `xml:"Title"`
	Abstract        string           `xml:"Abstract"`
	MinOccurs       *int             `xml:"minOccurs,attr"`
	MaxOccurs       *int             `xml:"maxOccurs,attr"`
	LiteralData     *LiteralDataDesc `xml:"LiteralData"`
	ComplexData     *ComplexDataDesc `xml:"ComplexData"`
	BoundingBoxData *BoundingBoxDesc `xml:"BoundingBoxData"`
}

// Optional reports whether the input may be omitted from an Execute
// request. WPS defaults minOccurs to 1 when the attribute is absent.
func (inp *InputDescription) Optional() bool {
	return inp.MinOccurs != nil && *inp.MinOccurs == 0
}

type LiteralDataDesc struct {
	DataType      string    `xml:"DataType"`
	AllowedValues []string  `xml:"AllowedValues>Value"`
	AnyValue      *struct{} `xml:"AnyValue"`
	DefaultValue  string    `xml:"DefaultValue"`
}

type ComplexDataDesc struct {
	Default   Format   `xml:"Default>Format"`
	Supported []Format `xml:"Supported>Format"`
}

type Format struct {
	MimeType string `xml:"MimeType"`
	Encoding string `xml:"Encoding"`
	Schema   string `xml:"Schema"`
}

type BoundingBoxDesc struct {
	DefaultCRS    string   `xml:"Default>CRS"`
	SupportedCRSs []string `xml:"Supported>CRS"`
}

type OutputDescription struct {
	Identifier    string           `xml:"Identifier"`
	Title         string           `xml:"Title"`
	Abstract      string           `xml:"Abstract"`
	ComplexOutput *ComplexDataDesc `xml:"ComplexOutput"`
}

// ParseProcessDescriptions unmarshals a DescribeProcess document and
// enforces the root element name. Anything that is well formed XML but
// not a ProcessDescriptions document is reported as an invalid server.
func ParseProcessDescriptions(doc []byte) (*ProcessDescriptions, error) {
	var descs ProcessDescriptions
	err := xml.Unmarshal(doc, &descs)
	if err != nil {
		return nil, fmt.Errorf("%v: %v", ErrInvalidServer, err)
	}

	if descs.XMLName.Local != "ProcessDescriptions" {
		return nil, fmt.Errorf("%v: unexpected root element '%s'", ErrInvalidServer, descs.XMLName.Local)
	}

	if len(descs.ProcessDescription) == 0 {
		return nil, fmt.Errorf("%v: no ProcessDescription element", ErrInvalidServer)
	}

	return &descs, nil
}

// FindInput returns the input description with the given identifier.
// Identifiers are compared case insensitively the way the OWS servers
// we talk to treat them.
func (pd *ProcessDescription) FindInput(identifier string) (*InputDescription, error) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	for i := range pd.DataInputs.Inputs {
		if strings.ToLower(strings.TrimSpace(pd.DataInputs.Inputs[i].Identifier)) == id {
			return &pd.DataInputs.Inputs[i], nil
		}
	}
	return nil, fmt.Errorf("input '%s' not found in process %s", identifier, pd.Identifier)
}
