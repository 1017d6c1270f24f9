package wps

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// Input is one serialized DataInputs entry of an Execute request.
// Exactly one of LiteralData, ComplexData and BoundingBox is set; the
// converters in the function package decide which.
type Input struct {
	Identifier  string
	LiteralData string
	ComplexData string
	MimeType    string
	BoundingBox *BoundingBox
}

// BoundingBox is the wire form of a rectangle input.
type BoundingBox struct {
	CRS  string
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

func (b *BoundingBox) LowerCorner() string {
	return fmt.Sprintf("%v %v", b.MinX, b.MinY)
}

func (b *BoundingBox) UpperCorner() string {
	return fmt.Sprintf("%v %v", b.MaxX, b.MaxY)
}

// ExecuteRequest carries everything needed to invoke one process.
type ExecuteRequest struct {
	Identifier string
	Inputs     []Input
	// StoreStatus requests asynchronous execution with a status
	// location. Only honoured when the described process advertises
	// storeSupported and statusSupported.
	StoreStatus bool
}

type xmlExecute struct {
	XMLName    xml.Name     `xml:"wps:Execute"`
	Service    string       `xml:"service,attr"`
	Version    string       `xml:"version,attr"`
	XmlnsWPS   string       `xml:"xmlns:wps,attr"`
	XmlnsOWS   string       `xml:"xmlns:ows,attr"`
	Identifier string       `xml:"ows:Identifier"`
	Inputs     []xmlInput   `xml:"wps:DataInputs>wps:Input"`
	Response   *xmlRespForm `xml:"wps:ResponseForm,omitempty"`
}

type xmlInput struct {
	Identifier string   `xml:"ows:Identifier"`
	Data       *xmlData `xml:"wps:Data,omitempty"`
}

type xmlData struct {
	LiteralData *xmlLiteral  `xml:"wps:LiteralData,omitempty"`
	ComplexData *xmlComplex  `xml:"wps:ComplexData,omitempty"`
	BoundingBox *xmlBoundBox `xml:"wps:BoundingBoxData,omitempty"`
}

type xmlLiteral struct {
	Value string `xml:",chardata"`
}

type xmlComplex struct {
	MimeType string `xml:"mimeType,attr,omitempty"`
	Value    string `xml:",cdata"`
}

type xmlBoundBox struct {
	CRS         string `xml:"crs,attr,omitempty"`
	LowerCorner string `xml:"ows:LowerCorner"`
	UpperCorner string `xml:"ows:UpperCorner"`
}

type xmlRespForm struct {
	ResponseDocument xmlRespDoc `xml:"wps:ResponseDocument"`
}

type xmlRespDoc struct {
	StoreExecuteResponse bool `xml:"storeExecuteResponse,attr"`
	Status               bool `xml:"status,attr"`
}

const wpsNamespace = "http://www.opengis.net/wps/1.0.0"
const owsNamespace = "http://www.opengis.net/ows/1.1"

// MarshalXML produces the POST body of an asynchronous Execute
// request.
func (req *ExecuteRequest) MarshalXML() ([]byte, error) {
	exec := &xmlExecute{
		Service:    "WPS",
		Version:    "1.0.0",
		XmlnsWPS:   wpsNamespace,
		XmlnsOWS:   owsNamespace,
		Identifier: req.Identifier,
	}

	for _, input := range req.Inputs {
		xin := xmlInput{Identifier: input.Identifier, Data: &xmlData{}}
		if input.BoundingBox != nil {
			xin.Data.BoundingBox = &xmlBoundBox{
				CRS:         input.BoundingBox.CRS,
				LowerCorner: input.BoundingBox.LowerCorner(),
				UpperCorner: input.BoundingBox.UpperCorner(),
			}
		} else if len(input.ComplexData) > 0 {
			xin.Data.ComplexData = &xmlComplex{MimeType: input.MimeType, Value: input.ComplexData}
		} else {
			xin.Data.LiteralData = &xmlLiteral{Value: input.LiteralData}
		}
		exec.Inputs = append(exec.Inputs, xin)
	}

	if req.StoreStatus {
		exec.Response = &xmlRespForm{ResponseDocument: xmlRespDoc{StoreExecuteResponse: true, Status: true}}
	}

	buf := new(bytes.Buffer)
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(buf)
	err := enc.Encode(exec)
	if err != nil {
		return nil, fmt.Errorf("error marshalling Execute request: %v", err)
	}
	return buf.Bytes(), nil
}

// KVP renders the GET query string form of the request. Complex data
// and bounding boxes are folded into the DataInputs parameter as
// key=value pairs separated by semicolons.
func (req *ExecuteRequest) KVP() string {
	var inputs []string
	for _, input := range req.Inputs {
		var val string
		if input.BoundingBox != nil {
			b := input.BoundingBox
			val = fmt.Sprintf("%v,%v,%v,%v,%s", b.MinX, b.MinY, b.MaxX, b.MaxY, b.CRS)
		} else if len(input.ComplexData) > 0 {
			val = input.ComplexData
		} else {
			val = input.LiteralData
		}
		inputs = append(inputs, fmt.Sprintf("%s=%s", input.Identifier, val))
	}

	params := url.Values{}
	params.Set("service", "WPS")
	params.Set("request", "Execute")
	params.Set("version", "1.0.0")
	params.Set("Identifier", req.Identifier)
	params.Set("DataInputs", strings.Join(inputs, ";"))
	if req.StoreStatus {
		params.Set("storeExecuteResponse", "true")
		params.Set("status", "true")
	}
	return params.Encode()
}

// ExecuteResponse models both the immediate Execute response and the
// documents served from the status location while polling.
type ExecuteResponse struct {
	XMLName        xml.Name
	StatusLocation string   `xml:"statusLocation,attr"`
	Status         *Status  `xml:"Status"`
	Outputs        []Output `xml:"ProcessOutputs>Output"`
}

type Status struct {
	CreationTime     string          `xml:"creationTime,attr"`
	ProcessAccepted  *StatusMessage  `xml:"ProcessAccepted"`
	ProcessStarted   *ProgressStatus `xml:"ProcessStarted"`
	ProcessPaused    *ProgressStatus `xml:"ProcessPaused"`
	ProcessSucceeded *StatusMessage  `xml:"ProcessSucceeded"`
	ProcessFailed    *ProcessFailed  `xml:"ProcessFailed"`
}

type StatusMessage struct {
	Message string `xml:",chardata"`
}

type ProgressStatus struct {
	PercentCompleted int    `xml:"percentCompleted,attr"`
	Message          string `xml:",chardata"`
}

type ProcessFailed struct {
	ExceptionText []string `xml:"ExceptionReport>Exception>ExceptionText"`
}

// Output is one entry of the terminal ProcessOutputs document.
type Output struct {
	Identifier string      `xml:"Identifier"`
	Title      string      `xml:"Title"`
	Data       *OutputData `xml:"Data"`
}

type OutputData struct {
	LiteralData string         `xml:"LiteralData"`
	ComplexData *ComplexOutput `xml:"ComplexData"`
}

type ComplexOutput struct {
	MimeType string `xml:"mimeType,attr"`
	Value    string `xml:",innerxml"`
}

// ParseExecuteResponse unmarshals an Execute or status document with
// the same strict root check applied to every server response.
func ParseExecuteResponse(doc []byte) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	err := xml.Unmarshal(doc, &resp)
	if err != nil {
		return nil, fmt.Errorf("%v: %v", ErrInvalidServer, err)
	}

	if resp.XMLName.Local != "ExecuteResponse" {
		return nil, fmt.Errorf("%v: unexpected root element '%s'", ErrInvalidServer, resp.XMLName.Local)
	}

	return &resp, nil
}

// State is the polled lifecycle of one execution.
type State int

const (
	StateUnknown State = iota
	StateAccepted
	StateStarted
	StatePaused
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateStarted:
		return "started"
	case StatePaused:
		return "paused"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further status document is expected.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// State maps the mutually exclusive status elements onto the
// lifecycle. A response without any Status element is treated as a
// synchronous success when outputs are present.
func (resp *ExecuteResponse) State() State {
	if resp.Status == nil {
		if len(resp.Outputs) > 0 {
			return StateSucceeded
		}
		return StateUnknown
	}

	switch {
	case resp.Status.ProcessSucceeded != nil:
		return StateSucceeded
	case resp.Status.ProcessFailed != nil:
		return StateFailed
	case resp.Status.ProcessStarted != nil:
		return StateStarted
	case resp.Status.ProcessPaused != nil:
		return StatePaused
	case resp.Status.ProcessAccepted != nil:
		return StateAccepted
	}
	return StateUnknown
}

// FailureMessage flattens the exception report of a failed execution.
func (resp *ExecuteResponse) FailureMessage() string {
	if resp.Status == nil || resp.Status.ProcessFailed == nil {
		return ""
	}
	texts := resp.Status.ProcessFailed.ExceptionText
	if len(texts) == 0 {
		return "the WPS process failed without an exception report"
	}
	return strings.TrimSpace(strings.Join(texts, "; "))
}
