package function

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/earthlaws/terriajs/wps"
)

// CatalogFunction is the client-side face of one remote WPS process:
// it loads the process description, derives the editable parameters,
// binds user-supplied values and serializes them back into an Execute
// request.
type CatalogFunction struct {
	Identifier string
	Title      string
	Abstract   string
	Client     *wps.Client
	Verbose    bool

	desc       *wps.ProcessDescription
	params     []Parameter
	converters map[string]Converter
	bound      map[string]bool
}

func NewCatalogFunction(client *wps.Client, identifier string) *CatalogFunction {
	return &CatalogFunction{
		Identifier: identifier,
		Client:     client,
		converters: make(map[string]Converter),
		bound:      make(map[string]bool),
	}
}

// Load retrieves the process description and derives the parameter
// set. It is idempotent; subsequent calls refresh the description.
func (f *CatalogFunction) Load(ctx context.Context) error {
	desc, err := f.Client.Describe(ctx, f.Identifier)
	if err != nil {
		return err
	}

	params, err := DeriveParameters(desc)
	if err != nil {
		return err
	}

	f.desc = desc
	f.Title = desc.Title
	f.Abstract = desc.Abstract
	f.params = params
	f.bound = make(map[string]bool)
	f.converters = make(map[string]Converter)
	for i := range desc.DataInputs.Inputs {
		inp := &desc.DataInputs.Inputs[i]
		if conv := FindConverter(inp); conv != nil {
			f.converters[inp.Identifier] = conv
		}
	}

	if f.Verbose {
		log.Printf("WPS: function %s derived %d parameters (%d inputs described)",
			f.Identifier, len(params), len(desc.DataInputs.Inputs))
	}

	return nil
}

// Loaded reports whether the process description has been retrieved.
func (f *CatalogFunction) Loaded() bool { return f.desc != nil }

// Description exposes the raw process description, nil before Load.
func (f *CatalogFunction) Description() *wps.ProcessDescription { return f.desc }

// Parameters returns the derived parameter set in description order.
func (f *CatalogFunction) Parameters() []Parameter { return f.params }

// SetValues binds client-supplied values onto the derived parameters
// through the converters that own them. Value ids are matched the same
// case insensitive way FindInput treats identifiers.
func (f *CatalogFunction) SetValues(values map[string]json.RawMessage) error {
	if !f.Loaded() {
		return fmt.Errorf("function %s is not loaded", f.Identifier)
	}

	vals := make(map[string]json.RawMessage, len(values))
	for id, raw := range values {
		vals[strings.ToLower(strings.TrimSpace(id))] = raw
	}

	for _, param := range f.params {
		raw, ok := vals[strings.ToLower(param.ID())]
		if !ok {
			continue
		}

		conv, ok := f.converters[param.ID()]
		if !ok {
			return fmt.Errorf("no converter registered for parameter '%s'", param.ID())
		}

		err := conv.Bind(param, raw)
		if err != nil {
			return err
		}
		f.bound[param.ID()] = true
	}

	for id := range values {
		if _, err := f.desc.FindInput(id); err != nil {
			return fmt.Errorf("function %s has no parameter '%s'", f.Identifier, id)
		}
	}

	return nil
}

// BuildRequest serializes the bound parameters into the Execute
// DataInputs. Optional parameters left unbound are omitted; required
// ones fail.
func (f *CatalogFunction) BuildRequest() (*wps.ExecuteRequest, error) {
	if !f.Loaded() {
		return nil, fmt.Errorf("function %s is not loaded", f.Identifier)
	}

	req := &wps.ExecuteRequest{Identifier: f.Identifier, StoreStatus: true}
	for _, param := range f.params {
		if !f.bound[param.ID()] {
			inp, err := f.desc.FindInput(param.ID())
			if err == nil && inp.Optional() {
				continue
			}
			return nil, fmt.Errorf("required parameter '%s' has no value", param.ID())
		}

		input, err := param.WireInput()
		if err != nil {
			return nil, err
		}
		req.Inputs = append(req.Inputs, input)
	}

	return req, nil
}

// Invoke builds the request and submits it. The response is either a
// terminal document or an accepted/started one carrying the status
// location to poll.
func (f *CatalogFunction) Invoke(ctx context.Context) (*wps.ExecuteResponse, error) {
	req, err := f.BuildRequest()
	if err != nil {
		return nil, err
	}
	return f.Client.Execute(ctx, f.desc, req)
}
