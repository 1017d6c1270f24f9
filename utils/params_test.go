package utils

import (
	"testing"
)

func TestGatewayParamsChecker(t *testing.T) {
	reMap := CompileGatewayRegexMap()

	params, err := GatewayParamsChecker(map[string][]string{
		"request":    {"Execute"},
		"identifier": {"geometryDrill"},
	}, reMap)
	if err != nil {
		t.Errorf("valid parameters rejected: %v", err)
		return
	}
	if params.Request == nil || *params.Request != "Execute" {
		t.Errorf("request not parsed: %+v", params)
	}
	if params.Identifier == nil || *params.Identifier != "geometryDrill" {
		t.Errorf("identifier not parsed: %+v", params)
	}
	if params.JobID != nil {
		t.Errorf("absent job id should stay nil")
	}
}

func TestGatewayParamsCheckerJobID(t *testing.T) {
	reMap := CompileGatewayRegexMap()

	params, err := GatewayParamsChecker(map[string][]string{
		"request": {"GetJobStatus"},
		"job_id":  {"0123456789ABCDEF"},
	}, reMap)
	if err != nil {
		t.Errorf("valid job id rejected: %v", err)
		return
	}
	if params.JobID == nil || *params.JobID != "0123456789abcdef" {
		t.Errorf("job id not lowercased: %+v", params.JobID)
	}
}

func TestGatewayParamsCheckerRejects(t *testing.T) {
	reMap := CompileGatewayRegexMap()

	cases := []map[string][]string{
		{"identifier": {"geometryDrill"}},
		{"request": {"DropTables"}},
		{"request": {"Execute"}, "identifier": {"geometry drill; rm -rf"}},
		{"request": {"GetJobStatus"}, "job_id": {"xyz"}},
		{"request": {"GetJobStatus"}, "job_id": {"123"}},
	}

	for _, params := range cases {
		if _, err := GatewayParamsChecker(params, reMap); err == nil {
			t.Errorf("invalid parameters accepted: %v", params)
		}
	}
}

func TestParseQuery(t *testing.T) {
	query, err := ParseQuery("request=Execute&IDENTIFIER=geometryDrill&parameters=%7B%22product%22%3A%22nbar%22%7D")
	if err != nil {
		t.Errorf("failed to parse query: %v", err)
		return
	}

	if len(query["request"]) != 1 || query["request"][0] != "Execute" {
		t.Errorf("request not parsed: %v", query)
	}

	// keys are lowercased
	if len(query["identifier"]) != 1 || query["identifier"][0] != "geometryDrill" {
		t.Errorf("mixed case key not normalised: %v", query)
	}

	if len(query["parameters"]) != 1 || query["parameters"][0] != `{"product":"nbar"}` {
		t.Errorf("parameters value not unescaped: %v", query["parameters"])
	}
}
