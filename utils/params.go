package utils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// GatewayParams contains the serialised version of the parameters
// contained in a gateway API request.
type GatewayParams struct {
	Request    *string `json:"request"`
	Identifier *string `json:"identifier"`
	JobID      *string `json:"job_id"`
}

// GatewayRegexpMap maps gateway request parameters to regular
// expressions for doing validation when parsing.
// --- These regexp do not avoid every case of
// --- invalid code but filter most of the malformed
// --- cases. Error free JSON deserialisation into types
// --- also validates correct values.
var GatewayRegexpMap = map[string]string{
	"request":    `^GetFunctions$|^DescribeFunction$|^Execute$|^GetJobStatus$`,
	"identifier": `^[A-Za-z_][A-Za-z0-9_\-\.:]*$`,
	"job_id":     `^[0-9a-f]{8,32}$`,
}

func CompileGatewayRegexMap() map[string]*regexp.Regexp {
	REMap := make(map[string]*regexp.Regexp)
	for key, re := range GatewayRegexpMap {
		REMap[key] = regexp.MustCompile(re)
	}

	return REMap
}

// GatewayParamsChecker checks and marshals the content of the
// parameters of a gateway request into a GatewayParams struct.
func GatewayParamsChecker(params map[string][]string, compREMap map[string]*regexp.Regexp) (GatewayParams, error) {

	jsonFields := []string{}

	if request, requestOK := params["request"]; requestOK {
		if compREMap["request"].MatchString(request[0]) {
			jsonFields = append(jsonFields, fmt.Sprintf(`"request":"%s"`, request[0]))
		} else {
			return GatewayParams{}, fmt.Errorf("%s is not a valid gateway request", request[0])
		}
	} else {
		return GatewayParams{}, fmt.Errorf("gateway 'request' not found")
	}

	if id, idOK := params["identifier"]; idOK {
		if !compREMap["identifier"].MatchString(id[0]) {
			return GatewayParams{}, fmt.Errorf("invalid function identifier: %v", id[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"identifier":"%s"`, id[0]))
	}

	if jobID, jobOK := params["job_id"]; jobOK {
		if !compREMap["job_id"].MatchString(strings.ToLower(jobID[0])) {
			return GatewayParams{}, fmt.Errorf("invalid job id: %v", jobID[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"job_id":"%s"`, strings.ToLower(jobID[0])))
	}

	jsonParams := fmt.Sprintf("{%s}", strings.Join(jsonFields, ","))
	var gwParams GatewayParams
	err := json.Unmarshal([]byte(jsonParams), &gwParams)
	return gwParams, err
}
