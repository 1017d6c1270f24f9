package processor

import (
	"encoding/json"

	"github.com/earthlaws/terriajs/function"
	"github.com/earthlaws/terriajs/wps"
)

// ExecTask is one function invocation travelling through the
// pipeline.
type ExecTask struct {
	Function *function.CatalogFunction
	Values   map[string]json.RawMessage

	// TemplateRoot/TemplateName select the jet report template for
	// the materialized item. Empty root skips report rendering.
	TemplateRoot string
	TemplateName string
}

// execStatus carries the task together with the last server response
// between the executor, poller and materializer stages.
type execStatus struct {
	Task     *ExecTask
	Request  *wps.ExecuteRequest
	Response *wps.ExecuteResponse
}
