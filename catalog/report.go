package catalog

import (
	"bytes"
	"fmt"
	"io"

	"github.com/CloudyKit/jet"
)

const DefaultReportTemplate = "job_report.tpl"

// RenderReport runs the item through a jet template under
// templateRoot and appends the rendered text as the item's leading
// report section. Templates get the item as the main context plus a
// FunctionID variable.
func RenderReport(item *Item, functionID string, templateRoot string, templateName string) error {
	if len(templateName) == 0 {
		templateName = DefaultReportTemplate
	}

	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), templateRoot, "/")

	template, err := view.GetTemplate(templateName)
	if err != nil {
		return fmt.Errorf("report template error: %v", err)
	}

	var resBuf bytes.Buffer
	vars := make(jet.VarMap)
	vars.Set("FunctionID", functionID)
	if err = template.Execute(&resBuf, vars, item); err != nil {
		return fmt.Errorf("report template error: %v", err)
	}

	item.ShortReports = append([]ShortReport{{Name: "Summary", Content: resBuf.String()}}, item.ShortReports...)
	return nil
}
