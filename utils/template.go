package utils

import (
	"fmt"
	"io"
	"io/ioutil"
	"path/filepath"
	"text/template"
)

// ExecuteWriteTemplateFile compiles the template document at filePath
// and writes its execution over data into the stream.
func ExecuteWriteTemplateFile(w io.Writer, data interface{}, filePath string) error {
	tplStr, err := ioutil.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("Error trying to read %s file: %v", filePath, err)
	}
	tpl, err := template.New(filepath.Base(filePath)).Parse(string(tplStr))
	if err != nil {
		return fmt.Errorf("Error trying to parse template document: %v", err)
	}
	err = tpl.Execute(w, data)
	if err != nil {
		return fmt.Errorf("Error executing template: %v\n", err)
	}

	return nil
}
