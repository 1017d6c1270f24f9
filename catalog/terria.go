package catalog

import (
	"encoding/json"
	"io"
	"log"

	"github.com/earthlaws/terriajs/utils"
)

// TerriaFunctionEntry is one published function in the terria catalog
// document served to the browser.
type TerriaFunctionEntry struct {
	Identifier string
	Title      string
	Abstract   string
	URL        string
}

// RenderTerriaCatalog is the template context for terria_catalog.tpl.
type RenderTerriaCatalog struct {
	Namespace string
	Functions []TerriaFunctionEntry
	Items     []*Item
	// ItemsJSON is filled right before rendering; items are already
	// JSON-shaped so they bypass the template's field formatting.
	ItemsJSON string
}

// WriteTerriaCatalog renders the function inventory plus finished
// items as a terria catalog file.
func WriteTerriaCatalog(w io.Writer, data *RenderTerriaCatalog, templatePath string) error {
	for i := range data.Functions {
		data.Functions[i].Identifier = jsonEscape(data.Functions[i].Identifier)
		data.Functions[i].Title = jsonEscape(data.Functions[i].Title)
		data.Functions[i].Abstract = jsonEscape(data.Functions[i].Abstract)
		data.Functions[i].URL = jsonEscape(data.Functions[i].URL)
	}
	data.Namespace = jsonEscape(data.Namespace)

	if data.Items == nil {
		data.ItemsJSON = "[]"
	} else {
		items, err := json.Marshal(data.Items)
		if err != nil {
			return err
		}
		data.ItemsJSON = string(items)
	}

	return utils.ExecuteWriteTemplateFile(w, data, templatePath)
}

func jsonEscape(i string) string {
	b, err := json.Marshal(i)
	if err != nil {
		log.Printf("Failed to JSON escape: %v", err)
		return i
	}
	s := string(b)
	return s[1 : len(s)-1]
}
