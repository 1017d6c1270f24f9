package harvester

import (
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/earthlaws/terriajs/function"
	proc "github.com/earthlaws/terriajs/processor"
	"github.com/earthlaws/terriajs/utils"
	"github.com/earthlaws/terriajs/wps"

	goeval "github.com/edisonguo/govaluate"
	"gopkg.in/yaml.v2"
)

// Endpoint is one remote WPS server listed in the inventory file.
type Endpoint struct {
	URL            string `yaml:"url"`
	Pattern        string `yaml:"pattern"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	TimeoutSecs    int    `yaml:"timeout"`
	ReportTemplate string `yaml:"report_template"`
}

// Inventory is the yaml document fed to the crawl tool.
type Inventory struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

func LoadInventory(path string) (*Inventory, error) {
	rawData, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	inv := &Inventory{}
	err = yaml.Unmarshal(rawData, inv)
	if err != nil {
		return nil, err
	}

	if len(inv.Endpoints) == 0 {
		return nil, fmt.Errorf("%s: no endpoints found", path)
	}

	for i, ep := range inv.Endpoints {
		if len(strings.TrimSpace(ep.URL)) == 0 {
			return nil, fmt.Errorf("%s: endpoint %d has no url", path, i)
		}
	}

	return inv, nil
}

func parsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"identifier": struct{}{}, "title": struct{}{}, "abstract": struct{}{}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are %v", varName, validVariables)
			}
		}
	}
	return expr, nil
}

func evaluatePatternExpression(expr *goeval.EvaluableExpression, process wps.ProcessBrief) (bool, error) {
	if expr == nil {
		return true, nil
	}

	parameters := map[string]interface{}{
		"identifier": process.Identifier,
		"title":      process.Title,
		"abstract":   process.Abstract,
	}
	result, err := expr.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}

// Harvester turns an endpoint inventory into the gateway's function
// list by crawling each server's GetCapabilities document.
type Harvester struct {
	Conc    int
	Timeout time.Duration
	// Validate additionally fetches DescribeProcess for every kept
	// process and drops the ones whose parameters cannot be derived.
	Validate bool
	Verbose  bool
}

func NewHarvester(conc int, timeout time.Duration, verbose bool) *Harvester {
	if conc <= 0 {
		conc = 4
	}
	return &Harvester{Conc: conc, Timeout: timeout, Verbose: verbose}
}

// Harvest crawls every endpoint concurrently and merges the surviving
// processes into one function list. Endpoint failures are reported
// but do not abort the crawl.
func (h *Harvester) Harvest(ctx context.Context, inv *Inventory) ([]utils.FunctionConfig, []error) {
	cLimiter := proc.NewConcLimiter(h.Conc)

	var mu sync.Mutex
	var functions []utils.FunctionConfig
	var errs []error

	for i := range inv.Endpoints {
		endpoint := &inv.Endpoints[i]
		cLimiter.Increase()
		go func() {
			defer cLimiter.Decrease()
			fns, err := h.harvestEndpoint(ctx, endpoint)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %v", endpoint.URL, err))
				return
			}
			functions = append(functions, fns...)
		}()
	}
	cLimiter.Wait()

	return functions, errs
}

func (h *Harvester) harvestEndpoint(ctx context.Context, endpoint *Endpoint) ([]utils.FunctionConfig, error) {
	expr, err := parsePatternExpression(endpoint.Pattern)
	if err != nil {
		return nil, err
	}

	client := wps.NewClient(endpoint.URL, h.Timeout, "")
	client.Verbose = h.Verbose

	caps, err := client.GetCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	var functions []utils.FunctionConfig
	for _, process := range caps.Processes {
		keep, err := evaluatePatternExpression(expr, process)
		if err != nil {
			return nil, err
		}
		if !keep {
			if h.Verbose {
				log.Printf("crawl: %s: skipping %s", endpoint.URL, process.Identifier)
			}
			continue
		}

		if h.Validate {
			desc, err := client.Describe(ctx, process.Identifier)
			if err != nil {
				log.Printf("crawl: %s: dropping %s: %v", endpoint.URL, process.Identifier, err)
				continue
			}
			if _, err := function.DeriveParameters(desc); err != nil {
				log.Printf("crawl: %s: dropping %s: %v", endpoint.URL, process.Identifier, err)
				continue
			}
		}

		functions = append(functions, utils.FunctionConfig{
			Identifier:     process.Identifier,
			Title:          process.Title,
			Abstract:       process.Abstract,
			ServiceURL:     endpoint.URL,
			PollIntervalMs: endpoint.PollIntervalMs,
			TimeoutSecs:    endpoint.TimeoutSecs,
			ReportTemplate: endpoint.ReportTemplate,
		})
	}

	if h.Verbose {
		log.Printf("crawl: %s: %d of %d processes kept", endpoint.URL, len(functions), len(caps.Processes))
	}

	return functions, nil
}
