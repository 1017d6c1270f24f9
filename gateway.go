package main

/* gateway is a web server bridging terria catalog clients and
   remote OGC WPS 1.0.0 servers. Functions published through the
   config.json documents are described, executed and polled on
   behalf of the browser, and finished executions come back as
   catalog items ready to drop on the map.
   The gateway depends on the remote WPS servers to do the actual
   computation; it only adapts their process descriptions and
   execute responses into the catalog vocabulary. */

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/earthlaws/terriajs/catalog"
	"github.com/earthlaws/terriajs/function"
	"github.com/earthlaws/terriajs/jobstore"
	"github.com/earthlaws/terriajs/metrics"
	proc "github.com/earthlaws/terriajs/processor"
	"github.com/earthlaws/terriajs/utils"
	"github.com/earthlaws/terriajs/wps"

	_ "net/http/pprof"

	reuseport "github.com/kavu/go_reuseport"
	"golang.org/x/net/netutil"
)

// Global variable to hold the values specified
// on the config.json document.
var configMap map[string]*utils.Config

var (
	port            = flag.Int("p", 8080, "Server listening port.")
	serverDataDir   = flag.String("data_dir", utils.DataDir, "Server data directory.")
	serverConfigDir = flag.String("conf_dir", utils.EtcDir, "Server config directory.")
	serverLogDir    = flag.String("log_dir", "", "Server log directory.")
	validateConfig  = flag.Bool("check_conf", false, "Validate server config files.")
	dumpConfig      = flag.Bool("dump_conf", false, "Dump server config files.")
	verbose         = flag.Bool("v", false, "Verbose mode for more server outputs.")
)

var reGatewayMap map[string]*regexp.Regexp

var (
	Error *log.Logger
	Info  *log.Logger
)

var metricsLogger metrics.Logger

// Job stores are created on first use per namespace so namespaces
// introduced by a SIGHUP config reload get one too.
var (
	jobStores   = make(map[string]*jobstore.Store)
	jobStoresMu sync.Mutex
)

// init initialises the Error logger, checks
// required files are in place and sets Config struct.
// This is the first function to be called in main.
func init() {
	rand.Seed(time.Now().UnixNano())

	Error = log.New(os.Stderr, "Gateway: ", log.Ldate|log.Ltime|log.Lshortfile)
	Info = log.New(os.Stdout, "Gateway: ", log.Ldate|log.Ltime|log.Lshortfile)

	flag.Parse()

	utils.DataDir = *serverDataDir
	utils.EtcDir = *serverConfigDir

	filePaths := []string{
		utils.DataDir + "/templates/terria_catalog.tpl",
		utils.DataDir + "/templates/" + catalog.DefaultReportTemplate}

	for _, filePath := range filePaths {
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			panic(err)
		}
	}

	confMap, err := utils.LoadAllConfigFiles(utils.EtcDir, *verbose)
	if err != nil {
		Error.Printf("Error in loading config files: %v\n", err)
		panic(err)
	}

	if *validateConfig {
		os.Exit(0)
	}

	if *dumpConfig {
		configJson, err := utils.DumpConfig(confMap)
		if err != nil {
			Error.Printf("Error in dumping configs: %v\n", err)
		} else {
			log.Print(configJson)
		}
		os.Exit(0)
	}

	configMap = confMap

	utils.WatchConfig(Info, Error, &configMap, *verbose)

	reGatewayMap = utils.CompileGatewayRegexMap()

	if len(*serverLogDir) > 0 {
		if *serverLogDir == "-" {
			metricsLogger = metrics.NewStdoutLogger()
		} else {
			maxLogFileSize := int64(0)
			if val, ok := os.LookupEnv("TERRIA_MAX_LOG_FILE_SIZE"); ok {
				valInt, e := strconv.ParseInt(val, 10, 64)
				if e == nil {
					maxLogFileSize = valInt
				} else {
					Error.Printf("invalid TERRIA_MAX_LOG_FILE_SIZE: %v", e)
				}
			}

			maxLogFiles := -1
			if val, ok := os.LookupEnv("TERRIA_MAX_LOG_FILES"); ok {
				valInt, e := strconv.ParseInt(val, 10, 32)
				if e == nil {
					maxLogFiles = int(valInt)
				} else {
					Error.Printf("invalid TERRIA_MAX_LOG_FILES: %v", e)
				}
			}

			metricsLogger = metrics.NewFileLogger(*serverLogDir, maxLogFileSize, maxLogFiles, *verbose)
		}
	}
}

// lookupJobStore returns the namespace's job store, creating it on
// first use. A store that cannot reach its database degrades to
// memory only rather than failing the request.
func lookupJobStore(conf *utils.Config) *jobstore.Store {
	ns := lookupNamespace(conf.ServiceConfig.NameSpace)

	jobStoresMu.Lock()
	defer jobStoresMu.Unlock()

	if store, ok := jobStores[ns]; ok {
		return store
	}

	store, err := jobstore.NewStore(conf.ServiceConfig.JobDB, conf.ServiceConfig.MemcacheURI)
	if err != nil {
		Error.Printf("job store for namespace '%s' degraded to memory only: %v", ns, err)
		store, _ = jobstore.NewStore("", conf.ServiceConfig.MemcacheURI)
	}
	jobStores[ns] = store
	return store
}

func newFunctionClient(conf *utils.Config, fnConf *utils.FunctionConfig) *wps.Client {
	client := wps.NewClient(fnConf.ServiceURL, time.Duration(fnConf.TimeoutSecs)*time.Second, conf.ServiceConfig.MemcacheURI)
	if interval := fnConf.PollInterval(); interval > 0 {
		client.PollInterval = interval
	}
	client.Verbose = *verbose
	return client
}

func newCatalogFunction(conf *utils.Config, fnConf *utils.FunctionConfig) *function.CatalogFunction {
	fn := function.NewCatalogFunction(newFunctionClient(conf, fnConf), fnConf.Identifier)
	fn.Title = fnConf.Title
	fn.Abstract = fnConf.Abstract
	fn.Verbose = *verbose
	return fn
}

func serveGetFunctions(conf *utils.Config, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	entries := make([]catalog.TerriaFunctionEntry, len(conf.Functions))
	for i, fnConf := range conf.Functions {
		entries[i] = catalog.TerriaFunctionEntry{
			Identifier: fnConf.Identifier,
			Title:      fnConf.Title,
			Abstract:   fnConf.Abstract,
			URL:        fnConf.ServiceURL,
		}
	}

	ns := conf.ServiceConfig.NameSpace
	data := &catalog.RenderTerriaCatalog{
		Namespace: ns,
		Functions: entries,
		Items:     lookupJobStore(conf).Items(ns),
	}

	w.Header().Set("Content-Type", "application/json")
	err := catalog.WriteTerriaCatalog(w, data, utils.DataDir+"/templates/terria_catalog.tpl")
	if err != nil {
		metricsCollector.Info.HTTPStatus = 500
		Error.Printf("GetFunctions: %v", err)
		http.Error(w, err.Error(), 500)
	}
}

func serveDescribeFunction(ctx context.Context, params utils.GatewayParams, conf *utils.Config, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	if params.Identifier == nil {
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, "DescribeFunction requires an 'identifier' parameter", 400)
		return
	}

	idx, err := utils.GetFunctionIndex(*params.Identifier, conf)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 404
		http.Error(w, err.Error(), 404)
		return
	}
	fnConf := &conf.Functions[idx]

	metricsCollector.Info.WPS.ProcessID = fnConf.Identifier
	metricsCollector.Info.WPS.URL.RawURL = fnConf.ServiceURL

	t0 := time.Now()
	fn := newCatalogFunction(conf, fnConf)
	err = fn.Load(ctx)
	metricsCollector.Info.WPS.Duration = time.Since(t0)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 502
		Error.Printf("DescribeFunction %s: %v", fnConf.Identifier, err)
		http.Error(w, err.Error(), 502)
		return
	}

	paramDocs := make([]json.RawMessage, 0, len(fn.Parameters()))
	for _, param := range fn.Parameters() {
		paramDoc, perr := function.ParameterDoc(param)
		if perr != nil {
			metricsCollector.Info.HTTPStatus = 500
			http.Error(w, perr.Error(), 500)
			return
		}
		paramDocs = append(paramDocs, paramDoc)
	}

	doc := struct {
		Identifier string            `json:"identifier"`
		Title      string            `json:"title"`
		Abstract   string            `json:"abstract,omitempty"`
		Parameters []json.RawMessage `json:"parameters"`
	}{fn.Identifier, fn.Title, fn.Abstract, paramDocs}

	payload, err := json.Marshal(&doc)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 500
		http.Error(w, err.Error(), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func serveExecute(params utils.GatewayParams, conf *utils.Config, query url.Values, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	if params.Identifier == nil {
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, "Execute requires an 'identifier' parameter", 400)
		return
	}

	idx, err := utils.GetFunctionIndex(*params.Identifier, conf)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 404
		http.Error(w, err.Error(), 404)
		return
	}
	fnConf := &conf.Functions[idx]

	values := make(map[string]json.RawMessage)
	if rawParams, ok := query["parameters"]; ok && len(rawParams) > 0 {
		err = json.Unmarshal([]byte(rawParams[0]), &values)
		if err != nil {
			metricsCollector.Info.HTTPStatus = 400
			http.Error(w, fmt.Sprintf("Error parsing 'parameters': %v", err), 400)
			return
		}
	}

	store := lookupJobStore(conf)

	job := &jobstore.Job{
		ID:         jobstore.NewJobID(),
		NameSpace:  conf.ServiceConfig.NameSpace,
		Identifier: fnConf.Identifier,
		Status:     jobstore.JobAccepted,
		Submitted:  time.Now().UTC().Format(wps.ISOFormat),
	}
	err = store.Put(job)
	if err != nil {
		Error.Printf("Execute %s: job store error: %v", fnConf.Identifier, err)
	}

	templateName := fnConf.ReportTemplate
	if len(templateName) == 0 {
		templateName = catalog.DefaultReportTemplate
	}

	task := &proc.ExecTask{
		Function:     newCatalogFunction(conf, fnConf),
		Values:       values,
		TemplateRoot: utils.DataDir + "/templates",
		TemplateName: templateName,
	}

	metricsCollector.Info.WPS.ProcessID = fnConf.Identifier
	metricsCollector.Info.WPS.URL.RawURL = fnConf.ServiceURL
	metricsCollector.Info.WPS.JobID = job.ID

	go runJob(store, job, task, fnConf)

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{ "job_id": %q, "status": %q }`, job.ID, job.Status)
}

// runJob drives one execution through the pipeline and records the
// outcome on the job. The deadline bounds total polling time so a
// server stuck on ProcessStarted cannot pin a goroutine forever.
// The job instance is private to this goroutine; every state change
// is published through store.Put.
func runJob(store *jobstore.Store, job *jobstore.Job, task *proc.ExecTask, fnConf *utils.FunctionConfig) {
	interval := fnConf.PollInterval()
	if interval <= 0 {
		interval = wps.DefaultPollInterval
	}
	deadline := time.Duration(fnConf.MaxPolls)*interval + time.Duration(fnConf.TimeoutSecs)*time.Second

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	metricsCollector := metrics.NewMetricsCollector(metricsLogger)
	defer metricsCollector.Log()
	t0 := time.Now()
	metricsCollector.Info.ReqTime = t0.Format(wps.ISOFormat)
	metricsCollector.Info.WPS.ProcessID = job.Identifier
	metricsCollector.Info.WPS.JobID = job.ID
	metricsCollector.Info.WPS.URL.RawURL = fnConf.ServiceURL
	defer func() { metricsCollector.Info.WPS.Duration = time.Since(t0) }()

	job.Status = jobstore.JobRunning
	store.Put(job)

	errChan := make(chan error, 100)
	pipeline := proc.InitExecPipeline(ctx, errChan)
	itemChan := pipeline.Process(task, *verbose)

	item, perr := pipeline.Outcome(itemChan)
	if perr != nil {
		Error.Printf("job %s (%s): %v", job.ID, job.Identifier, perr)
		job.Status = jobstore.JobFailed
		job.Error = perr.Error()
	} else {
		job.Item = item
		if item.Failed {
			job.Status = jobstore.JobFailed
			job.Error = item.ShortReports[len(item.ShortReports)-1].Content
		} else {
			job.Status = jobstore.JobSucceeded
		}
	}

	metricsCollector.Info.WPS.FinalState = job.Status
	err := store.Put(job)
	if err != nil {
		Error.Printf("job %s (%s): job store error: %v", job.ID, job.Identifier, err)
	}

	if *verbose {
		Info.Printf("job %s (%s) finished: %s", job.ID, job.Identifier, job.Status)
	}
}

func serveGetJobStatus(params utils.GatewayParams, conf *utils.Config, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	if params.JobID == nil {
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, "GetJobStatus requires a 'job_id' parameter", 400)
		return
	}

	job, found := lookupJobStore(conf).Get(*params.JobID)
	if !found {
		metricsCollector.Info.HTTPStatus = 404
		http.Error(w, fmt.Sprintf("job %s not found", *params.JobID), 404)
		return
	}

	metricsCollector.Info.WPS.ProcessID = job.Identifier
	metricsCollector.Info.WPS.JobID = job.ID

	payload, err := json.Marshal(job)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 500
		http.Error(w, err.Error(), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func generalHandler(conf *utils.Config, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	if *verbose {
		Info.Printf("%s\n", r.URL.String())
	}
	ctx := r.Context()

	metricsCollector := metrics.NewMetricsCollector(metricsLogger)
	defer metricsCollector.Log()

	t0 := time.Now()
	metricsCollector.Info.ReqTime = t0.Format(wps.ISOFormat)
	defer func() { metricsCollector.Info.ReqDuration = time.Since(t0) }()

	reqUrl, e := url.QueryUnescape(r.URL.String())
	if e == nil {
		metricsCollector.Info.URL.RawURL = reqUrl
	} else {
		metricsCollector.Info.URL.RawURL = r.URL.String()
	}

	remoteAddr := utils.ParseRemoteAddr(r)
	metricsCollector.Info.RemoteAddr = remoteAddr
	metricsCollector.Info.HTTPStatus = 200

	if r.Method != "GET" {
		metricsCollector.Info.HTTPStatus = 405
		http.Error(w, "gateway requests are GET only", 405)
		return
	}

	query, err := utils.ParseQuery(r.URL.RawQuery)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, fmt.Sprintf("Failed to parse query: %v", err), 400)
		return
	}

	params, err := utils.GatewayParamsChecker(query, reGatewayMap)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, fmt.Sprintf("Wrong gateway parameters on URL: %s", err), 400)
		return
	}

	switch *params.Request {
	case "GetFunctions":
		serveGetFunctions(conf, w, metricsCollector)
	case "DescribeFunction":
		serveDescribeFunction(ctx, params, conf, w, metricsCollector)
	case "Execute":
		serveExecute(params, conf, query, w, metricsCollector)
	case "GetJobStatus":
		serveGetJobStatus(params, conf, w, metricsCollector)
	default:
		metricsCollector.Info.HTTPStatus = 400
		http.Error(w, fmt.Sprintf("Not a valid gateway request. URL %s does not contain a valid 'request' parameter.", r.URL.String()), 400)
		return
	}
}

// lookupNamespace maps the empty root namespace back onto the
// configMap key used by LoadAllConfigFiles.
func lookupNamespace(ns string) string {
	if len(ns) == 0 {
		return "."
	}
	return ns
}

func gatewayHandler(w http.ResponseWriter, r *http.Request) {
	namespace := "."
	if len(r.URL.Path) > len("/gateway/") {
		namespace = r.URL.Path[len("/gateway/"):]
	}
	config, ok := configMap[namespace]
	if !ok {
		Info.Printf("Invalid gateway namespace: %v for url: %v\n", namespace, r.URL.Path)
		http.Error(w, fmt.Sprintf("Invalid gateway namespace: %v\n", namespace), 404)
		return
	}
	generalHandler(config, w, r)
}

func main() {
	http.HandleFunc("/gateway", gatewayHandler)
	http.HandleFunc("/gateway/", gatewayHandler)

	maxConns := 0
	for _, conf := range configMap {
		if conf.ServiceConfig.MaxConns > maxConns {
			maxConns = conf.ServiceConfig.MaxConns
		}
	}

	listener, err := reuseport.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", *port))
	if err != nil {
		Error.Printf("Failed to listen on port %d: %v", *port, err)
		panic(err)
	}

	if maxConns > 0 {
		listener = netutil.LimitListener(listener, maxConns)
	}

	Info.Printf("Terria WPS gateway is ready")
	log.Fatal(http.Serve(listener, nil))
}
