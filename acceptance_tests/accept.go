package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	proc "github.com/earthlaws/terriajs/processor"

	"golang.org/x/crypto/ssh/terminal"
)

var gw_funcs string = "http://%s/gateway?request=GetFunctions"
var gw_descr string = "http://%s/gateway?request=DescribeFunction&identifier=%s"
var gw_exec string = "http://%s/gateway?request=Execute&identifier=%s&parameters=%s"
var gw_status string = "http://%s/gateway?request=GetJobStatus&job_id=%s"
var wps_caps string = "http://%s/wps?service=WPS&request=GetCapabilities&version=1.0.0"
var wps_descr string = "http://%s/wps?service=WPS&request=DescribeProcess&version=1.0.0&Identifier=%s"

var passed string = "Passed"
var failed string = "Failed"

func GetOK(req string, args ...interface{}) bool {
	resp, err := http.Get(fmt.Sprintf(req, args...))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return false
	}

	return true
}

// Execute submits every payload file under payloadPath concurrently
// and polls each resulting job until it leaves the running states.
func Execute(host, identifier, payloadPath string, concLevel int) (bool, time.Duration) {
	start := time.Now()

	out := true

	conc := proc.NewConcLimiter(concLevel)
	results := make(chan bool)
	defer close(results)
	go func() {
		for res := range results {
			if res == false {
				out = false
			}
		}
	}()

	files, _ := ioutil.ReadDir(payloadPath)
	for _, fName := range files {
		conc.Increase()
		go func(fPath string) {
			results <- RunJob(host, identifier, fPath)
			conc.Decrease()
		}(payloadPath + fName.Name())
	}
	conc.Wait()
	time.Sleep(100 * time.Millisecond)

	return out, time.Since(start)
}

func RunJob(host, identifier, fileName string) bool {
	payload, err := ioutil.ReadFile(fileName)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := http.Get(fmt.Sprintf(gw_exec, host, identifier, url.QueryEscape(string(payload))))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return false
	}

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}

	var job struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if json.Unmarshal(body, &job) != nil || len(job.JobID) == 0 {
		fmt.Println(string(body))
		return false
	}

	for i := 0; i < 600; i++ {
		time.Sleep(500 * time.Millisecond)

		resp, err := http.Get(fmt.Sprintf(gw_status, host, job.JobID))
		if err != nil {
			log.Fatal(err)
		}
		body, _ := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != 200 {
			return false
		}

		if json.Unmarshal(body, &job) != nil {
			fmt.Println(string(body))
			return false
		}

		if job.Status == "succeeded" {
			return true
		}
		if job.Status == "failed" {
			fmt.Println(string(body))
			return false
		}
	}

	return false
}

func inRed(str string) string {
	return fmt.Sprintf("\x1b[31;1m%s\x1b[0m", str)
}

func inGreen(str string) string {
	return fmt.Sprintf("\x1b[32;1m%s\x1b[0m", str)
}

func main() {
	host := flag.String("h", "localhost:8080", "Gateway host name or address")
	suite := flag.String("s", "gateway", "Test suite [gateway, wps]")
	identifier := flag.String("i", "geometryDrill", "Function identifier to exercise")
	conc := flag.Int("n", 6, "Concurrency level for acceptance tests")
	flag.Parse()

	var t time.Duration
	var ok bool

	if terminal.IsTerminal(int(os.Stdout.Fd())) {
		passed = inGreen(passed)
		failed = inRed(failed)
	}

	switch *suite {
	case "gateway":
		fmt.Printf("Testing gateway GetFunctions: ")
		if !GetOK(gw_funcs, *host) {
			fmt.Println(failed)
			os.Exit(1)
		}
		fmt.Println(passed)

		fmt.Printf("Testing gateway DescribeFunction: ")
		if !GetOK(gw_descr, *host, *identifier) {
			fmt.Println(failed)
			os.Exit(1)
		}
		fmt.Println(passed)

		fmt.Printf("Testing gateway Execute: ")
		if ok, t = Execute(*host, *identifier, "exec_requests/", *conc); !ok {
			fmt.Println(failed)
			os.Exit(1)
		}
		fmt.Println(passed, t)
	case "wps":
		fmt.Printf("Testing WPS GetCapabilities: ")
		if !GetOK(wps_caps, *host) {
			fmt.Println(failed)
			os.Exit(1)
		}
		fmt.Println(passed)

		fmt.Printf("Testing WPS DescribeProcess: ")
		if !GetOK(wps_descr, *host, *identifier) {
			fmt.Println(failed)
			os.Exit(1)
		}
		fmt.Println(passed)
	}
}
