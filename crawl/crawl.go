package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	harv "github.com/earthlaws/terriajs/crawl/harvester"
	"github.com/earthlaws/terriajs/utils"
)

func ensure(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	inventoryFile := flag.String("conf", "inventory.yaml", "Endpoint inventory file.")
	conc := flag.Int("c", 4, "Concurrent endpoint crawls.")
	timeout := flag.Int("timeout", utils.DefaultTimeoutSecs, "Per request timeout in seconds.")
	validate := flag.Bool("validate", false, "Describe every harvested process and drop unusable ones.")
	verbose := flag.Bool("v", false, "Verbose mode for more outputs.")
	flag.Parse()

	inv, err := harv.LoadInventory(*inventoryFile)
	ensure(err)

	harvester := harv.NewHarvester(*conc, time.Duration(*timeout)*time.Second, *verbose)
	harvester.Validate = *validate
	functions, errs := harvester.Harvest(context.Background(), inv)
	for _, e := range errs {
		log.Printf("crawl: %v", e)
	}

	if len(functions) == 0 {
		log.Fatal("crawl: no processes harvested")
	}

	config := &utils.Config{Functions: functions}
	out, err := json.MarshalIndent(config, "", "  ")
	ensure(err)

	_, err = os.Stdout.Write(out)
	ensure(err)
	os.Stdout.Write([]byte("\n"))
}
