package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"rgbd-stream-go/internal/output"
	"rgbd-stream-go/internal/types"
)

var errLimit = errors.New("limit reached")

func main() {
	var (
		path  = flag.String("path", "", "Path to rawlog .bin file")
		limit = flag.Int("limit", 1, "Number of records to dump")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer f.Close()

	count := 0
	err = output.ReadRawLog(f, func(entry output.RawLogEntry) error {
		if *limit > 0 && count >= *limit {
			return errLimit
		}
		defer func() { count++ }()

		rec, err := output.DecodeResponse(entry.Payload)
		if err != nil {
			log.Printf("record %d: CBOR decode error: %v", count, err)
			return nil
		}
		fmt.Printf("record %d @ %s: kind=%s transfer=%s size=%d\n",
			count, entry.Timestamp.Format(time.RFC3339Nano), rec.Kind, rec.TransferID, len(rec.Payload))

		if rec.Kind != "capture_list" {
			return nil
		}
		list, err := types.ParseCaptureList(rec.Payload)
		if err != nil {
			log.Printf("record %d: %v", count, err)
			return nil
		}
		pretty, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			log.Printf("record %d: JSON encode error: %v", count, err)
			return nil
		}
		fmt.Println(string(pretty))
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		log.Fatalf("read rawlog: %v", err)
	}
}
