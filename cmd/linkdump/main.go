// Command linkdump connects to one gateway's serial link and writes
// every decoded inbound frame that the link buffers to a JSONL file
// (GTIME and STIME_ACK/STIME_NACK are handled inline by the link and
// are not recorded), the serial-link equivalent of
// cmd/ami-events-logger's AMI capture tool.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leehonan/meterman-server/internal/codec"
	"github.com/leehonan/meterman-server/internal/link"
)

// logEntry is one JSONL record.
type logEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      codec.MessageType `json:"type"`
	Header    codec.Record      `json:"header,omitempty"`
	Details   []codec.Record    `json:"details,omitempty"`
}

func main() {
	port := flag.String("port", "", "serial port device, e.g. /dev/ttyUSB0")
	baud := flag.Int("baud", 115200, "serial baud rate")
	networkID := flag.String("network-id", "0.0.1.1", "network id to stamp on the link")
	gatewayID := flag.String("gateway-id", "1", "gateway id to stamp on the link")
	outputPath := flag.String("output", "link-dump.jsonl", "output file path (JSONL format)")
	duration := flag.Duration("duration", 0, "stop after this duration (0 = run until interrupted)")
	verbose := flag.Bool("verbose", false, "also log each frame to stderr in addition to the file")
	flag.Parse()

	if *port == "" {
		log.Fatal("linkdump: -port is required")
	}

	transport, err := link.OpenSerial(*port, *baud)
	if err != nil {
		log.Fatalf("linkdump: %v", err)
	}
	defer transport.Close()

	outFile, err := os.Create(*outputPath)
	if err != nil {
		log.Fatalf("linkdump: create output file: %v", err)
	}
	defer outFile.Close()
	encoder := json.NewEncoder(outFile)

	l := link.New(*networkID, *gatewayID, transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), *duration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("linkdump: received interrupt signal, stopping...")
		cancel()
	}()

	go func() {
		if err := l.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("linkdump: link run error: %v", err)
		}
	}()

	log.Printf("linkdump: capturing %s.%s on %s, writing to %s", *networkID, *gatewayID, *port, *outputPath)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var after link.Key
	count := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(startTime)
			log.Printf("linkdump: shutdown complete, duration=%v frames=%d", elapsed.Round(time.Second), count)
			return
		case <-ticker.C:
			entries, next := l.Buffer.Drain(after)
			after = next
			for _, e := range entries {
				count++
				entry := logEntry{Timestamp: time.Now(), Type: e.Frame.Type, Header: e.Frame.Header}
				entry.Details = append(entry.Details, e.Frame.Details...)
				if err := encoder.Encode(entry); err != nil {
					log.Printf("linkdump: encode entry: %v", err)
					continue
				}
				if *verbose {
					log.Printf("frame: %s %v", entry.Type, entry.Header)
				}
			}
		}
	}
}
