package main

// Serve a scripted accounting backend for local development:
//   go run ./cmd/fakebackend -addr :8000

import (
	"log"

	flag "github.com/spf13/pflag"

	"sunat-client/internal/fakebackend"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	flag.Parse()

	srv := fakebackend.New(fakebackend.WithDemoBooks())
	log.Printf("Starting fake backend on %s (base path /api/v1)", *addr)
	if err := srv.Handler().Run(*addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
