// Command mididebugsrv runs the httpdebug server standalone: point a
// browser or curl at it to see how this module parses a file.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/anselm-k/fmidi/httpdebug"
	"github.com/anselm-k/fmidi/smf"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	maxSize := flag.Int("max-size", smf.DefaultMaxSize, "maximum accepted upload size in bytes")
	flag.Parse()

	log.Printf("mididebugsrv: listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, httpdebug.NewServer(*maxSize)))
}
