package main

import (
	"flag"
	"log"
	"os"

	"github.com/clarete/secd"
)

func main() {
	var (
		sourcePath = flag.String("source", "", "Path to the SECD program file")
		heapSize   = flag.Int("heap-size", 1<<16, "Heap size, in cells")
		tailcalls  = flag.Bool("tailcalls", true, "Enable tail-call elimination")
		trace      = flag.Bool("trace", false, "Log every opcode dispatched")
	)
	flag.Parse()

	if *sourcePath == "" {
		log.Fatal("Source file not informed")
	}

	src, err := os.ReadFile(*sourcePath)
	if err != nil {
		log.Fatalf("Can't read source file: %s", err.Error())
	}

	cfg := secd.NewConfig()
	cfg.SetInt("heap.size", *heapSize)
	cfg.SetBool("interp.tailcalls", *tailcalls)
	cfg.SetBool("trace.enabled", *trace)

	m, err := secd.NewMachine(cfg)
	if err != nil {
		log.Fatalf("Can't initialise machine: %s", err.Error())
	}

	result, err := secd.RunSource(m, src)
	if err != nil {
		log.Fatalf("Run failed: %s", err.Error())
	}

	log.Println(secd.PrintString(m.Heap, result))
}
