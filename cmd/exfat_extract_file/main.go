package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/go-forensics/exfat"
)

type rootParameters struct {
	FilesystemFilepath string `short:"f" long:"filesystem-filepath" description:"File-path of exFAT filesystem" required:"true"`
	ExtractFilepath    string `short:"e" long:"extract-filepath" description:"File-path to extract (use forward slashes)" required:"true"`
	OutputFilepath     string `short:"o" long:"output-filepath" description:"File-path to write to ('-' for STDOUT)" required:"true"`
}

var (
	rootArguments = new(rootParameters)
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	f, err := os.Open(rootArguments.FilesystemFilepath)
	log.PanicIf(err)

	defer f.Close()

	volume, err := exfat.Open(f, exfat.DefaultWarner)
	log.PanicIf(err)

	data, err := volume.ReadPath(rootArguments.ExtractFilepath)
	if exfat.IsNotFound(err) {
		fmt.Printf("File not found.\n")
		os.Exit(2)
	}
	log.PanicIf(err)

	var g *os.File

	if rootArguments.OutputFilepath == "-" {
		g = os.Stdout
	} else {
		g, err = os.Create(rootArguments.OutputFilepath)
		log.PanicIf(err)

		defer g.Close()
	}

	_, err = g.Write(data)
	log.PanicIf(err)

	if rootArguments.OutputFilepath != "-" {
		fmt.Printf("(%d) bytes written.\n", len(data))
	}
}
