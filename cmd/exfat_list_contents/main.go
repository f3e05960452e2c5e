package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/go-forensics/exfat"
)

type rootParameters struct {
	Filepath       string `short:"f" long:"filepath" description:"File-path of exFAT filesystem" required:"true"`
	FilenameFilter string `short:"p" long:"pattern" description:"Filename filter"`
	ShowDetail     bool   `short:"d" long:"detail" description:"Show additional entry detail"`
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

	f, err := os.Open(rootArguments.Filepath)
	log.PanicIf(err)

	defer f.Close()

	volume, err := exfat.Open(f, exfat.DefaultWarner)
	log.PanicIf(err)

	cb := func(path string, fr exfat.FileRecord) error {
		if rootArguments.FilenameFilter != "" {
			isMatched, err := filepath.Match(rootArguments.FilenameFilter, fr.Name)
			if err != nil {
				return err
			}

			if !isMatched {
				return nil
			}
		}

		if rootArguments.ShowDetail {
			fmt.Printf("## %s\n", path)
			fmt.Printf("\n")
			fmt.Printf("%s\n", fr)
			fmt.Printf("\n")
		} else {
			fmt.Printf("%15s %30s %s\n", humanize.Comma(int64(fr.Size)), fr.LastModifiedTimestamp, path)
		}

		return nil
	}

	err = volume.Walk(cb)
	log.PanicIf(err)
}
