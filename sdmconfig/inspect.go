package main

import (
	"fmt"
	"log"
	"os"

	"github.com/barnettlynn/sdmkit/pkg/ntag424"
	"github.com/barnettlynn/sdmkit/sdmconfig/internal/config"
)

// runInspect prints what can be read from the tag without authentication.
func runInspect(configPath string) {
	cfg, err := config.LoadWithMode(configPath, config.ValidationInspect)
	if err != nil {
		log.Fatalf("config load failed (inspect mode): %v", err)
	}

	if cfg.Transport.Kind == config.TransportPCSC {
		readers, err := ntag424.ListReaders()
		if err != nil {
			log.Fatalf("list readers failed: %v", err)
		}
		for i, r := range readers {
			fmt.Printf("  [%d] %s\n", i, r)
		}
	}

	card, desc, err := openCard(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer card.Close()
	fmt.Printf("Inspecting tag on %s\n", desc)

	if uid, err := ntag424.GetUID(card); err == nil {
		fmt.Printf("UID: %X\n", uid)
	} else {
		fmt.Printf("UID: unavailable (%v)\n", err)
	}

	if err := ntag424.SelectNDEFApp(card); err != nil {
		log.Fatalf("SELECT NDEF app failed: %v", err)
	}

	if v, err := ntag424.GetVersion(card); err == nil {
		fmt.Printf("Version: %s\n", v)
	} else {
		fmt.Printf("Version: unavailable (%v)\n", err)
	}

	ids, err := ntag424.ListFileIDs(card)
	if err != nil {
		log.Fatalf("GetFileIDs failed: %v", err)
	}
	fmt.Printf("Files: % X\n\n", ids)

	for _, fileNo := range ids {
		raw, err := ntag424.GetFileSettings(card, fileNo)
		if err != nil {
			fmt.Printf("  File %d: settings unavailable (%v)\n\n", fileNo, err)
			continue
		}
		fs, err := ntag424.ParseFileSettings(raw)
		if err != nil {
			fmt.Printf("  File %d: %v (raw %X)\n\n", fileNo, err, raw)
			continue
		}
		ntag424.PrintFileSettings(os.Stdout, "CURRENT", fileNo, fs)
		fmt.Println()
	}

	fileNo, err := ntag424.AutoDetectNDEFFile(card, cfg.CandidateFiles())
	if err != nil {
		fmt.Printf("NDEF: %v\n", err)
		return
	}
	file, err := ntag424.ReadNDEFFile(card, fileNo)
	if err != nil {
		fmt.Printf("NDEF file %d: %v\n", fileNo, err)
		return
	}
	rec, err := ntag424.ParseShortURIRecord(file)
	if err != nil {
		fmt.Printf("NDEF file %d: %v\n", fileNo, err)
		return
	}
	if uri, err := rec.URI(); err == nil {
		fmt.Printf("NDEF file %d URI: %s\n", fileNo, uri)
	}
	off, err := ntag424.ComputeOffsets(file, *cfg.SDM.EncLength, *cfg.SDM.CtrLength, *cfg.SDM.MacLength)
	if err != nil {
		fmt.Printf("SDM offsets: %v\n", err)
		return
	}
	fmt.Printf("SDM offsets: %s\n", off)
}
