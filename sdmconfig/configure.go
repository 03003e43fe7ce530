package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/barnettlynn/sdmkit/pkg/ntag424"
	"github.com/barnettlynn/sdmkit/sdmconfig/internal/config"
)

func runConfigure(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	settingsKey, err := ntag424.LoadKeyHexFile(cfg.Auth.SettingsKeyHexFile)
	if err != nil {
		log.Fatalf("settings key file invalid: %v", err)
	}
	encLen, ctrLen, macLen := *cfg.SDM.EncLength, *cfg.SDM.CtrLength, *cfg.SDM.MacLength

	card, desc, err := openCard(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer card.Close()
	fmt.Printf("Using %s\n", desc)

	if cfg.SDM.TemplateURL != "" {
		file, fullURL, err := ntag424.BuildSDMTemplate(cfg.SDM.TemplateURL, encLen, ctrLen, macLen)
		if err != nil {
			log.Fatalf("build SDM template failed: %v", err)
		}
		fmt.Printf("SDM URL template: %s\n", fullURL)
		if cfg.DryRun() {
			fmt.Println("Skipping NDEF template write (dry run)")
		} else {
			if err := ntag424.WriteNDEFPlain(card, file); err != nil {
				log.Fatalf("write NDEF template failed: %v", err)
			}
			fmt.Println("NDEF template written")
		}
	}

	if err := ntag424.SelectNDEFApp(card); err != nil {
		log.Fatalf("SELECT NDEF app failed: %v", err)
	}

	plan, err := ntag424.ConfigureSDM(card, cfg.CandidateFiles(), encLen, ctrLen, macLen)
	if err != nil {
		log.Fatalf("compute SDM plan failed: %v", err)
	}
	printPlan(plan)

	if cfg.DryRun() {
		fmt.Println("\nSkipping ChangeFileSettings (dry run)")
		return
	}

	keyNo := byte(*cfg.Auth.SettingsKeyNo)
	sess, usedDefault, err := authenticateWithFallback(card, settingsKey, keyNo, ntag424.WithHandshakeIV(cfg.HandshakeIV()))
	if err != nil {
		log.Fatalf("settings auth EV2First failed: %v", err)
	}
	if usedDefault {
		fmt.Printf("Authenticated slot %d with the factory default key\n", keyNo)
	}
	defer sess.Close()

	if err := ntag424.RewriteFileSettings(card, sess, plan.FileNo, plan.Payload); err != nil {
		log.Fatalf("ChangeFileSettings failed: %v", err)
	}
	fmt.Println("ChangeFileSettings OK")

	if err := verifyPlan(card, plan); err != nil {
		log.Fatalf("verify settings failed: %v", err)
	}
	fmt.Println("\nDone")
}

func printPlan(plan *ntag424.SDMPlan) {
	rec, err := ntag424.ParseShortURIRecord(plan.NDEF)
	if err == nil {
		if uri, err := rec.URI(); err == nil {
			fmt.Printf("NDEF file %d URI: %s\n", plan.FileNo, uri)
		}
	}
	fmt.Printf("SDM offsets: %s\n\n", plan.Offsets)

	if fs, err := ntag424.ParseFileSettings(plan.Original); err == nil {
		ntag424.PrintFileSettings(os.Stdout, "CURRENT", plan.FileNo, fs)
		fmt.Println()
	} else {
		slog.Warn("current settings not decodable", "file_no", plan.FileNo, "error", err)
	}
	if fs, err := ntag424.ParseFileSettings(plan.Patched); err == nil {
		ntag424.PrintFileSettings(os.Stdout, "PATCHED", plan.FileNo, fs)
	}
}

// verifyPlan reads the settings back and checks the offsets the tag now reports.
func verifyPlan(card ntag424.Card, plan *ntag424.SDMPlan) error {
	raw, err := ntag424.GetFileSettings(card, plan.FileNo)
	if err != nil {
		return fmt.Errorf("could not read final file settings: %w", err)
	}
	fs, err := ntag424.ParseFileSettings(raw)
	if err != nil {
		return err
	}
	fmt.Println()
	ntag424.PrintFileSettings(os.Stdout, "FINAL", plan.FileNo, fs)

	off := plan.Offsets
	if fs.CtrOffset != off.CtrOffset || fs.ENCOffset != off.EncOffset || fs.ENCLength != off.EncLength || fs.MACOffset != off.MacOffset {
		return fmt.Errorf("tag reports %06X/%06X+%d/%06X, expected %s",
			fs.CtrOffset, fs.ENCOffset, fs.ENCLength, fs.MACOffset, off)
	}
	return nil
}
