package main

import (
	"fmt"
	"log"

	"github.com/barnettlynn/sdmkit/pkg/ntag424"
	"github.com/barnettlynn/sdmkit/sdmconfig/internal/config"
)

// keySlots is the number of application keys on an NTAG 424 DNA.
const keySlots = 5

func runAuthDiagnostics(configPath string) {
	cfg, err := config.LoadWithMode(configPath, config.ValidationAuthDiag)
	if err != nil {
		log.Fatalf("config load failed (diag mode): %v", err)
	}

	settingsKey, err := ntag424.LoadKeyHexFile(cfg.Auth.SettingsKeyHexFile)
	if err != nil {
		log.Fatalf("settings key file invalid: %v", err)
	}

	card, desc, err := openCard(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer card.Close()

	if err := ntag424.SelectNDEFApp(card); err != nil {
		log.Fatalf("SELECT NDEF app failed: %v", err)
	}

	fmt.Printf("Running EV2 auth diagnostics on %s\n", desc)
	fmt.Printf("Configured settings slot: %d (handshake IV %s)\n", *cfg.Auth.SettingsKeyNo, cfg.HandshakeIV())

	ivOpt := ntag424.WithHandshakeIV(cfg.HandshakeIV())
	slots := make([]byte, keySlots)
	for i := range slots {
		slots[i] = byte(i)
	}
	printDiagnostics(ntag424.DiagnoseAuthSlots(card, settingsKey, slots, ivOpt), *cfg.Auth.SettingsKeyNo)

	defaults := ntag424.DiagnoseAuthSlots(card, ntag424.DefaultKey(), slots, ivOpt)
	for _, r := range defaults {
		if r.Success {
			fmt.Printf("factory_key_slot=%02d\n", r.Slot)
		}
	}
}

func printDiagnostics(results []ntag424.AuthSlotResult, configured int) {
	matches := make([]int, 0)
	for _, r := range results {
		if r.Success {
			fmt.Printf("slot=%02d status=ok\n", r.Slot)
			matches = append(matches, int(r.Slot))
			continue
		}
		if r.Step != "" {
			fmt.Printf("slot=%02d status=fail step=%s sw=%04X resp_len=%d key_mismatch=%t\n",
				r.Slot, r.Step, r.SW, r.RespLen, r.KeyMismatch())
			continue
		}
		fmt.Printf("slot=%02d status=fail err=%v\n", r.Slot, r.Err)
	}

	fmt.Printf("matches=%v\n", matches)
	if len(matches) > 0 {
		for _, m := range matches {
			if m == configured {
				return
			}
		}
		fmt.Printf("recommended_settings_key_no=%d\n", matches[0])
		return
	}

	fmt.Println("likely_causes=\"wrong key file, wrong tag, diversified key, or stale config\"")
}
