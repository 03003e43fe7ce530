package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/barnettlynn/sdmkit/pkg/ntag424"
	"github.com/barnettlynn/sdmkit/sdmconfig/internal/config"
)

// runRotate replaces rotate.key_no with the key derived from the master key
// and the tag UID. Keys are never printed.
func runRotate(configPath string) {
	cfg, err := config.LoadWithMode(configPath, config.ValidationRotate)
	if err != nil {
		log.Fatalf("config load failed (rotate mode): %v", err)
	}

	settingsKey, err := ntag424.LoadKeyHexFile(cfg.Auth.SettingsKeyHexFile)
	if err != nil {
		log.Fatalf("settings key file invalid: %v", err)
	}
	masterKey, err := loadMasterKey(cfg)
	if err != nil {
		log.Fatalf("master key unavailable: %v", err)
	}
	oldKey := ntag424.DefaultKey()
	if strings.TrimSpace(cfg.Rotate.OldKeyHexFile) != "" {
		if oldKey, err = ntag424.LoadKeyHexFile(cfg.Rotate.OldKeyHexFile); err != nil {
			log.Fatalf("old key file invalid: %v", err)
		}
	}

	card, desc, err := openCard(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer card.Close()
	fmt.Printf("Using %s\n", desc)

	uid, err := ntag424.GetUID(card)
	if err != nil {
		log.Fatalf("read UID failed: %v", err)
	}
	newKey, err := ntag424.DeriveDynamicKey(masterKey, uid)
	if err != nil {
		log.Fatalf("derive key failed: %v", err)
	}

	if err := ntag424.SelectNDEFApp(card); err != nil {
		log.Fatalf("SELECT NDEF app failed: %v", err)
	}

	slot := byte(*cfg.Rotate.KeyNo)
	version := byte(*cfg.Rotate.Version)
	authSlot := byte(*cfg.Auth.SettingsKeyNo)
	fmt.Printf("UID %X: rotate slot %d to version %d (auth slot %d)\n", uid, slot, version, authSlot)
	if cfg.DryRun() {
		fmt.Println("Skipping ChangeKey (dry run)")
		return
	}

	sess, usedDefault, err := authenticateWithFallback(card, settingsKey, authSlot, ntag424.WithHandshakeIV(cfg.HandshakeIV()))
	if err != nil {
		log.Fatalf("auth EV2First failed: %v", err)
	}
	defer sess.Close()
	if usedDefault {
		fmt.Printf("Authenticated slot %d with the factory default key\n", authSlot)
	}

	if slot == authSlot {
		err = ntag424.RotateKey(card, sess, slot, newKey, version)
	} else {
		err = ntag424.ChangeKey(card, sess, slot, newKey, oldKey, version)
	}
	if err != nil {
		log.Fatalf("ChangeKey failed: %v", err)
	}
	fmt.Printf("Slot %d rotated to version %d\n", slot, version)

	// The new key must open a fresh session.
	check, err := ntag424.AuthenticateEV2First(card, newKey, slot, ntag424.WithHandshakeIV(cfg.HandshakeIV()))
	if err != nil {
		log.Fatalf("verify new key on slot %d failed: %v", slot, err)
	}
	check.Close()
	fmt.Println("\nDone")
}
