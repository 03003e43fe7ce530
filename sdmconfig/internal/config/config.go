package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/barnettlynn/sdmkit/pkg/ntag424"
)

type ValidationMode int

const (
	ValidationFull ValidationMode = iota
	ValidationAuthDiag
	ValidationInspect
	ValidationRotate
)

const (
	TransportPCSC  = "pcsc"
	TransportPN532 = "pn532"
)

const (
	HandshakeIVZero    = "zero"
	HandshakeIVChained = "chained"
)

type Config struct {
	Transport TransportConfig `yaml:"transport"`
	SDM       SDMConfig       `yaml:"sdm"`
	Auth      AuthConfig      `yaml:"auth"`
	Rotate    RotateConfig    `yaml:"rotate"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

type TransportConfig struct {
	Kind        string `yaml:"kind"`
	ReaderIndex *int   `yaml:"reader_index"`
	Device      string `yaml:"device"`
}

type SDMConfig struct {
	CandidateFiles []int  `yaml:"candidate_files"`
	EncLength      *int   `yaml:"enc_length"`
	CtrLength      *int   `yaml:"ctr_length"`
	MacLength      *int   `yaml:"mac_length"`
	TemplateURL    string `yaml:"template_url"`
}

type AuthConfig struct {
	SettingsKeyNo      *int   `yaml:"settings_key_no"`
	SettingsKeyHexFile string `yaml:"settings_key_hex_file"`
	MasterKeyHexFile   string `yaml:"master_key_hex_file"`
	PromptMasterKey    *bool  `yaml:"prompt_master_key"`
	// HandshakeIV is "zero" (NXP silicon, AN12196) or "chained".
	HandshakeIV string `yaml:"handshake_iv"`
}

type RotateConfig struct {
	KeyNo         *int   `yaml:"key_no"`
	Version       *int   `yaml:"version"`
	OldKeyHexFile string `yaml:"old_key_hex_file"`
}

type RuntimeConfig struct {
	DryRun *bool `yaml:"dry_run"`
}

func Load(path string) (*Config, error) {
	return LoadWithMode(path, ValidationFull)
}

func LoadWithMode(path string, mode ValidationMode) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	cfg.applyDefaults()
	if err := cfg.ValidateWithMode(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return c.ValidateWithMode(ValidationFull)
}

func (c *Config) ValidateWithMode(mode ValidationMode) error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	switch mode {
	case ValidationInspect:
		return nil
	case ValidationAuthDiag:
		return c.validateAuthDiagMode()
	case ValidationRotate:
		return c.validateRotateMode()
	case ValidationFull:
		return c.validateFullMode()
	default:
		return fmt.Errorf("unsupported validation mode: %d", mode)
	}
}

// CandidateFiles returns the files searched for the NDEF record.
func (c *Config) CandidateFiles() []byte {
	out := make([]byte, len(c.SDM.CandidateFiles))
	for i, f := range c.SDM.CandidateFiles {
		out[i] = byte(f)
	}
	return out
}

// HandshakeIV returns the EV2First IV mode for auth.handshake_iv.
func (c *Config) HandshakeIV() ntag424.HandshakeIV {
	if c.Auth.HandshakeIV == HandshakeIVChained {
		return ntag424.ChainedIV
	}
	return ntag424.ZeroIV
}

// DryRun reports whether writes to the tag are suppressed.
func (c *Config) DryRun() bool {
	return c.Runtime.DryRun != nil && *c.Runtime.DryRun
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Transport.Kind) == "" {
		c.Transport.Kind = TransportPCSC
	}
	if strings.TrimSpace(c.Auth.HandshakeIV) == "" {
		c.Auth.HandshakeIV = HandshakeIVZero
	}
	if len(c.SDM.CandidateFiles) == 0 {
		for _, f := range ntag424.DefaultCandidateFiles {
			c.SDM.CandidateFiles = append(c.SDM.CandidateFiles, int(f))
		}
	}
	setDefault(&c.SDM.EncLength, ntag424.DefaultEncLength)
	setDefault(&c.SDM.CtrLength, ntag424.DefaultCtrLength)
	setDefault(&c.SDM.MacLength, ntag424.DefaultMacLength)
}

func setDefault(p **int, v int) {
	if *p == nil {
		*p = &v
	}
}

func (c *Config) validateCommon() error {
	switch c.Transport.Kind {
	case TransportPCSC:
		if c.Transport.ReaderIndex == nil {
			return fmt.Errorf("config.transport.reader_index is required")
		}
		if *c.Transport.ReaderIndex < 0 {
			return fmt.Errorf("config.transport.reader_index must be >= 0")
		}
	case TransportPN532:
		if strings.TrimSpace(c.Transport.Device) == "" {
			return fmt.Errorf("config.transport.device is required for pn532")
		}
	default:
		return fmt.Errorf("config.transport.kind must be %q or %q, got %q", TransportPCSC, TransportPN532, c.Transport.Kind)
	}
	switch c.Auth.HandshakeIV {
	case HandshakeIVZero, HandshakeIVChained:
	default:
		return fmt.Errorf("config.auth.handshake_iv must be %q or %q, got %q", HandshakeIVZero, HandshakeIVChained, c.Auth.HandshakeIV)
	}
	return nil
}

func (c *Config) validateAuthDiagMode() error {
	if c.Auth.SettingsKeyNo == nil {
		return fmt.Errorf("config.auth.settings_key_no is required")
	}
	if *c.Auth.SettingsKeyNo < 0 || *c.Auth.SettingsKeyNo > 4 {
		return fmt.Errorf("config.auth.settings_key_no must be 0..4")
	}
	if strings.TrimSpace(c.Auth.SettingsKeyHexFile) == "" {
		return fmt.Errorf("config.auth.settings_key_hex_file is required")
	}
	if err := validateReadableFile(c.Auth.SettingsKeyHexFile, "config.auth.settings_key_hex_file"); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateFullMode() error {
	if err := c.validateAuthDiagMode(); err != nil {
		return err
	}

	for _, f := range c.SDM.CandidateFiles {
		if f < 0 || f > 0x1F {
			return fmt.Errorf("config.sdm.candidate_files entries must be 0..31, got %d", f)
		}
	}
	for name, v := range map[string]int{
		"enc_length": *c.SDM.EncLength,
		"ctr_length": *c.SDM.CtrLength,
		"mac_length": *c.SDM.MacLength,
	} {
		if v <= 0 || v > 0xFF {
			return fmt.Errorf("config.sdm.%s must be 1..255", name)
		}
	}

	if strings.TrimSpace(c.SDM.TemplateURL) != "" {
		parsedURL, err := url.Parse(c.SDM.TemplateURL)
		if err != nil {
			return fmt.Errorf("config.sdm.template_url is invalid: %w", err)
		}
		if parsedURL.Scheme == "" || parsedURL.Host == "" {
			return fmt.Errorf("config.sdm.template_url must be absolute (include scheme and host)")
		}
	}
	return nil
}

func (c *Config) validateRotateMode() error {
	if err := c.validateAuthDiagMode(); err != nil {
		return err
	}

	if c.Rotate.KeyNo == nil {
		return fmt.Errorf("config.rotate.key_no is required")
	}
	if *c.Rotate.KeyNo < 0 || *c.Rotate.KeyNo > 4 {
		return fmt.Errorf("config.rotate.key_no must be 0..4")
	}
	if c.Rotate.Version == nil {
		return fmt.Errorf("config.rotate.version is required")
	}
	if *c.Rotate.Version < 0 || *c.Rotate.Version > 0xFF {
		return fmt.Errorf("config.rotate.version must be 0..255")
	}
	if strings.TrimSpace(c.Rotate.OldKeyHexFile) != "" {
		if err := validateReadableFile(c.Rotate.OldKeyHexFile, "config.rotate.old_key_hex_file"); err != nil {
			return err
		}
	}

	prompt := c.Auth.PromptMasterKey != nil && *c.Auth.PromptMasterKey
	hasFile := strings.TrimSpace(c.Auth.MasterKeyHexFile) != ""
	switch {
	case prompt && hasFile:
		return fmt.Errorf("config.auth.master_key_hex_file and config.auth.prompt_master_key are mutually exclusive")
	case hasFile:
		return validateReadableFile(c.Auth.MasterKeyHexFile, "config.auth.master_key_hex_file")
	case !prompt:
		return fmt.Errorf("config.auth.master_key_hex_file or config.auth.prompt_master_key is required")
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Auth.SettingsKeyHexFile = resolvePath(configDir, c.Auth.SettingsKeyHexFile)
	c.Auth.MasterKeyHexFile = resolvePath(configDir, c.Auth.MasterKeyHexFile)
	c.Rotate.OldKeyHexFile = resolvePath(configDir, c.Rotate.OldKeyHexFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
