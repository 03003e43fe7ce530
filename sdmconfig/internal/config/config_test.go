package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnettlynn/sdmkit/pkg/ntag424"
)

func TestLoadValidFullConfigAndResolveRelativePaths(t *testing.T) {
	cfgPath := writeConfigWithKeys(t, `
transport:
  kind: pcsc
  reader_index: 1
sdm:
  candidate_files: [2, 3]
  enc_length: 32
  ctr_length: 6
  mac_length: 16
  template_url: "https://example.com/tap"
auth:
  settings_key_no: 0
  settings_key_hex_file: "settings.hex"
runtime:
  dry_run: true
`, "settings.hex")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(filepath.Dir(cfgPath), "settings.hex"), cfg.Auth.SettingsKeyHexFile)
	assert.Equal(t, []byte{2, 3}, cfg.CandidateFiles())
	assert.Equal(t, 1, *cfg.Transport.ReaderIndex)
	assert.True(t, cfg.DryRun())
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfgPath := writeConfigWithKeys(t, `
transport:
  reader_index: 0
auth:
  settings_key_no: 0
  settings_key_hex_file: "settings.hex"
`, "settings.hex")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, TransportPCSC, cfg.Transport.Kind)
	assert.Equal(t, []byte{0x02, 0x01, 0x03}, cfg.CandidateFiles())
	assert.Equal(t, 32, *cfg.SDM.EncLength)
	assert.Equal(t, 6, *cfg.SDM.CtrLength)
	assert.Equal(t, 16, *cfg.SDM.MacLength)
	assert.Equal(t, ntag424.ZeroIV, cfg.HandshakeIV())
	assert.False(t, cfg.DryRun())
}

func TestLoadHandshakeIV(t *testing.T) {
	cfgPath := writeConfig(t, `
transport:
  reader_index: 0
auth:
  handshake_iv: chained
`)
	cfg, err := LoadWithMode(cfgPath, ValidationInspect)
	require.NoError(t, err)
	assert.Equal(t, ntag424.ChainedIV, cfg.HandshakeIV())

	cfgPath = writeConfig(t, `
transport:
  reader_index: 0
auth:
  handshake_iv: random
`)
	_, err = LoadWithMode(cfgPath, ValidationInspect)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.auth.handshake_iv")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	cfgPath := writeConfig(t, `
transport:
  reader_index: 0
runtime:
  force_plain: true
`)

	_, err := LoadWithMode(cfgPath, ValidationInspect)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config yaml")
}

func TestLoadWithModeInspectNeedsOnlyTransport(t *testing.T) {
	cfgPath := writeConfig(t, `
transport:
  kind: pn532
  device: /dev/ttyUSB0
`)

	cfg, err := LoadWithMode(cfgPath, ValidationInspect)
	require.NoError(t, err)
	assert.Equal(t, TransportPN532, cfg.Transport.Kind)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Transport.Device)
}

func TestTransportValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "pcsc without reader index",
			yaml:    "transport:\n  kind: pcsc\n",
			wantErr: "config.transport.reader_index is required",
		},
		{
			name:    "negative reader index",
			yaml:    "transport:\n  reader_index: -1\n",
			wantErr: "config.transport.reader_index must be >= 0",
		},
		{
			name:    "pn532 without device",
			yaml:    "transport:\n  kind: pn532\n",
			wantErr: "config.transport.device is required",
		},
		{
			name:    "unknown kind",
			yaml:    "transport:\n  kind: usb\n",
			wantErr: "config.transport.kind must be",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithMode(writeConfig(t, tt.yaml), ValidationInspect)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWithModeAuthDiagAllowsMinimalConfig(t *testing.T) {
	cfgPath := writeConfigWithKeys(t, `
transport:
  reader_index: 0
auth:
  settings_key_no: 0
  settings_key_hex_file: "settings.hex"
`, "settings.hex")

	cfg, err := LoadWithMode(cfgPath, ValidationAuthDiag)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(cfgPath), "settings.hex"), cfg.Auth.SettingsKeyHexFile)
}

func TestLoadWithModeAuthDiagFailsWithoutSettingsKey(t *testing.T) {
	cfgPath := writeConfig(t, `
transport:
  reader_index: 0
auth:
  settings_key_no: 0
`)

	_, err := LoadWithMode(cfgPath, ValidationAuthDiag)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.auth.settings_key_hex_file is required")
}

func TestLoadFullFailsWhenSettingsKeyMissing(t *testing.T) {
	cfgPath := writeConfig(t, `
transport:
  reader_index: 0
auth:
  settings_key_no: 0
  settings_key_hex_file: "missing-settings.hex"
`)

	_, err := Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.auth.settings_key_hex_file")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadFullFailsOnSlotOutOfRange(t *testing.T) {
	cfgPath := writeConfigWithKeys(t, `
transport:
  reader_index: 0
auth:
  settings_key_no: 5
  settings_key_hex_file: "settings.hex"
`, "settings.hex")

	_, err := Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.auth.settings_key_no must be 0..4")
}

func TestLoadFullFailsOnInvalidTemplateURL(t *testing.T) {
	cfgPath := writeConfigWithKeys(t, `
transport:
  reader_index: 0
sdm:
  template_url: "example.com/tap"
auth:
  settings_key_no: 0
  settings_key_hex_file: "settings.hex"
`, "settings.hex")

	_, err := Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be absolute")
}

func TestLoadFullFailsOnBadSDMValues(t *testing.T) {
	cfgPath := writeConfigWithKeys(t, `
transport:
  reader_index: 0
sdm:
  candidate_files: [2, 40]
auth:
  settings_key_no: 0
  settings_key_hex_file: "settings.hex"
`, "settings.hex")
	_, err := Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.sdm.candidate_files entries must be 0..31")

	cfgPath = writeConfigWithKeys(t, `
transport:
  reader_index: 0
sdm:
  mac_length: 0
auth:
  settings_key_no: 0
  settings_key_hex_file: "settings.hex"
`, "settings.hex")
	_, err = Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.sdm.mac_length must be 1..255")
}

func TestLoadWithModeRotate(t *testing.T) {
	cfgPath := writeConfigWithKeys(t, `
transport:
  reader_index: 0
auth:
  settings_key_no: 0
  settings_key_hex_file: "settings.hex"
  master_key_hex_file: "master.hex"
rotate:
  key_no: 2
  version: 1
  old_key_hex_file: "old.hex"
`, "settings.hex", "master.hex", "old.hex")

	cfg, err := LoadWithMode(cfgPath, ValidationRotate)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(cfgPath), "master.hex"), cfg.Auth.MasterKeyHexFile)
	assert.Equal(t, filepath.Join(filepath.Dir(cfgPath), "old.hex"), cfg.Rotate.OldKeyHexFile)
	assert.Equal(t, 2, *cfg.Rotate.KeyNo)
}

func TestLoadWithModeRotateMasterKeySource(t *testing.T) {
	base := `
transport:
  reader_index: 0
auth:
  settings_key_no: 0
  settings_key_hex_file: "settings.hex"
%s
rotate:
  key_no: 0
  version: 1
`
	tests := []struct {
		name    string
		auth    string
		wantErr string
	}{
		{"neither", "", "master_key_hex_file or config.auth.prompt_master_key is required"},
		{"both", "  master_key_hex_file: \"settings.hex\"\n  prompt_master_key: true", "mutually exclusive"},
		{"prompt only", "  prompt_master_key: true", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfigWithKeys(t, fmt.Sprintf(base, tt.auth), "settings.hex")
			_, err := LoadWithMode(cfgPath, ValidationRotate)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWithModeRotateRequiresSlotAndVersion(t *testing.T) {
	cfgPath := writeConfigWithKeys(t, `
transport:
  reader_index: 0
auth:
  settings_key_no: 0
  settings_key_hex_file: "settings.hex"
  prompt_master_key: true
rotate:
  version: 1
`, "settings.hex")
	_, err := LoadWithMode(cfgPath, ValidationRotate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.rotate.key_no is required")

	cfgPath = writeConfigWithKeys(t, `
transport:
  reader_index: 0
auth:
  settings_key_no: 0
  settings_key_hex_file: "settings.hex"
  prompt_master_key: true
rotate:
  key_no: 1
  version: 300
`, "settings.hex")
	_, err = LoadWithMode(cfgPath, ValidationRotate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.rotate.version must be 0..255")
}

func TestValidateWithModeUnknown(t *testing.T) {
	idx := 0
	cfg := &Config{Transport: TransportConfig{Kind: TransportPCSC, ReaderIndex: &idx}}
	require.Error(t, cfg.ValidateWithMode(ValidationMode(99)))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return cfgPath
}

func writeConfigWithKeys(t *testing.T, content string, keyNames ...string) string {
	t.Helper()
	cfgPath := writeConfig(t, content)
	baseDir := filepath.Dir(cfgPath)
	for _, name := range keyNames {
		keyPath := filepath.Join(baseDir, name)
		require.NoError(t, os.WriteFile(keyPath, []byte("00112233445566778899AABBCCDDEEFF\n"), 0o644))
	}
	return cfgPath
}
