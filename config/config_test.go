package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoadABServer(t *testing.T) {
	path := writeTemp(t, "ab.yaml", `
listen: "127.0.0.1:44818"
forward_open_reject_count: 2
tags:
  - name: TestDINT
    type: DINT
    initial_hex: "2A 00 00 00"
  - name: TestUDT
    type: MyUDT
    template_id: 5
pccc_files:
  - file_type: N
    file_num: 7
    elements: 100
`)
	cfg, err := LoadABServer(path)
	if err != nil {
		t.Fatalf("LoadABServer: %v", err)
	}
	if cfg.ForwardOpenRejectCount != 2 {
		t.Errorf("ForwardOpenRejectCount = %d, want 2", cfg.ForwardOpenRejectCount)
	}
	if len(cfg.Tags) != 2 || cfg.Tags[0].Name != "TestDINT" {
		t.Fatalf("Tags = %+v", cfg.Tags)
	}
	if cfg.Tags[1].TemplateID != 5 {
		t.Errorf("TemplateID = %d, want 5", cfg.Tags[1].TemplateID)
	}
	if len(cfg.PCCCFiles) != 1 || cfg.PCCCFiles[0].FileType != "N" {
		t.Fatalf("PCCCFiles = %+v", cfg.PCCCFiles)
	}
}

func TestLoadABServerMissingFileFails(t *testing.T) {
	if _, err := LoadABServer(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadModbusServerDefaults(t *testing.T) {
	path := writeTemp(t, "modbus.yaml", `listen: "127.0.0.1:5020"`)
	cfg, err := LoadModbusServer(path)
	if err != nil {
		t.Fatalf("LoadModbusServer: %v", err)
	}
	if cfg.Listen != "127.0.0.1:5020" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.HoldingRegisters != 125 {
		t.Errorf("HoldingRegisters = %d, want default 125", cfg.HoldingRegisters)
	}
	if cfg.UnitID != 1 {
		t.Errorf("UnitID = %d, want default 1", cfg.UnitID)
	}
}

func TestLoadBatch(t *testing.T) {
	path := writeTemp(t, "batch.yaml", `
period: 1s
reads:
  - "protocol=ab-eip&gateway=10.0.0.5&path=1,0&cpu=controllogix&name=Tank1.Level"
writes:
  - attr: "protocol=modbus-tcp&gateway=10.0.0.6&path=1&name=40001"
    value: 42
`)
	cfg, err := LoadBatch(path)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if len(cfg.Reads) != 1 {
		t.Fatalf("Reads = %+v", cfg.Reads)
	}
	if len(cfg.Writes) != 1 || cfg.Writes[0].Value != 42 {
		t.Fatalf("Writes = %+v", cfg.Writes)
	}
}
