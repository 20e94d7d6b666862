package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "config.yml", "websocket-data-service: wss://example.invalid\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RepeatAlertAfterSeconds != 10 {
		t.Errorf("expected default repeat-alert-after-seconds=10, got %d", cfg.RepeatAlertAfterSeconds)
	}
	if cfg.ResetAfterSeconds != 600 {
		t.Errorf("expected default reset-after-seconds=600, got %d", cfg.ResetAfterSeconds)
	}
	if cfg.NumberPeersBeforeHijackAlert != 0 {
		t.Errorf("expected default number-peers-before-hijack-alert=0, got %d", cfg.NumberPeersBeforeHijackAlert)
	}
}

func TestLoadWatchListMergesFilesAndAppliesIgnoreMorespec(t *testing.T) {
	dir := t.TempDir()
	fileA := writeTemp(t, dir, "a.yml", `
10.0.0.0/8:
  base_asn: 1
  description: core block
2001:db8::/32:
  base_asn: 2
  ignore_morespec: true
`)

	idx, err := LoadWatchList([]string{fileA})
	if err != nil {
		t.Fatalf("LoadWatchList: %v", err)
	}

	v4 := idx.Snapshot4()
	if len(v4) != 1 || v4[0].CIDR != "10.0.0.0/8" || !v4[0].MonitorMoreSpecific {
		t.Fatalf("unexpected v4 entries: %+v", v4)
	}
	v6 := idx.Snapshot6()
	if len(v6) != 1 || v6[0].CIDR != "2001:db8::/32" || v6[0].MonitorMoreSpecific {
		t.Fatalf("unexpected v6 entries: %+v", v6)
	}
}
