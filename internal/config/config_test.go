package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"config.json": `{
			// listener
			"ip": "127.0.0.1",
			"port": 54342,
			"metrics_addr": "127.0.0.1:9100",
		}`,
		"database_config.json": `{"user":"better","password":"fly","ip":"10.0.0.5","port":3307,"db":"betterfly","charset":"utf8mb4"}`,
		"cos_config.json":      `{"secret_id":"id","secret_key":"key","region":"ap-shanghai","bucket":"bf-files"}`,
		"apns_config.json":     `{"team_id":"T1","key_id":"K1","topic":"com.example.app","key_file":"auth.p8","sandbox":false}`,
	})

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got, want := cfg.Server.Addr(), "127.0.0.1:54342"; got != want {
		t.Errorf("Server.Addr() = %q, want %q", got, want)
	}
	if got, want := cfg.Server.MetricsAddr, "127.0.0.1:9100"; got != want {
		t.Errorf("MetricsAddr = %q, want %q", got, want)
	}
	if got, want := cfg.Database.DSN(), "better:fly@tcp(10.0.0.5:3307)/betterfly?charset=utf8mb4"; got != want {
		t.Errorf("Database.DSN() = %q, want %q", got, want)
	}
	if got, want := cfg.COS.Endpoint(), "cos.ap-shanghai.myqcloud.com"; got != want {
		t.Errorf("COS.Endpoint() = %q, want %q", got, want)
	}
	if got, want := cfg.COS.Bucket, "bf-files"; got != want {
		t.Errorf("COS.Bucket = %q, want %q", got, want)
	}
	if cfg.APNs.Sandbox {
		t.Error("APNs.Sandbox = true, want false")
	}
	if got, want := cfg.APNs.KeyFile, filepath.Join(dir, "auth.p8"); got != want {
		t.Errorf("APNs.KeyFile = %q, want %q", got, want)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"config.json":          `{"ip":"","port":54342}`,
		"database_config.json": `{"user":"u","password":"p","db":"betterfly"}`,
	})

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got, want := cfg.Server.LogLevel, "info"; got != want {
		t.Errorf("LogLevel = %q, want %q", got, want)
	}
	if got, want := cfg.Database.DSN(), "u:p@tcp(127.0.0.1:3306)/betterfly?charset=utf8mb4"; got != want {
		t.Errorf("DSN with defaults = %q, want %q", got, want)
	}
	if got, want := cfg.COS.Bucket, "betterfly"; got != want {
		t.Errorf("default Bucket = %q, want %q", got, want)
	}
	if got, want := cfg.APNs.TeamID, "BYMJC965BC"; got != want {
		t.Errorf("default TeamID = %q, want %q", got, want)
	}
	if got, want := cfg.APNs.Topic, "com.betterfly.betterflyclient"; got != want {
		t.Errorf("default Topic = %q, want %q", got, want)
	}
	if !cfg.APNs.Sandbox {
		t.Error("default Sandbox = false, want true")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"config.json": `{"port":54342}`,
	})
	if _, err := Load(dir); err == nil {
		t.Fatal("Load without database_config.json succeeded, want error")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"config.json":          `{"port":0}`,
		"database_config.json": `{"user":"u","password":"p","db":"d"}`,
	})
	if _, err := Load(dir); err == nil {
		t.Fatal("Load with port 0 succeeded, want error")
	}
}

func TestLoadReportsSyntaxPosition(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"config.json":          "{\n\"port\": 54342,\n!!\n}",
		"database_config.json": `{"user":"u","password":"p","db":"d"}`,
	})
	_, err := Load(dir)
	if err == nil {
		t.Fatal("Load with broken JSON succeeded, want error")
	}
	if !strings.Contains(err.Error(), "config.json") {
		t.Errorf("error %q does not name the offending file", err)
	}
}
