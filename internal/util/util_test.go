package util

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitLoggerWritesFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	err := InitLogger(LogConfig{Level: "debug", Directory: dir, Console: true, ConsoleOut: &console})
	if err != nil {
		t.Fatalf("InitLogger failed: %v", err)
	}
	logger := ComponentLogger("test")
	logger.Info().Msg("hello from test")

	if !strings.Contains(console.String(), "hello from test") {
		t.Errorf("console output missing message: %q", console.String())
	}

	matches, _ := filepath.Glob(filepath.Join(dir, AppName+"_*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one log file, got %v", matches)
	}
	data, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(data), `"component":"test"`) {
		t.Errorf("log file missing component field: %s", data)
	}
}

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for i := 0; i < 4; i++ {
		path := filepath.Join(dir, AppName+"_"+string(rune('a'+i))+".log")
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatal(err)
		}
		mod := now.Add(time.Duration(i-4) * time.Hour)
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}
	other := filepath.Join(dir, "unrelated.log")
	os.WriteFile(other, nil, 0644)

	cleanOldLogs(dir, 2)

	for i, want := range []bool{false, false, true, true} {
		path := filepath.Join(dir, AppName+"_"+string(rune('a'+i))+".log")
		_, err := os.Stat(path)
		if exists := err == nil; exists != want {
			t.Errorf("%s exists=%v, want %v", filepath.Base(path), exists, want)
		}
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("files from other programs must be kept: %v", err)
	}
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	if info.CPUCores < 1 || info.Architecture == "" || info.GoVersion == "" {
		t.Errorf("incomplete system info: %+v", info)
	}
}

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "api.crt")
	keyFile := filepath.Join(dir, "tls", "api.key")

	created, err := EnsureSelfSignedCert(certFile, keyFile, "192.0.2.10", "connector.local", "0.0.0.0")
	if err != nil {
		t.Fatalf("EnsureSelfSignedCert failed: %v", err)
	}
	if !created {
		t.Error("expected a new certificate")
	}

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate failed: %v", err)
	}
	if err := cert.VerifyHostname("connector.local"); err != nil {
		t.Errorf("DNS SAN missing: %v", err)
	}
	if err := cert.VerifyHostname("192.0.2.10"); err != nil {
		t.Errorf("IP SAN missing: %v", err)
	}
	if err := cert.VerifyHostname("localhost"); err != nil {
		t.Errorf("localhost SAN missing: %v", err)
	}

	info, err := os.Stat(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0077 != 0 {
		t.Errorf("key file mode = %v, want owner-only", info.Mode().Perm())
	}

	created, err = EnsureSelfSignedCert(certFile, keyFile)
	if err != nil || created {
		t.Errorf("second call: created=%v err=%v, want existing files kept", created, err)
	}
}
