package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadServerDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "server"

[trojan]
password = ["hunter2"]

[tls]
cert = "cert.pem"
key = "key.pem"
`)
	root, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if root.TLS.Listen != defaultTLSListen {
		t.Fatalf("tls.listen = %q", root.TLS.Listen)
	}
}

func TestLoadClientDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "client"

[server]
server = "example.com:443"
password = "hunter2"
`)
	root, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if root.Bind != defaultClientBind {
		t.Fatalf("bind = %q", root.Bind)
	}
}

func TestLoadSNIAcceptsStringAndList(t *testing.T) {
	path := writeConfig(t, `
mode = "server"

[trojan]
password = ["hunter2"]

[tls]
cert = "cert.pem"
key = "key.pem"
sni = "example.com"
`)
	root, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(root.TLS.SNI) != 1 || root.TLS.SNI[0] != "example.com" {
		t.Fatalf("sni = %v", root.TLS.SNI)
	}

	path = writeConfig(t, `
mode = "server"

[trojan]
password = ["hunter2"]

[tls]
cert = "cert.pem"
key = "key.pem"
sni = ["a.example.com", "b.example.com"]
`)
	root, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(root.TLS.SNI) != 2 || root.TLS.SNI[1] != "b.example.com" {
		t.Fatalf("sni = %v", root.TLS.SNI)
	}
}

func TestLoadServerMissingCertFails(t *testing.T) {
	path := writeConfig(t, `
mode = "server"

[trojan]
password = ["hunter2"]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadInvalidMode(t *testing.T) {
	path := writeConfig(t, `mode = "bogus"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}
