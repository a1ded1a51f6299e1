package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/bujo/internal/doctor"
)

func TestRunDoctorCommand_TextOutput(t *testing.T) {
	_, out, _ := setupHome(t, "log_level: info\n")

	code := runDoctorCommand(context.Background(), nil)
	// Doctor may return 0 or 1 depending on the environment, but it must not
	// report a usage error.
	if code == 2 {
		t.Fatalf("unexpected exit code 2 (parse error)")
	}
	if !strings.Contains(out.String(), "bujo doctor report") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunDoctorCommand_JSONOutput(t *testing.T) {
	_, out, _ := setupHome(t, "log_level: info\n")

	code := runDoctorCommand(context.Background(), []string{"-json"})
	var diag doctor.Diagnosis
	if err := json.Unmarshal(out.Bytes(), &diag); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if len(diag.Results) == 0 {
		t.Fatal("no check results")
	}
	if want := map[bool]int{true: 1, false: 0}[diag.Failed()]; code != want {
		t.Fatalf("exit code = %d, want %d", code, want)
	}
}

func TestRunDoctorCommand_NeedsGenesis(t *testing.T) {
	_, out, _ := setupHome(t, "")

	if code := runDoctorCommand(context.Background(), []string{"-json"}); code == 2 {
		t.Fatalf("unexpected exit code 2")
	}
	var diag doctor.Diagnosis
	if err := json.Unmarshal(out.Bytes(), &diag); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, r := range diag.Results {
		if r.Name == "Config" && r.Status == "PASS" {
			t.Fatalf("config check passed without config.yaml: %+v", r)
		}
	}
}

func TestRunDoctorCommand_InitWritesConfig(t *testing.T) {
	home, _, errOut := setupHome(t, "")

	runDoctorCommand(context.Background(), []string{"-init", "-json"})
	info, err := os.Stat(filepath.Join(home, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not written: %v (stderr %q)", err, errOut.String())
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config.yaml mode = %o, want 600", info.Mode().Perm())
	}
}
