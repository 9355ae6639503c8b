package main

import (
	"bytes"
	"testing"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	want := map[string]bool{"serve": false, "submit": false, "get": false, "decide": false, "approvals": false, "escalate": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %s", name)
		}
	}
}

func TestDecideRequiresApprovalAndVerdict(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"decide", "APPR-1", "--approver", "alice"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestServeRejectsMissingConfig(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve", "--config", t.TempDir() + "/missing.yaml"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected config error")
	}
}
