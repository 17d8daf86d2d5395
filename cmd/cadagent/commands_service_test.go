package main

import "testing"

func TestBuildServiceCmdRegistersInstallAndRestart(t *testing.T) {
	cmd := buildServiceCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"install", "restart"} {
		if !names[want] {
			t.Errorf("expected %q subcommand to be registered", want)
		}
	}
}
