package main

import "testing"

func TestResolveConfigPathPrecedence(t *testing.T) {
	t.Setenv(configEnvVar, "")

	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("default path = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv(configEnvVar, "/tmp/from-env.yaml")
	if got := resolveConfigPath(""); got != "/tmp/from-env.yaml" {
		t.Errorf("env path = %q", got)
	}

	if got := resolveConfigPath("/tmp/from-flag.yaml"); got != "/tmp/from-flag.yaml" {
		t.Errorf("flag must win over environment, got %q", got)
	}
}
