package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewProjectValidatesInput(t *testing.T) {
	for _, tc := range []struct {
		id, endpoint string
		ok           bool
	}{
		{"Qm123", "http://indexer:3000/graphql", true},
		{"Qm123", "https://indexer.example", true},
		{"", "http://indexer:3000", false},
		{"Qm123", "indexer:3000", false},
		{"Qm123", "ftp://indexer", false},
	} {
		p, err := newProject(tc.id, tc.endpoint, true)
		if (err == nil) != tc.ok {
			t.Fatalf("newProject(%q, %q) error %v", tc.id, tc.endpoint, err)
		}
		if tc.ok && (p.DeploymentID != tc.id || !p.Enabled) {
			t.Fatalf("unexpected project %+v", p)
		}
	}
}

func TestProjectSetRequiresMongoURI(t *testing.T) {
	t.Setenv("GATEWAY_TOKEN_SECRET", "s")
	t.Setenv("GATEWAY_PROJECTS_MONGO_URI", "")

	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"project", "set", "Qm123", "http://indexer:3000"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "projects.mongo_uri") {
		t.Fatalf("expected missing mongo uri error, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("version output %q", out.String())
	}
}

func TestInitMongoUnreachable(t *testing.T) {
	client, err := initMongo("mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200&connectTimeoutMS=200")
	if err == nil {
		t.Fatalf("ping of unreachable mongo succeeded")
	}
	if client != nil {
		t.Fatalf("client returned alongside ping error")
	}
	if !strings.Contains(err.Error(), "ping mongo") {
		t.Fatalf("unexpected error %v", err)
	}
}
