package config

import (
	"path/filepath"
	"testing"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

func TestManifestManager_LoadMissingFileIsEmpty(t *testing.T) {
	m := &ManifestManager{path: filepath.Join(t.TempDir(), "backends.json")}
	manifest, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(manifest.Backends) != 0 {
		t.Fatalf("expected an empty manifest, got %+v", manifest)
	}
}

func TestManifestManager_SaveThenLoadRoundTrips(t *testing.T) {
	m := &ManifestManager{path: filepath.Join(t.TempDir(), "dodo", "backends.json")}
	want := &Manifest{Backends: []model.BackendDescriptor{
		{Name: "files", Transport: model.TransportLocalProcess, Command: "localfsbackend"},
		{Name: "http-tools", Transport: model.TransportHTTPStream, URL: "http://localhost:9000"},
	}}

	if err := m.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Backends) != 2 || got.Backends[0].Name != "files" || got.Backends[1].URL != "http://localhost:9000" {
		t.Fatalf("unexpected round trip: %+v", got)
	}
}

func TestManifestManager_RejectsUnknownTransport(t *testing.T) {
	m := &ManifestManager{path: filepath.Join(t.TempDir(), "backends.json")}
	if err := m.Save(&Manifest{Backends: []model.BackendDescriptor{
		{Name: "bogus", Transport: "carrier-pigeon"},
	}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := m.Load(); err == nil {
		t.Fatalf("expected an error for an unknown transport")
	}
}

func TestManifestManager_RejectsMissingName(t *testing.T) {
	m := &ManifestManager{path: filepath.Join(t.TempDir(), "backends.json")}
	if err := m.Save(&Manifest{Backends: []model.BackendDescriptor{
		{Transport: model.TransportLocalProcess},
	}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := m.Load(); err == nil {
		t.Fatalf("expected an error for a missing backend name")
	}
}
