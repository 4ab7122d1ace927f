package main

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/flex-transformer/wildcat-slam/config"
)

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.Default()
	path := filepath.Join(dir, "config.yaml")
	if err := config.Save(path, &cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func writeReplayLog(t *testing.T, dir string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, "replay.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating replay file: %v", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			t.Fatalf("writing replay line: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flushing replay file: %v", err)
	}
	return path
}

func TestNewApp_DefaultsHttpPort(t *testing.T) {
	app := NewApp()
	if app.HttpPort != 8080 {
		t.Errorf("HttpPort = %d, want 8080", app.HttpPort)
	}
}

func TestRunReplay_DrivesOdometryFromEventLog(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	app.ConfigFile = writeTestConfig(t, dir)
	app.ReplayFile = writeReplayLog(t, dir, []string{
		`{"type":"imu","t":0.0,"gyr":[0,0,0],"acc":[0,0,9.81]}`,
		`{"type":"imu","t":0.1,"gyr":[0,0,0],"acc":[0,0,9.81]}`,
		`{"type":"points","t":0.05,"points":[{"t":0.05,"xyz":[1,0,0]}]}`,
	})

	if err := app.RunReplay(); err != nil {
		t.Fatalf("RunReplay: %v", err)
	}
	if app.Odom == nil {
		t.Fatal("expected Odom to be constructed")
	}
}

func TestRunReplay_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	app.ConfigFile = writeTestConfig(t, dir)
	app.ReplayFile = writeReplayLog(t, dir, []string{
		`not json`,
		`{"type":"imu","t":0.0,"gyr":[0,0,0],"acc":[0,0,9.81]}`,
	})

	if err := app.RunReplay(); err != nil {
		t.Fatalf("RunReplay should skip malformed lines, got error: %v", err)
	}
}

func TestRunReplay_MissingConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	app.ConfigFile = filepath.Join(dir, "does-not-exist.yaml")
	app.ReplayFile = writeReplayLog(t, dir, nil)

	if err := app.RunReplay(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestRunReplay_MissingReplayFileErrors(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	app.ConfigFile = writeTestConfig(t, dir)
	app.ReplayFile = filepath.Join(dir, "does-not-exist.jsonl")

	if err := app.RunReplay(); err == nil {
		t.Error("expected error for missing replay file")
	}
}
