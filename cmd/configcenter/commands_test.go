package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"configcenter/internal/configcenter"
	"configcenter/internal/settings"
	"configcenter/internal/watcher"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func setupTestApp(t *testing.T) *App {
	t.Helper()
	loaded, err := settings.Load("", map[string]any{
		"store.root":          t.TempDir(),
		"store.watch-mode":    string(watcher.ModePolling),
		"store.poll-interval": "50ms",
		"server.listen":       "127.0.0.1:0",
		"log.level":           "error",
	})
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	app, err := NewApp(loaded, &bytes.Buffer{}, &bytes.Buffer{}, outputText)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app
}

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func output(app *App) *bytes.Buffer {
	return app.Out.(*bytes.Buffer)
}

func TestPublishAndGet(t *testing.T) {
	app := setupTestApp(t)
	provider := NewTestProvider(app)

	if _, err := runCommand(t, newPublishCmd(provider), "db.url", "postgres://localhost/app", "--group", "prod"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if !strings.Contains(output(app).String(), "Published prod/db.url") {
		t.Fatalf("unexpected publish output %q", output(app).String())
	}
	output(app).Reset()

	if _, err := runCommand(t, newGetCmd(provider), "db.url", "-g", "prod"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got := output(app).String(); got != "postgres://localhost/app\n" {
		t.Fatalf("unexpected get output %q", got)
	}

	path := filepath.Join(app.Store.Root(), "prod", "db.url")
	if data, err := os.ReadFile(path); err != nil || string(data) != "postgres://localhost/app" {
		t.Fatalf("expected file at %s, got %q err=%v", path, data, err)
	}
}

func TestPublishDefaultGroupFromFile(t *testing.T) {
	app := setupTestApp(t)
	source := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(source, []byte("port: 80\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	if _, err := runCommand(t, newPublishCmd(NewTestProvider(app)), "app.yaml", "--file", source); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	content, ok, err := app.Store.Get("app.yaml", configcenter.DefaultGroup)
	if err != nil || !ok || content != "port: 80\n" {
		t.Fatalf("unexpected stored content %q ok=%v err=%v", content, ok, err)
	}
}

func TestPublishFromStdin(t *testing.T) {
	app := setupTestApp(t)
	cmd := newPublishCmd(NewTestProvider(app))
	cmd.SetIn(strings.NewReader("from stdin"))

	if _, err := runCommand(t, cmd, "flags", "--file", "-"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	content, _, _ := app.Store.Get("flags", "")
	if content != "from stdin" {
		t.Fatalf("expected stdin content, got %q", content)
	}
}

func TestPublishRejectsAmbiguousContent(t *testing.T) {
	app := setupTestApp(t)
	if _, err := runCommand(t, newPublishCmd(NewTestProvider(app)), "key", "inline", "--file", "-"); err == nil {
		t.Fatal("expected error for argument plus --file")
	}
	if _, err := runCommand(t, newPublishCmd(NewTestProvider(app)), "key"); err == nil {
		t.Fatal("expected error without content")
	}
}

func TestPublishRejectsInvalidKey(t *testing.T) {
	app := setupTestApp(t)
	_, err := runCommand(t, newPublishCmd(NewTestProvider(app)), "../escape", "value")
	if err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Fatalf("expected invalid name error, got %v", err)
	}
}

func TestGetMissingItem(t *testing.T) {
	app := setupTestApp(t)
	_, err := runCommand(t, newGetCmd(NewTestProvider(app)), "missing")
	if err == nil || !strings.Contains(err.Error(), "default/missing") {
		t.Fatalf("expected missing item error, got %v", err)
	}
}

func TestGetJSONOutput(t *testing.T) {
	app := setupTestApp(t)
	app.Output = outputJSON
	if err := app.Store.Publish("k", "g", "v"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if _, err := runCommand(t, newGetCmd(NewTestProvider(app)), "k", "--group", "g"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	var result getResult
	if err := json.Unmarshal(output(app).Bytes(), &result); err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if result != (getResult{Key: "k", Group: "g", Content: "v"}) {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRemove(t *testing.T) {
	app := setupTestApp(t)
	if err := app.Store.Publish("k", "g", "v"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if _, err := runCommand(t, newRemoveCmd(NewTestProvider(app)), "k", "-g", "g"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !strings.Contains(output(app).String(), "Removed g/k") {
		t.Fatalf("unexpected output %q", output(app).String())
	}
	if _, err := os.Stat(filepath.Join(app.Store.Root(), "g")); !os.IsNotExist(err) {
		t.Fatalf("expected empty group to be pruned, stat err=%v", err)
	}

	output(app).Reset()
	if _, err := runCommand(t, newRemoveCmd(NewTestProvider(app)), "k", "-g", "g"); err != nil {
		t.Fatalf("removing a missing item should succeed: %v", err)
	}
	if !strings.Contains(output(app).String(), "Nothing to remove") {
		t.Fatalf("unexpected output %q", output(app).String())
	}
	if _, err := runCommand(t, newRemoveCmd(NewTestProvider(app)), "k", "-g", "g", "--strict"); err == nil {
		t.Fatal("expected --strict to fail on a missing item")
	}
}

func TestKeysAndGroups(t *testing.T) {
	app := setupTestApp(t)
	for _, item := range []configcenter.Item{
		{Group: "prod", Key: "b", Content: "2"},
		{Group: "prod", Key: "a", Content: "1"},
		{Group: "test", Key: "c", Content: "3"},
	} {
		if err := app.Store.Publish(item.Key, item.Group, item.Content); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if _, err := runCommand(t, newKeysCmd(NewTestProvider(app)), "prod"); err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	if got := output(app).String(); got != "a\nb\n" {
		t.Fatalf("unexpected keys output %q", got)
	}

	output(app).Reset()
	app.Output = outputYAML
	if _, err := runCommand(t, newGroupsCmd(NewTestProvider(app))); err != nil {
		t.Fatalf("groups failed: %v", err)
	}
	var groups []string
	if err := yaml.Unmarshal(output(app).Bytes(), &groups); err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if !reflect.DeepEqual(groups, []string{"default", "prod", "test"}) {
		t.Fatalf("unexpected groups %v", groups)
	}
}

func TestList(t *testing.T) {
	app := setupTestApp(t)
	if err := app.Store.Publish("a", "prod", "line one\nline two"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := app.Store.Publish("b", "test", "x"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if _, err := runCommand(t, newListCmd(NewTestProvider(app))); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if got := output(app).String(); got != "prod/a\tline one ...\ntest/b\tx\n" {
		t.Fatalf("unexpected list output %q", got)
	}

	output(app).Reset()
	app.Output = outputJSON
	if _, err := runCommand(t, newListCmd(NewTestProvider(app)), "--group", "test"); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var items []configcenter.Item
	if err := json.Unmarshal(output(app).Bytes(), &items); err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(items) != 1 || items[0] != (configcenter.Item{Group: "test", Key: "b", Content: "x"}) {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestVersionCommand(t *testing.T) {
	provider := &AppProvider{Output: outputJSON}
	out, err := runCommand(t, newVersionCmd(provider))
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var info map[string]any
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("parse output %q: %v", out, err)
	}
	if info["version"] == "" {
		t.Fatalf("expected a version, got %v", info)
	}
}

func TestRootCommandLayersSettings(t *testing.T) {
	envRoot := t.TempDir()
	flagRoot := t.TempDir()
	out := &bytes.Buffer{}
	provider := &AppProvider{
		Out: out,
		Err: &bytes.Buffer{},
		Environ: func() []string {
			return []string{
				"CONFIGCENTER_STORE_ROOT=" + envRoot,
				"CONFIGCENTER_STORE_THREAD_POOL_SIZE=3",
			}
		},
	}
	cmd := newRootCmd(provider)
	cmd.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "absent.yaml"),
		"--root", flagRoot,
		"--set", "store.encoding=GBK",
		"--poll-interval", "250ms",
		"groups",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	app, err := provider.Get()
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if app.Store.Root() != flagRoot {
		t.Fatalf("expected --root to win, got %q", app.Store.Root())
	}
	if app.Settings.Store.ThreadPoolSize != 3 {
		t.Fatalf("expected environment thread pool size, got %d", app.Settings.Store.ThreadPoolSize)
	}
	if app.Store.Encoding() != "GBK" {
		t.Fatalf("expected --set encoding, got %q", app.Store.Encoding())
	}
	if app.Settings.Store.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected flag poll interval, got %s", app.Settings.Store.PollInterval)
	}
	if got := out.String(); got != "default\n" {
		t.Fatalf("expected the default group to exist, got %q", got)
	}
}

func TestRootCommandRejectsUnknownOutput(t *testing.T) {
	provider := &AppProvider{
		Out:     &bytes.Buffer{},
		Err:     &bytes.Buffer{},
		Environ: func() []string { return nil },
	}
	cmd := newRootCmd(provider)
	cmd.SetArgs([]string{"--root", t.TempDir(), "--output", "xml", "groups"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Fatalf("expected unknown output error, got %v", err)
	}
}
