package modmanager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"vsmanager/internal/cache"
	"vsmanager/internal/modcatalogue"
	"vsmanager/internal/modindex"
	"vsmanager/internal/restart"
)

func newTestManager(t *testing.T, catalogueSrv *httptest.Server) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	idx := modindex.New(filepath.Join(root, "state"), filepath.Join(root, "mods"), nil)
	idx.Load()
	// Cache root is deliberately distinct from the mods directory: the
	// manager downloads into the cache and must copy into the mods
	// directory, not operate on the cache path directly.
	c := cache.New(filepath.Join(root, "cache"), 0, nil)
	if err := c.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	r := restart.New(nil)

	var opts []modcatalogue.Option
	if catalogueSrv != nil {
		opts = append(opts, modcatalogue.WithBaseURL(catalogueSrv.URL), modcatalogue.WithDownloadBaseURL(catalogueSrv.URL), modcatalogue.WithHTTPClient(catalogueSrv.Client()))
	}
	client := modcatalogue.New(nil, opts...)

	mgr := New(idx, client, c, r, func() string { return "1.19.8" }, nil)
	return mgr, root
}

func fakeCatalogueServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/mod/carryon":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"statuscode":"200","mod":{"modid":42,"name":"Carry On","releases":[{"releaseid":1,"mainfile":"/dl/carryon_v1.zip","filename":"carryon_v1.zip","modversion":"1.0.0","tags":["1.19.8"]}]}}`))
		case r.URL.Path == "/dl/carryon_v1.zip":
			_, _ = w.Write(minimalZip(t))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

// minimalZip builds a valid empty zip archive with no modinfo.json, so
// imports fall back to filename-derived metadata.
func minimalZip(t *testing.T) []byte {
	t.Helper()
	// Minimal valid empty zip: end-of-central-directory record only.
	return []byte{0x50, 0x4b, 0x05, 0x06, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
}

func TestInstallDownloadsAndRegisters(t *testing.T) {
	srv := fakeCatalogueServer(t)
	defer srv.Close()
	mgr, root := newTestManager(t, srv)

	res, err := mgr.Install(context.Background(), "carryon", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Compatibility != modcatalogue.Compatible {
		t.Fatalf("got compatibility %q, want compatible", res.Compatibility)
	}

	if _, err := mgr.Get("carryon_v1"); err == nil {
		// the fake archive has no modinfo.json, so the mod is recorded
		// under the requested catalogue slug, not the filename-derived one
	}
	mods := mgr.List()
	if len(mods) != 1 {
		t.Fatalf("got %d mods, want 1", len(mods))
	}

	if _, err := os.Stat(filepath.Join(root, "mods", mods[0].Filename)); err != nil {
		t.Fatalf("expected archive copied into mods directory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "cache", "mods", mods[0].Filename)); err != nil {
		t.Fatalf("expected archive to remain in the download cache: %v", err)
	}
}

func TestInstallRejectsDuplicate(t *testing.T) {
	srv := fakeCatalogueServer(t)
	defer srv.Close()
	mgr, _ := newTestManager(t, srv)

	if _, err := mgr.Install(context.Background(), "carryon", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Install(context.Background(), "carryon", ""); err == nil {
		t.Fatal("expected second install of same mod to fail")
	}
}

func TestInstallNotFound(t *testing.T) {
	srv := fakeCatalogueServer(t)
	defer srv.Close()
	mgr, _ := newTestManager(t, srv)

	if _, err := mgr.Install(context.Background(), "doesnotexist", ""); err == nil {
		t.Fatal("expected install of unknown mod to fail")
	}
}

func TestRemoveDeletesArchiveAndEntry(t *testing.T) {
	srv := fakeCatalogueServer(t)
	defer srv.Close()
	mgr, _ := newTestManager(t, srv)

	res, err := mgr.Install(context.Background(), "carryon", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.Remove(res.Mod.Slug); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Get(res.Mod.Slug); err == nil {
		t.Fatal("expected removed mod to be absent")
	}
}

func TestDisableRenamesArchive(t *testing.T) {
	srv := fakeCatalogueServer(t)
	defer srv.Close()
	mgr, root := newTestManager(t, srv)

	res, err := mgr.Install(context.Background(), "carryon", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.Disable(res.Mod.Slug); err != nil {
		t.Fatal(err)
	}

	mod, err := mgr.Get(res.Mod.Slug)
	if err != nil {
		t.Fatal(err)
	}
	if mod.Enabled {
		t.Fatal("expected mod to be disabled")
	}
	if _, err := os.Stat(filepath.Join(root, "mods", mod.Filename)); err != nil {
		t.Fatalf("expected renamed archive to exist: %v", err)
	}
}

func TestRemoveUnknownModFails(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	if err := mgr.Remove("nonexistent"); err == nil {
		t.Fatal("expected removing unknown mod to fail")
	}
}

func TestInstallOnlyRaisesRestartWhenServerRunning(t *testing.T) {
	srv := fakeCatalogueServer(t)
	defer srv.Close()
	mgr, _ := newTestManager(t, srv)

	res, err := mgr.Install(context.Background(), "carryon", "")
	if err != nil {
		t.Fatal(err)
	}
	if mgr.restart.Pending() {
		t.Fatal("install while stopped should not mark a restart pending")
	}

	mgr.SetServerRunning(true)
	if err := mgr.Disable(res.Mod.Slug); err != nil {
		t.Fatal(err)
	}
	if !mgr.restart.Pending() {
		t.Fatal("expected disable while running to mark a restart pending")
	}
}
