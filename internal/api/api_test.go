package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/raido/internal/artcache"
	"github.com/starford/raido/internal/convert"
	"github.com/starford/raido/internal/export"
	"github.com/starford/raido/internal/itemstore"
	"github.com/starford/raido/internal/library"
	"github.com/starford/raido/internal/scheduler"
	"github.com/starford/raido/internal/storage"
	"github.com/starford/raido/internal/tagindex"
)

func testPNG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: shade, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type apiEnv struct {
	root   string
	server *httptest.Server
}

func newAPIEnv(t *testing.T, authEnabled bool, token string) *apiEnv {
	t.Helper()
	root := t.TempDir()

	fs, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	store := itemstore.New()
	index := tagindex.New()
	store.Subscribe(index.Apply)

	cache, err := artcache.Open(filepath.Join(t.TempDir(), "artifacts.db"), artcache.Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })
	cache.WatchStore(store)

	params := convert.Params{ScaleFactor: 2, Format: convert.FormatPNG}
	sched := scheduler.New(store, cache, scheduler.Config{
		Workers: 2, QueueSize: 32, Params: params, Persist: fs.WriteOriginal,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := library.NewService(store, index, cache, fs, sched, params, logger)

	server := httptest.NewServer(NewRouter(svc, authEnabled, token, nil))
	t.Cleanup(server.Close)
	return &apiEnv{root: root, server: server}
}

func (e *apiEnv) writeFile(t *testing.T, rel string, data []byte) {
	t.Helper()
	abs := filepath.Join(e.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// importAndWait imports one file through the API and returns its digest.
func (e *apiEnv) importAndWait(t *testing.T, rel string, tags ...string) string {
	t.Helper()
	var shade uint8
	for _, b := range []byte(rel) {
		shade = shade*31 + b
	}
	e.writeFile(t, rel, testPNG(t, shade))
	resp := e.do(t, http.MethodPost, "/imports", ImportRequest{Paths: []string{rel}, Tags: tags, Wait: true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import status = %d", resp.StatusCode)
	}
	out := decodeBody[ImportResponse](t, resp)
	if out.Completed != 1 || out.Failed != 0 {
		t.Fatalf("import response = %+v", out)
	}

	listResp := e.do(t, http.MethodGet, "/items", nil)
	list := decodeBody[ItemListResponse](t, listResp)
	for _, it := range list.Items {
		for _, src := range it.Sources {
			if src.Path == rel {
				return it.Digest.Format()
			}
		}
	}
	t.Fatalf("imported item for %s not listed", rel)
	return ""
}

func TestImportAndList(t *testing.T) {
	e := newAPIEnv(t, false, "")
	e.importAndWait(t, "cat.png", "animal")

	resp := e.do(t, http.MethodGet, "/items?tag=animal", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	list := decodeBody[ItemListResponse](t, resp)
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("list = %+v", list)
	}
	if !list.Items[0].HasTag("animal") {
		t.Errorf("tags = %v", list.Items[0].Tags)
	}
}

func TestImportBadRequest(t *testing.T) {
	e := newAPIEnv(t, false, "")

	resp := e.do(t, http.MethodPost, "/imports", ImportRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty paths status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.do(t, http.MethodPost, "/imports", ImportRequest{Paths: []string{"notes.txt"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-image status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetItem(t *testing.T) {
	e := newAPIEnv(t, false, "")
	hex := e.importAndWait(t, "pic.png", "sample")

	resp := e.do(t, http.MethodGet, "/items/"+hex, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	it := decodeBody[Item](t, resp)
	if it.Digest.Format() != hex {
		t.Errorf("digest = %s", it.Digest.Format())
	}

	resp = e.do(t, http.MethodGet, "/items/"+string(bytes.Repeat([]byte("0"), 64)), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown digest status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, "/items/nothex", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad digest status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTagMutation(t *testing.T) {
	e := newAPIEnv(t, false, "")
	hex := e.importAndWait(t, "pic.png", "first")

	resp := e.do(t, http.MethodPost, "/items/"+hex+"/tags", TagsRequest{Tags: []string{"second"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status = %d", resp.StatusCode)
	}
	it := decodeBody[Item](t, resp)
	if !it.HasTag("first") || !it.HasTag("second") {
		t.Errorf("tags after add = %v", it.Tags)
	}

	resp = e.do(t, http.MethodDelete, "/items/"+hex+"/tags", TagsRequest{Tags: []string{"first"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove status = %d", resp.StatusCode)
	}
	it = decodeBody[Item](t, resp)
	if it.HasTag("first") || !it.HasTag("second") {
		t.Errorf("tags after remove = %v", it.Tags)
	}
}

func TestDeleteItem(t *testing.T) {
	e := newAPIEnv(t, false, "")
	hex := e.importAndWait(t, "pic.png")

	resp := e.do(t, http.MethodDelete, "/items/"+hex, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, "/items/"+hex, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after delete = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestArtifactEndpoint(t *testing.T) {
	e := newAPIEnv(t, false, "")
	hex := e.importAndWait(t, "pic.png")

	resp := e.do(t, http.MethodGet, "/items/"+hex+"/artifact?scale=3", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if img.Bounds().Dx() != 6 || img.Bounds().Dy() != 6 {
		t.Errorf("bounds = %v, want 6x6 (2x2 source at scale 3)", img.Bounds())
	}

	bad := e.do(t, http.MethodGet, "/items/"+hex+"/artifact?scale=bogus", nil)
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad scale status = %d", bad.StatusCode)
	}
	bad.Body.Close()
}

func TestListTags(t *testing.T) {
	e := newAPIEnv(t, false, "")
	e.importAndWait(t, "a.png", "shared", "only-a")
	e.importAndWait(t, "b.png", "shared")

	resp := e.do(t, http.MethodGet, "/tags", nil)
	out := decodeBody[TagListResponse](t, resp)
	counts := map[string]int{}
	for _, tc := range out.Tags {
		counts[tc.Tag] = tc.Count
	}
	if counts["shared"] != 2 || counts["only-a"] != 1 {
		t.Errorf("tag counts = %v", counts)
	}
}

func TestExportEndpoint(t *testing.T) {
	e := newAPIEnv(t, false, "")
	e.importAndWait(t, "a.png", "keep")
	e.importAndWait(t, "b.png", "skip")

	resp := e.do(t, http.MethodPost, "/export", ExportRequest{Tags: []string{"keep"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	defer resp.Body.Close()

	entries, err := export.Read(resp.Body)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("archive has %d entries, want artifact + sidecar for 1 item", len(entries))
	}
}

func TestStatusEndpoint(t *testing.T) {
	e := newAPIEnv(t, false, "")
	e.importAndWait(t, "a.png", "x")

	resp := e.do(t, http.MethodGet, "/status", nil)
	st := decodeBody[StatusResponse](t, resp)
	if st.Items != 1 || st.Tags != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestFuzzySearchEndpoint(t *testing.T) {
	e := newAPIEnv(t, false, "")
	e.importAndWait(t, "hill.png", "landscape")
	e.importAndWait(t, "cat.png", "animal")

	resp := e.do(t, http.MethodGet, "/items?q=lndscp", nil)
	list := decodeBody[ItemListResponse](t, resp)
	if list.Total != 1 {
		t.Fatalf("fuzzy total = %d, want 1", list.Total)
	}
	if !list.Items[0].HasTag("landscape") {
		t.Errorf("fuzzy hit tags = %v", list.Items[0].Tags)
	}
}

func TestAuthMiddleware(t *testing.T) {
	e := newAPIEnv(t, true, "sekrit")

	resp := e.do(t, http.MethodGet, "/status", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, e.server.URL+"/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, e.server.URL+"/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}
