package collector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/emosketch/dbopen"
	"github.com/hazyhaar/emosketch/observability"

	_ "modernc.org/sqlite"
)

var testImpl = &mcp.Implementation{Name: "collector-test", Version: "0.1.0"}

// testCollector returns a Collector rooted in a temp dir and its router.
func testCollector(t *testing.T) (*Collector, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "public")
	cfg.DatasetDir = filepath.Join(dir, "dataset")
	cfg.LegacyDir = filepath.Join(dir, "tmp")
	if err := os.MkdirAll(cfg.LegacyDir, 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := New(cfg, dbopen.OpenMemory(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	c.Routes(r)
	return c, r
}

func pngBytes(t *testing.T, w, h int, fill color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func dataURL(t *testing.T, fill color.Color) string {
	t.Helper()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 8, 8, fill))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func saveBody(img string, category any) string {
	b, _ := json.Marshal(map[string]any{"image": img, "category": category})
	return string(b)
}

func countPNGs(t *testing.T, root string) int {
	t.Helper()
	n := 0
	filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(p, ".png") {
			n++
		}
		return nil
	})
	return n
}

var drawingNameRe = regexp.MustCompile(`^drawing_\d+\.png$`)

func TestSaveDrawing_Partitions(t *testing.T) {
	tests := []struct {
		category  any
		partition string
	}{
		{0, "alegria"},
		{1, "tristeza"},
		{2, "enojo"},
		{99, "otros"},
		{-1, "otros"},
		{1.5, "otros"},
	}
	for _, tt := range tests {
		c, h := testCollector(t)
		rec := do(t, h, "POST", "/save-drawing", saveBody(dataURL(t, color.Black), tt.category))
		if rec.Code != http.StatusOK {
			t.Fatalf("category %v: status %d: %s", tt.category, rec.Code, rec.Body)
		}
		var resp saveResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Message != "Imagen guardada" || !drawingNameRe.MatchString(resp.Filename) {
			t.Errorf("category %v: response = %+v", tt.category, resp)
		}
		if _, err := os.Stat(filepath.Join(c.cfg.DataDir, tt.partition, resp.Filename)); err != nil {
			t.Errorf("category %v: file not in %s: %v", tt.category, tt.partition, err)
		}
	}
}

func TestSaveDrawing_Rejects(t *testing.T) {
	c, h := testCollector(t)
	valid := dataURL(t, color.Black)
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{image:`},
		{"missing image", `{"category": 0}`},
		{"empty image", saveBody("", 0)},
		{"missing category", `{"image": "` + valid + `"}`},
		{"null category", `{"image": "` + valid + `", "category": null}`},
		{"string category", saveBody(valid, "0")},
		{"wrong mime", saveBody(strings.Replace(valid, "image/png", "image/jpeg", 1), 0)},
		{"bad base64", saveBody("data:image/png;base64,!!!not-base64", 0)},
		{"not a png", saveBody("data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("GIF89a")), 0)},
	}
	for _, tt := range tests {
		rec := do(t, h, "POST", "/save-drawing", tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, rec.Code)
			continue
		}
		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp["error"] == "" {
			t.Errorf("%s: body = %s", tt.name, rec.Body)
		}
	}
	if n := countPNGs(t, c.cfg.DataDir); n != 0 {
		t.Errorf("%d files written by rejected requests", n)
	}

	rejected, err := c.events.Recent(context.Background(), observability.EventDrawingRejected, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(rejected) != len(tests) {
		t.Errorf("rejected events = %d, want %d", len(rejected), len(tests))
	}
}

// WHAT: Two saves in the same millisecond get distinct names.
// WHY: The file name is the timestamp; an overwrite would lose a drawing.
func TestStore_NameCollision(t *testing.T) {
	c, _ := testCollector(t)
	c.store.now = func() time.Time { return time.UnixMilli(1000) }
	data := pngBytes(t, 2, 2, color.White)
	ctx := context.Background()

	var names []string
	for i := 0; i < 3; i++ {
		d, err := c.store.Save(ctx, 0, data, 2, 2)
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, d.Filename)
	}
	want := []string{"drawing_1000.png", "drawing_1001.png", "drawing_1002.png"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names = %v, want %v", names, want)
			break
		}
	}
}

func TestPrepare(t *testing.T) {
	_, h := testCollector(t)

	if rec := do(t, h, "GET", "/X.npy", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("X.npy before prepare: status %d", rec.Code)
	}

	for _, s := range []struct {
		fill     color.Color
		category int
	}{
		{color.White, 0},
		{color.Black, 2},
		{color.Black, 99}, // fallback, not in the dataset
	} {
		if rec := do(t, h, "POST", "/save-drawing", saveBody(dataURL(t, s.fill), s.category)); rec.Code != 200 {
			t.Fatalf("save: %d %s", rec.Code, rec.Body)
		}
	}
	// Transparent pixels count as white.
	transparent := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 8, 8, color.Transparent))
	if rec := do(t, h, "POST", "/save-drawing", saveBody(transparent, 1)); rec.Code != 200 {
		t.Fatalf("save transparent: %d", rec.Code)
	}

	rec := do(t, h, "GET", "/prepare", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("prepare: %d %s", rec.Code, rec.Body)
	}
	var res PrepareResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Samples != 3 || res.Width != 28 || res.Height != 28 {
		t.Fatalf("prepare result = %+v", res)
	}

	rec = do(t, h, "GET", "/X.npy", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("X.npy: %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=X.npy" {
		t.Errorf("Content-Disposition = %q", got)
	}
	shape, x, err := DecodeNPY(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(shape) != 3 || shape[0] != 3 || shape[1] != 28 || shape[2] != 28 {
		t.Fatalf("X shape = %v", shape)
	}

	rec = do(t, h, "GET", "/y.npy", "")
	yShape, y, err := DecodeNPY(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(yShape) != 1 || yShape[0] != 3 {
		t.Fatalf("y shape = %v", yShape)
	}

	frame := 28 * 28
	want := map[byte]byte{0: 255, 1: 255, 2: 0}
	for i, label := range y {
		px, ok := want[label]
		if !ok {
			t.Fatalf("unexpected label %d", label)
		}
		for _, v := range x[i*frame : (i+1)*frame] {
			if v != px {
				t.Fatalf("sample %d (label %d): pixel %d, want %d", i, label, v, px)
			}
		}
	}
}

func TestPrepare_SkipsMissingFiles(t *testing.T) {
	c, _ := testCollector(t)
	ctx := context.Background()
	d, err := c.store.Save(ctx, 1, pngBytes(t, 4, 4, color.Black), 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(c.store.Path(d)); err != nil {
		t.Fatal(err)
	}
	res, err := c.Prepare(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Samples != 0 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestLegacyDownloads(t *testing.T) {
	c, h := testCollector(t)

	rec := do(t, h, "POST", "/download-x", `{"data": [0, 127, 255]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("download-x: %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Content-Type") != "application/octet-stream" ||
		rec.Header().Get("Content-Disposition") != "attachment; filename=X.npy" {
		t.Errorf("headers = %v", rec.Header())
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte{0, 127, 255}) {
		t.Errorf("body = %v", rec.Body.Bytes())
	}
	onDisk, err := os.ReadFile(filepath.Join(c.cfg.LegacyDir, "X.npy"))
	if err != nil || !bytes.Equal(onDisk, []byte{0, 127, 255}) {
		t.Errorf("scratch file = %v, %v", onDisk, err)
	}

	rec = do(t, h, "POST", "/download-y", `{"label": 2}`)
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), []byte{2}) {
		t.Errorf("download-y: %d %v", rec.Code, rec.Body.Bytes())
	}
	if rec.Header().Get("Content-Disposition") != "attachment; filename=y.npy" {
		t.Errorf("y headers = %v", rec.Header())
	}

	for _, tt := range []struct{ path, body string }{
		{"/download-x", `{"data": [0, 256]}`},
		{"/download-x", `{"data": [-1]}`},
		{"/download-x", `{}`},
		{"/download-y", `{}`},
		{"/download-y", `{"label": 300}`},
		{"/download-y", `{"label": "1"}`},
	} {
		if rec := do(t, h, "POST", tt.path, tt.body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status %d, want 400", tt.path, tt.body, rec.Code)
		}
	}
}

func TestStatsAndDrawings(t *testing.T) {
	_, h := testCollector(t)
	for _, cat := range []int{0, 0, 2, 7} {
		do(t, h, "POST", "/save-drawing", saveBody(dataURL(t, color.Black), cat))
	}

	rec := do(t, h, "GET", "/stats", "")
	var st Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	want := map[string]int{"alegria": 2, "tristeza": 0, "enojo": 1, "otros": 1}
	if st.Total != 4 {
		t.Errorf("total = %d", st.Total)
	}
	for p, n := range want {
		if st.Partitions[p] != n {
			t.Errorf("partition %s = %d, want %d", p, st.Partitions[p], n)
		}
	}

	rec = do(t, h, "GET", "/drawings?limit=2", "")
	var list []Drawing
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 2 {
		t.Errorf("drawings = %d, want 2", len(list))
	}

	rec = do(t, h, "GET", "/drawings?partition=otros", "")
	list = nil
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 || list[0].Label != -1 || list[0].Category != 7 {
		t.Errorf("otros drawings = %+v", list)
	}

	rec = do(t, h, "GET", "/health", "")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}
}

func TestReindex(t *testing.T) {
	c, _ := testCollector(t)
	ctx := context.Background()

	dir := filepath.Join(c.cfg.DataDir, "tristeza")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "drawing_42.png"), pngBytes(t, 3, 5, color.Black), 0o644)
	os.WriteFile(filepath.Join(dir, "drawing_43.png"), []byte("garbage"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)

	n, err := c.store.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("added = %d, want 1", n)
	}
	if n, _ := c.store.Reindex(ctx); n != 0 {
		t.Errorf("second reindex added %d", n)
	}

	list, err := c.store.Recent(ctx, "tristeza", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}
	d := list[0]
	if d.Label != 1 || d.Width != 3 || d.Height != 5 || d.CreatedAt != 42 {
		t.Errorf("drawing = %+v", d)
	}
}

func TestCategories(t *testing.T) {
	c, err := NewCategories([]string{"Alegría", "Tristeza", "Enojo"}, "Otros")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.All(); strings.Join(got, ",") != "alegria,tristeza,enojo,otros" {
		t.Errorf("All = %v", got)
	}
	for _, tt := range []struct {
		in   float64
		want int
	}{{0, 0}, {2, 2}, {2.0000001, -1}, {3, -1}, {-0.5, -1}} {
		if got := c.Index(tt.in); got != tt.want {
			t.Errorf("Index(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if c.Label("enojo") != 2 || c.Label("otros") != -1 {
		t.Error("Label mismatch")
	}

	if _, err := NewCategories([]string{"Enojo", "enojo"}, "otros"); err == nil {
		t.Error("duplicate partitions accepted")
	}
	if _, err := NewCategories([]string{"a/b"}, "otros"); err == nil {
		t.Error("path separator accepted")
	}
	if Slug("  Mucha Alegría ") != "mucha_alegria" {
		t.Errorf("Slug = %q", Slug("  Mucha Alegría "))
	}
}

func TestEncodeNPY_Header(t *testing.T) {
	for _, shape := range [][]int{{4}, {2, 2}, {1, 2, 2}, {0, 28, 28}} {
		n := 1
		for _, d := range shape {
			n *= d
		}
		var buf bytes.Buffer
		if err := EncodeNPY(&buf, shape, make([]byte, n)); err != nil {
			t.Fatal(err)
		}
		raw := buf.Bytes()
		hlen := int(raw[8]) | int(raw[9])<<8
		if (10+hlen)%64 != 0 {
			t.Errorf("shape %v: data offset %d not 64-aligned", shape, 10+hlen)
		}
		if raw[10+hlen-1] != '\n' {
			t.Errorf("shape %v: header does not end in newline", shape)
		}
	}

	var buf bytes.Buffer
	EncodeNPY(&buf, []int{3}, []byte{1, 2, 3})
	if !strings.Contains(buf.String(), "'shape': (3,)") {
		t.Errorf("1-D header = %q", buf.String())
	}
	if err := EncodeNPY(&buf, []int{2, 2}, []byte{1}); err == nil {
		t.Error("size mismatch accepted")
	}
}

func TestMCPTools(t *testing.T) {
	c, _ := testCollector(t)
	ctx := context.Background()
	if _, err := c.store.Save(ctx, 2, pngBytes(t, 4, 4, color.Black), 4, 4); err != nil {
		t.Fatal(err)
	}

	srv := mcp.NewServer(testImpl, nil)
	c.RegisterMCP(srv)
	serverT, clientT := mcp.NewInMemoryTransports()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	call := func(name string, args any) string {
		t.Helper()
		res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			t.Fatalf("CallTool(%s): %v", name, err)
		}
		if err := res.GetError(); err != nil {
			t.Fatalf("CallTool(%s) tool error: %v", name, err)
		}
		return res.Content[0].(*mcp.TextContent).Text
	}

	var st Stats
	json.Unmarshal([]byte(call("sketch_stats", map[string]any{})), &st)
	if st.Total != 1 || st.Partitions["enojo"] != 1 {
		t.Errorf("stats = %+v", st)
	}

	var list []Drawing
	json.Unmarshal([]byte(call("sketch_recent", map[string]any{"partition": "enojo", "limit": 5})), &list)
	if len(list) != 1 || list[0].Label != 2 {
		t.Errorf("recent = %+v", list)
	}

	var res PrepareResult
	json.Unmarshal([]byte(call("sketch_prepare", map[string]any{})), &res)
	if res.Samples != 1 {
		t.Errorf("prepare = %+v", res)
	}

	var events []observability.EventRecord
	json.Unmarshal([]byte(call("sketch_events", map[string]any{"type": observability.EventDatasetPrepared})), &events)
	if len(events) != 1 {
		t.Errorf("events = %+v", events)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.yaml")
	os.WriteFile(path, []byte("listen: \":9090\"\ndataset:\n  width: 32\n  height: 32\n"), 0o644)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9090" || cfg.Dataset.Width != 32 || cfg.Fallback != "otros" || len(cfg.Categories) != 3 {
		t.Errorf("cfg = %+v", cfg)
	}

	os.WriteFile(path, []byte("categories: [\"A\", \"a\"]\n"), 0o644)
	if _, err := LoadConfig(path); err == nil {
		t.Error("duplicate categories accepted")
	}
}
