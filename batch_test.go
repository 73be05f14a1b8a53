package pixkern

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/image/tiff"

	"github.com/gogpu/pixkern/backend"
	"github.com/gogpu/pixkern/internal/imageio"
	"github.com/gogpu/pixkern/kernel"
)

// recordingWriter keeps images and log lines in memory.
type recordingWriter struct {
	mu      sync.Mutex
	lines   []string
	written map[string]*Image
	failOn  string // Write fails for targets containing this substring
	panicOn string // Write panics for targets containing this substring
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{written: make(map[string]*Image)}
}

func (r *recordingWriter) Write(img *Image, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && strings.Contains(target, r.failOn) {
		return &WriteError{Path: target, Err: os.ErrPermission}
	}
	if r.panicOn != "" && strings.Contains(target, r.panicOn) {
		panic("encoder bug")
	}
	r.written[target] = img
	return nil
}

func (r *recordingWriter) LogSuccess(input, transform string, d time.Duration) error {
	return r.add("ok " + input + " " + transform)
}

func (r *recordingWriter) LogFailure(input, message string) error {
	return r.add("fail " + input + ": " + message)
}

func (r *recordingWriter) LogDiagnostic(message string) error {
	return r.add(message)
}

func (r *recordingWriter) add(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	return nil
}

func newHost(t *testing.T, cfg backend.HostConfig) *backend.HostDevice {
	t.Helper()
	d := backend.NewHostDevice(cfg)
	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

// writeGray saves a w×h 8-bit image with a horizontal ramp and a step edge.
func writeGray(t *testing.T, path string, w, h int) *Image {
	t.Helper()
	img, err := imageio.New(w, h, 1, imageio.Depth8)
	if err != nil {
		t.Fatal(err)
	}
	for y := range h {
		for x := range w {
			v := float32(x * 7 % 256)
			if x >= w/2 {
				v = 250
			}
			img.Planes[0][y*w+x] = v
		}
	}
	if err := imageio.Save(img, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return img
}

func TestRunEmpty(t *testing.T) {
	w := newRecordingWriter()
	b := NewBatch(newHost(t, backend.HostConfig{}), w, WithSource("data/images/"))
	if err := b.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run(empty) = %v, want nil", err)
	}
	if len(w.lines) != 1 || w.lines[0] != "No images found in data/images/" {
		t.Errorf("lines = %q, want one diagnostic", w.lines)
	}
}

func TestFaultIsolation(t *testing.T) {
	dir := t.TempDir()
	inRoot := filepath.Join(dir, "images")
	corrupt := filepath.Join(inRoot, "corrupt.tiff")
	good := filepath.Join(inRoot, "good.tiff")
	if err := os.MkdirAll(inRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(corrupt, []byte("II*\x00garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	src := writeGray(t, good, 12, 9)

	logPath := filepath.Join(dir, "results", "log.txt")
	w, err := OpenResultWriter(logPath)
	if err != nil {
		t.Fatal(err)
	}
	b := NewBatch(newHost(t, backend.HostConfig{Workers: 2}), w, WithTarget(Mirror(inRoot, dir)))
	if err := b.Run(context.Background(), []string{corrupt, good}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("log has %d lines, want 4:\n%s", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "Error processing "+corrupt+": ") {
		t.Errorf("line 0 = %q, want failure for corrupt image", lines[0])
	}
	for i, name := range []string{"gradient", "blur", "threshold"} {
		re := regexp.MustCompile("^" + regexp.QuoteMeta(good+" -> "+name) + ` processed in \d+\.\d{5} seconds$`)
		if !re.MatchString(lines[i+1]) {
			t.Errorf("line %d = %q, want success for %s", i+1, lines[i+1], name)
		}
	}

	// Image 2's outputs are written correctly.
	for _, tr := range DefaultTransforms() {
		got, err := imageio.Load(filepath.Join(dir, tr.Name, "good.tiff"))
		if err != nil {
			t.Fatalf("%s output: %v", tr.Name, err)
		}
		want := make([]float32, len(src.Planes[0]))
		_ = kernel.Apply(tr.Kernel, src.Planes[0], want, kernel.Shape{Width: 12, Height: 9})
		for i := range want {
			if got.Planes[0][i] != float32(int(min(want[i], 255))) {
				t.Fatalf("%s sample %d = %v, want %v", tr.Name, i, got.Planes[0][i], want[i])
			}
		}
	}
}

func TestApplyBorderAndBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.png")
	img := writeGray(t, path, 16, 10)
	b := NewBatch(newHost(t, backend.HostConfig{}), newRecordingWriter())

	for _, tr := range DefaultTransforms() {
		res, err := b.Apply(context.Background(), img, tr)
		if err != nil {
			t.Fatalf("Apply %s: %v", tr.Name, err)
		}
		if res.Elapsed <= 0 {
			t.Errorf("%s: Elapsed = %v", tr.Name, res.Elapsed)
		}
		p := res.Image.Planes[0]
		s := kernel.Shape{Width: 16, Height: 10}
		for y := range s.Height {
			for x := range s.Width {
				v := p[y*s.Width+x]
				if !s.Interior(x, y) && v != 0 {
					t.Fatalf("%s: border (%d,%d) = %v, want 0", tr.Name, x, y, v)
				}
				if tr.Kernel == kernel.ThresholdEdge && v != kernel.EdgeOn && v != kernel.EdgeOff {
					t.Fatalf("threshold (%d,%d) = %v, want 0 or 255", x, y, v)
				}
			}
		}
	}
}

func TestZeroImage(t *testing.T) {
	img, _ := imageio.New(8, 8, 1, imageio.Depth8)
	b := NewBatch(newHost(t, backend.HostConfig{}), newRecordingWriter())
	for _, tr := range DefaultTransforms() {
		res, err := b.Apply(context.Background(), img, tr)
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range res.Image.Planes[0] {
			if v != 0 {
				t.Fatalf("%s sample %d = %v, want 0", tr.Name, i, v)
			}
		}
	}
}

func TestApplyPerChannel(t *testing.T) {
	img, _ := imageio.New(6, 6, 3, imageio.Depth8)
	for c := range 3 {
		for i := range img.Planes[c] {
			img.Planes[c][i] = float32((i*(c+3))%200 + c)
		}
	}
	b := NewBatch(newHost(t, backend.HostConfig{}), newRecordingWriter())
	res, err := b.Apply(context.Background(), img, Transform{Name: "blur", Kernel: kernel.Blur})
	if err != nil {
		t.Fatal(err)
	}
	if res.Image.Channels != 3 {
		t.Fatalf("Channels = %d", res.Image.Channels)
	}
	for c := range 3 {
		want := make([]float32, 36)
		_ = kernel.Apply(kernel.Blur, img.Planes[c], want, kernel.Shape{Width: 6, Height: 6})
		for i := range want {
			if res.Image.Planes[c][i] != want[i] {
				t.Fatalf("channel %d sample %d = %v, want %v", c, i, res.Image.Planes[c][i], want[i])
			}
		}
	}
}

func TestAllocationFailureIsolated(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "images", "big.png")
	small := filepath.Join(dir, "images", "small.png")
	writeGray(t, big, 1024, 512) // 2 MB plane
	writeGray(t, small, 8, 8)

	w := newRecordingWriter()
	dev := newHost(t, backend.HostConfig{MaxMemoryMB: backend.MinMemoryMB})
	b := NewBatch(dev, w, WithTarget(Mirror(filepath.Join(dir, "images"), dir)))
	if err := b.Run(context.Background(), []string{big, small}); err != nil {
		t.Fatal(err)
	}

	var fails, oks int
	for _, l := range w.lines {
		switch {
		case strings.HasPrefix(l, "fail "+big):
			fails++
			if !strings.Contains(l, "memory budget exceeded") {
				t.Errorf("failure line %q lacks cause", l)
			}
		case strings.HasPrefix(l, "ok "+small):
			oks++
		default:
			t.Errorf("unexpected line %q", l)
		}
	}
	if fails != 3 || oks != 3 {
		t.Errorf("fails = %d, oks = %d, want 3 and 3", fails, oks)
	}
	if st := dev.Stats(); st.UsedBytes != 0 {
		t.Errorf("buffers leaked: %v", st)
	}
}

func TestWriteFailureIsolated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "images", "a.png")
	writeGray(t, path, 8, 8)

	w := newRecordingWriter()
	w.failOn = "blur"
	b := NewBatch(newHost(t, backend.HostConfig{}), w, WithTarget(Mirror(filepath.Join(dir, "images"), dir)))
	if err := b.Run(context.Background(), []string{path}); err != nil {
		t.Fatal(err)
	}
	want := []string{"ok " + path + " gradient", "fail " + path + ": write", "ok " + path + " threshold"}
	if len(w.lines) != len(want) {
		t.Fatalf("lines = %q", w.lines)
	}
	for i := range want {
		if !strings.HasPrefix(w.lines[i], want[i]) {
			t.Errorf("line %d = %q, want prefix %q", i, w.lines[i], want[i])
		}
	}
}

func TestRunWorkers(t *testing.T) {
	dir := t.TempDir()
	inRoot := filepath.Join(dir, "images")
	var paths []string
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		p := filepath.Join(inRoot, name+".png")
		writeGray(t, p, 9, 7)
		paths = append(paths, p)
	}

	w := newRecordingWriter()
	b := NewBatch(newHost(t, backend.HostConfig{}), w, WithWorkers(3), WithTarget(Mirror(inRoot, dir)))
	if err := b.Run(context.Background(), paths); err != nil {
		t.Fatal(err)
	}
	if len(w.lines) != 15 || len(w.written) != 15 {
		t.Errorf("lines = %d, written = %d, want 15 each", len(w.lines), len(w.written))
	}
	if _, ok := w.written[filepath.Join(dir, "threshold", "c.png")]; !ok {
		t.Error("missing mirrored threshold output for c.png")
	}
}

func TestRunCanceled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writeGray(t, path, 8, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := newRecordingWriter()
	err := NewBatch(newHost(t, backend.HostConfig{}), w).Run(ctx, []string{path})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if len(w.lines) != 0 {
		t.Errorf("lines = %q, want none", w.lines)
	}
}

func TestWithTransformsOrder(t *testing.T) {
	ts := []Transform{{Name: "threshold", Kernel: kernel.ThresholdEdge}, {Name: "blur", Kernel: kernel.Blur}}
	b := NewBatch(newHost(t, backend.HostConfig{}), newRecordingWriter(), WithTransforms(ts...))
	got := b.Transforms()
	if len(got) != 2 || got[0] != ts[0] || got[1] != ts[1] {
		t.Errorf("Transforms() = %v, want %v", got, ts)
	}
}

// writeTIFFClaiming writes a small TIFF whose header declares width×height.
func writeTIFFClaiming(t *testing.T, path string, width, height uint16) {
	t.Helper()
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2)), nil); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	ifd := int(binary.LittleEndian.Uint32(data[4:8]))
	for i := range int(binary.LittleEndian.Uint16(data[ifd:])) {
		e := data[ifd+2+12*i:]
		switch binary.LittleEndian.Uint16(e) {
		case 256:
			binary.LittleEndian.PutUint16(e[8:], width)
		case 257:
			binary.LittleEndian.PutUint16(e[8:], height)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestRunSurvivesBadHeaders(t *testing.T) {
	dir := t.TempDir()
	inRoot := filepath.Join(dir, "images")
	huge := filepath.Join(inRoot, "huge.tiff")
	empty := filepath.Join(inRoot, "empty.tiff")
	good := filepath.Join(inRoot, "good.tiff")
	writeTIFFClaiming(t, huge, 65535, 65535)
	writeTIFFClaiming(t, empty, 0, 5)
	writeGray(t, good, 10, 10)

	w := newRecordingWriter()
	b := NewBatch(newHost(t, backend.HostConfig{}), w, WithTarget(Mirror(inRoot, dir)))
	if err := b.Run(context.Background(), []string{huge, empty, good}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{
		"fail " + huge + ": load: imageio: image too large",
		"fail " + empty + ": load: imageio: invalid dimensions",
		"ok " + good + " gradient",
		"ok " + good + " blur",
		"ok " + good + " threshold",
	}
	if len(w.lines) != len(want) {
		t.Fatalf("lines = %q", w.lines)
	}
	for i := range want {
		if !strings.HasPrefix(w.lines[i], want[i]) {
			t.Errorf("line %d = %q, want prefix %q", i, w.lines[i], want[i])
		}
	}
}

func TestWithMaxPixels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "images", "a.png")
	writeGray(t, path, 20, 10)

	w := newRecordingWriter()
	b := NewBatch(newHost(t, backend.HostConfig{}), w, WithMaxPixels(199), WithTarget(Mirror(filepath.Join(dir, "images"), dir)))
	if err := b.Run(context.Background(), []string{path}); err != nil {
		t.Fatal(err)
	}
	if len(w.lines) != 1 || !strings.Contains(w.lines[0], "too large") {
		t.Errorf("lines = %q, want one load failure", w.lines)
	}
}

func TestPanicIsolated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "images", "a.png")
	writeGray(t, path, 8, 8)

	w := newRecordingWriter()
	w.panicOn = "gradient"
	dev := newHost(t, backend.HostConfig{})
	b := NewBatch(dev, w, WithTarget(Mirror(filepath.Join(dir, "images"), dir)))
	if err := b.Run(context.Background(), []string{path}); err != nil {
		t.Fatal(err)
	}
	want := []string{"fail " + path + ": pixkern: work item panicked: encoder bug", "ok " + path + " blur", "ok " + path + " threshold"}
	if len(w.lines) != len(want) {
		t.Fatalf("lines = %q", w.lines)
	}
	for i := range want {
		if !strings.HasPrefix(w.lines[i], want[i]) {
			t.Errorf("line %d = %q, want prefix %q", i, w.lines[i], want[i])
		}
	}
	if st := dev.Stats(); st.UsedBytes != 0 {
		t.Errorf("buffers leaked: %v", st)
	}
}

func TestGuard(t *testing.T) {
	err := guard(func() error {
		panic(errors.New("boom"))
	})
	if !errors.Is(err, ErrPanic) {
		t.Errorf("guard error = %v, want ErrPanic", err)
	}
	cause := errors.New("plain")
	if err := guard(func() error { return cause }); err != cause {
		t.Errorf("guard error = %v, want %v", err, cause)
	}
}

func TestLargeImageDefaultHostBudget(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates about 600 MB")
	}
	dev, err := backend.Select(backend.DeviceHost)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(dev.Close)

	img, err := imageio.New(6000, 6000, 1, imageio.Depth8)
	if err != nil {
		t.Fatal(err)
	}
	b := NewBatch(dev, newRecordingWriter())
	if _, err := b.Apply(context.Background(), img, Transform{Name: "blur", Kernel: kernel.Blur}); err != nil {
		t.Fatalf("Apply on 6000x6000: %v", err)
	}
}

func TestLoggerSetAfterNewBatch(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	b := NewBatch(newHost(t, backend.HostConfig{}), newRecordingWriter())

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	img, _ := imageio.New(4, 4, 1, imageio.Depth8)
	if _, err := b.Apply(context.Background(), img, Transform{Name: "blur", Kernel: kernel.Blur}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "kernel launch") {
		t.Errorf("launch not logged to the current logger:\n%s", buf.String())
	}
}
