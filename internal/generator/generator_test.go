package generator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wasmdiff/internal/seed"
	"github.com/roach88/wasmdiff/internal/testutil"
	"github.com/roach88/wasmdiff/internal/wasmgen"
)

func newServer(t *testing.T, skip int64) (*Server, string, string) {
	t.Helper()
	dir := t.TempDir()
	scheme, err := seed.NewScheme(7, 512)
	require.NoError(t, err)

	mod, mem := filepath.Join(dir, "module.wasm"), filepath.Join(dir, "memory.bin")
	srv, err := NewServer(Config{Scheme: scheme, Skip: skip, ModulePath: mod, MemoryPath: mem})
	require.NoError(t, err)
	return srv, mod, mem
}

func TestServe_Protocol(t *testing.T) {
	srv, modPath, memPath := newServer(t, 0)

	var out bytes.Buffer
	err := srv.Serve(context.Background(), strings.NewReader("m\nw\nm m\nx\nq\nw\n"), &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5, "commands after q are not read")
	assert.Equal(t, "err no module generated yet", lines[0])
	assert.Regexp(t, `^ok w [1-9][0-9]*$`, lines[1])
	assert.Regexp(t, `^ok m [1-9][0-9]*$`, lines[2])
	assert.Equal(t, lines[2], lines[3], "images of one module have the same size")
	assert.Equal(t, `err unknown command 'x'`, lines[4])

	bin, err := os.ReadFile(modPath)
	require.NoError(t, err)
	info, err := wasmgen.Inspect(bin)
	require.NoError(t, err)

	img, err := os.ReadFile(memPath)
	require.NoError(t, err)
	assert.Len(t, img, int(info.MemoryPages)*seed.PageSize)
	assert.Equal(t, int64(0), srv.Step())
	assert.Equal(t, int64(2), srv.MemoryStep())
}

func TestServe_EndOfInput(t *testing.T) {
	srv, _, _ := newServer(t, 0)

	var out bytes.Buffer
	require.NoError(t, srv.Serve(context.Background(), strings.NewReader("w"), &out))
	assert.True(t, strings.HasPrefix(out.String(), "ok w "))
}

func TestServe_CancelledContext(t *testing.T) {
	srv, _, _ := newServer(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := srv.Serve(ctx, strings.NewReader("w"), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServer_ModuleResetsMemoryStep(t *testing.T) {
	srv, _, _ := newServer(t, 3)

	_, err := srv.NextModule()
	require.NoError(t, err)
	assert.Equal(t, int64(3), srv.Step())
	_, err = srv.NextMemory()
	require.NoError(t, err)
	_, err = srv.NextModule()
	require.NoError(t, err)
	assert.Equal(t, int64(4), srv.Step())
	assert.Equal(t, int64(0), srv.MemoryStep())
}

func TestWriteCoordinate_MatchesStreaming(t *testing.T) {
	srv, modPath, memPath := newServer(t, 2)
	_, err := srv.NextModule()
	require.NoError(t, err)
	for range 4 {
		_, err = srv.NextMemory()
		require.NoError(t, err)
	}
	wantMod, err := os.ReadFile(modPath)
	require.NoError(t, err)
	wantMem, err := os.ReadFile(memPath)
	require.NoError(t, err)

	dir := t.TempDir()
	gotModPath, gotMemPath := filepath.Join(dir, "m.wasm"), filepath.Join(dir, "m.bin")
	scheme, err := seed.NewScheme(7, 512)
	require.NoError(t, err)
	require.NoError(t, WriteCoordinate(scheme, 2, 3, gotModPath, gotMemPath))

	gotMod, err := os.ReadFile(gotModPath)
	require.NoError(t, err)
	gotMem, err := os.ReadFile(gotMemPath)
	require.NoError(t, err)
	assert.Equal(t, wantMod, gotMod)
	assert.Equal(t, wantMem, gotMem)

	info, err := wasmgen.Inspect(gotMod)
	require.NoError(t, err)
	assert.Len(t, gotMem, int(info.MemoryPages)*seed.PageSize, "image sized to the module's memory")

	assert.Error(t, WriteCoordinate(scheme, 0, -1, gotModPath, gotMemPath))
}

func TestWriteFileAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	require.NoError(t, writeFileAtomic(path, []byte("one")))
	require.NoError(t, writeFileAtomic(path, []byte("two")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestNewServer_RequiresPaths(t *testing.T) {
	_, err := NewServer(Config{Scheme: seed.Scheme{Seed: 1, BlockSize: 8}})
	assert.Error(t, err)
}

// fakeGenerator answers the protocol without generating anything real.
const fakeGenerator = `
while read -r cmd; do
  case "$cmd" in
    w) printf 'mod' > "$1"; echo "ok w 3" ;;
    m) printf 'mem!' > "$2"; echo "ok m 4" ;;
    q) exit 0 ;;
    *) echo "err unknown command" ;;
  esac
done
`

func TestClient_DrivesSubprocess(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "gen.sh", fakeGenerator)
	mod, mem := filepath.Join(dir, "m.wasm"), filepath.Join(dir, "m.bin")

	c, err := Start(context.Background(), script, mod, mem)
	require.NoError(t, err)

	n, err := c.Module()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = c.Memory()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, c.Quit())
	require.NoError(t, c.Quit(), "Quit is idempotent")

	data, err := os.ReadFile(mem)
	require.NoError(t, err)
	assert.Equal(t, "mem!", string(data))
}

func TestClient_ReportsGeneratorErrors(t *testing.T) {
	script := testutil.FakeRunner(t, `read -r cmd; echo "err disk full"; read -r cmd`)

	c, err := Start(context.Background(), script)
	require.NoError(t, err)
	_, err = c.Module()
	assert.ErrorContains(t, err, "disk full")
	require.NoError(t, c.Quit())
}

func TestClient_GeneratorExitsEarly(t *testing.T) {
	script := testutil.FakeRunner(t, `exit 4`)

	c, err := Start(context.Background(), script)
	require.NoError(t, err)
	_, err = c.Module()
	assert.Error(t, err)
	assert.Error(t, c.Quit())
}

func TestStart_MissingExecutable(t *testing.T) {
	_, err := Start(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestParseAck(t *testing.T) {
	n, err := parseAck('w', "ok w 120")
	require.NoError(t, err)
	assert.Equal(t, 120, n)

	for _, line := range []string{"ok m 120", "ok w", "ok w x", "hello"} {
		_, err := parseAck('w', line)
		assert.Error(t, err, line)
	}
}

func TestArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"--seed", "-3", "--block-size", "64", "--skip", "2", "--output", "a", "--memory", "b"},
		Args(-3, 64, 2, "a", "b"))
}

func TestLocal_ImplementsSource(t *testing.T) {
	srv, _, _ := newServer(t, 0)
	var src Source = Local{srv}

	_, err := src.Memory()
	assert.ErrorIs(t, err, ErrNoModule)
	_, err = src.Module()
	require.NoError(t, err)
	_, err = src.Memory()
	require.NoError(t, err)
	assert.NoError(t, src.Quit())
}
