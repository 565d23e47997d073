package producer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastcopy/fastcopy/internal/job"
)

func drain(t *testing.T, jobs <-chan job.CopyJob, errs <-chan error) ([]job.CopyJob, []error) {
	t.Helper()
	var gotJobs []job.CopyJob
	var gotErrs []error
	for jobs != nil || errs != nil {
		select {
		case j, ok := <-jobs:
			if !ok {
				jobs = nil
				continue
			}
			gotJobs = append(gotJobs, j)
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			gotErrs = append(gotErrs, e)
		}
	}
	return gotJobs, gotErrs
}

func TestProducer_SingleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	p := New(Config{Mode: SingleFile, SourceRoot: src, DestinationRoot: filepath.Join(dir, "b.txt")})
	jobs, errs := p.Produce(context.Background())
	got, errList := drain(t, jobs, errs)

	require.Empty(t, errList)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].KnownSizeBytes)
	assert.Equal(t, job.Regular, got[0].Kind)
}

func TestProducer_SingleFile_RejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	p := New(Config{Mode: SingleFile, SourceRoot: dir, DestinationRoot: "/tmp/out"})
	jobs, errs := p.Produce(context.Background())
	got, errList := drain(t, jobs, errs)

	assert.Empty(t, got)
	assert.Len(t, errList, 1)
}

func TestProducer_Directory_EmitsOneJobPerRegularFile(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(srcRoot, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "one.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "sub", "two.txt"), []byte("22"), 0o644))

	p := New(Config{Mode: Directory, SourceRoot: srcRoot, DestinationRoot: dstRoot, Workers: 2})
	jobs, errs := p.Produce(context.Background())
	got, errList := drain(t, jobs, errs)

	require.Empty(t, errList)

	var regular []job.CopyJob
	for _, j := range got {
		if j.Kind == job.Regular {
			regular = append(regular, j)
		}
	}
	require.Len(t, regular, 2)

	for _, j := range regular {
		rel, err := filepath.Rel(srcRoot, j.SourceURI)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dstRoot, rel), j.DestinationURI)
	}
}

func TestProducer_Directory_EmitsDirJobsAndSymlinks(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(srcRoot, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "sub", "f.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(srcRoot, "sub", "f.txt"), filepath.Join(srcRoot, "link")))

	p := New(Config{Mode: Directory, SourceRoot: srcRoot, DestinationRoot: dstRoot})
	jobs, errs := p.Produce(context.Background())
	got, errList := drain(t, jobs, errs)
	require.Empty(t, errList)

	var sawDir, sawSymlink bool
	for _, j := range got {
		if j.Kind == job.Directory {
			sawDir = true
		}
		if j.Kind == job.Symlink {
			sawSymlink = true
			assert.Equal(t, filepath.Join(srcRoot, "sub", "f.txt"), j.LinkTarget)
		}
	}
	assert.True(t, sawDir)
	assert.True(t, sawSymlink)
}

func TestProducer_Directory_HardlinkDedup(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	first := filepath.Join(srcRoot, "first.txt")
	second := filepath.Join(srcRoot, "second.txt")
	require.NoError(t, os.WriteFile(first, []byte("shared"), 0o644))
	require.NoError(t, os.Link(first, second))

	p := New(Config{Mode: Directory, SourceRoot: srcRoot, DestinationRoot: dstRoot})
	jobs, errs := p.Produce(context.Background())
	got, errList := drain(t, jobs, errs)
	require.Empty(t, errList)

	var hardlinks int
	for _, j := range got {
		if j.Kind == job.Hardlink {
			hardlinks++
		}
	}
	assert.Equal(t, 1, hardlinks)
}

func TestProducer_ExternalList(t *testing.T) {
	list := strings.NewReader("# comment\nsrc1|dst1\n\nsrc2|dst2\n")
	p := New(Config{Mode: ExternalList, ListSource: list})
	jobs, errs := p.Produce(context.Background())
	got, errList := drain(t, jobs, errs)

	require.Empty(t, errList)
	require.Len(t, got, 2)
	assert.Equal(t, "src1", got[0].SourceURI)
	assert.Equal(t, "dst1", got[0].DestinationURI)
	assert.Equal(t, job.UnknownSize, got[0].KnownSizeBytes)
}

func TestProducer_ExternalList_MalformedLineReportsError(t *testing.T) {
	list := strings.NewReader("not-a-pair\n")
	p := New(Config{Mode: ExternalList, ListSource: list})
	jobs, errs := p.Produce(context.Background())
	got, errList := drain(t, jobs, errs)

	assert.Empty(t, got)
	assert.Len(t, errList, 1)
}

func TestProducer_Directory_CancellationStopsEarly(t *testing.T) {
	srcRoot := t.TempDir()
	for i := 0; i < 50; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(srcRoot, string(rune('a'+i%26))+".txt"), []byte("x"), 0o644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(Config{Mode: Directory, SourceRoot: srcRoot, DestinationRoot: t.TempDir(), Workers: 1})
	jobs, errs := p.Produce(ctx)
	_, _ = drain(t, jobs, errs)
}
