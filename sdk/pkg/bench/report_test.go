package bench

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type recordingUploader struct {
	err error

	mu    sync.Mutex
	paths []string
}

func (u *recordingUploader) Upload(ctx context.Context, localPath string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.paths = append(u.paths, localPath)
	return "s3://bucket/" + filepath.Base(localPath), nil
}

func testResult(transport string, recvd int) *TestResult {
	return Summarize([]PeerSamples{{PeerID: 1, Samples: samplesOf(recvd)}}, 10, RunConfig{Transport: transport})
}

// TestReportWriter_OverwritesSamePath 同样的文件名重复写入得到最后一次的内容，不留临时文件
func TestReportWriter_OverwritesSamePath(t *testing.T) {
	dir := t.TempDir()
	w := &ReportWriter{OutputDir: dir}

	first, err := w.Write(context.Background(), "1-1-10-8-1000.json", testResult("nats", 3))
	require.NoError(t, err)
	second, err := w.Write(context.Background(), "1-1-10-8-1000.json", testResult("kafka", 7))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	var decoded TestResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "kafka", decoded.Config.Transport)
	assert.Equal(t, 7, decoded.PerPeerResult[0].RecvdMsgNum)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReportWriter_IsIndented(t *testing.T) {
	w := &ReportWriter{OutputDir: t.TempDir()}
	path, err := w.Write(context.Background(), "r.json", testResult("memory", 1))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"config\"")
}

func TestReportWriter_XLSXAndUpload(t *testing.T) {
	dir := t.TempDir()
	uploader := &recordingUploader{}
	w := &ReportWriter{OutputDir: dir, XLSX: true, Uploader: uploader}

	result := testResult("redis", 4)
	result.RunID = "run-1"
	path, err := w.Write(context.Background(), "1-1-10-8-1000.json", result)
	require.NoError(t, err)

	xlsxPath := filepath.Join(dir, "1-1-10-8-1000.xlsx")
	f, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue(xlsxSheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "run_id", v)
	v, err = f.GetCellValue(xlsxSheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", v)
	v, err = f.GetCellValue(xlsxSheet, "A8")
	require.NoError(t, err)
	assert.Equal(t, "peer_id", v)
	v, err = f.GetCellValue(xlsxSheet, "C9")
	require.NoError(t, err)
	assert.Equal(t, "4", v)

	assert.Equal(t, []string{path, xlsxPath}, uploader.paths)
}

func TestReportWriter_UploadFailureKeepsLocalReport(t *testing.T) {
	dir := t.TempDir()
	w := &ReportWriter{OutputDir: dir, Uploader: &recordingUploader{err: errFake}}

	path, err := w.Write(context.Background(), "r.json", testResult("memory", 1))
	assert.ErrorIs(t, err, errFake)
	assert.FileExists(t, path)
}
