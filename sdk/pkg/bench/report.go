package bench

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/json"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Uploader 报告上传
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// ReportWriter 报告落盘
// JSON 是唯一的权威结果，xlsx 和上传都基于已经写好的 JSON 之后进行
type ReportWriter struct {
	OutputDir string
	XLSX      bool
	Uploader  Uploader // 可选
}

// Write 先完整序列化，再写临时文件并 rename 覆盖目标文件
func (w *ReportWriter) Write(ctx context.Context, name string, result *TestResult) (string, error) {
	log := logger.Named("bench.report")

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize report: %w", err)
	}

	dir := w.OutputDir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write report %s: %w", path, err)
	}
	log.Info("Report written", zap.String("path", path), zap.Int("bytes", len(data)))

	written := []string{path}
	if w.XLSX {
		xlsxPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".xlsx"
		if err := writeXLSX(xlsxPath, result); err != nil {
			return path, fmt.Errorf("write xlsx report %s: %w", xlsxPath, err)
		}
		log.Info("XLSX report written", zap.String("path", xlsxPath))
		written = append(written, xlsxPath)
	}

	if w.Uploader != nil {
		for _, p := range written {
			location, err := w.Uploader.Upload(ctx, p)
			if err != nil {
				return path, fmt.Errorf("upload report %s: %w", p, err)
			}
			log.Info("Report uploaded", zap.String("path", p), zap.String("location", location))
		}
	}
	return path, nil
}

// writeFileAtomic 同目录临时文件 + rename，目标文件要么是旧内容要么是完整的新内容
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

const xlsxSheet = "Sheet1"

// writeXLSX 汇总在上方，逐节点明细在下方
func writeXLSX(path string, result *TestResult) error {
	f := excelize.NewFile()
	defer f.Close()

	cfgJSON, err := json.Marshal(result.Config)
	if err != nil {
		return err
	}

	summary := [][]interface{}{
		{"run_id", result.RunID},
		{"transport", result.Config.Transport},
		{"total_sub_returned", result.TotalSubReturned},
		{"total_receive_rate", rateCell(result.TotalReceiveRate)},
		{"worker_failures", len(result.WorkerFailures)},
		{"config", string(cfgJSON)},
	}
	row := 1
	for _, values := range summary {
		if err := setRow(f, row, values); err != nil {
			return err
		}
		row++
	}

	row++
	if err := setRow(f, row, []interface{}{"peer_id", "receive_rate", "recvd_msg_num", "expected_msg_num", "overflow"}); err != nil {
		return err
	}
	for _, pr := range result.PerPeerResult {
		row++
		values := []interface{}{pr.PeerID, rateCell(pr.ReceiveRate), pr.RecvdMsgNum, pr.ExpectedMsgNum, pr.Overflow}
		if err := setRow(f, row, values); err != nil {
			return err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

func setRow(f *excelize.File, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(xlsxSheet, cell, &values)
}

// rateCell 无定义的接收率在表格里留空
func rateCell(rate *float64) interface{} {
	if rate == nil {
		return ""
	}
	return *rate
}
