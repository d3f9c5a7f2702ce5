// Package log writes durable JSONL trails, zstd-compressed and rotated
// hourly: one for banking transactions, one for monitor alerts.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"playerbots/internal/sim/banking"
	"playerbots/internal/sim/monitor"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu       sync.Mutex
	curHour  string
	curPath  string
	f        *os.File
	enc      *zstd.Encoder
	w        *bufio.Writer
	onRotate func(closedPath string)
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

// OnRotate registers a callback invoked with each finished segment's path
// when the writer rolls to a new hour. Used to ship closed segments
// offsite.
func (w *JSONLZstdWriter) OnRotate(fn func(closedPath string)) {
	w.mu.Lock()
	w.onRotate = fn
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	prev := w.curPath
	if err := w.closeLocked(); err != nil {
		return err
	}
	if prev != "" && w.onRotate != nil {
		w.onRotate(prev)
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	w.curPath = w.pathForHour(hour)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curPath = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// BankLogger is the durable banking trail; the banking coordinators sink
// their transactions here.
type BankLogger struct{ w *JSONLZstdWriter }

func NewBankLogger(dataDir string) *BankLogger {
	return &BankLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "bank"), "bank")}
}

func (l *BankLogger) WriteTransaction(tx banking.Transaction) error { return l.w.Write(tx) }

func (l *BankLogger) OnRotate(fn func(closedPath string)) { l.w.OnRotate(fn) }

func (l *BankLogger) Close() error { return l.w.Close() }

// AlertLogger is the durable alert trail behind the monitor's sink.
type AlertLogger struct{ w *JSONLZstdWriter }

func NewAlertLogger(dataDir string) *AlertLogger {
	return &AlertLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "alerts"), "alerts")}
}

func (l *AlertLogger) WriteAlert(a monitor.Alert) error { return l.w.Write(a) }

func (l *AlertLogger) OnRotate(fn func(closedPath string)) { l.w.OnRotate(fn) }

func (l *AlertLogger) Close() error { return l.w.Close() }
