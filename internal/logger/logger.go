package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// workerField はワーカーIDを保持するlogrusフィールド名
const workerField = "worker"

// Level はログレベルを表す
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// logrus はlogrusのレベルに変換する
func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func fromLogrus(l logrus.Level) Level {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LevelDebug
	case logrus.WarnLevel:
		return LevelWarn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

// lineFormatter は "[時刻] [レベル] [ワーカー] メッセージ" 形式で出力する
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	timestamp := e.Time.Format("2006-01-02 15:04:05.000")
	level := fromLogrus(e.Level)

	if id, ok := e.Data[workerField].(string); ok && id != "" {
		fmt.Fprintf(&b, "[%s] [%s] [%s] %s\n", timestamp, level, id, e.Message)
	} else {
		fmt.Fprintf(&b, "[%s] [%s] %s\n", timestamp, level, e.Message)
	}
	return b.Bytes(), nil
}

// Logger はスレッドセーフなロガー（logrusのラッパー）
type Logger struct {
	l *logrus.Logger
}

// Default は標準出力向けのデフォルトロガー
var Default = New(os.Stdout, LevelInfo)

// Errors は致命的なエラーを標準エラー出力に書き出すロガー
var Errors = New(os.Stderr, LevelInfo)

// New は新しいロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(lineFormatter{})
	l.SetLevel(minLevel.logrus())
	return &Logger{l: l}
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	l.l.SetLevel(level.logrus())
}

// SetOutput は出力先を差し替える
func (l *Logger) SetOutput(out io.Writer) {
	l.l.SetOutput(out)
}

// log は指定されたレベルでログを出力する
func (l *Logger) log(level Level, workerID string, format string, args ...any) {
	entry := logrus.NewEntry(l.l)
	if workerID != "" {
		entry = entry.WithField(workerField, workerID)
	}
	entry.Logf(level.logrus(), format, args...)
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(workerID string, format string, args ...any) {
	l.log(LevelDebug, workerID, format, args...)
}

// Info は情報ログを出力する
func (l *Logger) Info(workerID string, format string, args ...any) {
	l.log(LevelInfo, workerID, format, args...)
}

// Warn は警告ログを出力する
func (l *Logger) Warn(workerID string, format string, args ...any) {
	l.log(LevelWarn, workerID, format, args...)
}

// Error はエラーログを出力する
func (l *Logger) Error(workerID string, format string, args ...any) {
	l.log(LevelError, workerID, format, args...)
}

// グローバル関数（デフォルトロガーを使用）

// Debug はデバッグログを出力する
func Debug(workerID string, format string, args ...any) {
	Default.Debug(workerID, format, args...)
}

// Info は情報ログを出力する
func Info(workerID string, format string, args ...any) {
	Default.Info(workerID, format, args...)
}

// Warn は警告ログを出力する
func Warn(workerID string, format string, args ...any) {
	Default.Warn(workerID, format, args...)
}

// Error はエラーログを標準エラー出力に書き出す
func Error(workerID string, format string, args ...any) {
	Errors.Error(workerID, format, args...)
}
