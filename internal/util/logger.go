package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const logFilePrefix = "dealer-"

// InitLogger 初始化控制台日志格式
func InitLogger() {
	logrus.SetFormatter(newFormatter(false))
	logrus.SetReportCaller(true)
}

// SetLevel 按名称设置日志级别，无法识别时保持当前级别
func SetLevel(level string) {
	if level == "" {
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, keeping %s", level, logrus.GetLevel())
		return
	}
	logrus.SetLevel(lvl)
}

func newFormatter(file bool) logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
		DisableColors:   file, // 文件输出不需要颜色
		CallerPrettyfier: func(frame *runtime.Frame) (function string, file string) {
			return shortFunction(frame.Function), ""
		},
	}
}

// shortFunction 去掉模块路径，只保留 包名.函数名
func shortFunction(function string) string {
	if i := strings.LastIndex(function, "/"); i >= 0 {
		return function[i+1:]
	}
	return function
}

// FileHook 将日志按天写入 dealer-YYYYMMDD.log，并清理超过保留天数的旧文件
type FileHook struct {
	dir       string
	keepDays  int
	formatter logrus.Formatter
	now       func() time.Time

	mu   sync.Mutex
	file *os.File
	date string
	stop chan struct{}
}

// NewFileHook 创建文件 Hook，目录不存在时自动创建
func NewFileHook(dir string, keepDays int) (*FileHook, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if keepDays <= 0 {
		keepDays = 3
	}
	hook := &FileHook{
		dir:       dir,
		keepDays:  keepDays,
		formatter: newFormatter(true),
		now:       time.Now,
	}
	if err := hook.rotate(); err != nil {
		return nil, err
	}
	return hook, nil
}

// Levels 返回 Hook 要处理的日志级别
func (hook *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 写入一条日志，日期变化时先轮换文件
func (hook *FileHook) Fire(entry *logrus.Entry) error {
	if err := hook.rotate(); err != nil {
		return err
	}
	line, err := hook.formatter.Format(entry)
	if err != nil {
		return err
	}

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if hook.file == nil {
		return nil
	}
	_, err = hook.file.Write(line)
	return err
}

// Path 返回当前日志文件路径
func (hook *FileHook) Path() string {
	hook.mu.Lock()
	defer hook.mu.Unlock()
	if hook.file == nil {
		return ""
	}
	return hook.file.Name()
}

// rotate 日期变化时切换到新文件
func (hook *FileHook) rotate() error {
	today := hook.now().Format("20060102")

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if hook.date == today && hook.file != nil {
		return nil
	}

	path := filepath.Join(hook.dir, logFilePrefix+today+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if hook.file != nil {
		hook.file.Close()
	}
	hook.file = file
	hook.date = today
	return nil
}

// Cleanup 删除早于保留期的 dealer-YYYYMMDD.log
func (hook *FileHook) Cleanup() error {
	entries, err := os.ReadDir(hook.dir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	cutoff := hook.now().AddDate(0, 0, -hook.keepDays).Format("20060102")
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, logFilePrefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, logFilePrefix), ".log")
		if len(date) != 8 || date >= cutoff {
			continue
		}
		path := filepath.Join(hook.dir, name)
		if err := os.Remove(path); err != nil {
			logrus.Warnf("Failed to delete old log file %s: %v", path, err)
		} else {
			logrus.Infof("Deleted old log file: %s", path)
		}
	}
	return nil
}

// Start 启动每日清理任务
func (hook *FileHook) Start() {
	hook.mu.Lock()
	if hook.stop != nil {
		hook.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	hook.stop = stop
	hook.mu.Unlock()

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		if err := hook.Cleanup(); err != nil {
			logrus.Warnf("Failed to cleanup old logs: %v", err)
		}
		for {
			select {
			case <-ticker.C:
				if err := hook.Cleanup(); err != nil {
					logrus.Warnf("Failed to cleanup old logs: %v", err)
				}
			case <-stop:
				return
			}
		}
	}()
}

// Close 停止清理任务并关闭文件
func (hook *FileHook) Close() error {
	hook.mu.Lock()
	defer hook.mu.Unlock()

	if hook.stop != nil {
		close(hook.stop)
		hook.stop = nil
	}
	if hook.file != nil {
		err := hook.file.Close()
		hook.file = nil
		return err
	}
	return nil
}

// InitLoggerWithFile 初始化日志并同时输出到 dir 下的按天文件
func InitLoggerWithFile(dir string, keepDays int) (*FileHook, error) {
	InitLogger()
	hook, err := NewFileHook(dir, keepDays)
	if err != nil {
		return nil, err
	}
	logrus.AddHook(hook)
	hook.Start()

	// 使用 fmt 输出到标准错误，避免触发 logrus
	fmt.Fprintf(os.Stderr, "Logging to file: %s (keeping %d days of logs)\n", hook.Path(), hook.keepDays)
	return hook, nil
}
