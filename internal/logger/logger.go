package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

var (
	InfoLogger   *log.Logger
	WarnLogger   *log.Logger
	ErrorLogger  *log.Logger
	DebugLogger  *log.Logger
	debugEnabled atomic.Bool
	logFile      *os.File
	mu           sync.Mutex
)

// Init 初始化日志系统，同时输出到控制台和按日期命名的日志文件
// dir 为空时只输出到控制台
func Init(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	var out io.Writer = os.Stdout
	logFileName := ""
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建日志目录失败: %v", err)
		}
		logFileName = filepath.Join(dir, fmt.Sprintf("server_%s.log", time.Now().Format("2006-01-02")))
		f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("创建日志文件失败: %v", err)
		}
		logFile = f
		out = io.MultiWriter(os.Stdout, f)
	}

	setOutputLocked(out)

	if logFileName != "" {
		InfoLogger.Println("日志系统初始化成功，日志文件: " + logFileName)
	} else {
		InfoLogger.Println("日志系统初始化成功")
	}
	return nil
}

// SetOutput 将所有级别的日志重定向到 w（测试中用于捕获输出）
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	setOutputLocked(w)
}

func setOutputLocked(w io.Writer) {
	InfoLogger = log.New(w, "[INFO] ", log.Ldate|log.Ltime|log.Lshortfile)
	WarnLogger = log.New(w, "[WARN] ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLogger = log.New(w, "[ERROR] ", log.Ldate|log.Ltime|log.Lshortfile)
	DebugLogger = log.New(w, "[DEBUG] ", log.Ldate|log.Ltime|log.Lshortfile)
}

// Close 关闭日志文件
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// SetDebugEnabled 设置调试日志开关
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
	if InfoLogger == nil {
		return
	}
	if enabled {
		InfoLogger.Println("调试日志已启用")
	} else {
		InfoLogger.Println("调试日志已禁用")
	}
}

// IsDebugEnabled 返回调试模式是否开启
func IsDebugEnabled() bool {
	return debugEnabled.Load()
}

// Info 记录信息级别日志
func Info(format string, v ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Warn 记录警告级别日志
func Warn(format string, v ...interface{}) {
	if WarnLogger != nil {
		WarnLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Error 记录错误级别日志
func Error(format string, v ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Debug 记录调试级别日志
func Debug(format string, v ...interface{}) {
	if DebugLogger != nil && debugEnabled.Load() {
		DebugLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// LogRequest 记录 HTTP 请求详情
func LogRequest(method, path, ip string, statusCode int, duration time.Duration) {
	Info("%s %s from %s - Status: %d - Duration: %v", method, path, ip, statusCode, duration)
}
