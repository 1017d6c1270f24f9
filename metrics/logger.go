package metrics

import (
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"time"
)

type Logger interface {
	Log(info *MetricsInfo)
}

type StdoutLogger struct{}

func NewStdoutLogger() *StdoutLogger {
	return &StdoutLogger{}
}

func (l *StdoutLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON()
	if err == nil {
		log.Print(infoStr)
	} else {
		log.Printf("StdoutLogger: error: %v", err)
	}
}

const defaultQueueSize = 1024
const defaultMaxLogFileSize = 256 * 1024 * 1024
const defaultMaxLogFiles = 10
const metricsLogName = "metrics.log"

// FileLogger drains queued metrics records into a single metrics.log
// under LogDir, rotating it by size. The gateway's request volume is
// a single long-polling browser per job, so one writer is plenty.
type FileLogger struct {
	MetricsQueue   chan *MetricsInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	logger := &FileLogger{
		MetricsQueue:   make(chan *MetricsInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
	}

	go logger.drainQueue()

	return logger
}

func (l *FileLogger) Log(info *MetricsInfo) {
	l.MetricsQueue <- info
}

func (l *FileLogger) drainQueue() {
	f, err := l.openLogFile()
	if err != nil {
		log.Printf("FileLogger: log open error: %v", err)
	}

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Printf("FileLogger: info.ToJSON() error: %v", err)
			continue
		}

		f, err = l.rotateIfNeeded(f)
		if err != nil {
			continue
		}

		if _, err := f.WriteString(infoStr); err != nil {
			log.Printf("FileLogger: write error: %v", err)
			continue
		}
		f.Sync()
	}
}

func (l *FileLogger) openLogFile() (*os.File, error) {
	return os.OpenFile(path.Join(l.LogDir, metricsLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// rotateIfNeeded moves a full metrics.log aside as metrics.log.N and
// reopens a fresh one. Once MaxLogFiles rotations exist the oldest is
// overwritten.
func (l *FileLogger) rotateIfNeeded(currFile *os.File) (*os.File, error) {
	info, err := currFile.Stat()
	if err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
		return currFile, nil
	}
	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	rotatedPath := ""
	for i := 0; i < l.MaxLogFiles; i++ {
		candidate := path.Join(l.LogDir, fmt.Sprintf("%s.%d", metricsLogName, i))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			rotatedPath = candidate
			break
		}
	}

	if len(rotatedPath) == 0 {
		rotatedPath, err = l.oldestRotatedFile()
		if err != nil {
			log.Printf("FileLogger: log rotation error: %v", err)
			return currFile, nil
		}
		if l.Verbose {
			log.Printf("FileLogger: maximum number of log files reached, overwriting %s", rotatedPath)
		}
		if err := os.Remove(rotatedPath); err != nil {
			log.Printf("FileLogger: log rotation error: %v", err)
			return currFile, nil
		}
	}

	currFile.Close()
	if err := os.Rename(path.Join(l.LogDir, metricsLogName), rotatedPath); err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
		return currFile, nil
	}

	if l.Verbose {
		log.Printf("FileLogger: log file rotated: %v", rotatedPath)
	}

	f, err := l.openLogFile()
	if err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
	}
	return f, err
}

func (l *FileLogger) oldestRotatedFile() (string, error) {
	dir, err := os.Open(l.LogDir)
	if err != nil {
		return "", err
	}
	defer dir.Close()

	files, err := dir.Readdir(-1)
	if err != nil {
		return "", err
	}

	oldestPath := path.Join(l.LogDir, fmt.Sprintf("%s.%d", metricsLogName, 0))
	oldestTime := time.Now()
	for _, file := range files {
		if !file.Mode().IsRegular() {
			continue
		}
		if !strings.HasPrefix(file.Name(), metricsLogName+".") {
			continue
		}
		if file.ModTime().Before(oldestTime) {
			oldestPath = path.Join(l.LogDir, file.Name())
			oldestTime = file.ModTime()
		}
	}

	return oldestPath, nil
}
