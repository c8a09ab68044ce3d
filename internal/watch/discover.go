package watch

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/logline"
)

var logFileNamePattern = regexp.MustCompile(`^output_log_(\d{4}-\d{2}-\d{2}_)?\d{2}-\d{2}-\d{2}\.txt$`)

// IsLogFileName reports whether name is a producer log file name.
func IsLogFileName(name string) bool {
	return logFileNamePattern.MatchString(name)
}

// LogFile is a discovered log file on disk.
type LogFile struct {
	Path    string
	Created time.Time
}

// Discover lists the log files in dir, oldest first.
func Discover(dir string) ([]LogFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read log dir: %w", err)
	}

	var files []LogFile
	for _, e := range entries {
		if e.IsDir() || !IsLogFileName(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		fi, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, LogFile{Path: path, Created: CreationTime(path, fi)})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Created.Equal(files[j].Created) {
			return files[i].Path < files[j].Path
		}
		return files[i].Created.Before(files[j].Created)
	})
	return files, nil
}

// statLogFile builds a LogFile for a single path.
func statLogFile(path string) (LogFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return LogFile{}, err
	}
	return LogFile{Path: path, Created: CreationTime(path, fi)}, nil
}

// fallbackCreationTime is used where the filesystem has no birth time. It
// must not change while the file grows, since it identifies the LogFile
// across restarts. Dated names carry the creation second in local time.
// Undated names carry only the time of day; the date comes from the first
// header line, or from today while the file is still empty.
func fallbackCreationTime(path string, fi fs.FileInfo) time.Time {
	name := filepath.Base(path)
	m := logFileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return fi.ModTime()
	}
	stamp := name[len("output_log_") : len(name)-len(".txt")]
	if m[1] != "" {
		if t, err := time.ParseInLocation("2006-01-02_15-04-05", stamp, time.Local); err == nil {
			return t
		}
		return fi.ModTime()
	}

	clock, err := time.ParseInLocation("15-04-05", stamp, time.Local)
	if err != nil {
		return fi.ModTime()
	}
	ref, ok := firstHeaderTime(path)
	if !ok {
		ref = time.Now()
	}
	return onDateOf(ref, clock)
}

// onDateOf places the time of day clock on ref's date. A result far after
// ref means the file was created before midnight and first written after it.
func onDateOf(ref, clock time.Time) time.Time {
	y, mo, d := ref.Date()
	t := time.Date(y, mo, d, clock.Hour(), clock.Minute(), clock.Second(), 0, time.Local)
	if t.Sub(ref) > 12*time.Hour {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// maxHeaderScan bounds the lines read while looking for the first header.
const maxHeaderScan = 64

func firstHeaderTime(path string) (time.Time, bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for i := 0; i < maxHeaderScan && sc.Scan(); i++ {
		rec, ok, err := logline.Parse(sc.Text(), time.Local)
		if err == nil && ok {
			return rec.Time, true
		}
	}
	return time.Time{}, false
}
