package metrics

import (
	"io/fs"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
)

var startedAt = time.Now()

// SysHealth is the runtime snapshot reported by /api/system/stats.
type SysHealth struct {
	Memory  MemoryStats  `json:"memory"`
	Runtime RuntimeStats `json:"runtime"`
	Storage StorageStats `json:"storage"`
}

type MemoryStats struct {
	AllocMB      uint64 `json:"allocMb"`
	TotalAllocMB uint64 `json:"totalAllocMb"`
	SysMB        uint64 `json:"sysMb"`
	NumGC        uint32 `json:"numGc"`
}

type RuntimeStats struct {
	Goroutines int    `json:"goroutines"`
	GoVersion  string `json:"goVersion"`
	StartedAt  string `json:"startedAt"`
	Uptime     string `json:"uptime"`
}

// StorageStats describes the data directory holding the database and its journal files.
type StorageStats struct {
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
	Size  string `json:"size"`
}

// GetSysHealth collects the snapshot. dataDir is the directory holding the database.
func GetSysHealth(dataDir string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	const mb = 1 << 20
	return SysHealth{
		Memory: MemoryStats{
			AllocMB:      m.Alloc / mb,
			TotalAllocMB: m.TotalAlloc / mb,
			SysMB:        m.Sys / mb,
			NumGC:        m.NumGC,
		},
		Runtime: RuntimeStats{
			Goroutines: runtime.NumGoroutine(),
			GoVersion:  runtime.Version(),
			StartedAt:  humanize.Time(startedAt),
			Uptime:     time.Since(startedAt).Round(time.Second).String(),
		},
		Storage: storageStats(dataDir),
	}
}

// storageStats sums regular files under dir. Unreadable entries are skipped.
func storageStats(dir string) StorageStats {
	var s StorageStats
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		s.Files++
		s.Bytes += info.Size()
		return nil
	})
	s.Size = humanize.IBytes(uint64(s.Bytes))
	return s
}
