package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectionChanged is true when any detection tunable changed: default
	// provider, window sizing, silence or VAD thresholds, scan radii,
	// preview padding or waveform resolution. These are read per request,
	// so applying them needs no restart.
	DetectionChanged bool

	WatchDirsChanged bool
	WatchDirChanges  []WatchDirDiff
}

// WatchDirDiff describes a single song-library directory added to or removed
// from the watch list.
type WatchDirDiff struct {
	Dir     string
	Added   bool
	Removed bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if detectionChanged(&old.Detection, &new.Detection) {
		d.DetectionChanged = true
	}

	// Detect removed watch directories.
	for _, dir := range old.Watcher.Dirs {
		if !slices.Contains(new.Watcher.Dirs, dir) {
			d.WatchDirChanges = append(d.WatchDirChanges, WatchDirDiff{
				Dir:     dir,
				Removed: true,
			})
			d.WatchDirsChanged = true
		}
	}

	// Detect added watch directories.
	for _, dir := range new.Watcher.Dirs {
		if !slices.Contains(old.Watcher.Dirs, dir) {
			d.WatchDirChanges = append(d.WatchDirChanges, WatchDirDiff{
				Dir:   dir,
				Added: true,
			})
			d.WatchDirsChanged = true
		}
	}

	return d
}

// detectionChanged compares the hot-reloadable detection tunables.
func detectionChanged(old, new *DetectionConfig) bool {
	if old.DefaultProvider != new.DefaultProvider {
		return true
	}
	if old.DefaultDetectionTimeSec != new.DefaultDetectionTimeSec {
		return true
	}
	if old.Silence != new.Silence {
		return true
	}
	if old.Window != new.Window {
		return true
	}
	if old.Scan != new.Scan {
		return true
	}
	if old.Preview != new.Preview {
		return true
	}
	if old.WaveformBins != new.WaveformBins {
		return true
	}
	return false
}
