package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const (
	sessionTimeLayout = "2006_01_02_15_04_05"
	configDumpName    = "configs.yaml"
	backupName        = "conversations.json.sz"
)

// Paths lists the artifacts of one run of a session series.
type Paths struct {
	Dir        string
	LogFile    string // empty when log_file is off
	ConfigDump string
	Backup     string
}

// Prepare creates <sessions_directory_path>/<session_series>/<session_id>_<time>/
// and returns the artifact locations inside it.
func (s *Session) Prepare(now time.Time) (Paths, error) {
	name := s.SessionID + "_" + now.Format(sessionTimeLayout)
	dir := filepath.Join(s.SessionsDirectoryPath, s.SessionSeries, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, errors.Wrap(err, "create session directory")
	}
	p := Paths{
		Dir:        dir,
		ConfigDump: filepath.Join(dir, configDumpName),
		Backup:     filepath.Join(dir, backupName),
	}
	if s.LogFile {
		p.LogFile = filepath.Join(dir, name+".log")
	}
	return p, nil
}

// DumpConfig copies the session config file next to the run's artifacts.
func DumpConfig(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open config")
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "create config dump")
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.Wrap(err, "copy config")
	}
	return errors.Wrap(out.Close(), "close config dump")
}
