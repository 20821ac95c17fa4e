package site

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/benchops/agent/internal/cryptoutil"
	"github.com/benchops/agent/internal/storage"
)

// Artifact is one backup file produced by the bench backup command.
type Artifact struct {
	Path string `json:"path"`
	File string `json:"file"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// BackupSet maps logical roles (database, public, private) to artifacts.
type BackupSet map[string]Artifact

// NoBackupFoundError indicates a required role has no candidate file.
type NoBackupFoundError struct {
	Role string
}

func (e *NoBackupFoundError) Error() string {
	return fmt.Sprintf("no %s backup found", e.Role)
}

// Suffix patterns per role, plain and encrypted variants. Order matters:
// private-files.tar also ends with files.tar, so private is classified first.
var backupRoles = []struct {
	role     string
	suffixes []string
}{
	{"database", []string{"database.sql.gz", "database-enc.sql.gz"}},
	{"private", []string{"private-files.tar", "private-files-enc.tar"}},
	{"public", []string{"files.tar", "files-enc.tar"}},
}

func (s *Site) backupOutputDirectory() string {
	return filepath.Join(s.Directory, "private", "backups")
}

// Backup runs a full site backup, optionally with file archives, and returns
// the freshest artifact per required role.
func (s *Site) Backup(ctx context.Context, withFiles bool) (BackupSet, error) {
	command := "backup"
	if withFiles {
		command = "backup --with-files"
	}
	if _, err := s.BenchExecute(ctx, command); err != nil {
		return nil, err
	}
	return s.FetchLatestBackup(withFiles)
}

// FetchLatestBackup scans the backup output directory and selects, per role,
// the candidate with the latest modification time. The database role is
// always required; public and private only when withFiles is set.
func (s *Site) FetchLatestBackup(withFiles bool) (BackupSet, error) {
	entries, err := os.ReadDir(s.backupOutputDirectory())
	if err != nil {
		return nil, fmt.Errorf("scan backup directory: %w", err)
	}

	latest := map[string]Artifact{}
	latestTime := map[string]time.Time{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		role, ok := classifyBackupFile(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if _, seen := latest[role]; seen && !info.ModTime().After(latestTime[role]) {
			continue
		}
		latest[role] = Artifact{
			Path: filepath.Join(s.backupOutputDirectory(), entry.Name()),
			File: entry.Name(),
			Size: info.Size(),
			URL:  fmt.Sprintf("https://%s/backups/%s", s.Name, entry.Name()),
		}
		latestTime[role] = info.ModTime()
	}

	required := []string{"database"}
	if withFiles {
		required = append(required, "private", "public")
	}
	set := BackupSet{}
	for _, role := range required {
		artifact, ok := latest[role]
		if !ok {
			return nil, &NoBackupFoundError{Role: role}
		}
		set[role] = artifact
	}
	return set, nil
}

func classifyBackupFile(name string) (string, bool) {
	for _, rc := range backupRoles {
		for _, suffix := range rc.suffixes {
			if strings.HasSuffix(name, suffix) {
				return rc.role, true
			}
		}
	}
	return "", false
}

// VerifyBackup checks that the selected database artifact is a readable gzip
// stream. Encrypted artifacts are skipped: their bytes are opaque here.
func (s *Site) VerifyBackup(set BackupSet) error {
	artifact, ok := set["database"]
	if !ok {
		return &NoBackupFoundError{Role: "database"}
	}
	if strings.HasSuffix(artifact.File, "database-enc.sql.gz") {
		return nil
	}
	file, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer file.Close()
	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("backup %s is not a valid gzip stream: %w", artifact.File, err)
	}
	defer gz.Close()
	buf := make([]byte, 512)
	if _, err := gz.Read(buf); err != nil && err != io.EOF {
		return fmt.Errorf("backup %s is corrupt: %w", artifact.File, err)
	}
	return nil
}

// ClearBackupDirectory resets the table-backup staging directory. The staging
// directory is exclusively owned for the duration of a tablewise backup.
func (s *Site) ClearBackupDirectory() error {
	if err := os.RemoveAll(s.BackupDirectory); err != nil {
		return err
	}
	return os.MkdirAll(s.BackupDirectory, 0o755)
}

// Tables lists the tables currently present in the site's database.
func (s *Site) Tables(ctx context.Context) ([]string, error) {
	res, err := s.run.Execute(ctx, fmt.Sprintf(
		"mysql --disable-column-names -B -e 'SHOW TABLES' -h %s -u %s -p%s %s",
		s.Host, s.User, s.Password, s.Database), "")
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, line := range strings.Split(res.Output, "\n") {
		if table := strings.TrimSpace(line); table != "" {
			tables = append(tables, table)
		}
	}
	return tables, nil
}

// TablewiseBackup dumps every table into <staging>/<table>.sql, strictly in
// sequence, each in a consistent single transaction.
func (s *Site) TablewiseBackup(ctx context.Context) (map[string]string, error) {
	if err := s.ClearBackupDirectory(); err != nil {
		return nil, err
	}
	tables, err := s.Tables(ctx)
	if err != nil {
		return nil, err
	}
	dumped := map[string]string{}
	for _, table := range tables {
		backupFile := filepath.Join(s.BackupDirectory, table+".sql")
		res, err := s.run.Execute(ctx, fmt.Sprintf(
			"mysqldump --single-transaction --quick --lock-tables=false "+
				"-h %s -u %s -p%s %s '%s' > '%s'",
			s.Host, s.User, s.Password, s.Database, table, backupFile), "")
		if err != nil {
			return nil, err
		}
		dumped[table] = res.Output
	}
	return dumped, nil
}

// TouchedTables reads the ordered table-name manifest left by a prior
// migration.
func (s *Site) TouchedTables() ([]string, error) {
	data, err := os.ReadFile(s.TouchedTablesFile)
	if err != nil {
		return nil, fmt.Errorf("read touched tables: %w", err)
	}
	var tables []string
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("parse touched tables: %w", err)
	}
	return tables, nil
}

// RestoreTouchedTables replays the staged dump of every table in the touched
// tables manifest. Tables with no staged dump are silently skipped; the
// manifest may reference tables that were never dumped.
func (s *Site) RestoreTouchedTables(ctx context.Context) (map[string]string, error) {
	tables, err := s.TouchedTables()
	if err != nil {
		return nil, err
	}
	restored := map[string]string{}
	for _, table := range tables {
		backupFile := filepath.Join(s.BackupDirectory, table+".sql")
		if _, err := os.Stat(backupFile); err != nil {
			continue
		}
		output, err := s.replayDump(ctx, backupFile)
		if err != nil {
			return nil, err
		}
		restored[table] = output
	}
	return restored, nil
}

// RestoreSiteTables replays every staged dump file in the staging directory.
func (s *Site) RestoreSiteTables(ctx context.Context) (map[string]string, error) {
	entries, err := os.ReadDir(s.BackupDirectory)
	if err != nil {
		return nil, fmt.Errorf("scan staging directory: %w", err)
	}
	restored := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		output, err := s.replayDump(ctx, filepath.Join(s.BackupDirectory, entry.Name()))
		if err != nil {
			return nil, err
		}
		restored[entry.Name()] = output
	}
	return restored, nil
}

func (s *Site) replayDump(ctx context.Context, backupFile string) (string, error) {
	res, err := s.run.Execute(ctx, fmt.Sprintf(
		"mysql -h %s -u %s -p%s %s < '%s'",
		s.Host, s.User, s.Password, s.Database, backupFile), "")
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// UploadOffsiteBackup uploads each artifact under prefix, optionally
// encrypting the stream, and returns the filename to object key mapping.
func (s *Site) UploadOffsiteBackup(ctx context.Context, store storage.Storage, prefix string, encryptionKey []byte, backups BackupSet) (map[string]string, error) {
	uploaded := map[string]string{}

	roles := make([]string, 0, len(backups))
	for role := range backups {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		artifact := backups[role]
		key := path.Join(prefix, artifact.File)
		if err := s.uploadArtifact(ctx, store, key, artifact, encryptionKey); err != nil {
			return nil, fmt.Errorf("upload %s: %w", artifact.File, err)
		}
		uploaded[artifact.File] = key
	}
	return uploaded, nil
}

func (s *Site) uploadArtifact(ctx context.Context, store storage.Storage, key string, artifact Artifact, encryptionKey []byte) error {
	file, err := os.Open(artifact.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	var reader io.Reader = file
	size := artifact.Size
	if len(encryptionKey) > 0 {
		reader, err = cryptoutil.EncryptReader(file, encryptionKey)
		if err != nil {
			return err
		}
		size = -1
	}
	return store.Put(ctx, key, reader, size)
}
