// Package backup provides tar.gz-based backup and restore of the phonebook
// database, its avatar files and an optional config file.
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/HerbHall/phonebook/internal/version"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite" // SQLite driver
)

// Names of entries inside the archive.
const (
	ManifestName  = "manifest.yaml"
	DatabaseName  = "phonebook.db"
	ConfigName    = "phonebook.yaml"
	avatarsPrefix = "avatars/"
)

// ErrExists is returned by Restore when a target file exists and force is off.
var ErrExists = errors.New("restore target already exists")

// Layout locates the files of one installation.
type Layout struct {
	FS         afero.Fs
	DBPath     string
	AvatarDir  string // optional
	ConfigPath string // optional
}

// Manifest describes an archive. It is stored as the first entry.
type Manifest struct {
	CreatedAt time.Time `yaml:"created_at"`
	Version   string    `yaml:"version"`
	Database  string    `yaml:"database"`
	Config    bool      `yaml:"config"`
	Avatars   []string  `yaml:"avatars,omitempty"`
}

// CheckpointWAL opens the database, runs a TRUNCATE checkpoint to flush the
// WAL into the main file, and closes the connection.
func CheckpointWAL(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Backup writes a tar.gz archive of l to w. Checkpoint the WAL first when
// the database is live.
func Backup(ctx context.Context, l Layout, w io.Writer) (*Manifest, error) {
	if _, err := l.FS.Stat(l.DBPath); err != nil {
		return nil, fmt.Errorf("database file not found: %w", err)
	}

	m := &Manifest{
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Version:   version.Short(),
		Database:  DatabaseName,
	}
	if l.ConfigPath != "" {
		if ok, _ := afero.Exists(l.FS, l.ConfigPath); ok {
			m.Config = true
		}
	}
	avatars, err := listAvatars(l.FS, l.AvatarDir)
	if err != nil {
		return nil, err
	}
	m.Avatars = avatars

	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	manifest, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := addBytes(tw, ManifestName, manifest, m.CreatedAt); err != nil {
		return nil, fmt.Errorf("adding manifest to archive: %w", err)
	}
	if err := addFile(tw, l.FS, l.DBPath, DatabaseName); err != nil {
		return nil, fmt.Errorf("adding database to archive: %w", err)
	}
	if m.Config {
		if err := addFile(tw, l.FS, l.ConfigPath, ConfigName); err != nil {
			return nil, fmt.Errorf("adding config to archive: %w", err)
		}
	}
	for _, name := range avatars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := addFile(tw, l.FS, filepath.Join(l.AvatarDir, name), avatarsPrefix+name); err != nil {
			return nil, fmt.Errorf("adding avatar %s to archive: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return m, nil
}

// Restore extracts an archive produced by Backup into l. Existing database
// and config files are only replaced when force is set.
func Restore(ctx context.Context, l Layout, r io.Reader, force bool) (*Manifest, error) {
	if !force {
		for _, p := range []string{l.DBPath, l.ConfigPath} {
			if p == "" {
				continue
			}
			if ok, _ := afero.Exists(l.FS, p); ok {
				return nil, fmt.Errorf("%s: %w (use --force to overwrite)", p, ErrExists)
			}
		}
	}

	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer gr.Close()
	tr := tar.NewReader(gr)

	var m *Manifest
	sawDB := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		switch name := hdr.Name; {
		case name == ManifestName:
			var mf Manifest
			if err := yaml.NewDecoder(tr).Decode(&mf); err != nil {
				return nil, fmt.Errorf("decode manifest: %w", err)
			}
			m = &mf
		case name == DatabaseName:
			if err := writeFile(l.FS, l.DBPath, tr); err != nil {
				return nil, fmt.Errorf("restore database: %w", err)
			}
			sawDB = true
		case name == ConfigName:
			if l.ConfigPath == "" {
				continue
			}
			if err := writeFile(l.FS, l.ConfigPath, tr); err != nil {
				return nil, fmt.Errorf("restore config: %w", err)
			}
		case strings.HasPrefix(name, avatarsPrefix):
			base := strings.TrimPrefix(name, avatarsPrefix)
			if l.AvatarDir == "" || base == "" || base != path.Base(base) || base == ".." {
				continue
			}
			if err := writeFile(l.FS, filepath.Join(l.AvatarDir, base), tr); err != nil {
				return nil, fmt.Errorf("restore avatar %s: %w", base, err)
			}
		}
	}

	if m == nil {
		return nil, fmt.Errorf("archive has no %s", ManifestName)
	}
	if !sawDB {
		return nil, fmt.Errorf("archive has no %s", DatabaseName)
	}
	return m, nil
}

func listAvatars(fs afero.Fs, dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list avatars: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Mode().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// addFile adds a single file to the tar archive under the given name.
func addFile(tw *tar.Writer, fs afero.Fs, filePath, archiveName string) error {
	f, err := fs.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}

func addBytes(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(data))
	return err
}

func writeFile(fs afero.Fs, target string, r io.Reader) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
