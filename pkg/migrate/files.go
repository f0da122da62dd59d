package migrate

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultDir is where create writes new files, relative to the repo root.
const DefaultDir = "pkg/migrate/migrations"

const versionLayout = "20060102150405"

//go:embed migrations/*.sql
var embedded embed.FS

var (
	fileNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	unsafeRe   = regexp.MustCompile(`[^a-z0-9]+`)
)

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Validate checks every .sql file in fsys is named <version>_<name>.sql,
// versions are unique and both goose sections are present.
func Validate(fsys fs.FS) error {
	versions, err := listVersions(fsys)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("no migrations found")
	}
	for _, v := range versions {
		body, err := fs.ReadFile(fsys, v.file)
		if err != nil {
			return fmt.Errorf("read %s: %w", v.file, err)
		}
		up := strings.Index(string(body), "-- +goose Up")
		down := strings.Index(string(body), "-- +goose Down")
		switch {
		case up < 0:
			return fmt.Errorf("%s: missing -- +goose Up", v.file)
		case down < 0:
			return fmt.Errorf("%s: missing -- +goose Down", v.file)
		case down < up:
			return fmt.Errorf("%s: Down section precedes Up", v.file)
		}
	}
	return nil
}

// CreateSQLMigration writes an empty goose migration into dir. The version
// is the current UTC second, bumped past the newest existing file so a
// skewed clock cannot reorder history.
func CreateSQLMigration(dir, name string, now time.Time) (string, error) {
	slug := strings.Trim(unsafeRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	versions, err := listVersions(os.DirFS(dir))
	if err != nil {
		return "", err
	}

	version := now.UTC().Truncate(time.Second)
	if n := len(versions); n > 0 {
		latest, _ := time.Parse(versionLayout, strconv.FormatInt(versions[n-1].number, 10))
		if !version.After(latest) {
			version = latest.Add(time.Second)
		}
	}

	full := filepath.Join(dir, version.Format(versionLayout)+"_"+slug+".sql")
	body := "-- +goose Up\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n\n-- +goose Down\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n"
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", full, err)
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return "", fmt.Errorf("write %s: %w", full, err)
	}
	return full, nil
}

type fileVersion struct {
	number int64
	file   string
}

func listVersions(fsys fs.FS) ([]fileVersion, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	seen := map[int64]string{}
	var out []fileVersion
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		m := fileNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q, want YYYYMMDDHHMMSS_name.sql", e.Name())
		}
		n, _ := strconv.ParseInt(m[1], 10, 64)
		if prev, ok := seen[n]; ok {
			return nil, fmt.Errorf("version %d used by %s and %s", n, prev, e.Name())
		}
		seen[n] = e.Name()
		out = append(out, fileVersion{number: n, file: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].number < out[j].number })
	return out, nil
}
