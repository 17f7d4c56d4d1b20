// Package distroinfo reads Debian-style distro-info release tables: which
// releases exist, which one is stable, and what the development suite is.
// The host's /usr/share/distro-info CSV files are preferred; an embedded
// snapshot is used when they are not available.
package distroinfo

import (
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

//go:embed data/debian.csv data/ubuntu.csv
var embedded embed.FS

// DataDir is where the host's distro-info data lives.
var DataDir = "/usr/share/distro-info"

// ErrDataOutdated is returned when the release table has no answer, e.g.
// asking for the development release just after everything was released.
var ErrDataOutdated = errors.New("distro-info data is outdated")

// Release is one row of a distro-info table. Zero time values mean the
// corresponding date is not set (e.g. sid never gets a release date).
type Release struct {
	Version  string
	Codename string
	Series   string
	Created  time.Time
	Released time.Time
	EOL      time.Time
}

// LTS reports whether this is an Ubuntu long-term-support release.
func (r *Release) LTS() bool {
	return strings.Contains(r.Version, "LTS")
}

// Info is a loaded release table, evaluated relative to a fixed point in
// time so that answers are stable within one process.
type Info struct {
	releases []Release
	now      time.Time
}

// Debian loads the Debian release table.
func Debian() (*Info, error) {
	return load("debian.csv", time.Now())
}

// Ubuntu loads the Ubuntu release table.
func Ubuntu() (*Info, error) {
	return load("ubuntu.csv", time.Now())
}

func load(name string, now time.Time) (*Info, error) {
	path := DataDir + "/" + name
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		info, err := Parse(f, now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return info, nil
	}

	f, err := embedded.Open("data/" + name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, now)
}

// Parse reads a distro-info CSV table. Columns beyond the first six are
// ignored; they vary between the Debian and Ubuntu files.
func Parse(r io.Reader, now time.Time) (*Info, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("empty distro-info table")
	}

	info := &Info{now: now}
	for _, record := range records[1:] {
		if len(record) < 3 {
			return nil, fmt.Errorf("malformed distro-info row %q", record)
		}
		release := Release{
			Version:  record[0],
			Codename: record[1],
			Series:   record[2],
		}
		if len(record) > 3 {
			release.Created = parseDate(record[3])
		}
		if len(record) > 4 {
			release.Released = parseDate(record[4])
		}
		if len(record) > 5 {
			release.EOL = parseDate(record[5])
		}
		info.releases = append(info.releases, release)
	}

	return info, nil
}

func parseDate(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (i *Info) released(r *Release) bool {
	return !r.Released.IsZero() && !r.Released.After(i.now)
}

// permanent development series never become stable
func permanentSeries(series string) bool {
	return series == "sid" || series == "experimental"
}

// All returns every series name in the table, oldest first.
func (i *Info) All() []string {
	out := make([]string, 0, len(i.releases))
	for _, r := range i.releases {
		out = append(out, r.Series)
	}
	return out
}

// Stable returns the series of the most recent release that is out.
func (i *Info) Stable() (string, error) {
	for j := len(i.releases) - 1; j >= 0; j-- {
		r := &i.releases[j]
		if !permanentSeries(r.Series) && i.released(r) {
			return r.Series, nil
		}
	}
	return "", ErrDataOutdated
}

// OldStable returns the series of the release before stable.
func (i *Info) OldStable() (string, error) {
	seen := 0
	for j := len(i.releases) - 1; j >= 0; j-- {
		r := &i.releases[j]
		if !permanentSeries(r.Series) && i.released(r) {
			seen++
			if seen == 2 {
				return r.Series, nil
			}
		}
	}
	return "", ErrDataOutdated
}

// Testing returns the next Debian release: the oldest series that exists
// but has not been released yet.
func (i *Info) Testing() (string, error) {
	for j := range i.releases {
		r := &i.releases[j]
		if !permanentSeries(r.Series) && !i.released(r) {
			return r.Series, nil
		}
	}
	return "", ErrDataOutdated
}

// Devel returns the series currently under development. For Ubuntu this
// is the unreleased series, and just after a release there may briefly be
// none at all, in which case ErrDataOutdated is returned.
func (i *Info) Devel() (string, error) {
	return i.Testing()
}

// LTS returns the most recent long-term-support release that is out.
func (i *Info) LTS() (string, error) {
	for j := len(i.releases) - 1; j >= 0; j-- {
		r := &i.releases[j]
		if r.LTS() && i.released(r) {
			return r.Series, nil
		}
	}
	return "", ErrDataOutdated
}
