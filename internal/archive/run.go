package archive

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ErrUnknownKind is returned when a run directory name has no known prefix.
var ErrUnknownKind = errors.New("unknown calibration kind")

// Kind identifies what a run directory contains, from its name prefix.
type Kind string

const (
	KindDSSCal     Kind = "dss_cal"
	KindBMCalTone  Kind = "bm_cal_tone"
	KindBMCalNoise Kind = "bm_cal_noise"
	KindDSSSRR     Kind = "dss_srr"
	KindBMLNR      Kind = "bm_lnr_tone"
	KindBMLNRNoise Kind = "bm_lnr_noise"
	KindADCSync    Kind = "adc_sync"
)

// prefixes maps directory name prefixes to kinds. Runs written by the
// digital balance mixer scripts carry a "dbm_" prefix.
var prefixes = map[string]Kind{
	"dss_cal":       KindDSSCal,
	"bm_cal_tone":   KindBMCalTone,
	"bm_cal_noise":  KindBMCalNoise,
	"dss_srr":       KindDSSSRR,
	"bm_lnr_tone":   KindBMLNR,
	"bm_lnr_noise":  KindBMLNRNoise,
	"adc_sync":      KindADCSync,
	"dbm_cal_tone":  KindBMCalTone,
	"dbm_cal_noise": KindBMCalNoise,
	"dbm_lnr_noise": KindBMLNRNoise,
}

// KindOf classifies a run directory or tarball by its base name. The
// longest matching prefix wins.
func KindOf(name string) (Kind, error) {
	base := filepath.Base(strings.TrimSuffix(strings.TrimSuffix(name, "/"), ".tar.gz"))
	var (
		kind Kind
		best int
	)
	for p, k := range prefixes {
		if len(p) > best && strings.HasPrefix(base, p) {
			kind, best = k, len(p)
		}
	}
	if best == 0 {
		return "", fmt.Errorf("%q: %w", base, ErrUnknownKind)
	}
	return kind, nil
}

// Run is a directory collecting the outputs of one experiment.
type Run struct {
	Kind Kind
	Dir  string
}

// NewRun creates "<root>/<kind> <timestamp>".
func NewRun(root string, kind Kind, at time.Time) (*Run, error) {
	dir := filepath.Join(root, string(kind)+" "+at.Format("2006-01-02 15:04:05"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	return &Run{Kind: kind, Dir: dir}, nil
}

// Sub creates a subdirectory of the run, e.g. one per LO setting, and
// returns it as a run of the same kind. Only the parent is packed.
func (r *Run) Sub(name string) (*Run, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid sub run name %q", name)
	}
	dir := filepath.Join(r.Dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sub run: %w", err)
	}
	return &Run{Kind: r.Kind, Dir: dir}, nil
}

// WriteInfo stores the run parameters as testinfo.json.
func (r *Run) WriteInfo(info any) error {
	data, err := json.MarshalIndent(info, "", "    ")
	if err != nil {
		return fmt.Errorf("encode testinfo: %w", err)
	}
	return os.WriteFile(filepath.Join(r.Dir, "testinfo.json"), data, 0o644)
}

// Save stores a named array set, e.g. "caldata".
func (r *Run) Save(name string, a *Arrays) error {
	return a.WriteFile(filepath.Join(r.Dir, name+".parquet"))
}

// SaveRaw stores the full spectra captured at one sweep channel under
// rawdata_<sweep>/chnl_<n>.parquet.
func (r *Run) SaveRaw(sweep string, chnl int, a *Arrays) error {
	return a.WriteFile(filepath.Join(r.Dir, "rawdata_"+sweep, fmt.Sprintf("chnl_%d.parquet", chnl)))
}

// Pack writes the run directory to "<dir>.tar.gz" and removes the directory.
func (r *Run) Pack() (string, error) {
	out := r.Dir + ".tar.gz"
	if err := Compress(r.Dir, out); err != nil {
		return "", err
	}
	if err := os.RemoveAll(r.Dir); err != nil {
		return "", fmt.Errorf("remove run directory: %w", err)
	}
	return out, nil
}

// Compress packs dir (with its base name as the top-level entry) into a gzip tarball.
func Compress(dir, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	parent := filepath.Dir(dir)
	err = filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(parent, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("pack %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("pack %s: %w", dir, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("pack %s: %w", dir, err)
	}
	return f.Close()
}

// Load reads the named array set from a packed run (.tar.gz) or a run
// directory, and reports the run kind. name may address a sub run, as in
// "lo_8000mhz/caldata".
func Load(source, name string) (*Arrays, Kind, error) {
	kind, err := KindOf(source)
	if err != nil {
		return nil, "", err
	}
	fi, err := os.Stat(source)
	if err != nil {
		return nil, "", err
	}
	if fi.IsDir() {
		a, err := ReadFile(filepath.Join(source, name+".parquet"))
		if errors.Is(err, os.ErrNotExist) {
			return nil, kind, fmt.Errorf("%s in %s: %w", name, source, ErrMissingArray)
		}
		return a, kind, err
	}
	a, err := loadTar(source, name)
	return a, kind, err
}

func loadTar(tarball, name string) (*Arrays, error) {
	f, err := os.Open(tarball)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", tarball, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	want := filepath.ToSlash(name) + ".parquet"
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("%s in %s: %w", name, tarball, ErrMissingArray)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", tarball, err)
		}
		// entries are "<run dir>/<name>.parquet"
		_, rel, ok := strings.Cut(hdr.Name, "/")
		if !ok || rel != want {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		return DecodeArrays(data)
	}
}
