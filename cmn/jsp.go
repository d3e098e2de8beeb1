package cmn

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// jsp (JSON persistence) — adapted from the teacher's cmn/jsp package:
// on-disk structures are written via temp-file-then-rename so a reader
// never observes a partial write, and a checksum line is prefixed so a
// truncated or hand-edited file is detected on load instead of silently
// producing a zero-valued config.

const jspSignature = "inkvault-jsp-v1"

// SaveJSP atomically writes v as checksummed JSON to path.
func SaveJSP(path string, v interface{}) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "jsp: marshal")
	}
	sum := sha256.Sum256(body)
	tmp := fmt.Sprintf("%s.tmp.%s", path, GenOpaqueKey())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "jsp: create temp")
	}
	if _, err := fmt.Fprintf(f, "%s %s\n", jspSignature, hex.EncodeToString(sum[:])); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "jsp: write header")
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "jsp: write body")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "jsp: sync")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "jsp: close")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "jsp: rename")
	}
	return nil
}

// LoadJSP reads a file written by SaveJSP into v, verifying its checksum.
func LoadJSP(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	nl := indexByte(raw, '\n')
	if nl < 0 {
		return errors.New("jsp: missing header")
	}
	header := string(raw[:nl])
	body := raw[nl+1:]

	var sig, wantSum string
	if _, err := fmt.Sscanf(header, "%s %s", &sig, &wantSum); err != nil || sig != jspSignature {
		return errors.New("jsp: bad signature")
	}
	sum := sha256.Sum256(body)
	if hex.EncodeToString(sum[:]) != wantSum {
		return errors.New("jsp: checksum mismatch (truncated or corrupted file)")
	}
	return json.Unmarshal(body, v)
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
