package config

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
)

// WorkloadChecksum returns a short, stable checksum that identifies a workload
// file, independent of scheduler choice. It is the first 6 hex characters of
// the file's MD5 (equivalent to `md5sum | cut -c1-6`).
func WorkloadChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	hexStr := hex.EncodeToString(h.Sum(nil))
	return hexStr[:6], nil
}
