package grid

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
)

// Fetcher downloads grid files from an anonymous FTP dissemination server
// when they are not already present locally.
type Fetcher struct {
	host string
	root string
}

func NewFetcher(host, root string) *Fetcher {
	return &Fetcher{host: host, root: root}
}

// Fetch downloads the named grid file into dest. The download goes through a
// temp file and a rename so a failed transfer never leaves a partial file.
func (f *Fetcher) Fetch(name, dest string) error {
	conn, err := ftp.Dial(f.host, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(path.Join(f.root, name))
	if err != nil {
		return fmt.Errorf("ftp retr %s: %w", name, err)
	}
	defer resp.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".grid-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
