package hermterm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/hermterm/internal/logx"
	"pkt.systems/hermterm/schema"
)

// DownloadEffects stores files sent by sav and sag blits under a downloads
// directory and logs links sent by url blits.
type DownloadEffects struct {
	Dir string
}

// SaveFile decodes the base64 payload and writes it as the file named by
// the last two path segments, e.g. /foo/bar/txt becomes bar.txt.
func (e DownloadEffects) SaveFile(ctx context.Context, session schema.SessionName, file schema.SaveFile) error {
	if strings.TrimSpace(e.Dir) == "" {
		return errors.New("downloads directory is not configured")
	}
	name, err := downloadName(file.Path)
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(file.File)
	if err != nil {
		return fmt.Errorf("save %s: decode: %w", file.Path, err)
	}
	if err := os.MkdirAll(e.Dir, 0o700); err != nil {
		return err
	}
	target := filepath.Join(e.Dir, name)
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return err
	}
	logx.WithSession(ctx, session).Info("session file saved", "path", file.Path, "file", target, "bytes", len(data))
	return nil
}

// OpenURL only records the link; the title line shows it as a notice.
func (e DownloadEffects) OpenURL(ctx context.Context, session schema.SessionName, url string) error {
	logx.WithSession(ctx, session).Info("session url", "url", url)
	return nil
}

func downloadName(path string) (string, error) {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		if part == "." || part == ".." || strings.ContainsAny(part, `\`) {
			return "", fmt.Errorf("save %s: invalid path", path)
		}
		parts = append(parts, part)
	}
	switch len(parts) {
	case 0:
		return "", fmt.Errorf("save %q: empty path", path)
	case 1:
		return parts[0], nil
	}
	return parts[len(parts)-2] + "." + parts[len(parts)-1], nil
}
