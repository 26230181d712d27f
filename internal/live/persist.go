package live

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// PlaylistFile is the name of the persisted media playlist inside the
// segment directory.
const PlaylistFile = "index.m3u8"

// PlaylistPath returns where the media playlist is persisted.
func (s *Service) PlaylistPath() string {
	return filepath.Join(s.store.Dir(), PlaylistFile)
}

func (s *Service) writePlaylist() {
	if !s.persist {
		return
	}
	if err := writeAtomic(s.PlaylistPath(), s.MediaPlaylist()); err != nil {
		s.log.Error("playlist not persisted",
			slog.String("path", s.PlaylistPath()),
			slog.Any("error", err))
	}
}

// writeAtomic replaces path with body so readers never see a partial file.
func writeAtomic(path, body string) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending playlist: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.WriteString(pending, body); err != nil {
		return fmt.Errorf("write playlist: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace playlist: %w", err)
	}
	return nil
}
