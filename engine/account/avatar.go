package account

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"os"

	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/google/uuid"
)

// maxAvatarSize bounds avatar uploads.
const maxAvatarSize = 10 << 20

// UpdateAvatar replaces the signed-in user's avatar with the PNG read from
// img. The image is staged in a temporary file that is removed whatever the
// outcome. On failure the previous avatar is returned along with the error.
func (s *Service) UpdateAvatar(ctx context.Context, img io.Reader) (record.Asset, error) {
	user, err := s.UserRecord(ctx)
	if err != nil {
		return record.Asset{}, err
	}
	prev, _ := user.Fields[AvatarField].Asset()

	path, size, err := s.stage(img)
	if path != "" {
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil {
				s.logger.Warn("remove staged avatar", "path", path, "err", rmErr)
			}
		}()
	}
	if err != nil {
		return prev, err
	}

	s.activity.Begin()
	defer s.activity.End()

	f, err := os.Open(path)
	if err != nil {
		return prev, fmt.Errorf("account: open staged avatar: %w", err)
	}
	defer f.Close()

	uploaded, err := s.assets.Put(ctx, "avatar.png", f, size, "image/png")
	if err != nil {
		return prev, fmt.Errorf("account: upload avatar: %w", err)
	}

	user.Set(AvatarField, record.AssetValue(uploaded))
	if _, err := s.db.Save(ctx, user); err != nil {
		if delErr := s.assets.Delete(ctx, uploaded.Key); delErr != nil {
			s.logger.Warn("remove orphaned avatar", "key", uploaded.Key, "err", delErr)
		}
		return prev, fmt.Errorf("account: save user record %s: %w", user.ID, err)
	}

	if prev.Key != "" && prev.Key != uploaded.Key {
		if err := s.assets.Delete(ctx, prev.Key); err != nil {
			s.logger.Debug("remove previous avatar", "key", prev.Key, "err", err)
		}
	}
	s.logger.Info("avatar updated", "id", user.ID, "key", uploaded.Key, "size", uploaded.Size)
	return uploaded, nil
}

// stage validates img and writes it to a temporary PNG file. The returned
// path is non-empty whenever a file was created.
func (s *Service) stage(img io.Reader) (string, int64, error) {
	data, err := io.ReadAll(io.LimitReader(img, maxAvatarSize+1))
	if err != nil {
		return "", 0, fmt.Errorf("account: read avatar: %w", err)
	}
	if len(data) > maxAvatarSize {
		return "", 0, fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, maxAvatarSize)
	}
	if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	f, err := os.CreateTemp(s.tempDir, "avatar_temp_"+uuid.NewString()+"_*.png")
	if err != nil {
		return "", 0, fmt.Errorf("account: stage avatar: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		return path, 0, fmt.Errorf("account: stage avatar: %w", err)
	}
	if err := f.Close(); err != nil {
		return path, 0, fmt.Errorf("account: stage avatar: %w", err)
	}
	return path, int64(len(data)), nil
}
