package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Archive copies finished clips and their preview images to an ObjectStore
// under <prefix>/<clip name>/<file>.
type Archive struct {
	store  ObjectStore
	prefix string
	logger *zap.Logger
}

func NewArchive(store ObjectStore, prefix string, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.L()
	}
	return &Archive{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.Named("archive"),
	}
}

// ClipKey returns the object key for a file belonging to clipName.
func (a *Archive) ClipKey(clipName, file string) string {
	stem := strings.TrimSuffix(clipName, filepath.Ext(clipName))
	return path.Join(a.prefix, stem, filepath.Base(file))
}

// ArchiveClip uploads the clip and any extra files. It returns the object
// key of the clip itself. Extras that fail to upload are logged and skipped.
func (a *Archive) ArchiveClip(ctx context.Context, clipPath, comment string, extras ...string) (string, error) {
	name := filepath.Base(clipPath)
	clipKey := a.ClipKey(name, name)

	md := map[string]string{"comment": comment}
	if err := a.store.PutFile(ctx, clipKey, clipPath, WithMetadata(md)); err != nil {
		return "", fmt.Errorf("archive clip %s: %w", name, err)
	}

	for _, extra := range extras {
		if extra == "" {
			continue
		}
		// Single-slot temp images are stored under the clip's own name.
		key := a.ClipKey(name, extra)
		if err := a.store.PutFile(ctx, key, extra); err != nil {
			a.logger.Warn("Failed to archive clip artifact", zap.String("key", key), zap.Error(err))
		}
	}

	a.logger.Info("Clip archived", zap.String("key", clipKey))
	return clipKey, nil
}

func (a *Archive) HealthCheck(ctx context.Context) error {
	return a.store.HealthCheck(ctx)
}
