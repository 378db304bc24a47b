package application

import (
	"context"
	"crypto/md5" //nolint:gosec // Matches REPOHASH values already recorded on jobs.
	"encoding/hex"
	"fmt"
	"io"

	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// fingerprintSalt seeds every repository fingerprint. Bump it to force a new
// build for all fixed targets.
const fingerprintSalt = "b"

// Fingerprint digests the primary metadata checksums of repos, in order.
// It is recomputed on every call; repository content changes outside the
// bot's control.
func Fingerprint(ctx context.Context, meta driven.RepoMetadata, repos []string) (string, error) {
	h := md5.New() //nolint:gosec
	_, _ = io.WriteString(h, fingerprintSalt)

	for _, repo := range repos {
		cs, err := meta.PrimaryChecksum(ctx, repo)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", repo, err)
		}
		_, _ = io.WriteString(h, cs)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
