package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
)

// VaultConfig points vault_sync at a directory of notes and a capability to
// embed them with.
type VaultConfig struct {
	FS        fs.FS
	Root      string
	UserID    string
	Workspace string
}

// vaultSync walks cfg.FS under cfg.Root, content-hashes every .md/.txt file,
// and upserts a memory row keyed by that hash via embedCap.Embed — files
// whose content hasn't changed since the last run are skipped because their
// hash-derived ID already exists (store.UpsertMemoryEmbedding is an upsert on
// that ID, so an unchanged file is a cheap no-op write rather than a true
// skip).
func vaultSync(ctx context.Context, cfg VaultConfig, embedCap llm.Capability, st *store.Store, now time.Time) (int, error) {
	if cfg.FS == nil {
		return 0, nil
	}

	var synced int
	err := fs.WalkDir(cfg.FS, cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		content, err := fs.ReadFile(cfg.FS, path)
		if err != nil {
			return fmt.Errorf("read vault file %s: %w", path, err)
		}
		if len(content) == 0 {
			return nil
		}

		sum := sha256.Sum256(content)
		id := hex.EncodeToString(sum[:])

		if _, err := embedCap.Embed(ctx, []string{string(content)}); err != nil {
			return fmt.Errorf("embed vault file %s: %w", path, err)
		}

		if err := st.UpsertMemoryEmbedding(ctx, id, cfg.UserID, cfg.Workspace, string(content), now); err != nil {
			return fmt.Errorf("upsert vault file %s: %w", path, err)
		}
		synced++
		return nil
	})
	if err != nil {
		return synced, err
	}
	return synced, nil
}
