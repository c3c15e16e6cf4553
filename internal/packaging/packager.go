// Package packaging builds the two deployment archives: the dependency layer
// and the function-code bundle. Staging directories are removed and recreated
// before every build so no stale files leak into an archive.
package packaging

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindLayer    Kind = "layer"
	KindFunction Kind = "function"
)

// Bundle is an ephemeral archive produced for a single run. It lives inside
// the workspace and is destroyed by Workspace.Cleanup.
type Bundle struct {
	Kind Kind
	Path string
}

// Workspace owns the local build directory. The caller defers Cleanup so the
// directory is released on every exit path, including failures.
type Workspace struct {
	root string
}

func NewWorkspace(root string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create build dir %s: %w", root, err)
	}
	return &Workspace{root: root}, nil
}

func (w *Workspace) Root() string {
	return w.root
}

func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.root)
}

type Packager struct {
	ws *Workspace

	// pipInstall is swapped out in tests; the default shells out to pip3.
	pipInstall func(ctx context.Context, requirementsPath, targetDir string) error
}

func NewPackager(ws *Workspace) *Packager {
	return &Packager{
		ws:         ws,
		pipInstall: runPipInstall,
	}
}

// BuildLayer installs the declared third-party dependencies into a clean
// python/ tree and archives it. Only invoked when a layer refresh was
// requested.
func (p *Packager) BuildLayer(ctx context.Context, requirementsPath string) (bundle *Bundle, err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Str("requirements", requirementsPath).
			Dur("duration", time.Since(begin)).
			Msg("Layer bundle built")
	}(time.Now())

	stage := filepath.Join(p.ws.root, "layer")
	if err := resetDir(stage); err != nil {
		return nil, err
	}

	// Lambda python layers resolve imports from a python/ prefix.
	target := filepath.Join(stage, "python")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create layer target dir: %w", err)
	}

	if err := p.pipInstall(ctx, requirementsPath, target); err != nil {
		return nil, fmt.Errorf("failed to install layer dependencies: %w", err)
	}

	archivePath := filepath.Join(p.ws.root, "layer.zip")
	if err := zipDir(stage, archivePath); err != nil {
		return nil, err
	}
	return &Bundle{Kind: KindLayer, Path: archivePath}, nil
}

// BuildFunction copies only the first-party source files into a clean staging
// directory and archives them. Dependencies are excluded; they ship in the
// layer.
func (p *Packager) BuildFunction(ctx context.Context, sources ...string) (bundle *Bundle, err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Strs("sources", sources).
			Dur("duration", time.Since(begin)).
			Msg("Function bundle built")
	}(time.Now())

	stage := filepath.Join(p.ws.root, "function")
	if err := resetDir(stage); err != nil {
		return nil, err
	}

	for _, source := range sources {
		if err := copyFile(source, filepath.Join(stage, filepath.Base(source))); err != nil {
			return nil, err
		}
	}

	archivePath := filepath.Join(p.ws.root, "function.zip")
	if err := zipDir(stage, archivePath); err != nil {
		return nil, err
	}
	return &Bundle{Kind: KindFunction, Path: archivePath}, nil
}

func runPipInstall(ctx context.Context, requirementsPath, targetDir string) error {
	cmd := exec.CommandContext(ctx, "pip3", "install",
		"-r", requirementsPath,
		"-t", targetDir,
		"--upgrade",
		"--quiet",
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pip3 install failed: %w: %s", err, output)
	}
	return nil
}

// resetDir is remove-then-recreate; this is the idempotence guarantee for
// packaging.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove stale staging dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging dir %s: %w", dir, err)
	}
	return nil
}

func copyFile(source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open source %s: %w", source, err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", source, err)
	}
	return out.Close()
}

// zipDir archives the contents of dir (not dir itself) into archivePath.
// WalkDir yields lexical order, so identical inputs produce an identical
// archive manifest.
func zipDir(dir, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", archivePath, err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer out.Close()

	writer := zip.NewWriter(out)

	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		relative, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		file, err := writer.Create(filepath.ToSlash(relative))
		if err != nil {
			return err
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		//goland:noinspection GoUnhandledErrorResult
		defer in.Close()

		_, err = io.Copy(file, in)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", dir, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive %s: %w", archivePath, err)
	}
	return out.Close()
}
