package manager

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minicloud/minicloud/pkg/events"
	"github.com/minicloud/minicloud/pkg/types"
)

const (
	extractedDirName = "extracted"
	indexFileName    = "index.html"
	nginxConfName    = "nginx.conf"

	// maxArchiveFileSize caps a single extracted file to keep a
	// malicious archive from filling the disk
	maxArchiveFileSize = 512 << 20
)

// CreateStaticPage accepts an uploaded site archive, extracts it into
// the task workspace, and queues a server container for it. Returns
// the task and the published URL.
func (m *Manager) CreateStaticPage(principal *types.Principal, filename string, archive io.Reader) (*types.Task, string, error) {
	kind, ok := archiveKind(filename)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", types.ErrUnsupportedArchive, filepath.Ext(filename))
	}

	task := &types.Task{
		OwnerID:   principal.ID,
		OwnerName: principal.Name,
		TaskType:  types.TaskTypeStaticPage,
		Status:    types.TaskStatusPending,
	}
	if err := m.store.CreateTask(task); err != nil {
		return nil, "", fmt.Errorf("failed to create task: %w", err)
	}
	m.publish(events.EventTaskCreated, task, "static page accepted")

	ws := m.workspaces.WorkspaceFor(principal.Name, task.ID)
	if err := m.materializeWorkspace(task, ws); err != nil {
		return nil, "", err
	}

	extracted := filepath.Join(ws, extractedDirName)
	if err := extractArchive(kind, archive, extracted); err != nil {
		m.failUpload(task, err)
		return nil, "", err
	}

	siteRoot, err := findSiteRoot(extracted)
	if err != nil {
		m.failUpload(task, err)
		return nil, "", err
	}

	port, err := m.ports.Allocate(task.ID)
	if err != nil {
		m.failUpload(task, err)
		return nil, "", err
	}

	if err := writeServerConfig(filepath.Join(ws, nginxConfName), port); err != nil {
		m.ports.Release(task.ID)
		m.failUpload(task, err)
		return nil, "", err
	}

	payload := &types.JobPayload{
		TaskID:     task.ID,
		TaskType:   types.TaskTypeStaticPage,
		Image:      m.staticImage,
		Workspace:  ws,
		StaticRoot: siteRoot,
		HostPort:   port,
	}

	if err := m.store.UpdateTaskStatus(task.ID, types.TaskStatusQueued); err != nil {
		return nil, "", fmt.Errorf("failed to queue task: %w", err)
	}
	m.publish(events.EventTaskQueued, task, "page payload queued")

	if err := m.queue.Submit(payload); err != nil {
		return nil, "", err
	}

	url := fmt.Sprintf("http://%s:%d", m.advertiseAddr, port)
	m.publish(events.EventPagePublished, task, url)
	m.logger.Info().Int64("task_id", task.ID).Str("url", url).Msg("static page queued")

	updated, err := m.store.GetTask(task.ID)
	if err != nil {
		return nil, "", err
	}
	return updated, url, nil
}

// failUpload finishes an upload-phase failure; the user sees the
// terminal status with the reason as its log
func (m *Manager) failUpload(task *types.Task, cause error) {
	if err := m.store.FinishTask(task.ID, types.TaskStatusFailed, cause.Error(), 0); err != nil {
		m.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to record upload failure")
	}
	m.publish(events.EventTaskFailed, task, cause.Error())
}

type archiveFormat int

const (
	formatZip archiveFormat = iota
	formatTarGz
)

func archiveKind(filename string) (archiveFormat, bool) {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return formatZip, true
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return formatTarGz, true
	default:
		return 0, false
	}
}

func extractArchive(kind archiveFormat, archive io.Reader, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create extraction dir: %w", err)
	}
	switch kind {
	case formatZip:
		return extractZip(archive, dest)
	default:
		return extractTarGz(archive, dest)
	}
}

// extractZip buffers the upload to disk (zip needs random access) and
// unpacks it entry by entry
func extractZip(archive io.Reader, dest string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "upload-*.zip")
	if err != nil {
		return fmt.Errorf("failed to buffer upload: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, archive)
	if err != nil {
		return fmt.Errorf("failed to buffer upload: %w", err)
	}

	reader, err := zip.NewReader(tmp, size)
	if err != nil {
		return fmt.Errorf("%w: not a zip archive", types.ErrUnsupportedArchive)
	}

	for _, file := range reader.File {
		target, err := securePath(dest, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := writeEntry(target, func() (io.ReadCloser, error) { return file.Open() }); err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(archive io.Reader, dest string) error {
	gz, err := gzip.NewReader(archive)
	if err != nil {
		return fmt.Errorf("%w: not a gzip stream", types.ErrUnsupportedArchive)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: corrupt tar stream", types.ErrUnsupportedArchive)
		}

		target, err := securePath(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, func() (io.ReadCloser, error) {
				return io.NopCloser(tr), nil
			}); err != nil {
				return err
			}
		default:
			// Symlinks and devices are dropped; a site archive has no
			// business containing them.
		}
	}
}

func writeEntry(target string, open func() (io.ReadCloser, error)) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(src, maxArchiveFileSize)); err != nil {
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(target), err)
	}
	return nil
}

// securePath joins an archive member name under dest and rejects
// escapes — the anti-traversal check for archive contents
func securePath(dest, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute member %q", types.ErrInvalidPath, name)
	}
	target := filepath.Join(dest, name)
	if target != dest && !strings.HasPrefix(target, dest+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: member %q escapes the archive", types.ErrInvalidPath, name)
	}
	return target, nil
}

// findSiteRoot locates the directory holding index.html: the extracted
// root first, then a single top-level subdirectory (the common
// archive-of-a-folder shape), then the first hit of a recursive walk.
func findSiteRoot(extracted string) (string, error) {
	if hasIndex(extracted) {
		return extracted, nil
	}

	entries, err := os.ReadDir(extracted)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		sub := filepath.Join(extracted, entries[0].Name())
		if hasIndex(sub) {
			return sub, nil
		}
	}

	var found string
	filepath.WalkDir(extracted, func(path string, d os.DirEntry, err error) error {
		if err != nil || found != "" {
			return filepath.SkipAll
		}
		if !d.IsDir() && d.Name() == indexFileName {
			found = filepath.Dir(path)
			return filepath.SkipAll
		}
		return nil
	})
	if found == "" {
		return "", fmt.Errorf("%w: archive contains no %s", types.ErrInvalidArgument, indexFileName)
	}
	return found, nil
}

func hasIndex(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, indexFileName))
	return err == nil && !info.IsDir()
}

// writeServerConfig renders the server block the page container mounts
// over the image's default site
func writeServerConfig(path string, port int) error {
	conf := fmt.Sprintf(`server {
    listen %d;
    root /usr/share/nginx/html;
    index %s;
}
`, port, indexFileName)
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		return fmt.Errorf("failed to write server config: %w", err)
	}
	return nil
}
