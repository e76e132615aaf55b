// Package nvim writes accepted edits through a Neovim instance so that open
// buffers, undo history and autocommands see the change.
package nvim

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/neovim/go-client/nvim"

	"github.com/sokinpui/streamedit/internal/fs"
)

const (
	undoDir = "~/.local/state/nvim/undo/"
	// EnvListenAddress points at a running Neovim to reuse.
	EnvListenAddress = "NVIM_LISTEN_ADDRESS"
)

// Manager is a filesystem collaborator backed by Neovim buffers. Reads go
// straight to the workspace; writes load the file into a buffer, replace its
// lines and save it.
type Manager struct {
	mu            sync.Mutex
	ws            *fs.Workspace
	nvim          *nvim.Nvim
	isSelfStarted bool
	cmd           *exec.Cmd
	socketPath    string
}

// New connects to the instance named by NVIM_LISTEN_ADDRESS, or starts a
// temporary headless one.
func New(ws *fs.Workspace) (*Manager, error) {
	if addr := os.Getenv(EnvListenAddress); addr != "" {
		v, err := nvim.Dial(addr)
		if err == nil {
			return &Manager{ws: ws, nvim: v}, nil
		}
	}

	tmpDir, err := os.MkdirTemp("", "streamedit-nvim-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir for nvim: %w", err)
	}
	socketPath := filepath.Join(tmpDir, "nvim.sock")

	cmd := exec.Command("nvim", "--headless", "--clean", "--listen", socketPath)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to start headless nvim: %w. Is 'nvim' in your PATH?", err)
	}

	for i := 0; i < 20; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	v, err := nvim.Dial(socketPath)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to connect to headless nvim: %w", err)
	}

	m := &Manager{
		ws:            ws,
		nvim:          v,
		isSelfStarted: true,
		cmd:           cmd,
		socketPath:    socketPath,
	}
	if err := m.configureTempInstance(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// configureTempInstance keeps undo history for files edited by a headless
// instance so the change can be undone from a later editor session.
func (m *Manager) configureTempInstance() error {
	home, _ := os.UserHomeDir()
	expandedUndoDir := strings.Replace(undoDir, "~", home, 1)
	if err := os.MkdirAll(expandedUndoDir, 0755); err != nil {
		return fmt.Errorf("failed to create undo dir: %w", err)
	}

	b := m.nvim.NewBatch()
	b.Command("set undofile")
	b.Command(fmt.Sprintf("set undodir=%s", expandedUndoDir))
	b.Command("set noswapfile")
	b.Command("set nofixendofline")
	if err := b.Execute(); err != nil {
		return fmt.Errorf("failed to configure nvim: %w", err)
	}
	return nil
}

// Close disconnects from Neovim and stops it if it was self-started.
func (m *Manager) Close() {
	if m.nvim != nil {
		m.nvim.Close()
	}
	if m.isSelfStarted && m.cmd != nil && m.cmd.Process != nil {
		if err := m.cmd.Process.Kill(); err == nil {
			m.cmd.Wait()
			os.RemoveAll(filepath.Dir(m.socketPath))
		}
	}
}

// Read returns the file content from disk.
func (m *Manager) Read(path string) (string, bool, error) {
	return m.ws.Read(path)
}

// Write replaces the buffer for path and saves it, creating intermediate
// directories first.
func (m *Manager) Write(path, content string) error {
	absPath, err := m.ws.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return fmt.Errorf("create directories for %s: %w", path, err)
	}

	lines, eol := bufferLines(content)

	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.nvim.NewBatch()
	b.Command(fmt.Sprintf("edit! %s", escapePath(absPath)))
	b.SetBufferLines(0, 0, -1, true, lines)
	if eol {
		b.Command("setlocal eol")
	} else {
		b.Command("setlocal noeol")
	}
	b.Command("write!")
	if err := b.Execute(); err != nil {
		return fmt.Errorf("nvim write %s: %w", path, err)
	}
	return nil
}

// bufferLines splits content into buffer lines and reports whether the file
// ends with a newline.
func bufferLines(content string) ([][]byte, bool) {
	eol := strings.HasSuffix(content, "\n")
	content = strings.TrimSuffix(content, "\n")
	parts := strings.Split(content, "\n")
	lines := make([][]byte, len(parts))
	for i, s := range parts {
		lines[i] = []byte(s)
	}
	return lines, eol
}

// escapePath escapes characters that Ex commands treat specially.
func escapePath(p string) string {
	r := strings.NewReplacer(` `, `\ `, `%`, `\%`, `#`, `\#`, `|`, `\|`)
	return r.Replace(p)
}
