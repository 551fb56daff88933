package deploy

import (
	"os"
	"path/filepath"
)

// Toolchain names the application's runtime stack and the commands used to
// resolve its dependencies and statically check its sources. A nil command
// means the stage has nothing to do for this stack.
type Toolchain struct {
	Name    string
	Install []string
	Check   []string
}

const (
	toolchainPython = "python"
	toolchainNode   = "node"
	toolchainGo     = "go"
	toolchainNone   = "none"
)

// detectToolchain inspects the checked-out tree for well-known dependency
// manifests. The container build installs dependencies again from scratch;
// the host-side install exists to fail fast on unresolvable manifests, and
// the check must never execute application code.
func detectToolchain(dir string) Toolchain {
	if fileExists(filepath.Join(dir, "requirements.txt")) {
		return Toolchain{
			Name:    toolchainPython,
			Install: []string{"pip3", "install", "--no-cache-dir", "-r", "requirements.txt"},
			Check:   []string{"python3", "-m", "compileall", "-q", "."},
		}
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		install := []string{"npm", "install", "--ignore-scripts"}
		if fileExists(filepath.Join(dir, "package-lock.json")) {
			install = []string{"npm", "ci", "--ignore-scripts"}
		}
		return Toolchain{Name: toolchainNode, Install: install}
	}
	if fileExists(filepath.Join(dir, "go.mod")) {
		// Modules resolve during the image build; vet gives the static check.
		return Toolchain{
			Name:  toolchainGo,
			Check: []string{"go", "vet", "./..."},
		}
	}
	return Toolchain{Name: toolchainNone}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
