package browser

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/go-rod/rod/lib/launcher"
)

// InstallChromium downloads a Chromium build for the current OS/arch and
// returns the binary path. Revision 0 selects rod's default revision.
func InstallChromium(ctx context.Context, revision int) (string, error) {
	downloader := launcher.NewBrowser()
	downloader.Context = ctx
	if revision > 0 {
		downloader.Revision = revision
	}

	path, err := downloader.Get()
	if err != nil {
		return "", fmt.Errorf("failed to download chromium: %w", err)
	}
	return path, nil
}

// Install provisions the browsers the named driver needs. engines limits
// playwright to the given engines; rod always installs Chromium and, on
// Linux, its system libraries.
func Install(ctx context.Context, driver string, engines ...Engine) error {
	switch driver {
	case DriverRod:
		if err := InstallDependencies(ctx); err != nil {
			return err
		}
		_, err := InstallChromium(ctx, 0)
		return err
	case DriverPlaywright, "":
		names := make([]string, 0, len(engines))
		for _, e := range engines {
			names = append(names, string(e))
		}
		return InstallPlaywright(names...)
	default:
		return fmt.Errorf("unknown browser driver: %q", driver)
	}
}

// packageManager is a system package manager able to install Chromium's
// shared libraries.
type packageManager struct {
	bin      string
	prepare  []string
	install  []string
	packages []string
}

var rpmDeps = []string{
	"alsa-lib", "atk", "cups-libs", "gtk3", "libX11", "libXcomposite",
	"libXdamage", "libXrandr", "libXfixes", "libX11-xcb", "libxcb",
	"libxkbcommon", "libxshmfence", "nss", "nspr", "pango", "mesa-libgbm",
	"libdrm",
}

// packageManagers are tried in order; the first one on PATH wins.
var packageManagers = []packageManager{
	{
		bin:     "apt-get",
		prepare: []string{"update"},
		install: []string{"install", "-y", "--no-install-recommends"},
		packages: []string{
			"ca-certificates", "fonts-liberation", "libasound2", "libatk-bridge2.0-0",
			"libatk1.0-0", "libcups2", "libdbus-1-3", "libdrm2", "libgbm1", "libgtk-3-0",
			"libnspr4", "libnss3", "libx11-xcb1", "libxcomposite1", "libxdamage1",
			"libxfixes3", "libxrandr2", "libxshmfence1", "libxss1", "libxtst6",
			"libpango-1.0-0", "libpangocairo-1.0-0", "libxkbcommon0",
		},
	},
	{bin: "dnf", install: []string{"install", "-y"}, packages: rpmDeps},
	{bin: "yum", install: []string{"install", "-y"}, packages: rpmDeps},
	{
		bin:     "apk",
		install: []string{"add", "--no-cache"},
		packages: []string{
			"ca-certificates", "freetype", "harfbuzz", "nss", "ttf-freefont",
			"alsa-lib", "atk", "at-spi2-atk", "cups-libs", "libxcomposite",
			"libxdamage", "libxrandr", "libxfixes", "libxkbcommon", "libx11",
			"libxrender", "libxext", "libxcb", "libdrm", "mesa-gbm", "gtk+3.0",
			"pango", "cairo", "gdk-pixbuf", "fontconfig", "libstdc++", "libgcc",
		},
	},
}

// InstallDependencies installs the OS packages Chromium needs. It is a
// no-op outside Linux.
func InstallDependencies(ctx context.Context) error {
	if runtime.GOOS != "linux" {
		return nil
	}
	pm, path, ok := findPackageManager(exec.LookPath)
	if !ok {
		return fmt.Errorf("no supported package manager found for chromium dependencies")
	}
	if len(pm.prepare) > 0 {
		if err := runCommand(ctx, path, pm.prepare...); err != nil {
			return err
		}
	}
	args := append(append([]string(nil), pm.install...), pm.packages...)
	return runCommand(ctx, path, args...)
}

func findPackageManager(lookPath func(string) (string, error)) (packageManager, string, bool) {
	for _, pm := range packageManagers {
		if path, err := lookPath(pm.bin); err == nil && path != "" {
			return pm, path, true
		}
	}
	return packageManager{}, "", false
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v failed: %w\n%s", name, args, err, out.String())
	}
	return nil
}
